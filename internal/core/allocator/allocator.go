// Package allocator implements the proportional-fair, multi-level
// constrained power allocation engine. Recompute is a pure, stateless-per-call
// function of (session snapshot, station configuration, BESS capability) that
// writes the resulting allocations back through the registry and drives the
// battery.
package allocator

import (
	"sort"

	"go.uber.org/zap"

	"github.com/evpower/chargecore/internal/core/bess"
	"github.com/evpower/chargecore/internal/domain"
)

const (
	staticLoad              = 3.0  // kW, station auxiliary draw
	safetyMargin            = 5.0  // kW, headroom below grid cap
	maxIterations           = 20
	convergenceThresholdKw  = 0.01
	binarySearchIterations  = 15
	epsilon                 = 1e-3 // kW, floor to avoid log(0)
	bessUpdateWindowSeconds = 300
)

// sessionRegistry is the subset of registry.Registry the allocator needs.
// Declared as an interface at point of use so allocator_test.go can drive it
// against a minimal fake without importing the registry package.
type sessionRegistry interface {
	Snapshot() []domain.Snapshot
	SetAllocated(sessionID string, power float64)
}

// batteryController is the subset of bess.Controller the allocator drives.
type batteryController interface {
	IsAvailable() bool
	AvailableDischarge() float64
	Discharge(requestedKw, durationSec float64) float64
	Charge(requestedKw, durationSec float64) float64
	SetIdle()
}

var _ batteryController = (*bess.Controller)(nil)

// Allocator holds no long-lived allocation state of its own; it reads the
// registry and station config fresh on every Recompute call.
type Allocator struct {
	registry sessionRegistry
	station  domain.StationConfig
	battery  batteryController // nil if the station has no BESS

	log *zap.Logger
}

// New constructs an Allocator. battery may be nil.
func New(registry sessionRegistry, station domain.StationConfig, battery batteryController, log *zap.Logger) *Allocator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Allocator{registry: registry, station: station, battery: battery, log: log}
}

// Recompute is the allocator's sole entry point: it reads a snapshot,
// computes allocations honoring the constraint hierarchy, writes them back,
// and drives the BESS. It never fails; degenerate inputs yield an all-zero
// allocation and a BESS idle command.
func (a *Allocator) Recompute() map[string]float64 {
	snapshot := a.registry.Snapshot()
	// Deterministic order: ties are broken by snapshot order, so sort by
	// session id to make Recompute reproducible across calls on otherwise
	// identical state.
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].SessionID < snapshot[j].SessionID })

	if len(snapshot) == 0 {
		if a.battery != nil {
			a.battery.SetIdle()
		}
		return map[string]float64{}
	}

	gridBudget := a.station.GridCapacity - staticLoad - safetyMargin
	if gridBudget < 0 {
		gridBudget = 0
	}

	bessBudget := 0.0
	if a.battery != nil && a.battery.IsAvailable() {
		bessBudget = a.battery.AvailableDischarge()
	}

	totalBudget := gridBudget + bessBudget

	allocations := make(map[string]float64, len(snapshot))

	if totalBudget <= 0 {
		for _, s := range snapshot {
			allocations[s.SessionID] = 0
		}
		a.commit(allocations)
		if a.battery != nil {
			a.battery.SetIdle()
		}
		return allocations
	}

	// Step 2: proportional-fair water-fill across all sessions as one pool.
	waterFilled := a.waterFill(snapshot, totalBudget)

	// Step 3: per-charger caps.
	a.enforceChargerCaps(snapshot, waterFilled)

	// Step 4: global cap.
	enforceGlobalCap(waterFilled, totalBudget)

	for id, kw := range waterFilled {
		if kw < 0 {
			kw = 0
		}
		allocations[id] = kw
	}

	// Step 5: commit.
	a.commit(allocations)

	// Step 6: BESS update. An all-zero allocation (every vehicleMax was 0)
	// is degenerate per spec.md §4.3 failure semantics and idles the
	// battery rather than feeding a zero realized load into the
	// charge/discharge decision.
	sessionLoad := sumValues(allocations)
	if sessionLoad <= 0 {
		if a.battery != nil {
			a.battery.SetIdle()
		}
		return allocations
	}
	a.driveBess(sessionLoad + staticLoad)

	return allocations
}

// waterFill implements the iterative proportional-fair solver of spec.md
// §4.3 step 2: maximize Σ log(allocated_i) subject to Σ allocated_i ≤
// totalBudget and 0 ≤ allocated_i ≤ vehicleMax_i.
func (a *Allocator) waterFill(snapshot []domain.Snapshot, totalBudget float64) map[string]float64 {
	n := len(snapshot)
	a_i := make([]float64, n)
	caps := make([]float64, n)
	for i, s := range snapshot {
		a_i[i] = epsilon
		caps[i] = s.VehicleMaxPower
		if caps[i] < 0 {
			caps[i] = 0
		}
	}

	for iter := 0; iter < maxIterations; iter++ {
		lo, hi := 0.0, totalBudget*1000+1
		var mid float64

		for step := 0; step < binarySearchIterations; step++ {
			mid = (lo + hi) / 2
			sum := 0.0
			for i := range a_i {
				v := mid * a_i[i]
				if v > caps[i] {
					v = caps[i]
				}
				sum += v
			}
			if sum < totalBudget {
				lo = mid
			} else {
				hi = mid
			}
		}

		lambda := (lo + hi) / 2
		maxDelta := 0.0
		for i := range a_i {
			next := lambda * a_i[i]
			if next > caps[i] {
				next = caps[i]
			}
			if next < epsilon {
				next = epsilon
			}
			delta := next - a_i[i]
			if delta < 0 {
				delta = -delta
			}
			if delta > maxDelta {
				maxDelta = delta
			}
			a_i[i] = next
		}

		if maxDelta < convergenceThresholdKw {
			break
		}
	}

	// Final uniform rescale whenever the summed result exceeds totalBudget
	// (spec.md §9, Open Question b): the iteration converges to within
	// convergenceThresholdKw per session, not a global residual bound.
	total := 0.0
	for _, v := range a_i {
		total += v
	}
	if total > totalBudget && total > 0 {
		scale := totalBudget / total
		for i := range a_i {
			a_i[i] *= scale
		}
	}

	// The epsilon floor above is an internal device to keep the binary
	// search well-behaved; it must never surface as an allocation. Clamp
	// the returned vector to each session's cap so a vehicleMax=0 session
	// (cap=0) is allocated exactly 0, not epsilon.
	out := make(map[string]float64, n)
	for i, s := range snapshot {
		v := a_i[i]
		if v > caps[i] {
			v = caps[i]
		}
		if v < 0 {
			v = 0
		}
		out[s.SessionID] = v
	}
	return out
}

// enforceChargerCaps scales down, per charger, any group of sessions whose
// summed allocation exceeds that charger's maxPower.
func (a *Allocator) enforceChargerCaps(snapshot []domain.Snapshot, allocations map[string]float64) {
	sums := make(map[string]float64)
	sessionsByCharger := make(map[string][]string)
	for _, s := range snapshot {
		sums[s.ChargerID] += allocations[s.SessionID]
		sessionsByCharger[s.ChargerID] = append(sessionsByCharger[s.ChargerID], s.SessionID)
	}

	for chargerID, sum := range sums {
		charger, ok := a.station.ChargerByID(chargerID)
		if !ok {
			// Defensive: invariants guarantee this cannot occur for a
			// live session, but a stale snapshot entry must not halt
			// allocation for every other charger.
			a.log.Warn("allocator: unknown charger id in snapshot, skipping cap", zap.String("charger_id", chargerID))
			continue
		}
		if sum <= charger.MaxPower || sum <= 0 {
			continue
		}
		scale := charger.MaxPower / sum
		for _, id := range sessionsByCharger[chargerID] {
			allocations[id] *= scale
		}
	}
}

// enforceGlobalCap scales every allocation down uniformly if their sum
// exceeds totalBudget.
func enforceGlobalCap(allocations map[string]float64, totalBudget float64) {
	total := sumValues(allocations)
	if total <= totalBudget || total <= 0 {
		return
	}
	scale := totalBudget / total
	for id, v := range allocations {
		allocations[id] = v * scale
	}
}

func sumValues(m map[string]float64) float64 {
	total := 0.0
	for _, v := range m {
		total += v
	}
	return total
}

// commit writes every computed allocation back through the registry.
func (a *Allocator) commit(allocations map[string]float64) {
	for id, kw := range allocations {
		a.registry.SetAllocated(id, kw)
	}
}

// driveBess implements step 6: decide discharge/charge/idle from the
// realized grid load.
func (a *Allocator) driveBess(realizedLoad float64) {
	if a.battery == nil {
		return
	}

	gridCapacity := a.station.GridCapacity
	switch {
	case realizedLoad > gridCapacity:
		a.battery.Discharge(realizedLoad-gridCapacity, bessUpdateWindowSeconds)
	case realizedLoad < 0.7*gridCapacity:
		a.battery.Charge((gridCapacity-realizedLoad)*0.5, bessUpdateWindowSeconds)
	default:
		a.battery.SetIdle()
	}
}

// JainFairnessIndex computes Jain's fairness index over a set of allocation
// values, with the convention that n=0 or Σx²=0 returns 1.0.
func JainFairnessIndex(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 1.0
	}

	var sum, sumSquares float64
	for _, v := range values {
		sum += v
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return 1.0
	}
	return (sum * sum) / (float64(n) * sumSquares)
}
