package allocator

import (
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/evpower/chargecore/internal/domain"
)

// fakeRegistry is a minimal sessionRegistry double so allocator tests do not
// depend on the registry package's locking/id-generation concerns.
type fakeRegistry struct {
	snapshot    []domain.Snapshot
	allocations map[string]float64
}

func newFakeRegistry(snapshot []domain.Snapshot) *fakeRegistry {
	return &fakeRegistry{snapshot: snapshot, allocations: make(map[string]float64)}
}

func (f *fakeRegistry) Snapshot() []domain.Snapshot { return f.snapshot }
func (f *fakeRegistry) SetAllocated(sessionID string, power float64) {
	f.allocations[sessionID] = power
}

// fakeBattery is a minimal batteryController double.
type fakeBattery struct {
	available    bool
	avDischarge  float64
	dischargeLog []float64
	chargeLog    []float64
	idled        bool
}

func (b *fakeBattery) IsAvailable() bool           { return b.available }
func (b *fakeBattery) AvailableDischarge() float64 { return b.avDischarge }
func (b *fakeBattery) Discharge(requestedKw, durationSec float64) float64 {
	b.dischargeLog = append(b.dischargeLog, requestedKw)
	actual := requestedKw
	if actual > b.avDischarge {
		actual = b.avDischarge
	}
	return actual
}
func (b *fakeBattery) Charge(requestedKw, durationSec float64) float64 {
	b.chargeLog = append(b.chargeLog, requestedKw)
	return requestedKw
}
func (b *fakeBattery) SetIdle() { b.idled = true }

func snap(id, charger string, connector int, vehicleMax float64) domain.Snapshot {
	return domain.Snapshot{SessionID: id, ChargerID: charger, ConnectorID: connector, VehicleMaxPower: vehicleMax}
}

func stationWithChargers(grid float64, chargers ...domain.ChargerConfig) domain.StationConfig {
	return domain.StationConfig{StationID: "s1", GridCapacity: grid, Chargers: chargers}
}

func TestRecomputeEmptySnapshotIsNoop(t *testing.T) {
	reg := newFakeRegistry(nil)
	station := stationWithChargers(400, domain.ChargerConfig{ChargerID: "CP001", MaxPower: 200, Connectors: 2})
	battery := &fakeBattery{}
	a := New(reg, station, battery, zap.NewNop())

	result := a.Recompute()
	if len(result) != 0 {
		t.Fatalf("expected empty allocation map, got %v", result)
	}
	if !battery.idled {
		t.Fatalf("expected BESS idled on empty snapshot")
	}
}

func TestRecomputeZeroVehicleMaxYieldsZeroAllocation(t *testing.T) {
	reg := newFakeRegistry([]domain.Snapshot{snap("s1", "CP001", 1, 0)})
	station := stationWithChargers(400, domain.ChargerConfig{ChargerID: "CP001", MaxPower: 200, Connectors: 2})
	a := New(reg, station, nil, zap.NewNop())

	result := a.Recompute()
	if result["s1"] != 0 {
		t.Fatalf("expected 0 allocation for vehicleMax=0, got %v", result["s1"])
	}
}

// TestScenarioASingleChargerFairSplit mirrors spec.md Scenario A.
func TestScenarioASingleChargerFairSplit(t *testing.T) {
	reg := newFakeRegistry([]domain.Snapshot{
		snap("s1", "CP001", 1, 150),
		snap("s2", "CP001", 2, 150),
	})
	station := stationWithChargers(400, domain.ChargerConfig{ChargerID: "CP001", MaxPower: 200, Connectors: 2})
	a := New(reg, station, nil, zap.NewNop())

	result := a.Recompute()

	for id, kw := range result {
		if math.Abs(kw-100) > 0.5 {
			t.Errorf("session %s: expected ~100kW, got %v", id, kw)
		}
	}

	total := result["s1"] + result["s2"]
	if math.Abs(total-200) > 1 {
		t.Errorf("expected total ~200kW (capped by charger maxPower), got %v", total)
	}
}

// TestScenarioBDynamicReallocation mirrors spec.md Scenario B's four-session
// stage: 4 sessions of 150kW sharing a 392kW budget across two 300kW-cap
// chargers.
func TestScenarioBDynamicReallocation(t *testing.T) {
	reg := newFakeRegistry([]domain.Snapshot{
		snap("s1", "CP001", 1, 150),
		snap("s2", "CP001", 2, 150),
		snap("s3", "CP002", 1, 150),
		snap("s4", "CP002", 2, 150),
	})
	station := stationWithChargers(400,
		domain.ChargerConfig{ChargerID: "CP001", MaxPower: 300, Connectors: 2},
		domain.ChargerConfig{ChargerID: "CP002", MaxPower: 300, Connectors: 2},
	)
	a := New(reg, station, nil, zap.NewNop())

	result := a.Recompute()

	total := 0.0
	for _, kw := range result {
		total += kw
	}
	if math.Abs(total-392) > 1 {
		t.Errorf("expected total ~392kW, got %v", total)
	}

	cp1Sum := result["s1"] + result["s2"]
	cp2Sum := result["s3"] + result["s4"]
	if cp1Sum > 300+1e-6 {
		t.Errorf("CP001 exceeds its maxPower: %v", cp1Sum)
	}
	if cp2Sum > 300+1e-6 {
		t.Errorf("CP002 exceeds its maxPower: %v", cp2Sum)
	}
}

// TestScenarioCBessBoost mirrors spec.md Scenario C.
func TestScenarioCBessBoost(t *testing.T) {
	reg := newFakeRegistry([]domain.Snapshot{
		snap("s1", "CP001", 1, 150),
		snap("s2", "CP001", 2, 150),
		snap("s3", "CP002", 1, 150),
		snap("s4", "CP002", 2, 150),
	})
	station := stationWithChargers(400,
		domain.ChargerConfig{ChargerID: "CP001", MaxPower: 300, Connectors: 2},
		domain.ChargerConfig{ChargerID: "CP002", MaxPower: 300, Connectors: 2},
	)
	battery := &fakeBattery{available: true, avDischarge: 100}
	a := New(reg, station, battery, zap.NewNop())

	result := a.Recompute()

	total := 0.0
	for _, kw := range result {
		total += kw
	}
	if math.Abs(total-492) > 2 {
		t.Errorf("expected total ~492kW with BESS boost, got %v", total)
	}
	if len(battery.dischargeLog) == 0 {
		t.Errorf("expected allocator to drive a BESS discharge")
	}
}

func TestPerSessionAllocationNeverExceedsVehicleMax(t *testing.T) {
	reg := newFakeRegistry([]domain.Snapshot{
		snap("s1", "CP001", 1, 10),
		snap("s2", "CP001", 2, 1000),
	})
	station := stationWithChargers(400, domain.ChargerConfig{ChargerID: "CP001", MaxPower: 200, Connectors: 2})
	a := New(reg, station, nil, zap.NewNop())

	result := a.Recompute()
	if result["s1"] > 10+1e-6 {
		t.Errorf("s1 exceeded its vehicleMax: %v", result["s1"])
	}
}

func TestUnknownChargerInSnapshotDoesNotHaltAllocation(t *testing.T) {
	reg := newFakeRegistry([]domain.Snapshot{
		snap("s1", "CP001", 1, 100),
		snap("s2", "CP999", 1, 100), // unknown charger, defensive path
	})
	station := stationWithChargers(400, domain.ChargerConfig{ChargerID: "CP001", MaxPower: 200, Connectors: 2})
	a := New(reg, station, nil, zap.NewNop())

	result := a.Recompute()
	if _, ok := result["s1"]; !ok {
		t.Fatalf("expected s1 to still be allocated despite unknown charger s2")
	}
}

func TestRecomputeTwiceWithNoMutationsIsDeterministic(t *testing.T) {
	reg := newFakeRegistry([]domain.Snapshot{
		snap("s1", "CP001", 1, 150),
		snap("s2", "CP001", 2, 150),
	})
	station := stationWithChargers(400, domain.ChargerConfig{ChargerID: "CP001", MaxPower: 200, Connectors: 2})
	a := New(reg, station, nil, zap.NewNop())

	first := a.Recompute()
	second := a.Recompute()

	for id, kw := range first {
		if math.Abs(kw-second[id]) > 1e-9 {
			t.Errorf("expected identical allocations across consecutive no-op recomputes: %v vs %v", first, second)
		}
	}
}

func TestJainFairnessIndex(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"equal split", []float64{50, 50}, 1.0},
		{"skewed split", []float64{90, 10}, 100.0 * 100.0 / (2 * 8200)},
		{"all zero", []float64{0, 0}, 1.0},
		{"empty", nil, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JainFairnessIndex(tt.values)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("JainFairnessIndex(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}
