// Package facade exposes the core (registry + allocator + BESS controller)
// as the in-process operations spec.md §6 names. It is the only thing the
// transport layer (internal/adapter/http/fiber, the websocket hub) calls;
// everything it does not expose is a core implementation detail.
package facade

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/evpower/chargecore/internal/adapter/cache"
	"github.com/evpower/chargecore/internal/adapter/queue"
	"github.com/evpower/chargecore/internal/core/allocator"
	"github.com/evpower/chargecore/internal/core/bess"
	"github.com/evpower/chargecore/internal/core/registry"
	"github.com/evpower/chargecore/internal/domain"
	"github.com/evpower/chargecore/internal/observability/telemetry"
)

const statusCacheTTL = 2 * time.Second

// Status codes returned by façade operations (spec.md §6).
const (
	StatusSessionStarted          = "SESSION_STARTED"
	StatusInvalidChargerOrConnector = "INVALID_CHARGER_OR_CONNECTOR"
	StatusConnectorOccupied       = "CONNECTOR_OCCUPIED"
	StatusSessionStartFailed      = "SESSION_START_FAILED"

	StatusPowerUpdated       = "POWER_UPDATED"
	StatusSessionNotFound    = "SESSION_NOT_FOUND"
	StatusInvalidConsumedPower = "INVALID_CONSUMED_POWER"

	StatusOK = "OK"
)

// StartSessionResult is the return shape of StartSession.
type StartSessionResult struct {
	SessionID      string
	AllocatedPower float64
	TotalEnergy    float64
	Status         string
}

// UpdatePowerResult is the return shape of UpdatePower.
type UpdatePowerResult struct {
	NewAllocatedPower float64
	TotalEnergy       float64
	Status            string
}

// StopSessionResult is the return shape of StopSession.
type StopSessionResult struct {
	ChargerID           string
	ConnectorID          int
	FinalAllocatedPower  float64
	LastConsumedPower    float64
	StopTime             time.Time
	Status               string
}

// StationStatus is the return shape of StationStatus.
type StationStatus struct {
	StationID      string
	GridCapacity   float64
	ActiveSessions int
	TotalAllocated float64
	TotalConsumed  float64
	Allocations    map[string]float64
	Battery        *bess.Status // nil if the station has no BESS
}

// LoadSummary is the return shape of LoadSummary.
type LoadSummary struct {
	TotalAllocated    float64
	TotalConsumed     float64
	GridUtilization   float64
	JainFairnessIndex float64
	Battery           *bess.Status
}

// Facade implements every operation of spec.md §6 over a single station.
type Facade struct {
	station   domain.StationConfig
	registry  *registry.Registry
	allocator *allocator.Allocator
	battery   *bess.Controller // nil if the station has no BESS

	cache cache.Cache       // optional
	mq    queue.MessageQueue // optional

	log    *zap.Logger
	tracer trace.Tracer
}

// New wires a registry, allocator, and optional BESS controller into a
// Facade. cache and mq may both be nil; façade construction tolerates either
// being unavailable exactly as the teacher's service constructors do.
func New(station domain.StationConfig, reg *registry.Registry, alloc *allocator.Allocator, battery *bess.Controller, c cache.Cache, mq queue.MessageQueue, log *zap.Logger) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	return &Facade{
		station:   station,
		registry:  reg,
		allocator: alloc,
		battery:   battery,
		cache:     c,
		mq:        mq,
		log:       log,
		tracer:    otel.Tracer("chargecore/facade"),
	}
}

func (f *Facade) invalidateStatusCache() {
	if f.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = f.cache.Delete(ctx, "station:status:"+f.station.StationID)
	_ = f.cache.Delete(ctx, "station:load:"+f.station.StationID)
}

func (f *Facade) publish(subject string, payload []byte) {
	if f.mq == nil {
		return
	}
	if err := f.mq.Publish(subject, payload); err != nil {
		f.log.Warn("facade: failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// StartSession registers a new session and forces a recomputation before
// returning, so the caller sees the post-recompute allocation.
func (f *Facade) StartSession(ctx context.Context, chargerID string, connectorID int, vehicleMaxPower float64) StartSessionResult {
	_, span := f.tracer.Start(ctx, "facade.startSession",
		trace.WithAttributes(
			attribute.String("charger_id", chargerID),
			attribute.Int("connector_id", connectorID),
		),
	)
	defer span.End()

	session, err := f.registry.Start(chargerID, connectorID, vehicleMaxPower)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownCharger), errors.Is(err, domain.ErrInvalidConnector):
			return StartSessionResult{Status: StatusInvalidChargerOrConnector}
		case errors.Is(err, domain.ErrConnectorOccupied):
			telemetry.ConnectorOccupiedRejections.Inc()
			return StartSessionResult{Status: StatusConnectorOccupied}
		default:
			return StartSessionResult{Status: StatusSessionStartFailed}
		}
	}

	f.recomputeAndTrack()

	updated, getErr := f.registry.Get(session.SessionID)
	allocated := session.AllocatedPower
	if getErr == nil {
		allocated = updated.AllocatedPower
	}

	f.invalidateStatusCache()
	f.publish("session.started", []byte(session.SessionID))

	return StartSessionResult{
		SessionID:      session.SessionID,
		AllocatedPower: allocated,
		TotalEnergy:    0,
		Status:         StatusSessionStarted,
	}
}

// UpdatePower records a new consumption reading and forces a recomputation.
func (f *Facade) UpdatePower(ctx context.Context, sessionID string, consumedPower, vehicleMaxPower float64) UpdatePowerResult {
	_, span := f.tracer.Start(ctx, "facade.updatePower")
	defer span.End()

	err := f.registry.UpdatePower(sessionID, consumedPower, vehicleMaxPower)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			return UpdatePowerResult{Status: StatusSessionNotFound}
		case errors.Is(err, domain.ErrInvalidInput):
			current, getErr := f.registry.Get(sessionID)
			if getErr != nil {
				return UpdatePowerResult{Status: StatusSessionNotFound}
			}
			return UpdatePowerResult{
				NewAllocatedPower: current.AllocatedPower,
				TotalEnergy:       current.TotalEnergy,
				Status:            StatusInvalidConsumedPower,
			}
		default:
			return UpdatePowerResult{Status: StatusSessionNotFound}
		}
	}

	f.recomputeAndTrack()

	updated, getErr := f.registry.Get(sessionID)
	if getErr != nil {
		return UpdatePowerResult{Status: StatusSessionNotFound}
	}

	f.invalidateStatusCache()
	f.publish("session.power_updated", []byte(sessionID))

	return UpdatePowerResult{
		NewAllocatedPower: updated.AllocatedPower,
		TotalEnergy:       updated.TotalEnergy,
		Status:            StatusPowerUpdated,
	}
}

// StopSession removes a session and forces a recomputation so remaining
// sessions absorb the freed capacity before returning.
func (f *Facade) StopSession(ctx context.Context, sessionID string) StopSessionResult {
	_, span := f.tracer.Start(ctx, "facade.stopSession")
	defer span.End()

	final, err := f.registry.Stop(sessionID)
	if err != nil {
		return StopSessionResult{Status: StatusSessionNotFound}
	}

	f.recomputeAndTrack()
	f.invalidateStatusCache()
	f.publish("session.stopped", []byte(sessionID))

	return StopSessionResult{
		ChargerID:           final.ChargerID,
		ConnectorID:         final.ConnectorID,
		FinalAllocatedPower: final.AllocatedPower,
		LastConsumedPower:   final.ConsumedPower,
		StopTime:            time.Now(),
		Status:              StatusOK,
	}
}

// GetSession returns a single session's current fields.
func (f *Facade) GetSession(sessionID string) (domain.Session, error) {
	return f.registry.Get(sessionID)
}

// ListSessions returns every active session.
func (f *Facade) ListSessions() []domain.Session {
	return f.registry.List()
}

// StationStatus returns the station-wide view of spec.md §6.
func (f *Facade) StationStatus() StationStatus {
	agg := f.registry.Aggregate()
	sessions := f.registry.List()

	allocations := make(map[string]float64, len(sessions))
	for _, s := range sessions {
		allocations[s.SessionID] = s.AllocatedPower
	}

	status := StationStatus{
		StationID:      f.station.StationID,
		GridCapacity:   f.station.GridCapacity,
		ActiveSessions: agg.ActiveCount,
		TotalAllocated: agg.TotalAllocated,
		TotalConsumed:  agg.TotalConsumed,
		Allocations:    allocations,
	}

	if f.battery != nil {
		b := f.battery.Snapshot()
		status.Battery = &b
		telemetry.BessSocKwh.Set(b.Soc)
		telemetry.BessCurrentPowerKw.Set(b.CurrentPower)
	}

	telemetry.ActiveSessions.Set(float64(agg.ActiveCount))
	telemetry.AllocatedPowerKw.Set(agg.TotalAllocated)
	if f.station.GridCapacity > 0 {
		telemetry.GridUtilizationRatio.Set(agg.TotalAllocated / f.station.GridCapacity)
	}

	return status
}

// BatteryStatus returns the BESS view of spec.md §6; ok is false if the
// station has no battery.
func (f *Facade) BatteryStatus() (bess.Status, bool) {
	if f.battery == nil {
		return bess.Status{}, false
	}
	return f.battery.Snapshot(), true
}

// LoadSummary returns the station's aggregate load view, including Jain's
// fairness index over the current allocation values.
func (f *Facade) LoadSummary() LoadSummary {
	agg := f.registry.Aggregate()
	sessions := f.registry.List()

	values := make([]float64, len(sessions))
	for i, s := range sessions {
		values[i] = s.AllocatedPower
	}

	utilization := 0.0
	if f.station.GridCapacity > 0 {
		utilization = agg.TotalAllocated / f.station.GridCapacity
	}

	fairness := allocator.JainFairnessIndex(values)
	telemetry.JainFairnessIndexGauge.Set(fairness)

	summary := LoadSummary{
		TotalAllocated:    agg.TotalAllocated,
		TotalConsumed:     agg.TotalConsumed,
		GridUtilization:   utilization,
		JainFairnessIndex: fairness,
	}

	if f.battery != nil {
		b := f.battery.Snapshot()
		summary.Battery = &b
	}

	return summary
}

// Recompute forces a recomputation and returns the new allocation map.
func (f *Facade) Recompute(ctx context.Context) map[string]float64 {
	_, span := f.tracer.Start(ctx, "facade.recompute")
	defer span.End()

	allocations := f.recomputeAndTrack()
	f.invalidateStatusCache()
	f.publish("allocation.recomputed", []byte(f.station.StationID))
	return allocations
}

func (f *Facade) recomputeAndTrack() map[string]float64 {
	start := time.Now()
	allocations := f.allocator.Recompute()
	telemetry.RecomputeDuration.Observe(time.Since(start).Seconds())

	if f.battery != nil && f.battery.IsEmergencyState() {
		f.publish("bess.emergency", []byte(f.station.StationID))
	}

	return allocations
}
