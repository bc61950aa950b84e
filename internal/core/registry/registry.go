// Package registry owns session identity and connector exclusivity for a
// station. It provides atomic mutations and consistent read snapshots to the
// allocator, the same role the teacher's transaction service plays for
// StartTransaction/StopTransaction, but fully in-memory and without a
// persistence layer.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evpower/chargecore/internal/domain"
)

type connectorKey struct {
	chargerID   string
	connectorID int
}

// Registry holds the set of active sessions and the connector->session
// index. All operations are safe under arbitrary concurrency.
type Registry struct {
	mu sync.RWMutex

	station domain.StationConfig

	sessions   map[string]*domain.Session
	connectors map[connectorKey]string // connectorKey -> sessionID

	log *zap.Logger
}

// New constructs a Registry for the given immutable station configuration.
func New(station domain.StationConfig, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		station:    station,
		sessions:   make(map[string]*domain.Session),
		connectors: make(map[connectorKey]string),
		log:        log,
	}
}

// Start registers a new session on (chargerID, connectorID). Exactly one of
// the two return values is meaningful: on success err is nil; otherwise err
// is one of the domain sentinel errors (ErrUnknownCharger,
// ErrInvalidConnector, ErrConnectorOccupied).
func (r *Registry) Start(chargerID string, connectorID int, vehicleMaxPower float64) (*domain.Session, error) {
	charger, ok := r.station.ChargerByID(chargerID)
	if !ok {
		return nil, domain.ErrUnknownCharger
	}
	if connectorID < 1 || connectorID > charger.Connectors {
		return nil, domain.ErrInvalidConnector
	}

	key := connectorKey{chargerID: chargerID, connectorID: connectorID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, occupied := r.connectors[key]; occupied {
		r.log.Debug("connector occupied, rejecting session start",
			zap.String("charger_id", chargerID),
			zap.Int("connector_id", connectorID),
		)
		return nil, domain.ErrConnectorOccupied
	}

	sessionID := r.freshSessionIDLocked()
	now := time.Now()
	session := &domain.Session{
		SessionID:       sessionID,
		ChargerID:       chargerID,
		ConnectorID:     connectorID,
		StartTime:       now,
		LastUpdate:      now,
		VehicleMaxPower: vehicleMaxPower,
		AllocatedPower:  0,
		ConsumedPower:   0,
		TotalEnergy:     0,
		State:           domain.SessionActive,
	}

	// Commit both indexes together; if either insert were to fail the
	// other must be undone so no observer ever sees a half-published
	// session. Map inserts in Go cannot themselves fail, so the only
	// rollback-worthy race is the occupancy check above, already closed
	// by holding the write lock across both inserts.
	r.sessions[sessionID] = session
	r.connectors[key] = sessionID

	out := *session
	return &out, nil
}

// freshSessionIDLocked returns a session id not already present in the
// session map. uuid.New() collisions are astronomically unlikely, but the
// loop keeps the "detect collisions, never overwrite" contract explicit.
func (r *Registry) freshSessionIDLocked() string {
	for {
		id := uuid.New().String()
		if _, exists := r.sessions[id]; !exists {
			return id
		}
	}
}

// Stop atomically removes a session from both indexes and transitions it to
// STOPPING. It returns the session as it stood immediately prior to removal,
// for the façade's stopSession response.
func (r *Registry) Stop(sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	session.State = domain.SessionStopping
	final := *session

	key := connectorKey{chargerID: session.ChargerID, connectorID: session.ConnectorID}
	delete(r.sessions, sessionID)
	delete(r.connectors, key)

	return &final, nil
}

// UpdatePower applies a reported consumption update to a session.
func (r *Registry) UpdatePower(sessionID string, consumedPower, vehicleMaxPower float64) error {
	if consumedPower < 0 || vehicleMaxPower < 0 || consumedPower > vehicleMaxPower {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}

	now := time.Now()
	elapsedHours := now.Sub(session.LastUpdate).Hours()
	if elapsedHours < 0 {
		elapsedHours = 0
	}
	session.TotalEnergy += consumedPower * elapsedHours
	session.ConsumedPower = consumedPower
	session.VehicleMaxPower = vehicleMaxPower
	session.LastUpdate = now

	return nil
}

// SetAllocated is invoked by the allocator to write back a computed
// allocation. Negative values are clamped to zero; unknown session ids
// (the session may have stopped mid-compute) are silently skipped.
func (r *Registry) SetAllocated(sessionID string, power float64) {
	if power < 0 {
		power = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	session.AllocatedPower = power
	session.LastUpdate = time.Now()
}

// Snapshot returns an immutable list of sessions for allocation. Later
// mutations to the live sessions do not affect the returned snapshot.
func (r *Registry) Snapshot() []domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, domain.ToSnapshot(s))
	}
	return out
}

// Get returns a copy of a single session's current fields.
func (r *Registry) Get(sessionID string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return *session, nil
}

// List returns a copy of every active session, in no particular order.
func (r *Registry) List() []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// IsConnectorAvailable reports whether a connector currently has no active
// session bound to it.
func (r *Registry) IsConnectorAvailable(chargerID string, connectorID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, occupied := r.connectors[connectorKey{chargerID: chargerID, connectorID: connectorID}]
	return !occupied
}

// Aggregates summarizes the live session set for loadSummary/stationStatus.
type Aggregates struct {
	ActiveCount      int
	TotalAllocated   float64
	TotalConsumed    float64
	TotalEnergy      float64
	ByCharger        map[string]ChargerAggregate
}

// ChargerAggregate is the per-charger rollup within Aggregates.
type ChargerAggregate struct {
	SessionCount   int
	TotalAllocated float64
}

// Aggregate computes the current aggregations in a single consistent pass.
func (r *Registry) Aggregate() Aggregates {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agg := Aggregates{ByCharger: make(map[string]ChargerAggregate)}
	for _, s := range r.sessions {
		agg.ActiveCount++
		agg.TotalAllocated += s.AllocatedPower
		agg.TotalConsumed += s.ConsumedPower
		agg.TotalEnergy += s.TotalEnergy

		c := agg.ByCharger[s.ChargerID]
		c.SessionCount++
		c.TotalAllocated += s.AllocatedPower
		agg.ByCharger[s.ChargerID] = c
	}
	return agg
}

// Station exposes the registry's immutable station configuration.
func (r *Registry) Station() domain.StationConfig {
	return r.station
}

