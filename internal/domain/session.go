package domain

import "time"

// SessionState is the lifecycle state of a charging session.
type SessionState string

const (
	SessionStarting  SessionState = "STARTING"
	SessionActive    SessionState = "ACTIVE"
	SessionStopping  SessionState = "STOPPING"
	SessionCompleted SessionState = "COMPLETED"
)

// Session is a single active (or recently active) charging engagement of a
// vehicle on a specific connector. Fields are mutated in place by the
// registry under its internal locking; callers only ever see copies (Snapshot
// values, or Session copies returned by the registry).
type Session struct {
	SessionID       string
	ChargerID       string
	ConnectorID     int
	StartTime       time.Time
	LastUpdate      time.Time
	VehicleMaxPower float64 // kW
	AllocatedPower  float64 // kW
	ConsumedPower   float64 // kW, last reported
	TotalEnergy     float64 // kWh, monotonic non-decreasing
	State           SessionState
}

// Snapshot is an immutable, point-in-time copy of a session's fields used by
// the allocator. Mutations to the live session after a Snapshot is taken do
// not affect it.
type Snapshot struct {
	SessionID       string
	ChargerID       string
	ConnectorID     int
	VehicleMaxPower float64
	AllocatedPower  float64
	ConsumedPower   float64
	TotalEnergy     float64
}

func (s *Session) toSnapshot() Snapshot {
	return Snapshot{
		SessionID:       s.SessionID,
		ChargerID:       s.ChargerID,
		ConnectorID:     s.ConnectorID,
		VehicleMaxPower: s.VehicleMaxPower,
		AllocatedPower:  s.AllocatedPower,
		ConsumedPower:   s.ConsumedPower,
		TotalEnergy:     s.TotalEnergy,
	}
}

// ToSnapshot exposes the conversion for packages outside domain (registry
// lives in internal/core/registry and builds snapshots from *Session values
// it owns).
func ToSnapshot(s *Session) Snapshot {
	return s.toSnapshot()
}
