package domain

// StationConfig is immutable after construction. It describes the physical
// layout and grid connection of a single charging station.
type StationConfig struct {
	StationID    string
	GridCapacity float64 // kW
	Chargers     []ChargerConfig
	Battery      *BatteryConfig // nil if the station has no BESS
}

// ChargerConfig is immutable. MaxPower is shared across all of the charger's
// connectors; Connectors is a positive count, and connector ids are 1-based
// integers in [1, Connectors].
type ChargerConfig struct {
	ChargerID  string
	MaxPower   float64 // kW
	Connectors int
}

// BatteryConfig is immutable. Power is symmetric: the same figure bounds both
// charge and discharge.
type BatteryConfig struct {
	Capacity float64 // kWh
	Power    float64 // kW
}

// ChargerByID returns the charger config with the given id, or false if the
// station has no such charger.
func (s StationConfig) ChargerByID(chargerID string) (ChargerConfig, bool) {
	for _, c := range s.Chargers {
		if c.ChargerID == chargerID {
			return c, true
		}
	}
	return ChargerConfig{}, false
}
