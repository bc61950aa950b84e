package config

import "github.com/evpower/chargecore/internal/domain"

// ToDomain converts the YAML-facing StationConfig into the core's immutable
// domain.StationConfig.
func (s StationConfig) ToDomain() domain.StationConfig {
	chargers := make([]domain.ChargerConfig, len(s.Chargers))
	for i, c := range s.Chargers {
		chargers[i] = domain.ChargerConfig{
			ChargerID:  c.ChargerID,
			MaxPower:   c.MaxPower,
			Connectors: c.Connectors,
		}
	}

	var battery *domain.BatteryConfig
	if s.Battery != nil {
		battery = &domain.BatteryConfig{
			Capacity: s.Battery.Capacity,
			Power:    s.Battery.Power,
		}
	}

	return domain.StationConfig{
		StationID:    s.StationID,
		GridCapacity: s.GridCapacity,
		Chargers:     chargers,
		Battery:      battery,
	}
}
