// Package bess models a single stationary battery: its state of charge,
// safety envelope, and peak-shave/valley-fill policy. It has no knowledge of
// sessions or chargers.
package bess

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/evpower/chargecore/internal/domain"
)

const (
	minSocFraction            = 0.10
	maxSocFraction            = 0.95
	emergencyFraction         = 0.05
	sustainabilityWindowHours = 0.25
)

// Controller owns soc and currentPower for one battery and enforces the
// safety envelope on every discharge/charge transition.
type Controller struct {
	mu sync.Mutex

	capacity float64 // kWh
	power    float64 // kW, symmetric max charge/discharge

	soc          float64 // kWh
	currentPower float64 // kW, +discharge / -charge / 0 idle
	lastUpdate   time.Time

	log *zap.Logger
}

// New constructs a Controller starting at full charge, matching the
// lifecycle rule that BESS state is created once at startup at soc=capacity.
func New(cfg domain.BatteryConfig, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		capacity:   cfg.Capacity,
		power:      cfg.Power,
		soc:        cfg.Capacity,
		lastUpdate: time.Now(),
		log:        log,
	}
}

// IsAvailable reports whether the battery can participate at all.
func (c *Controller) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isAvailableLocked()
}

func (c *Controller) isAvailableLocked() bool {
	return c.capacity > 0 && c.power > 0
}

// AvailableDischarge returns the kW the battery could sustain discharging
// right now without crossing the minimum soc floor within the sustainability
// window.
func (c *Controller) AvailableDischarge() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availableDischargeLocked()
}

func (c *Controller) availableDischargeLocked() float64 {
	if !c.isAvailableLocked() {
		return 0
	}
	floor := minSocFraction * c.capacity
	if c.soc <= floor {
		return 0
	}
	avail := (c.soc - floor) / sustainabilityWindowHours
	if avail > c.power {
		avail = c.power
	}
	if avail < 0 {
		return 0
	}
	return avail
}

// AvailableCharge returns the kW the battery could sustain absorbing right
// now without crossing the maximum soc ceiling within the sustainability
// window.
func (c *Controller) AvailableCharge() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availableChargeLocked()
}

func (c *Controller) availableChargeLocked() float64 {
	if !c.isAvailableLocked() {
		return 0
	}
	ceiling := maxSocFraction * c.capacity
	if c.soc >= ceiling {
		return 0
	}
	avail := (ceiling - c.soc) / sustainabilityWindowHours
	if avail > c.power {
		avail = c.power
	}
	if avail < 0 {
		return 0
	}
	return avail
}

// Discharge requests discharging at requestedKw for durationSec seconds and
// returns the power actually applied. The soc transition is a single atomic
// read-modify-write so concurrent callers serialize with respect to the soc
// floor.
func (c *Controller) Discharge(requestedKw float64, durationSec float64) float64 {
	if requestedKw <= 0 || durationSec <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	actual := requestedKw
	if avail := c.availableDischargeLocked(); actual > avail {
		actual = avail
	}
	if actual < 0 {
		actual = 0
	}

	floor := minSocFraction * c.capacity
	c.soc -= actual * durationSec / 3600
	if c.soc < floor {
		c.soc = floor
		c.log.Debug("bess soc clamped at minimum floor", zap.Float64("floor_kwh", floor))
	}
	c.currentPower = actual
	c.lastUpdate = time.Now()
	return actual
}

// Charge is the symmetric counterpart of Discharge, capping soc at the
// maximum fraction instead of flooring it.
func (c *Controller) Charge(requestedKw float64, durationSec float64) float64 {
	if requestedKw <= 0 || durationSec <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	actual := requestedKw
	if avail := c.availableChargeLocked(); actual > avail {
		actual = avail
	}
	if actual < 0 {
		actual = 0
	}

	ceiling := maxSocFraction * c.capacity
	c.soc += actual * durationSec / 3600
	if c.soc > ceiling {
		c.soc = ceiling
	}
	c.currentPower = -actual
	c.lastUpdate = time.Now()
	return actual
}

// SetIdle commands zero power without touching soc.
func (c *Controller) SetIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentPower = 0
	c.lastUpdate = time.Now()
}

// IsEmergencyState reports a battery available but at or below the
// emergency floor. It documents a condition only; the floor itself is
// enforced by Discharge regardless of whether anyone observes this flag.
func (c *Controller) IsEmergencyState() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isAvailableLocked() {
		return false
	}
	return c.soc <= emergencyFraction*c.capacity
}

// CalculateOptimalPower recommends a peak-shave/valley-fill action for the
// given grid load and returns it signed like currentPower (positive =
// discharge recommendation, negative = charge recommendation).
func (c *Controller) CalculateOptimalPower(gridLoad, gridCapacity, safetyMargin float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	effectiveCap := gridCapacity - safetyMargin
	if gridLoad > effectiveCap {
		need := gridLoad - effectiveCap
		avail := c.availableDischargeLocked()
		if need > avail {
			need = avail
		}
		return need
	}

	headroom := effectiveCap - gridLoad
	if headroom > 10 {
		want := headroom * 0.5
		avail := c.availableChargeLocked()
		if want > avail {
			want = avail
		}
		return -want
	}

	return 0
}

// Status is a point-in-time snapshot used by the façade's batteryStatus
// operation.
type Status struct {
	Soc               float64
	SocPercentage     float64
	Capacity          float64
	MaxPower          float64
	CurrentPower      float64
	AvailableDischarge float64
	AvailableCharge    float64
	EmergencyState    bool
	LastUpdate        time.Time
}

// Snapshot returns the battery's current status under lock.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	socPct := 0.0
	if c.capacity > 0 {
		socPct = c.soc / c.capacity * 100
	}

	return Status{
		Soc:                c.soc,
		SocPercentage:      socPct,
		Capacity:           c.capacity,
		MaxPower:           c.power,
		CurrentPower:       c.currentPower,
		AvailableDischarge: c.availableDischargeLocked(),
		AvailableCharge:    c.availableChargeLocked(),
		EmergencyState:     c.isAvailableLocked() && c.soc <= emergencyFraction*c.capacity,
		LastUpdate:         c.lastUpdate,
	}
}
