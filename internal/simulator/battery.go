package simulator

import (
	"math"
	"math/rand"
	"time"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/models"
)

// AnomalyKind enumerates the fault modes a unit can be forced into.
type AnomalyKind string

const (
	AnomalyOvercharge    AnomalyKind = "overcharge"
	AnomalyOverheat      AnomalyKind = "overheat"
	AnomalyInternalShort AnomalyKind = "internal_short"
)

// UnitConfig describes one simulated battery.
type UnitConfig struct {
	ID              string  `yaml:"id"`
	Model           string  `yaml:"model"`
	NominalVoltage  float64 `yaml:"nominalVoltage"`  // V
	NominalCapacity float64 `yaml:"nominalCapacity"` // Ah
	InitialSOH      float64 `yaml:"initialSOH"`      // 0-1
}

const (
	maxVoltage     = 4.2
	minVoltage     = 3.0
	voltageFloor   = 2.5
	baseResistance = 0.05 // Ω

	degradationPerCycle = 0.0001
	sohFloor            = 0.5

	voltageNoise     = 0.01
	currentNoise     = 0.05
	temperatureNoise = 0.5
)

// anomalyWindow is the active fault injection. Clearing is a pure function
// of the tick clock: once now passes expiresAt the window is gone. A second
// injection before expiry overwrites both fields (last writer wins), so no
// stale timer can clear a newer injection.
type anomalyWindow struct {
	kind      AnomalyKind
	expiresAt time.Time
}

// Unit holds the continuous state of one simulated battery. Methods are not
// safe for concurrent use; the owning Fleet serializes access.
type Unit struct {
	cfg UnitConfig
	rng *rand.Rand

	capacity    float64 // state of charge, %
	soh         float64 // 0-1, non-increasing
	temperature float64 // °C
	current     float64 // A, positive = charge
	charging    bool
	cycleCount  float64

	anomaly *anomalyWindow
}

// NewUnit creates a unit at full charge and ambient temperature. The random
// source is injected so tests stay deterministic.
func NewUnit(cfg UnitConfig, rng *rand.Rand) *Unit {
	if cfg.NominalVoltage <= 0 {
		cfg.NominalVoltage = 3.7
	}
	if cfg.NominalCapacity <= 0 {
		cfg.NominalCapacity = 2.5
	}
	if cfg.InitialSOH <= 0 || cfg.InitialSOH > 1 {
		cfg.InitialSOH = 1.0
	}
	return &Unit{
		cfg:         cfg,
		rng:         rng,
		capacity:    100.0,
		soh:         cfg.InitialSOH,
		temperature: 25.0,
	}
}

// BeginCharge switches the unit into a charging cycle at the given C-rate.
func (u *Unit) BeginCharge(rate float64) {
	if rate <= 0 {
		rate = 1.0
	}
	u.charging = true
	u.current = rate
}

// BeginDischarge switches the unit into a discharge cycle under the given
// load current.
func (u *Unit) BeginDischarge(load float64) {
	if load <= 0 {
		load = 0.5
	}
	u.charging = false
	u.current = -load
}

// InjectAnomaly opens a fault window lasting the given duration from now.
// Overlapping injections overwrite the previous window.
func (u *Unit) InjectAnomaly(kind AnomalyKind, duration time.Duration, now time.Time) {
	u.anomaly = &anomalyWindow{kind: kind, expiresAt: now.Add(duration)}
}

func (u *Unit) activeAnomaly(now time.Time) AnomalyKind {
	if u.anomaly == nil {
		return ""
	}
	if !now.Before(u.anomaly.expiresAt) {
		u.anomaly = nil
		return ""
	}
	return u.anomaly.kind
}

// AdvanceTick moves the internal state forward one tick: charge/discharge
// step, temperature relaxation with self-heating, stress-proportional
// degradation and fractional cycle accrual.
func (u *Unit) AdvanceTick(now time.Time) {
	u.stepChargeDischarge()
	u.stepTemperature(now)
	u.stepDegradation()
}

func (u *Unit) stepChargeDischarge() {
	if u.charging {
		if u.capacity >= 100 {
			u.charging = false
			u.current = 0
			return
		}
		// CC below 80%, CV taper above.
		rate := u.current
		if u.capacity >= 80 {
			rate = u.current * (100 - u.capacity) / 20
		}
		gain := rate / u.cfg.NominalCapacity * 100 / 60 // %/min at one tick per second
		u.capacity = math.Min(u.capacity+gain, 100)
		return
	}
	if u.current < 0 && u.capacity > 0 {
		drop := -u.current / u.cfg.NominalCapacity * 100 / 60
		u.capacity = math.Max(u.capacity-drop, 0)
	}
}

func (u *Unit) stepTemperature(now time.Time) {
	// Ambient baseline drifts on a one-hour period; self-heating follows
	// I²R losses through the internal resistance.
	ambient := 25 + 5*math.Sin(float64(now.Unix())/3600)
	heat := math.Abs(u.current) * 0.1 * u.internalResistance()
	u.temperature += (ambient + heat - u.temperature) * 0.1

	if u.activeAnomaly(now) == AnomalyOverheat {
		u.temperature += u.rng.Float64() * 2
	}
}

func (u *Unit) stepDegradation() {
	if math.Abs(u.current) <= 0.1 {
		return
	}
	cycleStress := math.Abs(u.current) / u.cfg.NominalCapacity
	tempStress := math.Max(1, (u.temperature-25)*0.05)
	u.soh = math.Max(sohFloor, u.soh-degradationPerCycle*cycleStress*tempStress)

	if !u.charging && u.current < -0.1 {
		// One full equivalent cycle per hour of sustained discharge.
		u.cycleCount += 1.0 / 3600
	}
}

// voltageAtCapacity maps state of charge to open-circuit voltage using a
// three-segment Li-ion discharge curve: taper near full, plateau through the
// middle, cliff below 20%.
func (u *Unit) voltageAtCapacity(capacity float64) float64 {
	var v float64
	switch {
	case capacity > 95:
		v = maxVoltage - (100-capacity)*0.02
	case capacity > 20:
		v = minVoltage + (capacity-20)*0.0125
	default:
		v = minVoltage + capacity*0.005
	}

	// Temperature coefficient and SOH scaling.
	v += (u.temperature - 25) * -0.003
	v *= 0.95 + 0.05*u.soh

	return math.Max(v, voltageFloor)
}

func (u *Unit) internalResistance() float64 {
	sohFactor := 1 + (1-u.soh)*2
	tempFactor := 1 + (25-u.temperature)*0.02
	capacityFactor := 1 + (100-u.capacity)*0.005
	return baseResistance * sohFactor * tempFactor * capacityFactor
}

// healthScore composes SOH, load stress and thermal stress into a 0-100
// score: 50 points capacity retention, 20 points load headroom, 30 points
// thermal headroom.
func (u *Unit) healthScore(current, temperature float64) float64 {
	loadTerm := 1 - math.Min(math.Abs(current), 3)/3
	thermalTerm := 1 - math.Min(math.Max(0, temperature-40)/20, 1)
	score := u.soh*50 + loadTerm*20 + thermalTerm*30
	return math.Max(0, math.Min(100, score))
}

// Sample produces one telemetry reading from the current state, applying the
// active anomaly perturbation and measurement noise.
func (u *Unit) Sample(now time.Time) models.TelemetrySample {
	voltage := u.voltageAtCapacity(u.capacity)
	current := u.current
	temperature := u.temperature
	resistance := u.internalResistance()

	switch u.activeAnomaly(now) {
	case AnomalyOvercharge:
		voltage += 0.1 + u.rng.Float64()*0.2
		current *= 1.5
	case AnomalyInternalShort:
		voltage *= 0.8
		current += 0.2 + u.rng.Float64()*0.3
		temperature += 5 + u.rng.Float64()*10
	}

	voltage += u.rng.NormFloat64() * voltageNoise
	current += u.rng.NormFloat64() * currentNoise
	temperature += u.rng.NormFloat64() * temperatureNoise

	voltage = math.Max(voltage, voltageFloor)

	return models.TelemetrySample{
		UnitID:             u.cfg.ID,
		Timestamp:          now.UTC(),
		Voltage:            voltage,
		Current:            current,
		Temperature:        temperature,
		Capacity:           u.capacity,
		Power:              voltage * math.Abs(current),
		InternalResistance: resistance,
		CycleCount:         u.cycleCount,
		HealthScore:        u.healthScore(current, temperature),
		Charging:           u.charging,
	}
}

// SOH exposes the current state of health for status reporting.
func (u *Unit) SOH() float64 { return u.soh }

// CycleCount exposes the accumulated fractional cycle count.
func (u *Unit) CycleCount() float64 { return u.cycleCount }
