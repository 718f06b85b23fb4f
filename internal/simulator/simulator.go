package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"batterywatch/internal/telemetry"
)

// Scenario identifies a deterministic fault override.
type Scenario string

const (
	ScenarioNone          Scenario = ""
	ScenarioThermalStress Scenario = "thermal_stress"
	ScenarioOvercharge    Scenario = "overcharge"
	ScenarioInternalShort Scenario = "internal_short"
)

// ParseScenario validates a scenario name against the closed set.
func ParseScenario(name string) (Scenario, error) {
	switch Scenario(name) {
	case ScenarioThermalStress, ScenarioOvercharge, ScenarioInternalShort:
		return Scenario(name), nil
	default:
		return ScenarioNone, fmt.Errorf("unknown scenario %q", name)
	}
}

// DefaultScenarioTicks is how long an injected scenario persists before the
// battery returns to nominal behaviour.
const DefaultScenarioTicks = 180

const (
	maxVoltage     = 4.2
	minVoltage     = 3.0
	floorVoltage   = 2.5
	baseResistance = 0.05

	voltageNoise     = 0.01
	currentNoise     = 0.05
	temperatureNoise = 0.5

	degradationPerCycle = 0.0001
)

// Battery simulates one lithium-ion cell. All state is owned by the battery
// worker that drives it; methods are not safe for concurrent use except
// InjectScenario, which queues the override for the next tick.
type Battery struct {
	id              string
	nominalCapacity float64
	nominalVoltage  float64
	seed            int64

	rng *rand.Rand

	capacity      float64 // %
	soh           float64 // 0-1
	cycleCount    float64
	temperature   float64
	charging      bool
	chargeCurrent float64
	tick          int

	scenario      Scenario
	scenarioLeft  int
	pendingMu     sync.Mutex
	pending       Scenario
	pendingTicks  int
	pendingQueued bool
}

// Options configure a simulated battery.
type Options struct {
	ID              string
	NominalCapacity float64 // Ah
	NominalVoltage  float64 // V
	Seed            int64
	InitialSOH      float64 // 0-1, defaults to 1
}

// New constructs a battery simulator seeded for reproducible output.
func New(opts Options) *Battery {
	soh := opts.InitialSOH
	if soh <= 0 || soh > 1 {
		soh = 1
	}
	capacity := opts.NominalCapacity
	if capacity <= 0 {
		capacity = 2.5
	}
	voltage := opts.NominalVoltage
	if voltage <= 0 {
		voltage = 3.7
	}
	return &Battery{
		id:              opts.ID,
		nominalCapacity: capacity,
		nominalVoltage:  voltage,
		seed:            opts.Seed,
		rng:             rand.New(rand.NewSource(opts.Seed)),
		capacity:        100,
		soh:             soh,
		temperature:     25,
	}
}

// InjectScenario queues a fault override. It is applied atomically at the
// next tick boundary and cleared after ticks ticks.
func (b *Battery) InjectScenario(s Scenario, ticks int) {
	if ticks <= 0 {
		ticks = DefaultScenarioTicks
	}
	b.pendingMu.Lock()
	b.pending = s
	b.pendingTicks = ticks
	b.pendingQueued = true
	b.pendingMu.Unlock()
}

// Next advances the simulation one tick and returns the raw reading.
func (b *Battery) Next(batteryID string, now time.Time) (telemetry.Sample, bool) {
	if batteryID != b.id {
		return telemetry.Sample{}, false
	}
	b.tick++
	b.applyPendingScenario()

	b.stepTemperature()
	b.stepLoad()
	b.stepDegradation()

	voltage := b.voltageFromCapacity()
	current := b.chargeCurrent
	resistance := b.internalResistance()

	switch b.scenario {
	case ScenarioOvercharge:
		voltage += 0.1 + 0.2*b.rng.Float64()
		current *= 1.5
	case ScenarioInternalShort:
		voltage *= 0.8
		current += 0.2 + 0.3*b.rng.Float64()
		b.temperature += 5 + 10*b.rng.Float64()
	}

	voltage += b.rng.NormFloat64() * voltageNoise
	current += b.rng.NormFloat64() * currentNoise
	temperature := b.temperature + b.rng.NormFloat64()*temperatureNoise

	if b.scenarioLeft > 0 {
		b.scenarioLeft--
		if b.scenarioLeft == 0 {
			b.scenario = ScenarioNone
		}
	}

	return telemetry.Sample{
		BatteryID:          b.id,
		Timestamp:          now,
		Voltage:            round(voltage, 3),
		Current:            round(current, 3),
		Temperature:        round(temperature, 1),
		Capacity:           round(b.capacity, 1),
		InternalResistance: round(resistance, 4),
		CycleCount:         int(b.cycleCount),
		IsCharging:         b.charging,
	}, true
}

func (b *Battery) applyPendingScenario() {
	b.pendingMu.Lock()
	if b.pendingQueued {
		b.scenario = b.pending
		b.scenarioLeft = b.pendingTicks
		b.pendingQueued = false
	}
	b.pendingMu.Unlock()
}

// voltageFromCapacity approximates the Li-ion discharge curve with
// temperature and state-of-health corrections.
func (b *Battery) voltageFromCapacity() float64 {
	var voltage float64
	switch {
	case b.capacity > 95:
		voltage = maxVoltage - (100-b.capacity)*0.02
	case b.capacity > 20:
		voltage = minVoltage + (b.capacity-20)*0.0125
	default:
		// knee of the curve: rapid collapse below 20%
		voltage = minVoltage + b.capacity*0.005
	}

	voltage += (b.temperature - 25) * -0.003
	voltage *= 0.95 + 0.05*b.soh

	return math.Max(voltage, floorVoltage)
}

func (b *Battery) internalResistance() float64 {
	sohFactor := 1 + (1-b.soh)*2
	tempFactor := 1 + (25-b.temperature)*0.02
	capacityFactor := 1 + (100-b.capacity)*0.005
	return baseResistance * sohFactor * tempFactor * capacityFactor
}

// stepLoad drives a pseudo-random charge/discharge duty cycle. With a 10%
// chance per tick the battery flips between CC-CV charging and a constant
// current load.
func (b *Battery) stepLoad() {
	if b.rng.Float64() < 0.1 {
		b.charging = b.rng.Float64() < 0.5
		if !b.charging {
			b.chargeCurrent = -(0.2 + 0.8*b.rng.Float64())
		}
	}

	if b.charging {
		if b.capacity < 100 {
			if b.capacity < 80 {
				b.chargeCurrent = 1.0
			} else {
				// constant-voltage taper
				b.chargeCurrent = (100 - b.capacity) / 20
			}
			b.capacity = math.Min(b.capacity+b.chargeCurrent/b.nominalCapacity*100/60, 100)
		} else {
			b.charging = false
			b.chargeCurrent = 0
		}
		return
	}

	if b.chargeCurrent < 0 && b.capacity > 0 {
		b.capacity = math.Max(b.capacity+b.chargeCurrent/b.nominalCapacity*100/60, 0)
	}
}

func (b *Battery) stepTemperature() {
	// diurnal ambient swing on a one hour period, driven by the tick
	// counter so two runs with the same seed match exactly
	ambient := 25 + 5*math.Sin(float64(b.tick)/3600)
	heat := math.Abs(b.chargeCurrent) * 0.1 * b.internalResistance()
	b.temperature += (ambient + heat - b.temperature) * 0.1

	if b.scenario == ScenarioThermalStress {
		b.temperature += 2 * b.rng.Float64()
	}
}

func (b *Battery) stepDegradation() {
	if math.Abs(b.chargeCurrent) <= 0.1 {
		return
	}
	cycleStress := math.Abs(b.chargeCurrent) / b.nominalCapacity
	tempStress := math.Max(1, (b.temperature-25)*0.05)
	b.soh = math.Max(0.5, b.soh-degradationPerCycle*cycleStress*tempStress)

	if !b.charging && b.chargeCurrent < -0.1 {
		// one equivalent full cycle per hour of sustained discharge
		b.cycleCount += 1.0 / 3600
	}
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

var _ telemetry.Source = (*Battery)(nil)
