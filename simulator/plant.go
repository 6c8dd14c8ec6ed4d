// Package simulator drives a simulated plant bed over the bus: it publishes
// soil moisture and temperature readings and reacts to faucet commands, so the
// controller can be exercised without hardware.
package simulator

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Model defaults
const (
	DefaultInitialMoisture = 70.0
	DefaultBaseTemperature = 22.0
	DefaultFlowRate        = 0.5
	DefaultInterval        = 2 * time.Second

	// moisture gained per tick per litre/second of flow, at the default interval
	wateringGainPerLitre = 10.0
	// moisture lost per hour at the base temperature
	baseDecayPerHour = 35.0
	// decay grows by this fraction per degree above 22 C
	decayPerDegree = 0.05
	minMoisture    = 10.0
	maxMoisture    = 100.0

	jitterBelow = 2.0
	jitterAbove = 3.0
)

// Sample is one pair of sensor values.
type Sample struct {
	Moisture    float64
	Temperature float64
}

// Plant models soil moisture under a faucet. It is safe for concurrent use.
type Plant struct {
	mu sync.Mutex

	moisture        float64
	baseTemperature float64
	flowRate        float64
	faucetOn        bool
	lastStep        time.Time

	rng *rand.Rand
}

// PlantOption configures a Plant
type PlantOption func(*Plant)

// WithInitialMoisture sets the starting moisture percentage.
func WithInitialMoisture(m float64) PlantOption {
	return func(p *Plant) { p.moisture = clamp(m, 0, maxMoisture) }
}

// WithBaseTemperature sets the temperature the readings jitter around.
func WithBaseTemperature(t float64) PlantOption {
	return func(p *Plant) { p.baseTemperature = t }
}

// WithFlowRate sets the faucet flow in litres per second.
func WithFlowRate(lps float64) PlantOption {
	return func(p *Plant) {
		if lps > 0 {
			p.flowRate = lps
		}
	}
}

// WithRand replaces the random source used for temperature jitter.
func WithRand(rng *rand.Rand) PlantOption {
	return func(p *Plant) {
		if rng != nil {
			p.rng = rng
		}
	}
}

// NewPlant creates a plant whose clock starts at start.
func NewPlant(start time.Time, opts ...PlantOption) *Plant {
	p := &Plant{
		moisture:        DefaultInitialMoisture,
		baseTemperature: DefaultBaseTemperature,
		flowRate:        DefaultFlowRate,
		lastStep:        start,
		rng:             rand.New(rand.NewPCG(uint64(start.UnixNano()), 0x67726f77)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetFaucet turns the faucet on or off and reports whether that changed it.
func (p *Plant) SetFaucet(on bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := p.faucetOn != on
	p.faucetOn = on
	return changed
}

// FaucetOn reports the faucet state.
func (p *Plant) FaucetOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faucetOn
}

// Moisture returns the current moisture without advancing the clock.
func (p *Plant) Moisture() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moisture
}

// Step advances the model to now and returns the readings to publish. While the
// faucet is on each step adds a fixed amount of water; otherwise moisture decays
// for the time elapsed since the previous step, faster when it is hot.
func (p *Plant) Step(now time.Time) Sample {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := now.Sub(p.lastStep)
	if elapsed < 0 {
		elapsed = 0
	}
	p.lastStep = now

	if p.faucetOn {
		p.moisture = math.Min(maxMoisture, p.moisture+p.flowRate*wateringGainPerLitre)
	} else {
		tempFactor := 1 + (p.baseTemperature-DefaultBaseTemperature)*decayPerDegree
		loss := baseDecayPerHour * tempFactor * elapsed.Hours()
		// Decay never pushes a wetter plant below the floor, nor lifts a drier one
		if p.moisture > minMoisture {
			p.moisture = math.Max(minMoisture, p.moisture-loss)
		}
	}

	temperature := p.baseTemperature - jitterBelow + p.rng.Float64()*(jitterBelow+jitterAbove)
	return Sample{
		Moisture:    round1(p.moisture),
		Temperature: round1(temperature),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
