package sensors

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
)

// SimBus simulates a 1-Wire bus of DS18B20 probes for bench runs. Each probe
// drifts around its own base temperature. With probability dropout a read
// returns the disconnected value, and the first read of every probe returns
// the power-on reset value just like real hardware.
type SimBus struct {
	mu      sync.Mutex
	rng     *rand.Rand
	dropout float64
	temps   map[string]float64
}

// NewSimBus creates a simulated probe bus
func NewSimBus(seed uint64, dropout float64) *SimBus {
	return &SimBus{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		dropout: dropout,
		temps:   make(map[string]float64),
	}
}

// RequestConversion drifts every known probe
func (b *SimBus) RequestConversion(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for addr, t := range b.temps {
		b.temps[addr] = t + b.rng.NormFloat64()*0.1
	}
	return ctx.Err()
}

// ReadCelsius returns the simulated temperature of address
func (b *SimBus) ReadCelsius(ctx context.Context, address string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	t, seen := b.temps[address]
	if !seen {
		b.temps[address] = 18 + b.rng.Float64()*8
		return PowerOnResetCelsius, nil
	}
	if b.rng.Float64() < b.dropout {
		return DisconnectedCelsius, nil
	}
	return math.Round(t*16) / 16, nil // DS18B20 12-bit resolution
}

// SimCombo simulates a DHT11 on a serial bridge
type SimCombo struct {
	mu          sync.Mutex
	rng         *rand.Rand
	dropout     float64
	temperature float64
	humidity    float64
}

// NewSimCombo creates a simulated combo sensor
func NewSimCombo(seed uint64, dropout float64) *SimCombo {
	return &SimCombo{
		rng:         rand.New(rand.NewPCG(seed, seed+1)),
		dropout:     dropout,
		temperature: 24,
		humidity:    55,
	}
}

// ReadTemperature returns the simulated temperature, or NaN on dropout
func (c *SimCombo) ReadTemperature(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rng.Float64() < c.dropout {
		return math.NaN(), nil
	}
	c.temperature += c.rng.NormFloat64() * 0.2
	return math.Round(c.temperature), nil // DHT11 reports whole degrees
}

// ReadHumidity returns the simulated humidity, or NaN on dropout
func (c *SimCombo) ReadHumidity(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rng.Float64() < c.dropout {
		return math.NaN(), nil
	}
	c.humidity = max(20, min(90, c.humidity+c.rng.NormFloat64()))
	return math.Round(c.humidity), nil
}
