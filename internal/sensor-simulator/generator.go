package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
)

const DefaultNoiseStdDev = 0.01

// GroundGenerator perturbs a baseline VWC with gaussian noise plus a fixed
// operator bias. Output is always in [0, 1] with three decimals.
type GroundGenerator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	offset float64
	stddev float64
}

// NewGroundGenerator builds a generator; seed 0 seeds from the clock.
func NewGroundGenerator(offset, stddev float64, seed int64) *GroundGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &GroundGenerator{
		rng:    rand.New(rand.NewSource(seed)),
		offset: offset,
		stddev: math.Max(0, stddev),
	}
}

func (g *GroundGenerator) Offset() float64 { return g.offset }

// Next returns clamp(baseline + N(0, stddev) + offset, 0, 1).
func (g *GroundGenerator) Next(baseline float64) float64 {
	g.mu.Lock()
	noise := g.rng.NormFloat64() * g.stddev
	g.mu.Unlock()

	return messages.NormalizeVWC(baseline + noise + g.offset)
}
