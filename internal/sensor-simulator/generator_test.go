package sensor_simulator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroundGenerator_ClampsHigh(t *testing.T) {
	g := NewGroundGenerator(0.3, DefaultNoiseStdDev, 42)
	for i := 0; i < 1000; i++ {
		assert.Equal(t, 1.0, g.Next(0.9))
	}
}

func TestGroundGenerator_ClampsLow(t *testing.T) {
	g := NewGroundGenerator(-0.3, DefaultNoiseStdDev, 42)
	for i := 0; i < 1000; i++ {
		assert.Equal(t, 0.0, g.Next(0.1))
	}
}

func TestGroundGenerator_AlwaysInRange(t *testing.T) {
	for _, offset := range []float64{-1, -0.3, 0, 0.3, 1} {
		g := NewGroundGenerator(offset, 0.2, 7)
		for i := 0; i < 2000; i++ {
			v := g.Next(float64(i%11) / 10)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestGroundGenerator_NoiseAroundBaseline(t *testing.T) {
	g := NewGroundGenerator(0, DefaultNoiseStdDev, 1)
	const n = 20000
	var sum float64
	for i := 0; i < n; i++ {
		v := g.Next(0.25)
		assert.InDelta(t, 0.25, v, 0.06, "six sigma")
		sum += v
	}
	assert.InDelta(t, 0.25, sum/n, 0.001)
}

func TestGroundGenerator_OffsetShiftsMean(t *testing.T) {
	g := NewGroundGenerator(0.3, 0, 1)
	assert.Equal(t, 0.55, g.Next(0.25))
	assert.Equal(t, 0.3, g.Offset())
}

func TestGroundGenerator_RoundsToThreeDecimals(t *testing.T) {
	g := NewGroundGenerator(0, DefaultNoiseStdDev, 3)
	for i := 0; i < 100; i++ {
		v := g.Next(0.4)
		assert.InDelta(t, v, math.Round(v*1000)/1000, 1e-12)
	}
}

func TestGroundGenerator_SeedIsReproducible(t *testing.T) {
	a := NewGroundGenerator(0, 0.05, 99)
	b := NewGroundGenerator(0, 0.05, 99)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Next(0.5), b.Next(0.5))
	}
}
