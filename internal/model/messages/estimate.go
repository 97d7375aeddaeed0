package messages

import (
	"math"
	"time"
)

// EstimateStatus marks whether a producer had a usable estimate this cycle.
type EstimateStatus string

const (
	EstimateSuccess EstimateStatus = "success"
	// EstimateAbsent means no valid estimate (e.g. clouds masked every pixel).
	// An absent record never replaces the slot's previous value.
	EstimateAbsent EstimateStatus = "absent"
)

// Estimate is the latest-value record kept in a store slot.
type Estimate struct {
	Value        float64        `json:"value"`                   // VWC fraction [0..1]
	ObservedAt   time.Time      `json:"observed_at"`             // RFC3339, UTC
	Status       EstimateStatus `json:"status,omitempty"`        // satellite only
	ShiftApplied float64        `json:"shift_applied,omitempty"` // ground simulator bias
	Source       string         `json:"source,omitempty"`
}

// IsDefault reports whether the record is a substituted default (never written by a producer).
func (e Estimate) IsDefault() bool { return e.ObservedAt.IsZero() }

// Age returns how old the record is at now; zero for defaults.
func (e Estimate) Age(now time.Time) time.Duration {
	if e.IsDefault() {
		return 0
	}
	if d := now.Sub(e.ObservedAt); d > 0 {
		return d
	}
	return 0
}

// Valid reports whether the record is well formed enough to be stored.
func (e Estimate) Valid() bool {
	return !math.IsNaN(e.Value) && !math.IsInf(e.Value, 0) && !e.ObservedAt.IsZero()
}

// NormalizeVWC clamps v to [0, 1] and rounds it to three decimals, the
// resolution every producer stores. NaN maps to 0.
func NormalizeVWC(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	return math.Round(v*1000) / 1000
}
