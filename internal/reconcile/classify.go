// Package reconcile turns the satellite and ground estimates into a
// classified telemetry record.
package reconcile

import (
	"fmt"
	"math"

	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
)

const (
	DefaultConflictThreshold = 0.15 // |sat-ground| above this is a conflict
	DefaultDroughtThreshold  = 0.15 // both below this is a drought
)

// Thresholds tunes the classification.
type Thresholds struct {
	Conflict float64
	Drought  float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Conflict: DefaultConflictThreshold, Drought: DefaultDroughtThreshold}
}

// Validate rejects thresholds that would make classification undefined.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{"conflict": t.Conflict, "drought": t.Drought} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 || v > 1 {
			return fmt.Errorf("%s threshold must be in (0, 1], got %v", name, v)
		}
	}
	return nil
}

// Classify maps a satellite/ground pair to exactly one status. A conflict
// wins over drought: two low readings that disagree are not trusted.
func Classify(satellite, ground float64, th Thresholds) messages.Status {
	if math.Abs(satellite-ground) > th.Conflict {
		return messages.StatusSensorConflict
	}
	if satellite < th.Drought && ground < th.Drought {
		return messages.StatusCriticalDrought
	}
	return messages.StatusOK
}
