package messages

import "time"

// Status is the reconciliation outcome carried by every telemetry record.
type Status string

const (
	StatusOK              Status = "OK"
	StatusSensorConflict  Status = "SENSOR_CONFLICT"
	StatusCriticalDrought Status = "CRITICAL_DROUGHT"
)

// Telemetry is published once per cycle on the live topic and never persisted.
type Telemetry struct {
	DeviceID  string        `json:"device_id"`
	Timestamp time.Time     `json:"timestamp"`
	Data      TelemetryData `json:"data"`
}

type TelemetryData struct {
	VWCSatellite float64 `json:"vwc_satellite"`
	VWCGround    float64 `json:"vwc_ground"`
	Diff         float64 `json:"diff"`
	Status       Status  `json:"status"`
}
