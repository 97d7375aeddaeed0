package reconcile

import (
	"context"
	"math"
	"time"

	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
	"github.com/LeonardoBeccarini/vwc_edge/internal/observability"
	"github.com/LeonardoBeccarini/vwc_edge/internal/store"
)

// Snapshot is one reconciliation: the two records that were read and the
// telemetry built from them.
type Snapshot struct {
	Satellite messages.Estimate
	Ground    messages.Estimate
	Telemetry messages.Telemetry
}

// Reconciler reads both slots and classifies them. It never blocks
// producers and uses whatever the store currently holds.
type Reconciler struct {
	store      store.Reader
	thresholds Thresholds
	deviceID   string
	now        func() time.Time
}

func NewReconciler(r store.Reader, th Thresholds, deviceID string) *Reconciler {
	return &Reconciler{store: r, thresholds: th, deviceID: deviceID, now: time.Now}
}

func (r *Reconciler) Thresholds() Thresholds { return r.thresholds }

// Reconcile builds a fresh telemetry record from the current slot contents.
func (r *Reconciler) Reconcile(ctx context.Context) Snapshot {
	sat := r.store.Read(ctx, store.SlotSatellite)
	gnd := r.store.Read(ctx, store.SlotGround)
	now := r.now().UTC()

	observability.SlotAgeSeconds.WithLabelValues(string(store.SlotSatellite)).Set(sat.Age(now).Seconds())
	observability.SlotAgeSeconds.WithLabelValues(string(store.SlotGround)).Set(gnd.Age(now).Seconds())

	return Snapshot{
		Satellite: sat,
		Ground:    gnd,
		Telemetry: messages.Telemetry{
			DeviceID:  r.deviceID,
			Timestamp: now,
			Data: messages.TelemetryData{
				VWCSatellite: sat.Value,
				VWCGround:    gnd.Value,
				Diff:         math.Abs(sat.Value - gnd.Value),
				Status:       Classify(sat.Value, gnd.Value, r.thresholds),
			},
		},
	}
}
