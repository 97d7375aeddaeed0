package satellite

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
	"github.com/LeonardoBeccarini/vwc_edge/internal/store"
)

const SourceName = "satellite"

// Updater is the single writer of the satellite slot.
type Updater struct {
	store     store.Writer
	estimator Estimator
	logger    *zap.Logger
	now       func() time.Time
}

func NewUpdater(st store.Writer, est Estimator, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{store: st, estimator: est, logger: logger, now: time.Now}
}

// RunOnce asks the estimator once. A failed run or an absent estimate
// leaves the previous slot value in place.
func (u *Updater) RunOnce(ctx context.Context) (messages.Estimate, bool, error) {
	v, ok, err := u.estimator.Estimate(ctx)
	if err != nil {
		return messages.Estimate{}, false, fmt.Errorf("estimate: %w", err)
	}
	if !ok {
		return u.write(ctx, messages.Estimate{Status: messages.EstimateAbsent, ObservedAt: u.now().UTC(), Source: SourceName})
	}
	return u.WriteValue(ctx, v)
}

// WriteValue stores v as a successful estimate.
func (u *Updater) WriteValue(ctx context.Context, v float64) (messages.Estimate, bool, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return messages.Estimate{}, false, fmt.Errorf("satellite: non-finite estimate %v", v)
	}
	return u.write(ctx, messages.Estimate{
		Value:      messages.NormalizeVWC(v),
		ObservedAt: u.now().UTC(),
		Status:     messages.EstimateSuccess,
		Source:     SourceName,
	})
}

func (u *Updater) write(ctx context.Context, rec messages.Estimate) (messages.Estimate, bool, error) {
	written, err := u.store.Write(ctx, store.SlotSatellite, rec)
	if err != nil {
		return rec, false, err
	}
	if written {
		u.logger.Info("satellite VWC updated", zap.Float64("vwc_satellite", rec.Value))
	} else {
		u.logger.Info("no valid satellite data, keeping previous value")
	}
	return rec, written, nil
}

// Start runs the estimator immediately and then every interval until ctx ends.
func (u *Updater) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, _, err := u.RunOnce(ctx); err != nil && ctx.Err() == nil {
			u.logger.Warn("satellite update failed, keeping previous value", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
