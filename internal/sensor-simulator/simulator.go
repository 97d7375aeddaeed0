package sensor_simulator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
	"github.com/LeonardoBeccarini/vwc_edge/internal/store"
)

const SourceName = "ground-simulator"

// GroundSimulator writes a simulated ground reading derived from the
// current satellite estimate on every tick.
type GroundSimulator struct {
	store     store.ReadWriter
	generator *GroundGenerator
	logger    *zap.Logger
	now       func() time.Time
}

func NewGroundSimulator(st store.ReadWriter, gen *GroundGenerator, logger *zap.Logger) *GroundSimulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroundSimulator{store: st, generator: gen, logger: logger, now: time.Now}
}

// Step produces and stores one reading.
func (s *GroundSimulator) Step(ctx context.Context) (messages.Estimate, error) {
	baseline := s.store.Read(ctx, store.SlotSatellite)
	rec := messages.Estimate{
		Value:        s.generator.Next(baseline.Value),
		ObservedAt:   s.now().UTC(),
		ShiftApplied: s.generator.Offset(),
		Source:       SourceName,
	}
	if _, err := s.store.Write(ctx, store.SlotGround, rec); err != nil {
		return rec, err
	}
	s.logger.Debug("ground reading",
		zap.Float64("baseline", baseline.Value),
		zap.Float64("vwc_ground", rec.Value),
		zap.Float64("shift_applied", rec.ShiftApplied))
	return rec, nil
}

// Start writes a reading right away and then every interval until ctx ends.
func (s *GroundSimulator) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("ground simulator running",
		zap.Duration("interval", interval),
		zap.Float64("offset", s.generator.Offset()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Step(ctx); err != nil {
			s.logger.Warn("ground write failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
