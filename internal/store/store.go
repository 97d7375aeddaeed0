// Package store keeps the latest estimate per named slot.
//
// Producers own one slot each and overwrite it atomically; every other
// component only reads. Reads never fail: a missing, corrupt or unreachable
// slot degrades to the slot default so the publishing pipeline stays up.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
	"github.com/LeonardoBeccarini/vwc_edge/internal/observability"
)

// Slot names a latest-value location.
type Slot string

const (
	SlotSatellite Slot = "satellite"
	SlotGround    Slot = "ground"
)

// DefaultVWC is substituted for slots that were never written.
const DefaultVWC = 0.25

var (
	ErrSlotNotFound = errors.New("store: slot never written")
	ErrSlotCorrupt  = errors.New("store: slot content is not a valid estimate")
	ErrUnknownSlot  = errors.New("store: unknown slot")
)

func (s Slot) Valid() bool {
	return s == SlotSatellite || s == SlotGround
}

// Backend is the persistence mechanism behind a Store. Save must make the
// new record visible atomically: concurrent Loads observe the old record or
// the new one, never a mix.
type Backend interface {
	Load(ctx context.Context, slot Slot) (messages.Estimate, error)
	Save(ctx context.Context, slot Slot, rec messages.Estimate) error
	Close() error
}

// Reader is what consumers of the store need.
type Reader interface {
	Read(ctx context.Context, slot Slot) messages.Estimate
}

// Writer is what a producer needs to publish into its slot.
type Writer interface {
	Write(ctx context.Context, slot Slot, rec messages.Estimate) (bool, error)
}

type ReadWriter interface {
	Reader
	Writer
}

// Store wraps a Backend with default substitution and the absent-estimate rule.
type Store struct {
	backend    Backend
	defaultVWC float64
	logger     *zap.Logger
}

func New(backend Backend, defaultVWC float64, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, defaultVWC: defaultVWC, logger: logger}
}

// Default returns the record substituted when slot cannot be read.
func (s *Store) Default(slot Slot) messages.Estimate {
	return messages.Estimate{Value: s.defaultVWC, Source: "default"}
}

// Read returns the latest record for slot, or the slot default.
func (s *Store) Read(ctx context.Context, slot Slot) messages.Estimate {
	rec, err := s.backend.Load(ctx, slot)
	if err == nil && !rec.Valid() {
		err = fmt.Errorf("%w: missing value or timestamp", ErrSlotCorrupt)
	}
	if err == nil {
		return rec
	}

	reason := "backend"
	switch {
	case errors.Is(err, ErrSlotNotFound):
		reason = "not_found"
		s.logger.Debug("slot not written yet, using default", zap.String("slot", string(slot)))
	case errors.Is(err, ErrSlotCorrupt):
		reason = "corrupt"
		s.logger.Warn("slot corrupt, using default", zap.String("slot", string(slot)), zap.Error(err))
	default:
		s.logger.Warn("slot unavailable, using default", zap.String("slot", string(slot)), zap.Error(err))
	}
	observability.StoreFallbacksTotal.WithLabelValues(string(slot), reason).Inc()
	return s.Default(slot)
}

// Write persists rec as the latest value of slot. An absent estimate is not
// written and the previous value stays in place; written reports which case applied.
func (s *Store) Write(ctx context.Context, slot Slot, rec messages.Estimate) (written bool, err error) {
	if !slot.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	if rec.Status == messages.EstimateAbsent {
		s.logger.Info("absent estimate, keeping previous value", zap.String("slot", string(slot)))
		observability.StoreWritesTotal.WithLabelValues(string(slot), "absent").Inc()
		return false, nil
	}
	if !rec.Valid() {
		observability.StoreWritesTotal.WithLabelValues(string(slot), "error").Inc()
		return false, fmt.Errorf("store: refusing to write invalid estimate to %s", slot)
	}
	rec.ObservedAt = rec.ObservedAt.UTC()
	if err := s.backend.Save(ctx, slot, rec); err != nil {
		observability.StoreWritesTotal.WithLabelValues(string(slot), "error").Inc()
		return false, fmt.Errorf("store: write %s: %w", slot, err)
	}
	observability.StoreWritesTotal.WithLabelValues(string(slot), "written").Inc()
	return true, nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}
