package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/vwc_edge/internal/health"
	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
	"github.com/LeonardoBeccarini/vwc_edge/internal/observability"
	"github.com/LeonardoBeccarini/vwc_edge/pkg/dedup"
)

var ErrDuplicate = errors.New("monitor: duplicate delivery")

// Monitor is a reference subscriber for the telemetry topic. Redeliveries
// of an identical payload are dropped; everything else is decoded, logged
// and counted.
type Monitor struct {
	deduper   *dedup.Deduper
	expected  time.Duration
	logger    *zap.Logger
	connected func() bool

	mu       sync.RWMutex
	last     map[string]messages.Telemetry
	lastSeen time.Time
}

// NewMonitor builds a monitor expecting one record per expected interval.
func NewMonitor(d *dedup.Deduper, expected time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		deduper:   d,
		expected:  expected,
		logger:    logger,
		connected: func() bool { return false },
		last:      make(map[string]messages.Telemetry),
	}
}

// SetConnectedCheck tells Health how to read the subscription link state.
func (m *Monitor) SetConnectedCheck(fn func() bool) { m.connected = fn }

// Handle is the broker.Handler for the telemetry subscription.
func (m *Monitor) Handle(_ string, msg mqtt.Message) error {
	_, err := m.HandlePayload(msg.Payload())
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

// HandlePayload processes one message body. A repeated payload returns ErrDuplicate.
func (m *Monitor) HandlePayload(payload []byte) (rec messages.Telemetry, err error) {
	if m.deduper != nil && !m.deduper.ShouldProcess(dedup.PayloadKey(payload)) {
		observability.MonitorDuplicatesTotal.Inc()
		m.logger.Debug("duplicate telemetry dropped")
		return rec, ErrDuplicate
	}
	if err := json.Unmarshal(payload, &rec); err != nil {
		observability.MonitorMessagesTotal.WithLabelValues("invalid").Inc()
		return rec, fmt.Errorf("invalid telemetry: %w", err)
	}
	if rec.DeviceID == "" || rec.Timestamp.IsZero() {
		observability.MonitorMessagesTotal.WithLabelValues("invalid").Inc()
		return rec, errors.New("invalid telemetry: missing device_id or timestamp")
	}

	observability.MonitorMessagesTotal.WithLabelValues(string(rec.Data.Status)).Inc()
	m.mu.Lock()
	m.last[rec.DeviceID] = rec
	m.lastSeen = time.Now()
	m.mu.Unlock()

	fields := []zap.Field{
		zap.String("device_id", rec.DeviceID),
		zap.Time("timestamp", rec.Timestamp),
		zap.String("status", string(rec.Data.Status)),
		zap.Float64("vwc_satellite", rec.Data.VWCSatellite),
		zap.Float64("vwc_ground", rec.Data.VWCGround),
		zap.Float64("diff", rec.Data.Diff),
	}
	if rec.Data.Status == messages.StatusOK {
		m.logger.Info("telemetry", fields...)
	} else {
		m.logger.Warn("telemetry alert", fields...)
	}
	return rec, nil
}

// Last returns the most recent record seen for deviceID.
func (m *Monitor) Last(deviceID string) (messages.Telemetry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.last[deviceID]
	return rec, ok
}

func (m *Monitor) Health() health.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := health.Report{State: "DISCONNECTED", LastPublished: m.lastSeen, Interval: m.expected}
	if m.connected() {
		r.State = "CONNECTED"
		r.Connected = true
	}
	return r
}
