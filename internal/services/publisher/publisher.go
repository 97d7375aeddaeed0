package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/vwc_edge/internal/health"
	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
	"github.com/LeonardoBeccarini/vwc_edge/internal/observability"
	"github.com/LeonardoBeccarini/vwc_edge/internal/reconcile"
	"github.com/LeonardoBeccarini/vwc_edge/pkg/broker"
)

var ErrSerialization = errors.New("publisher: telemetry serialization failed")

// ConnState is the transport state of the publishing loop.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Publishing
)

var connStates = []ConnState{Disconnected, Connecting, Connected, Publishing}

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Publishing:
		return "PUBLISHING"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Linked reports whether the broker session is up.
func (s ConnState) Linked() bool { return s == Connected || s == Publishing }

// SnapshotSource yields a freshly reconciled record per call.
type SnapshotSource interface {
	Reconcile(ctx context.Context) reconcile.Snapshot
}

type Config struct {
	Topic          string
	QoS            byte
	Interval       time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// pendingRecord is a payload whose delivery was not acknowledged.
type pendingRecord struct {
	payload []byte
	status  messages.Status
}

// Publisher drives DISCONNECTED -> CONNECTING -> CONNECTED <-> PUBLISHING
// until its context ends. Transport failures only ever send it back to
// DISCONNECTED.
type Publisher struct {
	transport broker.Transport
	source    SnapshotSource
	cfg       Config
	logger    *zap.Logger

	marshal    func(any) ([]byte, error)
	newBackOff func() backoff.BackOff

	mu       sync.RWMutex
	state    ConnState
	hooks    []func(from, to ConnState)
	last     reconcile.Snapshot
	lastSent time.Time

	pending *pendingRecord
}

func NewPublisher(t broker.Transport, src SnapshotSource, cfg Config, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.QoS == 0 {
		cfg.QoS = 1
	}
	p := &Publisher{
		transport: t,
		source:    src,
		cfg:       cfg,
		logger:    logger,
		marshal:   json.Marshal,
	}
	p.newBackOff = func() backoff.BackOff {
		return broker.NewReconnectBackOff(cfg.InitialBackoff, cfg.MaxBackoff)
	}
	p.publishStateGauge(Disconnected)
	return p
}

// OnStateChange registers fn for every transition. Hooks run on the loop
// goroutine and must not block.
func (p *Publisher) OnStateChange(fn func(from, to ConnState)) {
	p.mu.Lock()
	p.hooks = append(p.hooks, fn)
	p.mu.Unlock()
}

func (p *Publisher) State() ConnState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Run blocks until ctx is cancelled. It returns nil on shutdown; every other
// failure is logged and retried.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("publisher starting",
		zap.String("topic", p.cfg.Topic),
		zap.Uint8("qos", p.cfg.QoS),
		zap.Duration("interval", p.cfg.Interval))

	for {
		if ctx.Err() != nil {
			p.setState(Disconnected)
			return nil
		}

		p.setState(Connecting)
		err := broker.ConnectWithBackoff(ctx, p.transport, p.newBackOff(), func(err error, wait time.Duration) {
			observability.ConnectAttemptsTotal.WithLabelValues("error").Inc()
			p.logger.Warn("broker connect failed", zap.Error(err), zap.Duration("retry_in", wait))
		})
		if err != nil {
			p.setState(Disconnected)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connect: %w", err)
		}
		observability.ConnectAttemptsTotal.WithLabelValues("ok").Inc()
		p.setState(Connected)

		err = p.session(ctx)
		p.transport.Disconnect()
		p.setState(Disconnected)
		if ctx.Err() != nil {
			p.logger.Info("publisher stopped")
			return nil
		}
		p.logger.Warn("transport failure, reconnecting", zap.Error(err))
	}
}

// session publishes once right away and then on every tick, returning on
// the first transport failure.
func (p *Publisher) session(ctx context.Context) error {
	if err := p.cycle(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-p.transport.ConnectionLost():
			return fmt.Errorf("%w: %v", broker.ErrNotConnected, err)
		case <-ticker.C:
			if err := p.cycle(ctx); err != nil {
				return err
			}
		}
	}
}

// cycle is one CONNECTED -> PUBLISHING -> CONNECTED round.
func (p *Publisher) cycle(ctx context.Context) error {
	p.setState(Publishing)

	if p.pending != nil {
		if err := p.deliver(ctx, *p.pending); err != nil {
			return err
		}
		p.logger.Info("redelivered pending telemetry", zap.String("status", string(p.pending.status)))
		p.pending = nil
	}

	snap := p.source.Reconcile(ctx)
	rec, err := p.encode(snap.Telemetry)
	if err != nil {
		observability.SerializationFailuresTotal.Inc()
		p.logger.Error("skipping publish cycle", zap.Error(err))
		p.setState(Connected)
		return nil
	}

	d := snap.Telemetry.Data
	p.logger.Info("telemetry",
		zap.String("status", string(d.Status)),
		zap.Float64("vwc_satellite", d.VWCSatellite),
		zap.Float64("vwc_ground", d.VWCGround),
		zap.Float64("diff", d.Diff))

	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()

	if err := p.deliver(ctx, rec); err != nil {
		p.pending = &rec
		return err
	}
	p.setState(Connected)
	return nil
}

func (p *Publisher) encode(t messages.Telemetry) (pendingRecord, error) {
	payload, err := p.marshal(t)
	if err != nil {
		return pendingRecord{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return pendingRecord{payload: payload, status: t.Data.Status}, nil
}

func (p *Publisher) deliver(ctx context.Context, rec pendingRecord) error {
	if err := p.transport.Publish(ctx, p.cfg.Topic, p.cfg.QoS, rec.payload); err != nil {
		observability.PublishFailuresTotal.Inc()
		return fmt.Errorf("publish %s: %w", p.cfg.Topic, err)
	}
	observability.PublishCyclesTotal.WithLabelValues(string(rec.status)).Inc()
	p.mu.Lock()
	p.lastSent = time.Now()
	p.mu.Unlock()
	return nil
}

func (p *Publisher) setState(to ConnState) {
	p.mu.Lock()
	from := p.state
	if from == to {
		p.mu.Unlock()
		return
	}
	p.state = to
	hooks := append([]func(from, to ConnState){}, p.hooks...)
	p.mu.Unlock()

	p.publishStateGauge(to)
	// PUBLISHING flips every cycle; keep it out of INFO
	if from == Publishing || to == Publishing {
		p.logger.Debug("state", zap.Stringer("from", from), zap.Stringer("to", to))
	} else {
		p.logger.Info("state", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	for _, h := range hooks {
		h(from, to)
	}
}

func (p *Publisher) publishStateGauge(cur ConnState) {
	for _, s := range connStates {
		v := 0.0
		if s == cur {
			v = 1
		}
		observability.ConnectionState.WithLabelValues(s.String()).Set(v)
	}
}

// Health reports the loop's state for the health endpoints.
func (p *Publisher) Health() health.Report {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r := health.Report{
		State:         p.state.String(),
		Connected:     p.state.Linked(),
		LastPublished: p.lastSent,
		Interval:      p.cfg.Interval,
	}
	if !p.last.Telemetry.Timestamp.IsZero() {
		now := time.Now()
		r.SlotAges = map[string]time.Duration{
			"satellite": p.last.Satellite.Age(now),
			"ground":    p.last.Ground.Age(now),
		}
		r.LastStatus = string(p.last.Telemetry.Data.Status)
	}
	return r
}
