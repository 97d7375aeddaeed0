package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/vwc_edge/internal/model/messages"
	"github.com/LeonardoBeccarini/vwc_edge/internal/reconcile"
	"github.com/LeonardoBeccarini/vwc_edge/pkg/broker"
)

// fakeTransport records deliveries and fails on demand.
type fakeTransport struct {
	mu           sync.Mutex
	connectFails int
	failPublish  map[int]bool // 1-based publish attempt numbers to fail
	attempts     int
	connects     int
	disconnects  int
	connected    bool
	published    [][]byte
	lost         chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failPublish: map[int]bool{}, lost: make(chan error, 1)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.lost:
	default:
	}
	f.connects++
	if f.connectFails > 0 {
		f.connectFails--
		return errors.New("tls: handshake failure")
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Publish(_ context.Context, _ string, _ byte, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if !f.connected {
		return broker.ErrNotConnected
	}
	if f.failPublish[f.attempts] {
		f.connected = false
		return broker.ErrPublishTimeout
	}
	f.published = append(f.published, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) ConnectionLost() <-chan error { return f.lost }

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.lost <- errors.New("EOF")
}

func (f *fakeTransport) snapshot() (published [][]byte, connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.published...), f.connects, f.disconnects
}

// seqSource hands out records numbered by their timestamp second.
type seqSource struct {
	n atomic.Int64
}

var epoch = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func (s *seqSource) Reconcile(context.Context) reconcile.Snapshot {
	n := s.n.Add(1)
	return reconcile.Snapshot{Telemetry: messages.Telemetry{
		DeviceID:  "raspi_01",
		Timestamp: epoch.Add(time.Duration(n) * time.Second),
		Data: messages.TelemetryData{
			VWCSatellite: 0.25,
			VWCGround:    0.25,
			Status:       messages.StatusOK,
		},
	}}
}

func seqOf(t *testing.T, payloads [][]byte) []int {
	t.Helper()
	out := make([]int, 0, len(payloads))
	for _, p := range payloads {
		var tel messages.Telemetry
		require.NoError(t, json.Unmarshal(p, &tel))
		out = append(out, int(tel.Timestamp.Sub(epoch)/time.Second))
	}
	return out
}

func testConfig() Config {
	return Config{
		Topic:          "iot/field/raspi_01/live",
		QoS:            1,
		Interval:       10 * time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []ConnState
}

func (l *stateLog) hook(_, to ConnState) {
	l.mu.Lock()
	l.states = append(l.states, to)
	l.mu.Unlock()
}

func (l *stateLog) count(s ConnState) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, st := range l.states {
		if st == s {
			n++
		}
	}
	return n
}

func start(t *testing.T, p *Publisher) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("publisher did not stop")
		}
	}
}

func TestPublisher_PublishesOnConnectAndEveryInterval(t *testing.T) {
	tr := newFakeTransport()
	p := NewPublisher(tr, &seqSource{}, testConfig(), nil)
	stop := start(t, p)

	require.Eventually(t, func() bool {
		pub, _, _ := tr.snapshot()
		return len(pub) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, p.State().Linked())
	stop()

	pub, connects, disconnects := tr.snapshot()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects, "shutdown sends a final disconnect")
	assert.Equal(t, Disconnected, p.State())

	seq := seqOf(t, pub)
	for i, n := range seq {
		assert.Equal(t, i+1, n)
	}
}

func TestPublisher_ReconnectsAfterPublishFailureWithoutLoss(t *testing.T) {
	tr := newFakeTransport()
	tr.failPublish[2] = true
	tr.connectFails = 0

	var log stateLog
	p := NewPublisher(tr, &seqSource{}, testConfig(), nil)
	p.OnStateChange(log.hook)

	// the first reconnect attempt fails too
	p.OnStateChange(func(from, to ConnState) {
		if from == Publishing && to == Disconnected {
			tr.mu.Lock()
			tr.connectFails = 1
			tr.mu.Unlock()
		}
	})
	stop := start(t, p)

	require.Eventually(t, func() bool {
		pub, _, _ := tr.snapshot()
		return len(pub) >= 4
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	pub, connects, _ := tr.snapshot()
	assert.Equal(t, 3, connects, "initial, failed retry, successful retry")
	assert.GreaterOrEqual(t, log.count(Connecting), 2)
	assert.GreaterOrEqual(t, log.count(Disconnected), 2)

	// record 2 was not acknowledged; it is delivered first after reconnect
	seq := seqOf(t, pub)
	for i, n := range seq {
		assert.Equal(t, i+1, n, "records delivered in order with no gaps: %v", seq)
	}
}

func TestPublisher_ReconnectsOnConnectionLost(t *testing.T) {
	tr := newFakeTransport()
	p := NewPublisher(tr, &seqSource{}, Config{
		Topic:          "t",
		Interval:       time.Hour,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, nil)
	stop := start(t, p)

	require.Eventually(t, func() bool {
		pub, _, _ := tr.snapshot()
		return len(pub) == 1
	}, 2*time.Second, 5*time.Millisecond)

	tr.drop()

	// reconnecting publishes immediately, not after the hour-long tick
	require.Eventually(t, func() bool {
		pub, connects, _ := tr.snapshot()
		return connects == 2 && len(pub) == 2
	}, 2*time.Second, 5*time.Millisecond)
	stop()
}

func TestPublisher_RetriesHandshakeUntilShutdown(t *testing.T) {
	tr := newFakeTransport()
	tr.connectFails = 1 << 30
	p := NewPublisher(tr, &seqSource{}, testConfig(), nil)
	stop := start(t, p)

	require.Eventually(t, func() bool {
		_, connects, _ := tr.snapshot()
		return connects >= 3
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, Connecting, p.State())
	stop()

	pub, _, _ := tr.snapshot()
	assert.Empty(t, pub, "nothing is sent without a completed handshake")
}

func TestPublisher_SerializationFailureSkipsCycle(t *testing.T) {
	tr := newFakeTransport()
	p := NewPublisher(tr, &seqSource{}, testConfig(), nil)

	var calls atomic.Int32
	p.marshal = func(v any) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("unsupported value: NaN")
		}
		return json.Marshal(v)
	}
	stop := start(t, p)

	require.Eventually(t, func() bool {
		pub, _, _ := tr.snapshot()
		return len(pub) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	pub, connects, _ := tr.snapshot()
	assert.Equal(t, 1, connects, "a bad record is not a transport failure")
	seq := seqOf(t, pub)
	assert.Equal(t, 2, seq[0], "record 1 was skipped, not retried")
}

func TestPublisher_Health(t *testing.T) {
	tr := newFakeTransport()
	p := NewPublisher(tr, &seqSource{}, testConfig(), nil)

	h := p.Health()
	assert.Equal(t, "DISCONNECTED", h.State)
	assert.False(t, h.Connected)
	assert.True(t, h.LastPublished.IsZero())

	stop := start(t, p)
	require.Eventually(t, func() bool { return !p.Health().LastPublished.IsZero() }, 2*time.Second, 5*time.Millisecond)
	h = p.Health()
	assert.True(t, h.Connected)
	assert.Equal(t, string(messages.StatusOK), h.LastStatus)
	assert.Contains(t, h.SlotAges, "satellite")
	stop()
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "CONNECTING", Connecting.String())
	assert.Equal(t, "PUBLISHING", Publishing.String())
	assert.True(t, Publishing.Linked())
	assert.False(t, Connecting.Linked())
}

func TestPublisher_HookRegisteredBeforeRunSeesFirstTransition(t *testing.T) {
	tr := newFakeTransport()
	p := NewPublisher(tr, &seqSource{}, testConfig(), nil)
	var log stateLog
	p.OnStateChange(log.hook)

	stop := start(t, p)
	require.Eventually(t, func() bool { return log.count(Connected) >= 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	log.mu.Lock()
	defer log.mu.Unlock()
	require.NotEmpty(t, log.states)
	assert.Equal(t, Connecting, log.states[0])
}
