package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func (f *fakeToken) Wait() bool { <-f.done; return true }

func (f *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-f.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (f *fakeToken) Done() <-chan struct{} { return f.done }
func (f *fakeToken) Error() error          { return f.err }

func TestNewClient_RequiresTLS(t *testing.T) {
	_, err := NewClient(Config{Host: "broker", Port: 8883, ClientID: "x"}, nil)
	assert.ErrorIs(t, err, ErrTLSRequired)

	c, err := NewClient(Config{Host: "broker", Port: 8883, ClientID: "x", TLS: &tls.Config{}}, nil)
	require.NoError(t, err)
	assert.False(t, c.IsConnectionOpen())
	assert.ErrorIs(t, c.Publish(context.Background(), "t", 1, []byte("{}")), ErrNotConnected)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tls://10.0.0.5:8883", Config{Host: "10.0.0.5", Port: 8883}.BrokerURL())
}

func TestWaitToken(t *testing.T) {
	done := &fakeToken{done: make(chan struct{})}
	close(done.done)
	assert.NoError(t, waitToken(context.Background(), done, time.Second, ErrPublishTimeout))

	failed := &fakeToken{done: make(chan struct{}), err: errors.New("refused")}
	close(failed.done)
	assert.EqualError(t, waitToken(context.Background(), failed, time.Second, ErrPublishTimeout), "refused")

	pending := &fakeToken{done: make(chan struct{})}
	assert.ErrorIs(t, waitToken(context.Background(), pending, 20*time.Millisecond, ErrPublishTimeout), ErrPublishTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waitToken(ctx, pending, time.Second, ErrPublishTimeout), context.Canceled)
}
