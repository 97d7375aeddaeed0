package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	ErrTLSRequired    = errors.New("broker: TLS configuration is required")
	ErrConnectTimeout = errors.New("broker: connect timed out")
	ErrPublishTimeout = errors.New("broker: publish acknowledgement timed out")
	ErrNotConnected   = errors.New("broker: not connected")
)

// Transport is the slice of an MQTT connection the publishing loop drives.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	// ConnectionLost delivers an error when an established link drops.
	ConnectionLost() <-chan error
	Disconnect()
}

type Config struct {
	Host           string
	Port           int
	ClientID       string
	Username       string
	Password       string
	CleanSession   bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	TLS            *tls.Config

	// AutoReconnect lets paho restore the link itself (subscribers). The
	// publisher leaves it off and drives reconnection explicitly.
	AutoReconnect bool
	OnConnect     func(mqtt.Client)
}

func (c Config) BrokerURL() string {
	return fmt.Sprintf("tls://%s:%d", c.Host, c.Port)
}

// Client is a paho client restricted to mutually authenticated TLS.
type Client struct {
	cfg    Config
	client mqtt.Client
	lost   chan error
	logger *zap.Logger
}

var _ Transport = (*Client)(nil)

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.TLS == nil {
		return nil, ErrTLSRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}

	c := &Client{cfg: cfg, lost: make(chan error, 1), logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetTLSConfig(cfg.TLS)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(cfg.AutoReconnect)
	opts.SetConnectRetry(false)
	if cfg.OnConnect != nil {
		opts.SetOnConnectHandler(cfg.OnConnect)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.String("broker", cfg.BrokerURL()), zap.Error(err))
		select {
		case c.lost <- err:
		default:
		}
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Raw exposes the paho client for subscriptions.
func (c *Client) Raw() mqtt.Client { return c.client }

func (c *Client) Connect(ctx context.Context) error {
	// a loss reported for a previous session is stale now
	select {
	case <-c.lost:
	default:
	}
	return waitToken(ctx, c.client.Connect(), c.cfg.ConnectTimeout, ErrConnectTimeout)
}

// Publish sends payload and waits for the broker acknowledgement that the
// QoS level implies (PUBACK for 1, PUBCOMP for 2).
func (c *Client) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return waitToken(ctx, c.client.Publish(topic, qos, false, payload), c.cfg.PublishTimeout, ErrPublishTimeout)
}

func (c *Client) ConnectionLost() <-chan error { return c.lost }

func (c *Client) IsConnectionOpen() bool { return c.client.IsConnectionOpen() }

// Disconnect sends DISCONNECT if a link is up, waiting briefly for in-flight work.
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info("mqtt client disconnected", zap.String("broker", c.cfg.BrokerURL()))
	}
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration, timeoutErr error) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return timeoutErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
