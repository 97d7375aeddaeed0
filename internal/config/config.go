package config

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/vwc_edge/internal/reconcile"
	"github.com/LeonardoBeccarini/vwc_edge/internal/store"
	"github.com/LeonardoBeccarini/vwc_edge/pkg/broker"
)

// Common is read by every binary.
type Common struct {
	DeviceID string `envconfig:"DEVICE_ID" default:"raspi_01" validate:"required"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// StoreConfig selects the slot backend.
type StoreConfig struct {
	StoreBackend     string        `envconfig:"STORE_BACKEND" default:"file" validate:"oneof=file influx memcached"`
	StoreDir         string        `envconfig:"STORE_DIR" default:"data" validate:"required_if=StoreBackend file"`
	InfluxURL        string        `envconfig:"INFLUX_URL" validate:"required_if=StoreBackend influx"`
	InfluxToken      string        `envconfig:"INFLUX_TOKEN" validate:"required_if=StoreBackend influx"`
	InfluxOrg        string        `envconfig:"INFLUX_ORG" validate:"required_if=StoreBackend influx"`
	InfluxBucket     string        `envconfig:"INFLUX_BUCKET" validate:"required_if=StoreBackend influx"`
	InfluxLookback   time.Duration `envconfig:"INFLUX_LOOKBACK" default:"720h" validate:"gt=0"`
	MemcachedAddrs   string        `envconfig:"MEMCACHED_ADDRS" validate:"required_if=StoreBackend memcached"`
	MemcachedTimeout time.Duration `envconfig:"MEMCACHED_TIMEOUT" default:"500ms" validate:"gt=0"`
	DefaultVWC       float64       `envconfig:"DEFAULT_VWC" default:"0.25" validate:"gte=0,lte=1"`
}

func (s StoreConfig) Options() store.Options {
	return store.Options{
		Backend: s.StoreBackend,
		Dir:     s.StoreDir,
		Influx: store.InfluxConfig{
			URL:      s.InfluxURL,
			Token:    s.InfluxToken,
			Org:      s.InfluxOrg,
			Bucket:   s.InfluxBucket,
			Lookback: s.InfluxLookback,
		},
		MemcachedAddrs:   s.MemcachedAddrs,
		MemcachedTimeout: s.MemcachedTimeout,
	}
}

// MQTTConfig is the broker endpoint and the mutual TLS material.
type MQTTConfig struct {
	BrokerHost     string        `envconfig:"MQTT_BROKER_HOST" validate:"required,hostname_rfc1123|ip"`
	BrokerPort     int           `envconfig:"MQTT_BROKER_PORT" default:"8883" validate:"gt=0,lte=65535"`
	Topic          string        `envconfig:"MQTT_TOPIC" default:"iot/field/raspi_01/live" validate:"required"`
	ClientID       string        `envconfig:"MQTT_CLIENT_ID"`
	Username       string        `envconfig:"MQTT_USERNAME"`
	Password       string        `envconfig:"MQTT_PASSWORD"`
	QoS            uint8         `envconfig:"MQTT_QOS" default:"1" validate:"oneof=1 2"`
	ConnectTimeout time.Duration `envconfig:"MQTT_CONNECT_TIMEOUT" default:"10s" validate:"gt=0"`
	PublishTimeout time.Duration `envconfig:"MQTT_PUBLISH_TIMEOUT" default:"5s" validate:"gt=0"`
	KeepAlive      time.Duration `envconfig:"MQTT_KEEPALIVE" default:"60s" validate:"gt=0"`

	CACert     string `envconfig:"MQTT_CA_CERT" validate:"required,file"`
	ClientCert string `envconfig:"MQTT_CLIENT_CERT" validate:"required,file"`
	ClientKey  string `envconfig:"MQTT_CLIENT_KEY" validate:"required,file"`
	ServerName string `envconfig:"MQTT_TLS_SERVER_NAME"`
	// Only for private networks where the broker certificate does not
	// carry the address it is reached on.
	SkipHostnameVerify bool `envconfig:"MQTT_TLS_SKIP_HOSTNAME_VERIFY" default:"false"`
}

func (m MQTTConfig) TLSFiles() broker.TLSFiles {
	return broker.TLSFiles{
		CACert:             m.CACert,
		ClientCert:         m.ClientCert,
		ClientKey:          m.ClientKey,
		ServerName:         m.ServerName,
		SkipHostnameVerify: m.SkipHostnameVerify,
	}
}

// TLSConfig loads the certificates, reporting any failure as a CREDENTIALS error.
func (m MQTTConfig) TLSConfig() (*tls.Config, error) {
	cfg, err := broker.LoadTLSConfig(m.TLSFiles())
	if err != nil {
		return nil, &ConfigError{Type: ErrCredentials, Message: "cannot load MQTT TLS material", Err: err}
	}
	return cfg, nil
}

// ClientIDFor returns MQTT_CLIENT_ID or a fresh "<device>-<role>-<rand>" id.
func (m MQTTConfig) ClientIDFor(deviceID, role string) string {
	if m.ClientID != "" {
		return m.ClientID
	}
	return fmt.Sprintf("%s-%s-%s", deviceID, role, uuid.NewString()[:8])
}

// BrokerConfig builds the transport settings around an already loaded TLS config.
func (m MQTTConfig) BrokerConfig(clientID string, tlsCfg *tls.Config) broker.Config {
	return broker.Config{
		Host:           m.BrokerHost,
		Port:           m.BrokerPort,
		ClientID:       clientID,
		Username:       m.Username,
		Password:       m.Password,
		KeepAlive:      m.KeepAlive,
		ConnectTimeout: m.ConnectTimeout,
		PublishTimeout: m.PublishTimeout,
		TLS:            tlsCfg,
	}
}

type PublishSettings struct {
	PublishInterval         time.Duration `envconfig:"PUBLISH_INTERVAL" default:"10s" validate:"gt=0"`
	ConflictThreshold       float64       `envconfig:"CONFLICT_THRESHOLD" default:"0.15" validate:"gt=0,lte=1"`
	DroughtThreshold        float64       `envconfig:"DROUGHT_THRESHOLD" default:"0.15" validate:"gt=0,lte=1"`
	ReconnectInitialBackoff time.Duration `envconfig:"RECONNECT_INITIAL_BACKOFF" default:"1s" validate:"gt=0"`
	ReconnectMaxBackoff     time.Duration `envconfig:"RECONNECT_MAX_BACKOFF" default:"60s" validate:"gtefield=ReconnectInitialBackoff"`
	HTTPPort                int           `envconfig:"HTTP_PORT" default:"8080" validate:"gte=0,lte=65535"`
	GRPCHealthPort          int           `envconfig:"GRPC_HEALTH_PORT" default:"0" validate:"gte=0,lte=65535"`
}

func (p PublishSettings) Thresholds() reconcile.Thresholds {
	return reconcile.Thresholds{Conflict: p.ConflictThreshold, Drought: p.DroughtThreshold}
}

type GroundSettings struct {
	GroundInterval    time.Duration `envconfig:"GROUND_INTERVAL" default:"5s" validate:"gt=0"`
	GroundOffset      float64       `envconfig:"GROUND_OFFSET" default:"0" validate:"gte=-1,lte=1"`
	GroundNoiseStdDev float64       `envconfig:"GROUND_NOISE_STDDEV" default:"0.01" validate:"gte=0,lte=1"`
	GroundSeed        int64         `envconfig:"GROUND_SEED" default:"0"`
}

type SatelliteSettings struct {
	EstimatorCmd     string        `envconfig:"SAT_ESTIMATOR_CMD"`
	SatInterval      time.Duration `envconfig:"SAT_INTERVAL" default:"6h" validate:"gt=0"`
	EstimatorTimeout time.Duration `envconfig:"SAT_ESTIMATOR_TIMEOUT" default:"10m" validate:"gt=0"`
}

type MonitorSettings struct {
	DedupTTL         time.Duration `envconfig:"MONITOR_DEDUP_TTL" default:"10m" validate:"gt=0"`
	DedupMax         int           `envconfig:"MONITOR_DEDUP_MAX" default:"20000" validate:"gt=0"`
	MonitorHTTPPort  int           `envconfig:"MONITOR_HTTP_PORT" default:"0" validate:"gte=0,lte=65535"`
	ExpectedInterval time.Duration `envconfig:"MONITOR_EXPECTED_INTERVAL" default:"10s" validate:"gt=0"`
}

// Publisher configures the secure publishing loop.
type Publisher struct {
	Common
	StoreConfig
	MQTTConfig
	PublishSettings
}

// Ground configures the ground simulator.
type Ground struct {
	Common
	StoreConfig
	GroundSettings
}

// Satellite configures the satellite slot updater.
type Satellite struct {
	Common
	StoreConfig
	SatelliteSettings
}

// Monitor configures the reference subscriber.
type Monitor struct {
	Common
	MQTTConfig
	MonitorSettings
}

// Edge runs every producer and the publisher in one process. An empty
// SAT_ESTIMATOR_CMD leaves the satellite slot to an outside writer.
type Edge struct {
	Common
	StoreConfig
	MQTTConfig
	PublishSettings
	GroundSettings
	SatelliteSettings
}
