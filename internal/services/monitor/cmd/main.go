package main

import (
	"context"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/vwc_edge/internal/config"
	"github.com/LeonardoBeccarini/vwc_edge/internal/health"
	"github.com/LeonardoBeccarini/vwc_edge/internal/observability"
	"github.com/LeonardoBeccarini/vwc_edge/internal/services/monitor"
	"github.com/LeonardoBeccarini/vwc_edge/pkg/broker"
	"github.com/LeonardoBeccarini/vwc_edge/pkg/dedup"
)

func main() {
	cfg, err := config.LoadMonitor()
	if err != nil {
		log.Fatalf("monitor: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("monitor: logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		logger.Fatal("refusing to start", zap.Error(err))
	}

	mon := monitor.NewMonitor(dedup.New(cfg.DedupTTL, cfg.DedupMax), cfg.ExpectedInterval, logger.Named("monitor"))

	// persistent session + resubscribe on every (re)connect so QoS1
	// messages queued while offline are delivered
	var consumer *broker.Consumer
	bcfg := cfg.BrokerConfig(cfg.ClientIDFor(cfg.DeviceID, "monitor"), tlsCfg)
	bcfg.AutoReconnect = true
	bcfg.CleanSession = false
	bcfg.OnConnect = func(mqtt.Client) {
		if err := consumer.Subscribe(); err != nil {
			logger.Error("resubscribe failed", zap.Error(err))
		}
	}
	client, err := broker.NewClient(bcfg, logger.Named("mqtt"))
	if err != nil {
		logger.Fatal("mqtt client", zap.Error(err))
	}
	consumer = broker.NewConsumer(client.Raw(), cfg.Topic, cfg.QoS, mon.Handle, logger.Named("consumer"))
	mon.SetConnectedCheck(client.IsConnectionOpen)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MonitorHTTPPort > 0 {
		go func() {
			if err := health.ServeHTTP(ctx, ":"+strconv.Itoa(cfg.MonitorHTTPPort), health.NewMux(mon), 5*time.Second, logger); err != nil {
				logger.Error("http server", zap.Error(err))
			}
		}()
	}

	bo := broker.NewReconnectBackOff(time.Second, time.Minute)
	if err := broker.ConnectWithBackoff(ctx, client, bo, func(err error, wait time.Duration) {
		logger.Warn("broker connect failed", zap.Error(err), zap.Duration("retry_in", wait))
	}); err != nil {
		logger.Info("monitor stopped before connecting", zap.Error(err))
		return
	}

	logger.Info("monitor running", zap.String("topic", cfg.Topic))
	consumer.ConsumeMessage(ctx)
	client.Disconnect()
}
