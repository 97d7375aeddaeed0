package main

import (
	"context"
	"log"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/vwc_edge/internal/config"
	"github.com/LeonardoBeccarini/vwc_edge/internal/health"
	"github.com/LeonardoBeccarini/vwc_edge/internal/observability"
	"github.com/LeonardoBeccarini/vwc_edge/internal/reconcile"
	"github.com/LeonardoBeccarini/vwc_edge/internal/services/publisher"
	"github.com/LeonardoBeccarini/vwc_edge/internal/store"
	"github.com/LeonardoBeccarini/vwc_edge/pkg/broker"
)

func main() {
	cfg, err := config.LoadPublisher()
	if err != nil {
		log.Fatalf("publisher: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("publisher: logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		logger.Fatal("refusing to start", zap.Error(err))
	}
	if cfg.SkipHostnameVerify {
		logger.Warn("broker hostname verification disabled; certificate chain is still checked")
	}

	backend, err := store.OpenBackend(cfg.Options())
	if err != nil {
		logger.Fatal("store backend", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	st := store.New(backend, cfg.DefaultVWC, logger.Named("store"))
	defer func() { _ = st.Close() }()

	client, err := broker.NewClient(cfg.BrokerConfig(cfg.ClientIDFor(cfg.DeviceID, "publisher"), tlsCfg), logger.Named("mqtt"))
	if err != nil {
		logger.Fatal("mqtt client", zap.Error(err))
	}

	rec := reconcile.NewReconciler(st, cfg.Thresholds(), cfg.DeviceID)
	pub := publisher.NewPublisher(client, rec, publisher.Config{
		Topic:          cfg.Topic,
		QoS:            cfg.QoS,
		Interval:       cfg.PublishInterval,
		InitialBackoff: cfg.ReconnectInitialBackoff,
		MaxBackoff:     cfg.ReconnectMaxBackoff,
	}, logger.Named("publisher"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.HTTPPort > 0 {
		g.Go(func() error {
			return health.ServeHTTP(ctx, ":"+strconv.Itoa(cfg.HTTPPort), health.NewMux(pub), 5*time.Second, logger)
		})
	}
	if cfg.GRPCHealthPort > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCHealthPort))
		if err != nil {
			logger.Fatal("grpc health listen", zap.Error(err))
		}
		gs := health.NewGRPCServer("vwc.publisher")
		pub.OnStateChange(func(_, to publisher.ConnState) { gs.SetServing(to.Linked()) })
		g.Go(func() error { return gs.Serve(ctx, lis) })
	}
	// state hooks are registered above; Run fires the first transition
	g.Go(func() error { return pub.Run(ctx) })

	logger.Info("publisher running",
		zap.String("device_id", cfg.DeviceID),
		zap.String("broker", cfg.BrokerConfig("", nil).BrokerURL()))

	if err := g.Wait(); err != nil {
		logger.Error("publisher exited", zap.Error(err))
	}
}
