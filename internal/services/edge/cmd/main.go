// Command edge runs the ground simulator, the satellite updater and the
// publisher in one process. They still share nothing but the store.
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
	sensorSimulator "github.com/LeonardoBeccarini/vwc_edge/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/vwc_edge/internal/services/publisher"
	"github.com/LeonardoBeccarini/vwc_edge/internal/services/satellite"
	"github.com/LeonardoBeccarini/vwc_edge/internal/store"
	"github.com/LeonardoBeccarini/vwc_edge/pkg/broker"
)

func main() {
	cfg, err := config.LoadEdge()
	if err != nil {
		log.Fatalf("edge: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("edge: logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		logger.Fatal("refusing to start", zap.Error(err))
	}

	backend, err := store.OpenBackend(cfg.Options())
	if err != nil {
		logger.Fatal("store backend", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	st := store.New(backend, cfg.DefaultVWC, logger.Named("store"))
	defer func() { _ = st.Close() }()

	client, err := broker.NewClient(cfg.BrokerConfig(cfg.ClientIDFor(cfg.DeviceID, "edge"), tlsCfg), logger.Named("mqtt"))
	if err != nil {
		logger.Fatal("mqtt client", zap.Error(err))
	}
	pub := publisher.NewPublisher(client, reconcile.NewReconciler(st, cfg.Thresholds(), cfg.DeviceID), publisher.Config{
		Topic:          cfg.Topic,
		QoS:            cfg.QoS,
		Interval:       cfg.PublishInterval,
		InitialBackoff: cfg.ReconnectInitialBackoff,
		MaxBackoff:     cfg.ReconnectMaxBackoff,
	}, logger.Named("publisher"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	gen := sensorSimulator.NewGroundGenerator(cfg.GroundOffset, cfg.GroundNoiseStdDev, cfg.GroundSeed)
	ground := sensorSimulator.NewGroundSimulator(st, gen, logger.Named("ground"))
	g.Go(func() error {
		ground.Start(ctx, cfg.GroundInterval)
		return nil
	})

	if cfg.EstimatorCmd != "" {
		est, err := satellite.NewExecEstimator(cfg.EstimatorCmd, cfg.EstimatorTimeout)
		if err != nil {
			logger.Fatal("satellite estimator", zap.Error(err))
		}
		u := satellite.NewUpdater(st, est, logger.Named("satellite"))
		g.Go(func() error {
			u.Start(ctx, cfg.SatInterval)
			return nil
		})
	} else {
		logger.Info("SAT_ESTIMATOR_CMD not set; satellite slot is written externally")
	}

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

	if err := g.Wait(); err != nil {
		logger.Error("edge exited", zap.Error(err))
	}
}
