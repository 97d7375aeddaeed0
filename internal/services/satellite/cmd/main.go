package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/vwc_edge/internal/config"
	"github.com/LeonardoBeccarini/vwc_edge/internal/observability"
	"github.com/LeonardoBeccarini/vwc_edge/internal/services/satellite"
	"github.com/LeonardoBeccarini/vwc_edge/internal/store"
)

func main() {
	cfg, err := config.LoadSatellite()
	if err != nil {
		log.Fatalf("satellite: %v", err)
	}

	once := flag.Bool("once", false, "run the estimator a single time and exit (for cron)")
	value := flag.Float64("value", math.NaN(), "write this VWC directly instead of running the estimator")
	flag.Parse()

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("satellite: logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	backend, err := store.OpenBackend(cfg.Options())
	if err != nil {
		logger.Fatal("store backend", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	st := store.New(backend, cfg.DefaultVWC, logger.Named("store"))
	defer func() { _ = st.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !math.IsNaN(*value) {
		if _, _, err := satellite.NewUpdater(st, nil, logger).WriteValue(ctx, *value); err != nil {
			logger.Fatal("manual write", zap.Error(err))
		}
		return
	}

	est, err := satellite.NewExecEstimator(cfg.EstimatorCmd, cfg.EstimatorTimeout)
	if err != nil {
		logger.Fatal("SAT_ESTIMATOR_CMD is required unless -value is given", zap.Error(err))
	}
	u := satellite.NewUpdater(st, est, logger.Named("satellite"))

	if *once {
		if _, _, err := u.RunOnce(ctx); err != nil {
			logger.Error("satellite update failed, keeping previous value", zap.Error(err))
		}
		return
	}
	u.Start(ctx, cfg.SatInterval)
}
