package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/vwc_edge/internal/config"
	"github.com/LeonardoBeccarini/vwc_edge/internal/observability"
	sensorSimulator "github.com/LeonardoBeccarini/vwc_edge/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/vwc_edge/internal/store"
)

func main() {
	cfg, err := config.LoadGround()
	if err != nil {
		log.Fatalf("ground-sim: %v", err)
	}

	// flags override the environment
	offset := flag.Float64("offset", cfg.GroundOffset, "bias added to every reading (e.g. 0.3 waterlogging, -0.3 drought)")
	interval := flag.Duration("interval", cfg.GroundInterval, "write interval")
	flag.Parse()
	if *offset < -1 || *offset > 1 || *interval <= 0 {
		log.Fatalf("ground-sim: -offset must be in [-1,1] and -interval > 0")
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("ground-sim: logger: %v", err)
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

	gen := sensorSimulator.NewGroundGenerator(*offset, cfg.GroundNoiseStdDev, cfg.GroundSeed)
	sensorSimulator.NewGroundSimulator(st, gen, logger.Named("ground")).Start(ctx, *interval)
}
