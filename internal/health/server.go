package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServeHTTP runs handler on addr until ctx ends, then shuts down within grace.
func ServeHTTP(ctx context.Context, addr string, handler http.Handler, grace time.Duration, logger *zap.Logger) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP listening", zap.String("addr", addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return hs.Shutdown(shCtx)
}

// GRPCServer exposes the standard grpc.health.v1 service. The overall status
// and the named service follow SetServing.
type GRPCServer struct {
	service string
	srv     *grpc.Server
	hs      *grpchealth.Server
}

func NewGRPCServer(service string) *GRPCServer {
	g := &GRPCServer{
		service: service,
		srv:     grpc.NewServer(),
		hs:      grpchealth.NewServer(),
	}
	healthpb.RegisterHealthServer(g.srv, g.hs)
	g.SetServing(false)
	return g
}

func (g *GRPCServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	g.hs.SetServingStatus("", st)
	g.hs.SetServingStatus(g.service, st)
}

// Serve blocks on lis until ctx ends.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- g.srv.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		g.hs.Shutdown()
		g.srv.GracefulStop()
		return nil
	}
}
