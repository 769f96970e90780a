// Package api exposes the backtest runner over HTTP (REST and a WebSocket
// status feed) and gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Options configures the listeners. An empty GRPCAddr disables gRPC.
type Options struct {
	HTTPAddr string
	GRPCAddr string
	// Metrics, when set, is mounted on GET /metrics.
	Metrics http.Handler
}

// Server hosts the HTTP and gRPC endpoints.
type Server struct {
	runs     Backtests
	httpAddr string
	grpcAddr string
	metrics  http.Handler
	log      *slog.Logger
}

// NewServer creates a Server serving runs.
func NewServer(runs Backtests, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runs:     runs,
		httpAddr: opts.HTTPAddr,
		grpcAddr: opts.GRPCAddr,
		metrics:  opts.Metrics,
		log:      logger.With("component", "api"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/backtests", s.handleSubmit)
	mux.HandleFunc("GET /api/v1/backtests", s.handleList)
	mux.HandleFunc("GET /api/v1/backtests/{id}", s.handleGet)
	mux.HandleFunc("POST /api/v1/backtests/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/v1/backtests/{id}/ws", s.handleWatch)
	mux.HandleFunc("GET /api/v1/strategy-types", s.handleStrategyTypes)
	mux.HandleFunc("POST /api/v1/strategies/validate", s.handleValidate)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// GRPCServer returns a gRPC server with the BacktestService registered.
func (s *Server) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(opts...)
	RegisterBacktestServiceServer(gs, &grpcService{api: s})
	return gs
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe binds the gRPC and HTTP listeners, then serves until the
// context is cancelled or a server fails. Nothing is served if either bind
// fails. On cancellation both servers shut down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var grpcLis net.Listener
	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("gRPC listener: %w", err)
		}
		grpcLis = lis
	}
	httpLis, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		if grpcLis != nil {
			grpcLis.Close()
		}
		return fmt.Errorf("HTTP listener: %w", err)
	}

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", httpLis.Addr().String())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var grpcSrv *grpc.Server
	if grpcLis != nil {
		grpcSrv = s.GRPCServer()
		g.Go(func() error {
			s.log.Info("gRPC server listening", "addr", grpcLis.Addr().String())
			if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return s.shutdown(httpSrv, grpcSrv)
	})

	return g.Wait()
}

// shutdown stops accepting new connections and waits for in-flight requests.
func (s *Server) shutdown(httpSrv *http.Server, grpcSrv *grpc.Server) error {
	s.log.Info("shutting down API servers")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcSrv != nil {
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			grpcSrv.Stop()
		}
	}
	return httpSrv.Shutdown(ctx)
}
