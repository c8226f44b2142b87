package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/z-recall/backend/internal/app"
	"github.com/zhouzirui/z-recall/backend/internal/config"
	"github.com/zhouzirui/z-recall/backend/internal/handler"
	"github.com/zhouzirui/z-recall/backend/internal/handler/document"
	"github.com/zhouzirui/z-recall/backend/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.OTLPInsecure)
	if err != nil {
		log.Printf("warning: tracing disabled: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("warning: tracer shutdown failed: %v", err)
		}
	}()

	built, err := app.Build(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("failed to initialize services: %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Printf("warning: cleanup failed: %v", err)
		}
	}()

	var ingester document.Ingester
	if built.Ingester != nil {
		ingester = built.Ingester
	}

	router := handler.NewRouter(handler.Services{
		Chat:      built.Chat,
		Turns:     built.Turns,
		Ingester:  ingester,
		UploadDir: cfg.Retrieval.UploadDir,
		Metrics:   observability.MetricsHandler(),
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Z Recall backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
