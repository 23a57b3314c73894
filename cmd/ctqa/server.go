package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openmedphys/ctqa/internal/api"
	"github.com/openmedphys/ctqa/internal/cases"
	"github.com/openmedphys/ctqa/internal/config"
	"github.com/openmedphys/ctqa/internal/registration"
	"github.com/openmedphys/ctqa/internal/storage"
	"github.com/openmedphys/ctqa/internal/telemetry"
	"github.com/openmedphys/ctqa/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the processing worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "ctqa version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	devices, err := config.LoadDevices(cfg.Storage.DevicesDir)
	if err != nil {
		return fmt.Errorf("loading device documents: %w", err)
	}
	if len(devices) == 0 {
		printWarning("no device documents found in %s", cfg.Storage.DevicesDir)
	}
	for id := range devices {
		slog.Info("device loaded", "device", id)
	}

	metrics := telemetry.New()
	engine := registration.NewEngine()
	mgr := cases.NewManager(store, devices, cfg.Storage.CasesDir, slog.Default())
	pipe := cases.NewPipeline(devices, engine, engine, metrics)
	wrk := worker.NewWorker(store, pipe, metrics,
		time.Duration(cfg.Worker.PollIntervalMs)*time.Millisecond, slog.Default())

	handler := api.NewHandler(mgr, store, cfg.Server.APIToken, metrics, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("ctqa listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		wrk.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
