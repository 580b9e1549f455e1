package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	lmchat "github.com/dndchat/lmchat"
	"github.com/dndchat/lmchat/internal/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("error getting user config dir: %w", err)
	}
	dataDir := filepath.Join(cfgDir, "lmchat")

	cfgFilePath := flag.String("config", filepath.Join(dataDir, "config.yaml"), "path to the config file")
	flag.Parse()

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	cfg := defaultConfig()
	cfgFile, err := os.Open(*cfgFilePath)
	switch {
	case err == nil:
		cfg, err = loadConfig(cfgFile)
		cfgFile.Close()
		if err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("error opening config file: %w", err)
	}
	cfg = cfg.withDefaults(dataDir)

	logger, err := cfg.logger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	llm, err := cfg.LLM.llm(logger)
	if err != nil {
		return err
	}

	db, err := cfg.Store.open()
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := handlers.NewMain(llm, db, logger, cfg.handlersConfig())
	if err != nil {
		return err
	}
	if err := m.SeedPersonas(context.Background()); err != nil {
		return err
	}

	// Serve static files
	staticFS, err := fs.Sub(lmchat.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := m.Routes()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Requests inherit baseCtx, so shutting down also ends replies that are still streaming.
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.Instrument(mux, logger, "/metrics", "/static/"),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("addr", cfg.Addr), slog.String("store", cfg.Store.Path))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cancelRequests()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
	return nil
}
