package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antonkrylov/termhost/internal/config"
	"github.com/antonkrylov/termhost/internal/events"
	"github.com/antonkrylov/termhost/internal/helper"
	"github.com/antonkrylov/termhost/internal/remote"
	"github.com/antonkrylov/termhost/internal/terminal"
	"github.com/antonkrylov/termhost/internal/terminal/ptyproc"
)

var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	var listen string
	var metricsListen string
	var runAs string
	var logLevel string
	var verbose bool

	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "termhostd (%s)\n\n", version)
		fmt.Fprintf(out, "Usage:\n  %s [flags]\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.StringVar(&configPath, "config", config.DefaultConfigPath(), "path to the termhost config file")
	flag.StringVar(&listen, "listen", "", "gRPC listen address, host:port or unix:///path (overrides config)")
	flag.StringVar(&metricsListen, "metrics-listen", "", "address for the Prometheus /metrics endpoint; \"off\" disables it")
	flag.StringVar(&runAs, "run-as", "", "run every shell as this user")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")
	flag.BoolVar(&verbose, "verbose", false, "enable verbose debug logging (same as -log-level=debug)")
	flag.Parse()

	cfg, err := config.Resolve(configPath)
	if err != nil {
		log.Fatal(err)
	}
	srvCfg := cfg.Server
	if listen != "" {
		srvCfg.Listen = listen
	}
	if metricsListen != "" {
		srvCfg.MetricsListen = metricsListen
	}
	if runAs != "" {
		srvCfg.RunAs = runAs
	}
	if logLevel != "" {
		srvCfg.LogLevel = logLevel
	}
	if verbose {
		srvCfg.LogLevel = "debug"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(srvCfg.LogLevel)}))

	if err := run(srvCfg, logger); err != nil {
		logger.Error("termhostd failed", "err", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch l := strings.ToLower(strings.TrimSpace(s)); l {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		log.Printf("unknown log level %q (expected debug|info|warn|error); defaulting to info", s)
		return slog.LevelInfo
	}
}

func run(cfg config.Server, logger *slog.Logger) error {
	if cfg.LockFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LockFile), 0o755); err != nil {
			return fmt.Errorf("create lock dir: %w", err)
		}
		fileLock := flock.New(cfg.LockFile)
		locked, err := fileLock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("termhostd already running (lock %s held by another process)", cfg.LockFile)
		}
		defer func() { _ = fileLock.Unlock() }()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := terminal.NewMetrics(promReg)

	var sink events.Sink = events.Nop{}
	if cfg.Events.URL != "" {
		pub, err := events.NewNATS(ctx, events.NATSOptions{
			URL:           cfg.Events.URL,
			User:          cfg.Events.User,
			Password:      cfg.Events.Password,
			SubjectPrefix: cfg.Events.SubjectPrefix,
			Stream:        cfg.Events.Stream,
			Logger:        logger.With("component", "events"),
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		sink = pub
		logger.Info("publishing lifecycle events", "url", cfg.Events.URL, "stream", cfg.Events.Stream)
	}

	spawner := ptyproc.New(logger.With("component", "pty"))
	var userSpawner terminal.Spawner = spawner
	if cfg.Helper.Command != "" {
		userSpawner = &helper.Spawner{
			Command:   cfg.Helper.Command,
			Wrapper:   cfg.Helper.Wrapper,
			SocketDir: cfg.Helper.SocketDir,
			Logger:    logger.With("component", "helper"),
		}
	}

	reg := terminal.NewRegistry(terminal.Options{
		Limits:      cfg.Limits,
		Spawner:     spawner,
		UserSpawner: userSpawner,
		Logger:      logger.With("component", "registry"),
		Metrics:     metrics,
		Events:      sink,
	})

	srv, err := remote.New(remote.Config{
		ListenAddr: cfg.Listen,
		Registry:   reg,
		RunAs:      cfg.RunAs,
		Version:    version,
		Commit:     commit,
		BuildTime:  buildTime,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("termhostd listening", "addr", srv.Addr().String(), "version", version)

	var metricsSrv *http.Server
	if cfg.MetricsListen != "" && cfg.MetricsListen != "off" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "err", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return reg.Close(shutdownCtx)
}
