package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R167/docsis_meter/internal/collector"
	"github.com/R167/docsis_meter/internal/config"
	"github.com/R167/docsis_meter/internal/sink"
	"github.com/R167/docsis_meter/internal/tuner"
	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"
)

const programName = "docsis_meter"

var (
	frequencies = kingpin.Flag("frequencies", "Comma-separated downstream frequencies, freq[:64|256], in MHz or kHz.").Envar("FREQUENCIES").Required().String()
	adapter     = kingpin.Flag("adapter", "DVB adapter index.").Default("0").Envar("ADAPTER").Int()
	tunerIndex  = kingpin.Flag("tuner", "Frontend index on the adapter.").Default("0").Envar("TUNER").Int()
	dvbRoot     = kingpin.Flag("dvb-root", "Directory holding the DVB adapter device nodes.").Default("/dev/dvb").String()
	carbonAddr  = kingpin.Flag("carbon", "Carbon plaintext endpoint, host:port.").Default(config.DefaultCarbon).Envar("CARBON").String()
	prefix      = kingpin.Flag("prefix", "Metric path prefix.").Default(config.DefaultPrefix).Envar("PREFIX").String()
	step        = kingpin.Flag("step", "Cycle interval in seconds.").Default("60").Envar("STEP").Int()
	lockTime    = kingpin.Flag("locktime", "Time allowed for the frontend to lock.").Default(config.DefaultLockTime.String()).Envar("LOCKTIME").Duration()
	dwell       = kingpin.Flag("dwell", "Sample window per frequency (0 derives it from the interval).").Default("0s").Envar("DWELL").Duration()
	listenAddr  = kingpin.Flag("web.listen-address", "Address for the Prometheus endpoint (empty disables it).").Default(config.DefaultListen).Envar("LISTEN").String()
	debug       = kingpin.Flag("debug", "Enable debug logging.").Envar("DEBUG").Bool()
	logLevel    = kingpin.Flag("log-level", "Log level (debug, info, warn, error)").Default("info").String()
)

func main() {
	kingpin.Version(version.Print(programName))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	// Setup structured logging
	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if *debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Resolve(config.Raw{
		Frequencies: *frequencies,
		Adapter:     *adapter,
		Tuner:       *tunerIndex,
		Carbon:      *carbonAddr,
		Prefix:      *prefix,
		Step:        time.Duration(*step) * time.Second,
		LockTime:    *lockTime,
		Dwell:       *dwell,
		Listen:      *listenAddr,
		Debug:       *debug,
	})
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	logger.Info("Starting DOCSIS meter", "version", version.Info(), "build", version.BuildContext())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := tuner.NewDVB(*dvbRoot, cfg.LockTime, logger)
	carbon := sink.NewCarbon(cfg.Carbon, 2*time.Second, logger)
	defer carbon.Close()

	scheduler := collector.NewScheduler(cfg, session, sink.NewEmitter(carbon, cfg.Prefix, logger), logger)

	// Fail fast if the tuner is missing or taken
	if err := scheduler.CheckDevice(ctx); err != nil {
		logger.Error("Tuner not available", "adapter", cfg.Adapter, "tuner", cfg.Tuner, "error", err)
		os.Exit(1)
	}

	prometheus.MustRegister(collector.NewMeterCollector(scheduler, logger))
	prometheus.MustRegister(versioncollector.NewCollector(programName))

	var server *http.Server
	if cfg.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{
			Addr:         cfg.Listen,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serveMetrics(server, logger)
	}

	go scheduler.Start(ctx)

	logger.Info("Metering",
		"frequencies", len(cfg.Targets),
		"adapter", cfg.Adapter,
		"tuner", cfg.Tuner,
		"carbon", cfg.Carbon,
		"prefix", cfg.Prefix)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, stopping gracefully...")

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
	}

	// Stop scheduler; this releases the tuner
	cancel()
	scheduler.Stop()

	logger.Info("Meter stopped")
}

// serveMetrics runs server in the background. The metrics endpoint is
// optional: a listener failure is logged and metering carries on. The
// returned channel yields that failure, if any, and is closed when the
// server stops.
func serveMetrics(server *http.Server, logger *slog.Logger) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		logger.Info("Serving Prometheus metrics", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error, metrics endpoint disabled", "address", server.Addr, "error", err)
			errCh <- err
		}
	}()
	return errCh
}
