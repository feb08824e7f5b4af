package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"bulkgetter/internal/config"
	"bulkgetter/internal/server"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "path to config file (.json or .yaml); defaults apply when empty")
	inputPath := flag.String("input", "", "file with one identifier per line, - for stdin")
	endpointName := flag.String("endpoint", "", "override endpoint: vep, lookup, cds, cdna, genomic")
	outputFormat := flag.String("output", "", "override output format: json or yaml")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *endpointName, *outputFormat)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := setupLogger(cfg.LogLevel)

	ids, err := readIdentifiers(*inputPath, flag.Args(), os.Stdin)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read identifiers")
	}
	if len(ids) == 0 {
		logger.Fatal().Msg("no identifiers given")
	}

	logger.Info().
		Str("config", *configPath).
		Str("endpoint", string(cfg.Endpoint)).
		Str("baseUrl", cfg.BaseURL).
		Int("identifiers", len(ids)).
		Msg("starting ensemblfetch")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	var metricsServer *server.Server
	if cfg.MetricsAddr != "" {
		metricsServer = server.New(cfg.MetricsAddr, reg, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start metrics server")
		}
	}

	records, err := run(ctx, cfg, ids, reg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("fetch failed")
	}
	if records != nil {
		if werr := writeRecords(os.Stdout, cfg.Output, records); werr != nil {
			logger.Error().Err(werr).Msg("failed to write results")
			err = werr
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := metricsServer.Stop(shutdownCtx); serr != nil {
			logger.Error().Err(serr).Msg("error during shutdown")
		}
		cancel()
	}

	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads path, or starts from defaults, then applies flag overrides
func loadConfig(path, endpointName, output string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if endpointName != "" {
		cfg.Endpoint = config.Endpoint(endpointName)
	}
	if output != "" {
		cfg.Output = output
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// setupLogger configures the zerolog logger. Results go to stdout, so logs
// are written to stderr.
func setupLogger(level string) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
