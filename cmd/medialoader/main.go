// Command medialoader serves one encrypted media resource over HTTP, decrypting
// byte ranges on the fly for players that seek.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/media-resource-loader/internal/api"
	"github.com/kenneth/media-resource-loader/internal/audit"
	"github.com/kenneth/media-resource-loader/internal/config"
	"github.com/kenneth/media-resource-loader/internal/crypto"
	"github.com/kenneth/media-resource-loader/internal/debug"
	"github.com/kenneth/media-resource-loader/internal/loader"
	"github.com/kenneth/media-resource-loader/internal/metrics"
	"github.com/kenneth/media-resource-loader/internal/s3"
	"github.com/kenneth/media-resource-loader/internal/source"
	"github.com/kenneth/media-resource-loader/internal/tracing"
)

var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "Path to the YAML config file")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		logrus.WithError(err).Fatal("medialoader failed")
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.LogFormat, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	applyLogLevel(logger, cfg.LogLevel)
	return logger
}

func applyLogLevel(logger *logrus.Logger, level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("log_level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	debug.InitFromLogLevel(level)
}

func openSource(ctx context.Context, cfg *config.Config) (source.ByteReader, error) {
	switch strings.ToLower(cfg.Source.Type) {
	case "s3":
		client, err := s3.NewClient(ctx, &cfg.Source.Backend)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		return source.OpenS3(ctx, client, cfg.Source.Backend.Bucket, cfg.Source.Backend.Key), nil
	default:
		return source.OpenFile(cfg.Source.Path), nil
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg)
	metrics.SetVersion(version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hwInfo := crypto.GetHardwareAccelerationInfo(&cfg.Hardware)
	logger.WithFields(logrus.Fields(hwInfo)).Info("Hardware acceleration")
	if cfg.Encryption.Algorithm == crypto.AlgorithmAESCTR && !crypto.IsHardwareAccelerationEnabled(cfg.Hardware) {
		logger.Warn("AES selected without hardware acceleration; chacha20 would be faster for newly encrypted media")
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, "medialoader", version)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics()
	}

	opts := []loader.Option{loader.WithLogger(logger), loader.WithMetrics(m)}
	if cfg.Audit.Enabled {
		auditLogger, err := audit.NewLoggerFromConfig(cfg.Audit, logger)
		if err != nil {
			return fmt.Errorf("failed to create audit logger: %w", err)
		}
		defer auditLogger.Close()
		opts = append(opts, loader.WithAudit(auditLogger))
	}

	src, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	if err := src.Err(); err != nil {
		// Requests are answered with an explicit error rather than refusing
		// to start.
		logger.WithError(err).Warn("Media source unavailable")
	}

	controller, err := loader.NewFromConfig(cfg, src, opts...)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to create loader: %w", err)
	}
	defer controller.Close()

	if configPath != "" {
		err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
			applyLogLevel(logger, next.LogLevel)
		})
		if err != nil {
			logger.WithError(err).Warn("Config hot reload disabled")
		}
	}

	handler := api.NewHandler(controller, logger, m, api.WithWriteTimeout(cfg.Loader.WriteTimeout))
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":     cfg.ListenAddr,
			"resource": src.Name(),
			"size":     src.Size(),
			"version":  version,
		}).Info("Media loader listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Closing the controller first finishes the live stream so Shutdown does
	// not wait on it.
	controller.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	controller.Wait()
	return nil
}
