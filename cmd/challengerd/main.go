package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"covchain/chainfeed"
	"covchain/config"
	"covchain/core/events"
	"covchain/crypto"
	"covchain/ledger"
	"covchain/observability/logging"
	"covchain/observability/metrics"
	telemetry "covchain/observability/otel"
	"covchain/poc/api"
	"covchain/poc/keycache"
	"covchain/poc/manager"
	"covchain/poc/onion"
	"covchain/poc/path"
	"covchain/poc/store"
	"covchain/poc/txsubmit"
	"covchain/storage"
)

// pathHopCount is the number of additional hops appended after the target
// gateway in every derived challenge path.
const pathHopCount = 3

func main() {
	configFile := flag.String("config", "./challengerd.toml", "Path to the daemon's configuration file")
	logFile := flag.String("log-file", "", "Optional path to also write rotated JSON logs to")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CHALLENGERD_ENV"))
	logger := logging.Setup("challengerd", env, logging.FileTarget{
		Path:       *logFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Compress:   true,
	})

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	otlpInsecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			otlpInsecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "challengerd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    otlpInsecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	signer, err := loadSignerKey(cfg.KeystorePath)
	if err != nil {
		logger.Error("failed to load signer key", slog.Any("error", err))
		os.Exit(1)
	}

	l := ledger.New(db)
	st := store.New(db)
	kc := keycache.New()

	// The real chain node adapter is out of scope here; FakePublisher is
	// the in-process Source the Manager bootstraps against until one is
	// wired in (spec.md §6, external collaborator "chain node").
	feed := chainfeed.NewFakePublisher()

	mgr := manager.New(manager.Config{
		KeyCache:     kc,
		Store:        st,
		Ledger:       l,
		Feed:         feed,
		PathBuilder:  path.NewWeightedBuilder(pathHopCount),
		OnionBuilder: onion.NewChaCha20Builder(),
		Submitter:    txsubmit.NewQueueSubmitter(),
		Signer:       signer,
		Emitter:      events.NoopEmitter{},
		Logger:       logger,
		Metrics:      metrics.Registry(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go mgr.Run(ctx)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.ListenAddress, Handler: metricsMux}
	go func() {
		logger.Info("metrics listening", slog.String("address", cfg.ListenAddress))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", slog.Any("error", err))
		}
	}()

	apiServer := &http.Server{Addr: cfg.APIAddress, Handler: api.New(mgr)}
	go func() {
		logger.Info("api listening", slog.String("address", cfg.APIAddress))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server exited", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	_ = metricsServer.Shutdown(context.Background())
	_ = apiServer.Shutdown(context.Background())
}

func openDatabase(dataDir string) (storage.Database, error) {
	if dataDir == "" || dataDir == "memory" {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(dataDir)
}

// loadSignerKey reads the challenger's secp256k1 private key from a
// hex-encoded file at path, generating and persisting one on first run so
// the daemon is runnable without a separate key-provisioning step.
func loadSignerKey(path string) (crypto.KeyPair, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		kp, genErr := crypto.Generate()
		if genErr != nil {
			return crypto.KeyPair{}, fmt.Errorf("generate signer key: %w", genErr)
		}
		encoded := hex.EncodeToString(kp.PrivateBytes())
		if writeErr := os.WriteFile(path, []byte(encoded), 0o600); writeErr != nil {
			return crypto.KeyPair{}, fmt.Errorf("persist signer key: %w", writeErr)
		}
		return kp, nil
	}
	if err != nil {
		return crypto.KeyPair{}, fmt.Errorf("read signer key: %w", err)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return crypto.KeyPair{}, fmt.Errorf("decode signer key: %w", err)
	}
	return crypto.ParsePrivate(decoded)
}
