package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/bazaar-market/ledger/internal/di"
	"github.com/bazaar-market/ledger/internal/handlers"
	"github.com/bazaar-market/ledger/internal/notifications"
	"github.com/bazaar-market/ledger/internal/payments"
	"github.com/bazaar-market/ledger/internal/platform/auth"
	"github.com/bazaar-market/ledger/internal/platform/config"
	pfirestore "github.com/bazaar-market/ledger/internal/platform/firestore"
	"github.com/bazaar-market/ledger/internal/platform/idempotency"
	"github.com/bazaar-market/ledger/internal/platform/observability"
	"github.com/bazaar-market/ledger/internal/platform/secrets"
	platformstorage "github.com/bazaar-market/ledger/internal/platform/storage"
	"github.com/bazaar-market/ledger/internal/repositories"
	"github.com/bazaar-market/ledger/internal/services"
)

const (
	shutdownTimeout      = 15 * time.Second
	paymentRateLimit     = 30
	paymentRateWindow    = time.Minute
	idempotencyOpTimeout = time.Minute
	paypalCheck          = "paypal"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets("PayPal.ClientID", "PayPal.ClientSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := services.BuildInfo{
		Version:     envOrDefault("BAZAAR_BUILD_VERSION", "dev"),
		CommitSHA:   envOrDefault("BAZAAR_BUILD_COMMIT_SHA", "unknown"),
		Environment: cfg.Environment,
		StartedAt:   startedAt,
	}
	eventLogger := observability.EventLogger(logger.Named("ledger"))

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	paypal, err := payments.NewPayPalClient(payments.PayPalConfig{
		BaseURL:      cfg.PayPal.PayPalBaseURL(),
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		ReturnURL:    cfg.Frontend.URL + "/payment/success",
		CancelURL:    cfg.Frontend.URL + "/payment/cancel",
		HTTPClient:   &http.Client{Timeout: cfg.PayPal.Timeout},
		Tokens:       payments.NewTokenCache(payments.WithTokenMargin(cfg.PayPal.TokenMargin)),
		Logger:       eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise paypal client", zap.Error(err))
	}

	registry, err := di.NewFirestoreRegistry(firestoreProvider, repositories.DependencyCheck{
		Name:    paypalCheck,
		Timeout: 5 * time.Second,
		Check:   paypal.Ping,
	})
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	renderer := notifications.NewRenderer("en-US", cfg.Frontend.URL)
	notifier, closeNotifier := newNotifier(ctx, logger, cfg, renderer)
	defer closeNotifier()

	receipts, closeReceipts := newReceiptArchive(ctx, logger, cfg)
	defer closeReceipts()

	container, err := di.NewContainer(cfg, registry, di.Collaborators{
		Gateway:  paypal,
		Notifier: notifier,
		Receipts: receipts,
		Logger:   eventLogger,
		Build:    buildInfo,

		OptionalChecks: []string{paypalCheck},
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient, "")
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	startIdempotencyCleanup(cleanupCtx, &cleanupWG, logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, 0)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithFallbackRole(auth.RoleCustomer))

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := observability.NewHTTPMetrics(metricsRegistry)

	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(
		container.Services.Payments,
		handlers.WithPaymentRateLimiter(handlers.NewRateLimiter(paymentRateLimit, paymentRateWindow, nil)),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.InjectLoggerMiddleware(logger),
			httpMetrics.Middleware,
			observability.RequestLoggerMiddleware,
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithAPIMiddlewares(
			authenticator.Authenticate(),
			observability.CaptureUserMiddleware,
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthSystemService(container.Services.System),
		)),
		handlers.WithMetricsHandler(httpMetrics.Handler()),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(func(r chi.Router) {
			paymentHandlers.Routes(r, idempotencyMiddleware)
		}),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.String("paypalMode", cfg.PayPal.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err, ok := <-serverErr:
		if ok && err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(envOrDefault("BAZAAR_SECRET_FALLBACK_FILE", ".secrets.local")),
		secrets.WithMeter(otel.GetMeterProvider().Meter("github.com/bazaar-market/ledger/secrets")),
	}
	project := envOrDefault("BAZAAR_SECRET_DEFAULT_PROJECT_ID", os.Getenv("BAZAAR_FIREBASE_PROJECT_ID"))
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if credentials := strings.TrimSpace(os.Getenv("BAZAAR_FIREBASE_CREDENTIALS_FILE")); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// newNotifier publishes notices to Pub/Sub when a project is configured and logs them otherwise.
func newNotifier(ctx context.Context, logger *zap.Logger, cfg config.Config, renderer *notifications.Renderer) (services.Notifier, func()) {
	logNotifier := notifications.NewLogNotifier(logger.Named("notifications"), renderer)
	project := strings.TrimSpace(cfg.Notifications.ProjectID)
	if project == "" || strings.TrimSpace(cfg.Notifications.Topic) == "" {
		logger.Info("notifications: pubsub not configured, logging notices")
		return logNotifier, func() {}
	}

	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		logger.Warn("notifications: pubsub client init failed, logging notices", zap.Error(err))
		return logNotifier, func() {}
	}
	topic := client.Topic(cfg.Notifications.Topic)
	notifier, err := notifications.NewPubSubNotifier(topic, renderer)
	if err != nil {
		_ = client.Close()
		logger.Warn("notifications: pubsub notifier init failed, logging notices", zap.Error(err))
		return logNotifier, func() {}
	}
	return notifier, func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
}

// newReceiptArchive returns nil when no bucket is configured.
func newReceiptArchive(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.ReceiptArchive, func()) {
	bucket := strings.TrimSpace(cfg.Receipts.Bucket)
	if bucket == "" {
		return nil, func() {}
	}
	client, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Warn("receipts: storage client init failed, archiving disabled", zap.Error(err))
		return nil, func() {}
	}
	archive, err := platformstorage.NewReceiptArchive(client, bucket)
	if err != nil {
		_ = client.Close()
		logger.Warn("receipts: archive init failed, archiving disabled", zap.Error(err))
		return nil, func() {}
	}
	return archive, func() {
		if err := client.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}
}

func startIdempotencyCleanup(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	if cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.CleanupInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, idempotencyOpTimeout)
				removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
				cancel()
				if err != nil {
					logger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func traceProjectID(cfg config.Config) string {
	if project := strings.TrimSpace(cfg.Firestore.ProjectID); project != "" {
		return project
	}
	return strings.TrimSpace(cfg.Firebase.ProjectID)
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
