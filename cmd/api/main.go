package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/vinuvisthara/api/internal/carrier"
	"github.com/vinuvisthara/api/internal/di"
	"github.com/vinuvisthara/api/internal/handlers"
	"github.com/vinuvisthara/api/internal/payments"
	"github.com/vinuvisthara/api/internal/platform/auth"
	"github.com/vinuvisthara/api/internal/platform/config"
	pfirestore "github.com/vinuvisthara/api/internal/platform/firestore"
	"github.com/vinuvisthara/api/internal/platform/idempotency"
	"github.com/vinuvisthara/api/internal/platform/jobs"
	"github.com/vinuvisthara/api/internal/platform/observability"
	"github.com/vinuvisthara/api/internal/platform/secrets"
	platformstorage "github.com/vinuvisthara/api/internal/platform/storage"
	"github.com/vinuvisthara/api/internal/platform/ttlcache"
	"github.com/vinuvisthara/api/internal/repositories"
	firestoreRepo "github.com/vinuvisthara/api/internal/repositories/firestore"
	"github.com/vinuvisthara/api/internal/repositories/memory"
	"github.com/vinuvisthara/api/internal/services"
)

const (
	meterName             = "github.com/vinuvisthara/api"
	firebaseVerifyTimeout = 5 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
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
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)
	meter := otel.GetMeterProvider().Meter(meterName)

	var (
		registry          repositories.Registry
		firestoreProvider *pfirestore.Provider
		idempotencyStore  idempotency.Store
	)
	if cfg.UsesFirestore() {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore, firestoreOptions(cfg)...)
		defer func() {
			if err := firestoreProvider.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
		store, err := firestoreRepo.NewStore(firestoreProvider)
		if err != nil {
			logger.Fatal("failed to initialise firestore repositories", zap.Error(err))
		}
		registry = store
		keys, err := idempotency.NewFirestoreStore(firestoreProvider)
		if err != nil {
			logger.Fatal("failed to initialise idempotency store", zap.Error(err))
		}
		idempotencyStore = keys
	} else {
		logger.Warn("firestore project not configured; using in-memory repositories")
		registry = memory.NewStore()
		idempotencyStore = idempotency.NewMemoryStore()
	}

	carrierClient := carrier.New(carrier.Config{
		BaseURL:        cfg.Carrier.BaseURL,
		Email:          cfg.Carrier.Email,
		Password:       cfg.Carrier.Password,
		TokenTTL:       cfg.Carrier.TokenTTL,
		PickupLocation: cfg.Carrier.PickupLocation,
		ChannelID:      cfg.Carrier.ChannelID,
		Timeout:        cfg.Carrier.Timeout,
		Cache:          ttlcache.New[string](),
		Logger:         observability.ServiceLogger(logger.Named("carrier")),
	})
	if !carrierClient.Configured() {
		logger.Warn("carrier credentials not configured; shipment actions disabled")
	}

	var gateway services.PaymentGateway
	if manager, err := newPaymentManager(cfg, logger.Named("payments")); err != nil {
		logger.Fatal("failed to initialise payment providers", zap.Error(err))
	} else if manager != nil {
		gateway = manager
	}

	var labels services.LabelArchive
	if bucket := strings.TrimSpace(cfg.Storage.LabelsBucket); bucket != "" {
		storageClient, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		archive, err := platformstorage.NewLabelArchive(storageClient, bucket, platformstorage.WithLogger(logger.Named("labels")))
		if err != nil {
			logger.Fatal("failed to initialise label archive", zap.Error(err))
		}
		labels = archive
	}

	publisher, closePublisher, err := newNotificationPublisher(ctx, cfg, logger.Named("notifications"))
	if err != nil {
		logger.Fatal("failed to initialise notification publisher", zap.Error(err))
	}
	defer closePublisher()

	metrics, err := observability.NewCommerceMetrics(meter)
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	health, err := newHealthRepository(firestoreProvider, carrierClient)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, di.Dependencies{
		Registry:  registry,
		Carrier:   carrierClient,
		Gateway:   gateway,
		Labels:    labels,
		Publisher: publisher,
		Metrics:   metrics,
		Health:    health,
		Build:     buildInfo,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	svc := container.Services

	authenticator := auth.NewAuthenticator(newTokenVerifier(ctx, cfg, logger.Named("auth")))
	operatorGuard := buildOperatorGuard(cfg, logger.Named("auth"))
	webhookGuard := buildWebhookGuard(cfg, logger.Named("webhooks"))

	replay := idempotency.Middleware(idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	orderOpts := []handlers.OrderHandlersOption{
		handlers.WithCheckoutRateLimit(cfg.RateLimits.CheckoutPerMinute),
		handlers.WithOrderIdempotency(replay),
	}
	if svc.Payments != nil {
		orderOpts = append(orderOpts, handlers.WithOrderPayments(svc.Payments))
	}

	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, orderOpts...)
	fulfillmentHandlers := handlers.NewFulfillmentHandlers(operatorGuard, svc.Fulfillment, svc.Orders, svc.Payments)
	webhookHandlers := handlers.NewWebhookHandlers(webhookGuard, svc.Payments)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
			observability.PrincipalLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(fulfillmentHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("order api listening",
			zap.String("version", buildInfo.Version),
			zap.String("environment", buildInfo.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	project := strings.TrimSpace(os.Getenv("API_SECRET_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("API_FIREBASE_PROJECT_ID"))
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	if path := strings.TrimSpace(os.Getenv("API_SECRET_FALLBACK_FILE")); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentials := strings.TrimSpace(os.Getenv("API_FIREBASE_CREDENTIALS_FILE")); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve for the integrations
// switched on in the environment.
func requiredSecretNames() []string {
	var required []string
	if strings.TrimSpace(os.Getenv("API_GATEWAY_BASE_URL")) != "" {
		required = append(required, "Gateway.KeySecret", "Gateway.WebhookSecret")
	}
	if strings.TrimSpace(os.Getenv("API_CARRIER_BASE_URL")) != "" {
		required = append(required, "Carrier.Password")
	}
	return required
}

func firestoreOptions(cfg config.Config) []pfirestore.ProviderOption {
	var opts []pfirestore.ProviderOption
	if credentials := strings.TrimSpace(cfg.Firebase.CredentialsFile); credentials != "" {
		opts = append(opts, pfirestore.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return opts
}

// newPaymentManager registers every provider with credentials. It returns nil
// when none are configured.
func newPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider)
	if strings.TrimSpace(cfg.Gateway.BaseURL) != "" {
		gateway, err := payments.NewHMACGateway(payments.HMACGatewayConfig{
			BaseURL:   cfg.Gateway.BaseURL,
			KeyID:     cfg.Gateway.KeyID,
			KeySecret: cfg.Gateway.KeySecret,
			Timeout:   cfg.Gateway.Timeout,
			Logger:    payments.HMACGatewayLogger(observability.ServiceLogger(logger.Named("gateway"))),
		})
		if err != nil {
			return nil, fmt.Errorf("hmac gateway: %w", err)
		}
		providers[payments.ProviderHMACGateway] = gateway
	}
	if strings.TrimSpace(cfg.Gateway.StripeAPIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Gateway.StripeAPIKey,
			Logger: payments.StripeLogger(observability.ServiceLogger(logger.Named("stripe"))),
		})
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		providers[payments.ProviderStripe] = stripeProvider
	}
	if len(providers) == 0 {
		return nil, nil
	}

	var opts []payments.ManagerOption
	if def := strings.TrimSpace(cfg.Gateway.DefaultProvider); def != "" {
		opts = append(opts, payments.WithDefaultProvider(def))
	} else if _, ok := providers[payments.ProviderHMACGateway]; !ok {
		opts = append(opts, payments.WithDefaultProvider(payments.ProviderStripe))
	}
	if len(cfg.Gateway.CurrencyRoutes) > 0 {
		opts = append(opts, payments.WithCurrencyRoutes(cfg.Gateway.CurrencyRoutes))
	}
	return payments.NewManager(providers, opts...)
}

// newNotificationPublisher returns the configured sink and a function that
// flushes it on shutdown.
func newNotificationPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.NotificationPublisher, func(), error) {
	switch cfg.Notifications.Sink {
	case config.NotificationSinkPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Notifications.PubSubTopic)
		topic.EnableMessageOrdering = true
		publisher, err := jobs.NewPubSubNotificationPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return publisher, func() {
			publisher.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}, nil
	case config.NotificationSinkKafka:
		publisher, err := jobs.NewKafkaNotificationPublisher(cfg.Notifications.KafkaBrokers, cfg.Notifications.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		return publisher, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka writer close error", zap.Error(err))
			}
		}, nil
	default:
		return jobs.NewLogNotificationPublisher(logger), func() {}, nil
	}
}

func newHealthRepository(provider *pfirestore.Provider, carrierClient *carrier.Client) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{{
		Name:    "carrier",
		Timeout: 100 * time.Millisecond,
		Check: func(context.Context) error {
			if !carrierClient.Configured() {
				return services.ErrCarrierNotConfigured
			}
			return nil
		},
	}}
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check:    provider.Ping,
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

// newTokenVerifier returns nil without a Firebase project, which leaves guest
// access working and rejects bearer tokens.
func newTokenVerifier(ctx context.Context, cfg config.Config, logger *zap.Logger) auth.TokenVerifier {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		logger.Warn("firebase project not configured; customer sign-in disabled")
		return nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseVerifyTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	return verifier
}

func buildOperatorGuard(cfg config.Config, logger *zap.Logger) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; admin routes will reject requests")
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, []string{audience}, cfg.Security.OIDC.Issuers, logger)
	return validator.RequireOperator()
}

func buildWebhookGuard(cfg config.Config, logger *zap.Logger) func(http.Handler) http.Handler {
	secret := cfg.Gateway.WebhookSecret
	source := func(context.Context) (string, error) {
		if strings.TrimSpace(secret) == "" {
			return "", errors.New("webhook secret not configured")
		}
		return secret, nil
	}
	verifier := auth.NewWebhookVerifier(source, payments.VerifyWebhookSignature,
		auth.WithSignatureHeader(cfg.Gateway.WebhookHeader),
		auth.WithWebhookLogger(logger),
	)
	return verifier.RequireSignature()
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
