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
	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/naturevibes/api/internal/di"
	"github.com/naturevibes/api/internal/handlers"
	"github.com/naturevibes/api/internal/payments"
	"github.com/naturevibes/api/internal/platform/auth"
	"github.com/naturevibes/api/internal/platform/config"
	pfirestore "github.com/naturevibes/api/internal/platform/firestore"
	"github.com/naturevibes/api/internal/platform/idempotency"
	"github.com/naturevibes/api/internal/platform/jobs"
	"github.com/naturevibes/api/internal/platform/observability"
	"github.com/naturevibes/api/internal/platform/secrets"
	"github.com/naturevibes/api/internal/repositories"
	firestoreRepo "github.com/naturevibes/api/internal/repositories/firestore"
	mongoRepo "github.com/naturevibes/api/internal/repositories/mongo"
	"github.com/naturevibes/api/internal/services"
)

const idempotencyCollection = "idempotencyKeys"

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
	stripe.DefaultLeveledLogger = observability.NewPrintfAdapter(logger.Named("stripe"))

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
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
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	registry, idempotencyStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise order store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}

	authenticator, err := newAuthenticator(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.String("mode", cfg.Auth.Mode), zap.Error(err))
	}

	events, stopEvents, err := newOrderEventPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer stopEvents()
	if events == nil {
		logger.Info("order events disabled; no pubsub topic configured")
	}

	gateway := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Currency:      cfg.PSP.Currency,
		Logger:        payments.Logger(observability.ServiceLogger(logger.Named("payments"))),
	})
	// A nil gateway makes the checkout route fail before any order is written.
	var checkoutGateway payments.Gateway
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		checkoutGateway = gateway
	} else {
		logger.Warn("stripe api key not configured; checkout sessions disabled")
	}

	healthRepo, err := newHealthRepository(registry, fetcher)
	if err != nil {
		logger.Warn("health: dependency checks init failed", zap.Error(err))
	}

	container, err := di.NewContainer(cfg, registry, di.Dependencies{
		Gateway: checkoutGateway,
		Events:  events,
		Health:  healthRepo,
		Build:   buildInfo,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("order store close error", zap.Error(err))
		}
	}()
	svc := container.Services

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			runIdempotencyCleanup(cleanupCtx, logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
		}()
	}

	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Reporting,
		handlers.WithIdempotency(idempotencyMiddleware),
		handlers.WithPlacementRateLimit(cfg.Orders.PlacementLimit, cfg.Orders.PlacementWindow),
	)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(gateway, svc.Reconciliation)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
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

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Driver))
	go func() {
		serverLogger.Info("nature vibes order api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// openStore connects the configured database of record and the idempotency key store living
// next to it.
func openStore(ctx context.Context, cfg config.Config) (repositories.Registry, idempotency.Store, error) {
	if cfg.Store.Driver == config.StoreDriverMongo {
		return openMongoStore(ctx, cfg.Mongo)
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := provider.Client(ctx); err != nil {
		return nil, nil, err
	}
	registry, err := firestoreRepo.NewRegistry(provider)
	if err != nil {
		_ = provider.Close()
		return nil, nil, err
	}
	return registry, idempotency.NewFirestoreStore(provider, idempotencyCollection), nil
}

func openMongoStore(ctx context.Context, cfg config.MongoConfig) (repositories.Registry, idempotency.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout+5*time.Second)
	defer cancel()
	store, err := mongoRepo.Connect(connectCtx, cfg)
	if err != nil {
		return nil, nil, err
	}
	keys := idempotency.NewMongoStore(store.Database(), idempotencyCollection)
	for _, ensure := range []func(context.Context) error{store.EnsureIndexes, keys.EnsureIndexes} {
		if err := ensure(connectCtx); err != nil {
			_ = store.Close(context.Background())
			return nil, nil, err
		}
	}
	registry, err := mongoRepo.NewRegistry(store)
	if err != nil {
		_ = store.Close(context.Background())
		return nil, nil, err
	}
	return registry, keys, nil
}

func newAuthenticator(ctx context.Context, cfg config.Config) (*auth.Authenticator, error) {
	var verifier auth.TokenVerifier
	switch cfg.Auth.Mode {
	case config.AuthModeFirebase:
		fb, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, cfg.Auth.AdminEmail)
		if err != nil {
			return nil, err
		}
		verifier = fb
	default:
		jwtVerifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.AdminEmail)
		if err != nil {
			return nil, err
		}
		verifier = jwtVerifier
	}
	return auth.NewAuthenticator(verifier), nil
}

// newOrderEventPublisher returns a nil publisher when no topic is configured.
func newOrderEventPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, func(), error) {
	topicName := strings.TrimSpace(cfg.Events.OrderTopic)
	if topicName == "" {
		return nil, func() {}, nil
	}
	var opts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	stop := func() {
		topic.Stop()
		_ = client.Close()
	}
	return publisher, stop, nil
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.Purge(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
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
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Environment)
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

func newHealthRepository(registry repositories.Registry, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if registry != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "orderStore",
			Timeout: 1500 * time.Millisecond,
			Check:   registry.Ping,
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				err := fetcher.Ping(ctx, secretHealthReference)
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve before the server starts. The
// webhook secret is only required once Stripe is configured at all.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if !strings.EqualFold(strings.TrimSpace(env["API_AUTH_MODE"]), config.AuthModeFirebase) {
		required = append(required, "Auth.JWTSecret")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_STORE_DRIVER"]), config.StoreDriverMongo) {
		required = append(required, "Mongo.URI")
	}
	if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
	}
	return required
}
