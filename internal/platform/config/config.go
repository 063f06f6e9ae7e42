package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultStoreDriver          = StoreDriverFirestore
	defaultMongoDatabase        = "naturevibes"
	defaultMongoConnectTimeout  = 10 * time.Second
	defaultAuthMode             = AuthModeJWT
	defaultCurrency             = "inr"
	defaultAmountTolerance      = 1.0
	defaultSummaryRecent        = 6
	defaultPlacementLimit       = 10
	defaultPlacementWindow      = time.Minute
	defaultEnvironment          = "local"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

const (
	StoreDriverFirestore = "firestore"
	StoreDriverMongo     = "mongo"

	AuthModeJWT      = "jwt"
	AuthModeFirebase = "firebase"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Store       StoreConfig
	Firestore   FirestoreConfig
	Mongo       MongoConfig
	Auth        AuthConfig
	Firebase    FirebaseConfig
	PSP         PSPConfig
	Frontend    FrontendConfig
	Orders      OrderConfig
	Events      EventConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig selects the database of record.
type StoreConfig struct {
	Driver string
}

// FirestoreConfig stores Firestore connection parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// MongoConfig stores MongoDB connection parameters.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// AuthConfig selects how bearer credentials are verified.
type AuthConfig struct {
	Mode       string
	JWTSecret  string
	AdminEmail string
}

// FirebaseConfig stores Firebase project settings used when Auth.Mode is firebase.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// PSPConfig collects payment provider credentials.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	Currency            string
}

// FrontendConfig holds the storefront origin used in checkout redirects.
type FrontendConfig struct {
	URL string
}

// OrderConfig tunes order validation and reporting.
type OrderConfig struct {
	AmountTolerance float64
	SummaryRecent   int
	// PlacementLimit caps order-creating requests per caller within PlacementWindow. Zero disables it.
	PlacementLimit  int
	PlacementWindow time.Duration
}

// EventConfig points the order event publisher at a Pub/Sub topic. Empty disables publishing.
type EventConfig struct {
	ProjectID  string
	OrderTopic string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the .env file path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that win over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (e.g. "PSP.StripeWebhookSecret") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged key/value map using Load's precedence
// (dotenv < OS env < explicit map) so callers can build dependencies before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)

	values, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles configuration from defaults, .env, the environment, and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	get := lookupFunc(func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	})

	cfg := Config{
		Environment: strings.ToLower(get.str("API_SECURITY_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:         get.str("API_SERVER_PORT", get.str("PORT", defaultPort)),
			ReadTimeout:  get.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: get.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  get.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(get.str("API_STORE_DRIVER", defaultStoreDriver)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    get.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: get.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Mongo: MongoConfig{
			URI:            get.str("API_MONGO_URI", ""),
			Database:       get.str("API_MONGO_DATABASE", defaultMongoDatabase),
			ConnectTimeout: get.duration("API_MONGO_CONNECT_TIMEOUT", defaultMongoConnectTimeout),
		},
		Auth: AuthConfig{
			Mode:       strings.ToLower(get.str("API_AUTH_MODE", defaultAuthMode)),
			JWTSecret:  get.str("API_AUTH_JWT_SECRET", ""),
			AdminEmail: strings.ToLower(get.str("API_AUTH_ADMIN_EMAIL", "")),
		},
		Firebase: FirebaseConfig{
			ProjectID:       get.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: get.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:        get.str("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: get.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			Currency:            strings.ToLower(get.str("API_PSP_CURRENCY", defaultCurrency)),
		},
		Frontend: FrontendConfig{
			URL: strings.TrimRight(get.str("API_FRONTEND_URL", ""), "/"),
		},
		Orders: OrderConfig{
			AmountTolerance: get.float("API_ORDER_AMOUNT_TOLERANCE", defaultAmountTolerance),
			SummaryRecent:   get.integer("API_ORDER_SUMMARY_RECENT", defaultSummaryRecent),
			PlacementLimit:  get.integer("API_ORDER_PLACEMENT_LIMIT", defaultPlacementLimit),
			PlacementWindow: get.duration("API_ORDER_PLACEMENT_WINDOW", defaultPlacementWindow),
		},
		Events: EventConfig{
			ProjectID:  get.str("API_PUBSUB_PROJECT_ID", ""),
			OrderTopic: get.str("API_PUBSUB_ORDER_TOPIC", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:           get.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              get.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  get.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: get.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Auth.JWTSecret", &cfg.Auth.JWTSecret},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Mongo.URI", &cfg.Mongo.URI},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if strings.TrimSpace(cfg.Server.Port) == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case StoreDriverMongo:
		if cfg.Mongo.URI == "" {
			invalid = append(invalid, "Mongo.URI")
		}
		if cfg.Mongo.Database == "" {
			invalid = append(invalid, "Mongo.Database")
		}
	default:
		invalid = append(invalid, "Store.Driver")
	}
	switch cfg.Auth.Mode {
	case AuthModeJWT:
		if cfg.Auth.JWTSecret == "" {
			invalid = append(invalid, "Auth.JWTSecret")
		}
	case AuthModeFirebase:
		if cfg.Firebase.ProjectID == "" {
			invalid = append(invalid, "Firebase.ProjectID")
		}
	default:
		invalid = append(invalid, "Auth.Mode")
	}
	if cfg.Orders.AmountTolerance < 0 {
		invalid = append(invalid, "Orders.AmountTolerance")
	}
	if cfg.Orders.SummaryRecent <= 0 {
		invalid = append(invalid, "Orders.SummaryRecent")
	}
	if cfg.Orders.PlacementLimit < 0 {
		invalid = append(invalid, "Orders.PlacementLimit")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		invalid = append(invalid, "Idempotency.CleanupBatchSize")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

type lookupFunc func(key string) (string, bool)

func (l lookupFunc) str(key, fallback string) string {
	if value, ok := l(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (l lookupFunc) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(l.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (l lookupFunc) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(l.str(key, "")); err == nil {
		return n
	}
	return fallback
}

func (l lookupFunc) float(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(l.str(key, ""), 64); err == nil {
		return f
	}
	return fallback
}
