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
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultRateLimitDefault    = 120
	defaultRateLimitCheckout   = 20
	defaultRateLimitWebhook    = 60
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultSecurityIAPIssuer   = "https://cloud.google.com/iap"
	defaultWebhookHeader       = "X-Gateway-Signature"
	defaultGatewayTimeout      = 10 * time.Second
	defaultCarrierTimeout      = 15 * time.Second
	defaultCarrierTokenTTL     = 9 * 24 * time.Hour
	defaultCarrierPickup       = "Primary"
	defaultCurrency            = "INR"
	defaultTaxFallbackBps      = 1800
	defaultLocale              = "en-IN"
	defaultMaxLineQuantity     = 99
	defaultNotificationSink    = NotificationSinkLog
	defaultNotificationTopic   = "order-notifications"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
)

// Notification sinks selectable through API_NOTIFICATIONS_SINK.
const (
	NotificationSinkLog    = "log"
	NotificationSinkPubSub = "pubsub"
	NotificationSinkKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Storage       StorageConfig
	Notifications NotificationConfig
	Gateway       GatewayConfig
	Carrier       CarrierConfig
	Commerce      CommerceConfig
	RateLimits    RateLimitConfig
	Idempotency   IdempotencyConfig
	Security      SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters. An empty ProjectID selects the
// in-memory store.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	LabelsBucket string
}

// NotificationConfig selects where post-commit notifications are queued.
type NotificationConfig struct {
	Sink         string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// GatewayConfig holds payment provider credentials.
type GatewayConfig struct {
	DefaultProvider string
	BaseURL         string
	KeyID           string
	KeySecret       string
	WebhookSecret   string
	WebhookHeader   string
	Timeout         time.Duration
	StripeAPIKey    string
	CurrencyRoutes  map[string]string
}

// CarrierConfig configures the logistics REST client.
type CarrierConfig struct {
	BaseURL        string
	Email          string
	Password       string
	TokenTTL       time.Duration
	PickupLocation string
	ChannelID      string
	Timeout        time.Duration
	AutoPush       bool
}

// CommerceConfig holds storefront defaults.
type CommerceConfig struct {
	Currency        string
	TaxFallbackBps  int64
	StoreName       string
	Locale          string
	MaxLineQuantity int
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute  int
	CheckoutPerMinute int
	WebhookBurst      int
}

// IdempotencyConfig controls replay protection for checkout and payment calls.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for operator routes.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
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
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
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

// MissingSecretsError indicates that one or more required secrets resolved empty.
// Names are redacted in Error so the message is safe to log.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns short hashes of the missing identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
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

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "Gateway.KeySecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles configuration from defaults, the .env file, the process
// environment and explicit overrides, in increasing precedence, then resolves
// secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			LabelsBucket: stringWithDefault(lookup, "API_STORAGE_LABELS_BUCKET", ""),
		},
		Notifications: NotificationConfig{
			Sink:         strings.ToLower(stringWithDefault(lookup, "API_NOTIFICATIONS_SINK", defaultNotificationSink)),
			PubSubTopic:  stringWithDefault(lookup, "API_NOTIFICATIONS_PUBSUB_TOPIC", defaultNotificationTopic),
			KafkaBrokers: csvWithDefault(lookup, "API_NOTIFICATIONS_KAFKA_BROKERS"),
			KafkaTopic:   stringWithDefault(lookup, "API_NOTIFICATIONS_KAFKA_TOPIC", defaultNotificationTopic),
		},
		Gateway: GatewayConfig{
			DefaultProvider: strings.ToLower(stringWithDefault(lookup, "API_GATEWAY_DEFAULT_PROVIDER", "")),
			BaseURL:         stringWithDefault(lookup, "API_GATEWAY_BASE_URL", ""),
			KeyID:           stringWithDefault(lookup, "API_GATEWAY_KEY_ID", ""),
			KeySecret:       stringWithDefault(lookup, "API_GATEWAY_KEY_SECRET", ""),
			WebhookSecret:   stringWithDefault(lookup, "API_GATEWAY_WEBHOOK_SECRET", ""),
			WebhookHeader:   stringWithDefault(lookup, "API_GATEWAY_WEBHOOK_HEADER", defaultWebhookHeader),
			Timeout:         durationWithDefault(lookup, "API_GATEWAY_TIMEOUT", defaultGatewayTimeout),
			StripeAPIKey:    stringWithDefault(lookup, "API_GATEWAY_STRIPE_API_KEY", ""),
			CurrencyRoutes:  mapWithDefault(lookup, "API_GATEWAY_CURRENCY_ROUTES"),
		},
		Carrier: CarrierConfig{
			BaseURL:        stringWithDefault(lookup, "API_CARRIER_BASE_URL", ""),
			Email:          stringWithDefault(lookup, "API_CARRIER_EMAIL", ""),
			Password:       stringWithDefault(lookup, "API_CARRIER_PASSWORD", ""),
			TokenTTL:       durationWithDefault(lookup, "API_CARRIER_TOKEN_TTL", defaultCarrierTokenTTL),
			PickupLocation: stringWithDefault(lookup, "API_CARRIER_PICKUP_LOCATION", defaultCarrierPickup),
			ChannelID:      stringWithDefault(lookup, "API_CARRIER_CHANNEL_ID", ""),
			Timeout:        durationWithDefault(lookup, "API_CARRIER_TIMEOUT", defaultCarrierTimeout),
			AutoPush:       boolWithDefault(lookup, "API_CARRIER_AUTO_PUSH", false),
		},
		Commerce: CommerceConfig{
			Currency:        strings.ToUpper(stringWithDefault(lookup, "API_COMMERCE_CURRENCY", defaultCurrency)),
			TaxFallbackBps:  int64(intWithDefault(lookup, "API_COMMERCE_TAX_FALLBACK_BPS", defaultTaxFallbackBps)),
			StoreName:       stringWithDefault(lookup, "API_COMMERCE_STORE_NAME", ""),
			Locale:          stringWithDefault(lookup, "API_COMMERCE_LOCALE", defaultLocale),
			MaxLineQuantity: intWithDefault(lookup, "API_COMMERCE_MAX_LINE_QUANTITY", defaultMaxLineQuantity),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:  intWithDefault(lookup, "API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			CheckoutPerMinute: intWithDefault(lookup, "API_RATELIMIT_CHECKOUT_PER_MIN", defaultRateLimitCheckout),
			WebhookBurst:      intWithDefault(lookup, "API_RATELIMIT_WEBHOOK_BURST", defaultRateLimitWebhook),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Gateway.KeySecret", &cfg.Gateway.KeySecret},
		{"Gateway.WebhookSecret", &cfg.Gateway.WebhookSecret},
		{"Gateway.StripeAPIKey", &cfg.Gateway.StripeAPIKey},
		{"Carrier.Password", &cfg.Carrier.Password},
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

// UsesFirestore reports whether a Firestore project is configured.
func (c Config) UsesFirestore() bool {
	return strings.TrimSpace(c.Firestore.ProjectID) != ""
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

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if len(cfg.Commerce.Currency) != 3 {
		invalid = append(invalid, "Commerce.Currency")
	}
	if cfg.Commerce.TaxFallbackBps < 0 || cfg.Commerce.TaxFallbackBps > 10000 {
		invalid = append(invalid, "Commerce.TaxFallbackBps")
	}
	if cfg.Commerce.MaxLineQuantity <= 0 {
		invalid = append(invalid, "Commerce.MaxLineQuantity")
	}
	switch cfg.Notifications.Sink {
	case NotificationSinkLog:
	case NotificationSinkPubSub:
		if cfg.Firebase.ProjectID == "" {
			invalid = append(invalid, "Firebase.ProjectID")
		}
		if cfg.Notifications.PubSubTopic == "" {
			invalid = append(invalid, "Notifications.PubSubTopic")
		}
	case NotificationSinkKafka:
		if len(cfg.Notifications.KafkaBrokers) == 0 {
			invalid = append(invalid, "Notifications.KafkaBrokers")
		}
		if cfg.Notifications.KafkaTopic == "" {
			invalid = append(invalid, "Notifications.KafkaTopic")
		}
	default:
		invalid = append(invalid, "Notifications.Sink")
	}
	if cfg.Gateway.BaseURL != "" && (cfg.Gateway.KeyID == "" || cfg.Gateway.KeySecret == "") {
		invalid = append(invalid, "Gateway.KeyID", "Gateway.KeySecret")
	}
	if cfg.Carrier.AutoPush && cfg.Carrier.BaseURL == "" {
		invalid = append(invalid, "Carrier.BaseURL")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
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

// readDotEnv parses the optional .env file. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// mapWithDefault parses "a=x,b=y" into a map with lower-cased keys.
func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !found || name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
