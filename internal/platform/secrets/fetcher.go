package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vinuvisthara/api/internal/platform/ttlcache"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	metricNamespace     = "github.com/vinuvisthara/api/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Secret Manager. Values are
// cached for a bounded time so rotated gateway and carrier credentials are
// picked up without a restart. When Secret Manager is unreachable or denies
// access, values come from a local dotenv-style file keyed by the upper-cased
// secret name (secret://gateway/key-secret reads GATEWAY_KEY_SECRET).
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger
	cache      *ttlcache.Cache[string]
	cacheTTL   time.Duration

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	fetches metric.Int64Counter
}

type fetcherConfig struct {
	logger       *zap.Logger
	projectID    string
	fallbackPath string
	cacheTTL     time.Duration
	clock        func() time.Time
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithProject sets the project that owns secrets without a ?project= override.
func WithProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.projectID = strings.TrimSpace(projectID) }
}

// WithFallbackFile overrides the local fallback file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithCacheTTL overrides how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) { cfg.cacheTTL = ttl }
}

// WithClock injects the cache clock.
func WithClock(now func() time.Time) Option {
	return func(cfg *fetcherConfig) { cfg.clock = now }
}

// WithMeter injects an OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

// WithSecretManagerClient injects a preconfigured client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions passes options to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created
// leaves the fetcher in fallback-only mode rather than failing.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
		cacheTTL:     defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	fetches, err := meter.Int64Counter("secrets.fetches",
		metric.WithDescription("Secret resolutions by source"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register metric: %w", err)
	}

	var cacheOpts []ttlcache.Option[string]
	if cfg.clock != nil {
		cacheOpts = append(cacheOpts, ttlcache.WithClock[string](cfg.clock))
	}
	f := &Fetcher{
		client:       cfg.client,
		projectID:    cfg.projectID,
		logger:       cfg.logger,
		cache:        ttlcache.New(cacheOpts...),
		cacheTTL:     cfg.cacheTTL,
		fallbackPath: cfg.fallbackPath,
		fetches:      fetches,
	}
	if f.client == nil && f.projectID != "" {
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager unavailable, using local fallback", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret value for ref, e.g. "secret://gateway/key-secret?version=3".
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := parsed.canonical + "#" + parsed.version
	if value, ok := f.cache.Get(key); ok {
		f.count(ctx, "cache")
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = f.projectID
	}
	if f.client != nil && project != "" {
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, parsed.secretID(), parsed.version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		switch {
		case err == nil && resp.GetPayload() != nil:
			value := string(resp.GetPayload().GetData())
			f.cache.Set(key, value, f.cacheTTL)
			f.count(ctx, "remote")
			return value, nil
		case err == nil:
			return "", fmt.Errorf("secrets: empty payload for %s", parsed.canonical)
		case !fallbackEligible(err):
			f.count(ctx, "error")
			return "", fmt.Errorf("secrets: access %s: %w", parsed.canonical, err)
		default:
			f.logger.Debug("secrets: falling back to local file", zap.String("ref", parsed.canonical), zap.Error(err))
		}
	}

	value, ok := f.lookupFallback(parsed)
	if !ok {
		f.count(ctx, "error")
		return "", fmt.Errorf("secrets: %s not found in %s", parsed.canonical, f.fallbackPath)
	}
	f.cache.Set(key, value, f.cacheTTL)
	f.count(ctx, "fallback")
	return value, nil
}

// Invalidate drops every cached version of ref.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	f.cache.Delete(parsed.canonical + "#" + parsed.version)
}

func (f *Fetcher) count(ctx context.Context, source string) {
	if f.fetches != nil {
		f.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
}

func (f *Fetcher) lookupFallback(ref reference) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("secrets: unreadable fallback file", zap.String("path", f.fallbackPath), zap.Error(err))
			}
			return
		}
		f.fallback = values
	})
	value, ok := f.fallback[ref.envKey()]
	return value, ok && value != ""
}

type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

// secretID flattens nested names ("gateway/key-secret") into a valid Secret Manager id.
func (r reference) secretID() string {
	return strings.ReplaceAll(r.name, "/", "-")
}

func (r reference) envKey() string {
	mapped := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z':
			return c - 'a' + 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		default:
			return '_'
		}
	}, r.name)
	return mapped
}

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{
		canonical: "secret://" + name,
		name:      name,
		version:   version,
		project:   strings.TrimSpace(u.Query().Get("project")),
	}, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	default:
		return false
	}
}
