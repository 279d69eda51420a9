package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func (c *fakeSecretClient) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	base := []Option{WithMeter(noop.NewMeterProvider().Meter("test")), WithFallbackFile("")}
	f, err := NewFetcher(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestResolveCachesRemoteSecretUntilTTL(t *testing.T) {
	client := newFakeSecretClient()
	resource := "projects/vv-prod/secrets/gateway-key-secret/versions/latest"
	client.values[resource] = "s3cret"
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	f := newTestFetcher(t,
		WithSecretManagerClient(client),
		WithProject("vv-prod"),
		WithCacheTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)

	for range 3 {
		got, err := f.Resolve(context.Background(), "sm://gateway/key-secret")
		require.NoError(t, err)
		assert.Equal(t, "s3cret", got)
	}
	assert.Equal(t, 1, client.count(resource))

	now = now.Add(2 * time.Minute)
	client.values[resource] = "rotated"
	got, err := f.ResolveSecret(context.Background(), "secret://gateway/key-secret")
	require.NoError(t, err)
	assert.Equal(t, "rotated", got)
	assert.Equal(t, 2, client.count(resource))
}

func TestResolveHonoursVersionAndProjectOverride(t *testing.T) {
	client := newFakeSecretClient()
	client.values["projects/shared/secrets/carrier-password/versions/4"] = "pinned"

	f := newTestFetcher(t, WithSecretManagerClient(client), WithProject("vv-prod"))
	got, err := f.Resolve(context.Background(), "secret://carrier/password?version=4&project=shared")
	require.NoError(t, err)
	assert.Equal(t, "pinned", got)
}

func TestResolveFallsBackWhenSecretManagerDenies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte("GATEWAY_KEY_SECRET=local-secret\n"), 0o600))

	client := newFakeSecretClient()
	client.errs["projects/vv-dev/secrets/gateway-key-secret/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	f := newTestFetcher(t, WithSecretManagerClient(client), WithProject("vv-dev"), WithFallbackFile(path))
	got, err := f.Resolve(context.Background(), "secret://gateway/key-secret")
	require.NoError(t, err)
	assert.Equal(t, "local-secret", got)
}

func TestResolveSurfacesHardErrors(t *testing.T) {
	client := newFakeSecretClient()
	client.errs["projects/vv-prod/secrets/gateway-key-secret/versions/latest"] = status.Error(codes.InvalidArgument, "bad name")

	f := newTestFetcher(t, WithSecretManagerClient(client), WithProject("vv-prod"))
	_, err := f.Resolve(context.Background(), "secret://gateway/key-secret")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte("CARRIER_PASSWORD=\"hunter2\"\n"), 0o600))

	f := newTestFetcher(t, WithFallbackFile(path))
	got, err := f.Resolve(context.Background(), "secret://carrier/password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	_, err = f.Resolve(context.Background(), "secret://carrier/api-token")
	assert.Error(t, err)
}

func TestParseReferenceRejectsMalformedInput(t *testing.T) {
	for _, ref := range []string{"", "https://example.com/x", "secret://", "secret:///"} {
		_, err := parseReference(ref)
		assert.Error(t, err, ref)
	}
}
