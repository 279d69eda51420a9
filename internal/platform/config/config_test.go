package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, defaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "INR", cfg.Commerce.Currency)
	assert.Equal(t, int64(1800), cfg.Commerce.TaxFallbackBps)
	assert.Equal(t, 99, cfg.Commerce.MaxLineQuantity)
	assert.Equal(t, NotificationSinkLog, cfg.Notifications.Sink)
	assert.Equal(t, defaultCarrierTokenTTL, cfg.Carrier.TokenTTL)
	assert.False(t, cfg.Carrier.AutoPush)
	assert.Equal(t, defaultWebhookHeader, cfg.Gateway.WebhookHeader)
	assert.Equal(t, "Idempotency-Key", cfg.Idempotency.Header)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Len(t, cfg.Security.OIDC.Issuers, 2)
	assert.False(t, cfg.UsesFirestore())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"API_SERVER_PORT":                 "9090",
		"API_SERVER_READ_TIMEOUT":         "20s",
		"API_FIREBASE_PROJECT_ID":         "vv-prod",
		"API_NOTIFICATIONS_SINK":          "Kafka",
		"API_NOTIFICATIONS_KAFKA_BROKERS": "kafka-1:9092, kafka-2:9092",
		"API_GATEWAY_BASE_URL":            "https://api.gateway.example",
		"API_GATEWAY_KEY_ID":              "key_live",
		"API_GATEWAY_KEY_SECRET":          "plain-secret",
		"API_GATEWAY_CURRENCY_ROUTES":     "USD=stripe, INR=gateway",
		"API_CARRIER_BASE_URL":            "https://carrier.example",
		"API_CARRIER_AUTO_PUSH":           "yes",
		"API_COMMERCE_CURRENCY":           "inr",
		"API_COMMERCE_TAX_FALLBACK_BPS":   "1200",
		"API_IDEMPOTENCY_TTL":             "6h",
		"API_SECURITY_ENVIRONMENT":        "PROD",
		"API_SECURITY_OIDC_AUDIENCES":     "prod=https://api.example.com,stg=https://stg.example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "vv-prod", cfg.Firestore.ProjectID, "firestore project defaults to the firebase project")
	assert.True(t, cfg.UsesFirestore())
	assert.Equal(t, NotificationSinkKafka, cfg.Notifications.Sink)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Notifications.KafkaBrokers)
	assert.Equal(t, map[string]string{"usd": "stripe", "inr": "gateway"}, cfg.Gateway.CurrencyRoutes)
	assert.True(t, cfg.Carrier.AutoPush)
	assert.Equal(t, "INR", cfg.Commerce.Currency)
	assert.Equal(t, int64(1200), cfg.Commerce.TaxFallbackBps)
	assert.Equal(t, 6*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, "https://api.example.com", cfg.Security.OIDC.Audience)
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved:" + ref, nil
	})
	cfg, err := load(t, map[string]string{
		"API_GATEWAY_BASE_URL":   "https://api.gateway.example",
		"API_GATEWAY_KEY_ID":     "key_live",
		"API_GATEWAY_KEY_SECRET": "sm://gateway/key-secret",
		"API_CARRIER_PASSWORD":   "secret://carrier/password",
	}, WithSecretResolver(resolver))
	require.NoError(t, err)

	assert.Equal(t, "resolved:secret://gateway/key-secret", cfg.Gateway.KeySecret)
	assert.Equal(t, "resolved:secret://carrier/password", cfg.Carrier.Password)
	assert.ElementsMatch(t, []string{"secret://gateway/key-secret", "secret://carrier/password"}, refs)
}

func TestLoadSecretReferenceWithoutResolver(t *testing.T) {
	_, err := load(t, map[string]string{"API_CARRIER_PASSWORD": "sm://carrier/password"})
	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, "secret://carrier/password", secretErr.Ref)
	assert.True(t, errors.Is(err, errSecretResolverNotConfigured))
}

func TestLoadRequiredSecrets(t *testing.T) {
	_, err := load(t, map[string]string{}, WithRequiredSecrets("Gateway.WebhookSecret", "Gateway.WebhookSecret"))
	var missing *MissingSecretsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"Gateway.WebhookSecret"}, missing.Names())
	assert.NotContains(t, missing.Error(), "WebhookSecret")
}

func TestLoadValidation(t *testing.T) {
	_, err := load(t, map[string]string{
		"API_NOTIFICATIONS_SINK":        "pubsub",
		"API_COMMERCE_CURRENCY":         "RUPEE",
		"API_COMMERCE_TAX_FALLBACK_BPS": "-5",
		"API_GATEWAY_BASE_URL":          "https://api.gateway.example",
		"API_CARRIER_AUTO_PUSH":         "true",
	})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.ElementsMatch(t, []string{
		"Commerce.Currency",
		"Commerce.TaxFallbackBps",
		"Firebase.ProjectID",
		"Gateway.KeyID",
		"Gateway.KeySecret",
		"Carrier.BaseURL",
	}, validation.Fields())

	_, err = load(t, map[string]string{"API_NOTIFICATIONS_SINK": "smtp"})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, []string{"Notifications.Sink"}, validation.Fields())
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("# local overrides\nAPI_SERVER_PORT=7000\nAPI_COMMERCE_STORE_NAME=\"Vinu Visthara\"\nexport API_COMMERCE_LOCALE=hi-IN\n"), 0o600))

	cfg, err := Load(context.Background(), WithEnvFile(envFile), WithoutSystemEnv())
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "Vinu Visthara", cfg.Commerce.StoreName)
	assert.Equal(t, "hi-IN", cfg.Commerce.Locale)

	cfg, err = Load(context.Background(), WithEnvFile(envFile), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_SERVER_PORT": "7100"}))
	require.NoError(t, err)
	assert.Equal(t, "7100", cfg.Server.Port, "explicit values beat the .env file")

	t.Setenv("API_SERVER_PORT", "7200")
	cfg, err = Load(context.Background(), WithEnvFile(envFile))
	require.NoError(t, err)
	assert.Equal(t, "7200", cfg.Server.Port, "process env beats the .env file")
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(context.Background(), WithEnvFile(filepath.Join(t.TempDir(), "absent.env")), WithoutSystemEnv())
	require.NoError(t, err)
}
