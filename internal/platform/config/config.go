package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	envPrefix = "BAZAAR_"

	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultEnvironment         = "local"
	defaultPayPalMode          = PayPalModeSandbox
	defaultPayPalTimeout       = 20 * time.Second
	defaultPayPalTokenMargin   = 60 * time.Second
	defaultFrontendURL         = "http://localhost:3000"
	defaultNotificationsTopic  = "order-notifications"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
	defaultTaxRate             = "0.10"
	defaultFreeShippingOver    = "100"
	defaultFlatShippingFee     = "10"
)

// PayPal environments.
const (
	PayPalModeSandbox = "sandbox"
	PayPalModeLive    = "live"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment   string
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	PayPal        PayPalConfig
	Frontend      FrontendConfig
	Notifications NotificationsConfig
	Receipts      ReceiptsConfig
	Pricing       PricingConfig
	Idempotency   IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PayPalConfig holds REST credentials and client tuning for the payment gateway.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Mode         string
	// BaseURL overrides the host derived from Mode; used against mocks.
	BaseURL     string
	Timeout     time.Duration
	TokenMargin time.Duration
}

// FrontendConfig points at the single-page application that hosts payment return pages.
type FrontendConfig struct {
	URL string
}

// NotificationsConfig controls where customer notices are published.
type NotificationsConfig struct {
	ProjectID string
	Topic     string
}

// ReceiptsConfig names the bucket holding gateway capture/refund receipts. Empty disables archiving.
type ReceiptsConfig struct {
	Bucket string
}

// PricingConfig holds the totals policy applied at order creation.
type PricingConfig struct {
	TaxRate          decimal.Decimal
	FreeShippingOver decimal.Decimal
	FlatShippingFee  decimal.Decimal
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

// Error implements the error interface.
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

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
// Names are redacted so the error is safe to log.
type MissingSecretsError struct {
	redacted []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.redacted) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.redacted, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.redacted...)
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

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over system
// environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "PayPal.ClientSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the configuration from defaults, .env, the process environment, an explicit
// map and secret references, in increasing order of precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		key = envPrefix + key
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

	var invalid []string
	dec := func(key, fallback string) decimal.Decimal {
		raw := stringWithDefault(lookup, key, fallback)
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || d.IsNegative() {
			invalid = append(invalid, envPrefix+key)
			return decimal.Zero
		}
		return d
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
		},
		PayPal: PayPalConfig{
			ClientID:     stringWithDefault(lookup, "PAYPAL_CLIENT_ID", ""),
			ClientSecret: stringWithDefault(lookup, "PAYPAL_CLIENT_SECRET", ""),
			Mode:         strings.ToLower(stringWithDefault(lookup, "PAYPAL_MODE", defaultPayPalMode)),
			BaseURL:      stringWithDefault(lookup, "PAYPAL_BASE_URL", ""),
			Timeout:      durationWithDefault(lookup, "PAYPAL_TIMEOUT", defaultPayPalTimeout),
			TokenMargin:  durationWithDefault(lookup, "PAYPAL_TOKEN_MARGIN", defaultPayPalTokenMargin),
		},
		Frontend: FrontendConfig{
			URL: strings.TrimRight(stringWithDefault(lookup, "FRONTEND_URL", defaultFrontendURL), "/"),
		},
		Notifications: NotificationsConfig{
			ProjectID: stringWithDefault(lookup, "NOTIFICATIONS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
		},
		Receipts: ReceiptsConfig{
			Bucket: stringWithDefault(lookup, "RECEIPTS_BUCKET", ""),
		},
		Pricing: PricingConfig{
			TaxRate:          dec("PRICING_TAX_RATE", defaultTaxRate),
			FreeShippingOver: dec("PRICING_FREE_SHIPPING_OVER", defaultFreeShippingOver),
			FlatShippingFee:  dec("PRICING_FLAT_SHIPPING_FEE", defaultFlatShippingFee),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Notifications.ProjectID == "" {
		cfg.Notifications.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PayPal.ClientID", &cfg.PayPal.ClientID},
		{"PayPal.ClientSecret", &cfg.PayPal.ClientSecret},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

// PayPalBaseURL returns the REST host for the configured PayPal environment.
func (c PayPalConfig) PayPalBaseURL() string {
	if base := strings.TrimSpace(c.BaseURL); base != "" {
		return strings.TrimRight(base, "/")
	}
	if c.Mode == PayPalModeLive {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
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

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.PayPal.Mode != PayPalModeSandbox && cfg.PayPal.Mode != PayPalModeLive {
		missing = append(missing, "PayPal.Mode")
	}
	if cfg.PayPal.Timeout <= 0 {
		missing = append(missing, "PayPal.Timeout")
	}
	if u, err := url.Parse(cfg.Frontend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "Frontend.URL")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var redacted []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] != "" {
			continue
		}
		sum := sha256.Sum256([]byte(name))
		redacted = append(redacted, hex.EncodeToString(sum[:8]))
	}
	if len(redacted) == 0 {
		return nil
	}
	sort.Strings(redacted)
	return &MissingSecretsError{redacted: redacted}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
