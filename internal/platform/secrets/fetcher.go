package secrets

import (
	"bufio"
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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultFallbackPath = ".secrets.local"

// SecretManagerClient is the subset of the Secret Manager API the fetcher calls.
type SecretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret://NAME[?version=V&project=P] references through Secret Manager.
// Values are cached for the life of the process. When Secret Manager is unreachable or denies
// access, values are read from a local KEY=VALUE file so the service can run against emulators.
type Fetcher struct {
	client     SecretManagerClient
	ownsClient bool
	project    string
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string
	group singleflight.Group

	latency metric.Float64Histogram
}

type fetcherConfig struct {
	client       SecretManagerClient
	clientOpts   []option.ClientOption
	project      string
	fallbackPath string
	logger       *zap.Logger
	meter        metric.Meter
}

type Option func(*fetcherConfig)

func WithSecretManagerClient(client SecretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// WithDefaultProject sets the project used when a reference carries no project parameter.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.project = strings.TrimSpace(projectID) }
}

func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created leaves the
// fetcher in fallback-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{fallbackPath: defaultFallbackPath, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter("github.com/bazaar-market/ledger/secrets")
	}

	latency, err := cfg.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register latency metric: %w", err)
	}

	f := &Fetcher{
		client:       cfg.client,
		project:      cfg.project,
		logger:       cfg.logger,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]string),
		latency:      latency,
	}
	if f.client == nil {
		client, err := secretmanager.NewClient(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secret manager client unavailable; using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the secret value for ref. Concurrent lookups of one reference share a single
// Secret Manager call.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	value, ok := f.cache[parsed.key()]
	f.mu.RUnlock()
	if ok {
		f.record(ctx, start, "cache")
		return value, nil
	}

	result, err, _ := f.group.Do(parsed.key(), func() (any, error) {
		value, source, err := f.load(ctx, parsed)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[parsed.key()] = value
		f.mu.Unlock()
		f.record(ctx, start, source)
		return value, nil
	})
	if err != nil {
		f.record(ctx, start, "error")
		return "", err
	}
	return result.(string), nil
}

func (f *Fetcher) load(ctx context.Context, ref reference) (string, string, error) {
	project := ref.project
	if project == "" {
		project = f.project
	}
	if f.client != nil && project != "" {
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.secret, ref.version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if err == nil {
			return string(resp.GetPayload().GetData()), "secretmanager", nil
		}
		if !isFallbackError(err) {
			return "", "", fmt.Errorf("secrets: access %s: %w", ref.secret, err)
		}
		f.logger.Debug("secret manager unavailable; trying fallback file", zap.String("secret", ref.secret), zap.Error(err))
	}

	value, ok, err := f.lookupFallback(ref)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("secrets: %s not found in secret manager or fallback file", ref.secret)
	}
	return value, "fallback", nil
}

func (f *Fetcher) lookupFallback(ref reference) (string, bool, error) {
	f.fallbackOnce.Do(func() {
		f.fallback, f.fallbackErr = readFallbackFile(f.fallbackPath)
	})
	if f.fallbackErr != nil {
		return "", false, f.fallbackErr
	}
	if value, ok := f.fallback[ref.key()]; ok {
		return value, true, nil
	}
	value, ok := f.fallback[ref.secret]
	return value, ok, nil
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string) {
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

// readFallbackFile parses KEY=VALUE lines where KEY is a secret reference or a bare secret name.
func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: open fallback file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if ref, err := parseReference(key); err == nil {
			key = ref.key()
		}
		values[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read fallback file: %w", err)
	}
	return values, nil
}

type reference struct {
	secret  string
	version string
	project string
}

func (r reference) key() string {
	return r.project + "/" + r.secret + "#" + r.version
}

func parseReference(ref string) (reference, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(u.Host+u.Path, "/")
	if secret == "" {
		return reference{}, errors.New("secrets: missing secret name")
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{
		secret:  secret,
		version: version,
		project: strings.TrimSpace(u.Query().Get("project")),
	}, nil
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable:
		return true
	default:
		return false
	}
}
