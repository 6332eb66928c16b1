package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
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

func (c *fakeSecretClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

const paypalSecret = "projects/bazaar/secrets/paypal_client_secret/versions/latest"

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[paypalSecret] = "remote-secret"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("bazaar"))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 3; i++ {
		got, err := fetcher.Resolve(ctx, "secret://paypal_client_secret")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != "remote-secret" {
			t.Fatalf("expected remote-secret, got %q", got)
		}
	}
	if calls := client.callCount(paypalSecret); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/paypal_client_secret/versions/3"] = "pinned"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("bazaar"))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	got, err := fetcher.ResolveSecret(ctx, "secret://paypal_client_secret?version=3&project=other")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "pinned" {
		t.Fatalf("expected pinned, got %q", got)
	}
}

func TestResolveFallsBackToLocalFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	content := "# local development\nsecret://paypal_client_secret=local-secret\nreceipts_key=plain\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := newFakeSecretClient()
	client.errs[paypalSecret] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("bazaar"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "secret://paypal_client_secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("expected local-secret, got %q", got)
	}

	got, err = fetcher.Resolve(ctx, "secret://receipts_key")
	if err != nil || got != "plain" {
		t.Fatalf("expected bare-name fallback, got %q %v", got, err)
	}
}

func TestResolvePropagatesHardErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errs[paypalSecret] = status.Error(codes.Internal, "boom")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("bazaar"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://paypal_client_secret"); err == nil {
		t.Fatalf("expected internal error to propagate")
	}
}

func TestParseReferenceRejectsBadInput(t *testing.T) {
	for _, ref := range []string{"", "sm://x", "secret://", "https://example.com/x"} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}
}
