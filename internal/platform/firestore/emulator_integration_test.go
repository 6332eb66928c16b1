//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	pconfig "github.com/bazaar-market/ledger/internal/platform/config"
	pfirestore "github.com/bazaar-market/ledger/internal/platform/firestore"
)

type counterEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "bazaar-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func TestBaseRepositoryJoinsUnitOfWork(t *testing.T) {
	provider := newEmulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[counterEntity](provider, "it_counters", nil, nil)
	id := "uow-" + time.Now().Format("150405.000000000")
	if err := repo.Set(ctx, id, counterEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}

	uow := pfirestore.NewUnitOfWork(provider)
	abort := errors.New("abort")
	err := uow.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		doc.Data.Count += 10
		if err := repo.Set(ctx, id, doc.Data); err != nil {
			return err
		}
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected callback error to pass through, got %v", err)
	}

	doc, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Data.Count != 1 {
		t.Fatalf("expected aborted transaction to leave count 1, got %d", doc.Data.Count)
	}

	total, err := repo.Count(ctx, nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total < 1 {
		t.Fatalf("expected at least one document, got %d", total)
	}
}

func TestBaseRepositoryGetMissingIsNotFound(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo := pfirestore.NewBaseRepository[counterEntity](provider, "it_counters", nil, nil)

	_, err := repo.Get(context.Background(), "does-not-exist")
	var repoErr *pfirestore.Error
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found repository error, got %v", err)
	}
}
