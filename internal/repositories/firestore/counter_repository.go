package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/bazaar-market/ledger/internal/platform/firestore"
	"github.com/bazaar-market/ledger/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out gap-free sequence numbers, one document per sequence.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil, nil),
		now:      time.Now,
	}, nil
}

// Next increments the sequence and returns the new value. The first call for a sequence
// returns 1.
func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" || strings.Contains(id, "/") {
		return 0, fmt.Errorf("counters.next: invalid counter id %q", counterID)
	}

	var value int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		var doc counterDocument
		snapshot, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("decode counter %s: %w", id, err)
			}
		}

		doc.Value++
		doc.UpdatedAt = r.now().UTC()
		value = doc.Value
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return value, nil
}
