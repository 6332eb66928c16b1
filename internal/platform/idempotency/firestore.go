package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection  = "payment_idempotency_keys"
	defaultMaxAttempts = 5
)

// FirestoreStore shares keys across API instances.
type FirestoreStore struct {
	client      *firestore.Client
	collection  string
	maxAttempts int
}

// NewFirestoreStore constructs a store writing to collection, or the default collection when empty.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{client: client, collection: collection, maxAttempts: defaultMaxAttempts}
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ref := s.client.Collection(s.collection).Doc(documentID(key))

	var result Reservation
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := loadRecord(tx, ref)
		if err != nil {
			return err
		}
		reservation, write, err := decideReservation(existing, key, fingerprint, now.UTC(), ttl)
		if err != nil {
			return err
		}
		if write != nil {
			if err := tx.Set(ref, toFirestoreRecord(*write)); err != nil {
				return err
			}
		}
		result = reservation
		return nil
	}, firestore.MaxAttempts(s.maxAttempts))
	return result, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref := s.client.Collection(s.collection).Doc(documentID(key))
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := loadRecord(tx, ref)
		if err != nil {
			return err
		}
		record, err := completedRecord(existing, key, fingerprint, resp, now.UTC(), ttl)
		if err != nil {
			return err
		}
		return tx.Set(ref, toFirestoreRecord(record))
	}, firestore.MaxAttempts(s.maxAttempts))
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collection).Doc(documentID(key)).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// CleanupExpired deletes up to limit expired keys in one batch.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func loadRecord(tx *firestore.Transaction, ref *firestore.DocumentRef) (*Record, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc firestoreRecord
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	record := doc.toRecord()
	return &record, nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func toFirestoreRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
