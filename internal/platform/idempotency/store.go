package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a key keeps replaying its first response.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of reserving a key.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and must run the request.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored response must be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request holds the key.
	ReservationStatePending
)

type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is a stored key with the response it produced.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Response is the HTTP response stored for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists key reservations and completed responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// decideReservation applies the reservation rules to the record currently stored under key.
// A non-nil write must be persisted by the store before the reservation is returned.
func decideReservation(existing *Record, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, *Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if existing == nil || (!existing.ExpiresAt.IsZero() && !now.Before(existing.ExpiresAt)) {
		fresh := Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		return Reservation{State: ReservationStateNew, Record: fresh}, &fresh, nil
	}
	if existing.Fingerprint != fingerprint {
		return Reservation{}, nil, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: *existing}, nil, nil
	}
	return Reservation{State: ReservationStatePending, Record: *existing}, nil, nil
}

// completedRecord builds the record stored once the handler has answered.
func completedRecord(existing *Record, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) (Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record := Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	if existing != nil {
		if existing.Fingerprint != fingerprint {
			return Record{}, ErrFingerprintMismatch
		}
		record.CreatedAt = existing.CreatedAt
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = sanitizeHeaders(resp.Headers)
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	record.ExpiresAt = now.Add(ttl)
	return record, nil
}

// documentID hashes the scoped key so arbitrary client input is safe as a document id.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sanitizeHeaders(header http.Header) map[string][]string {
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		switch strings.ToLower(canonical) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade":
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}
