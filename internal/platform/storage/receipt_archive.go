package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/bazaar-market/ledger/internal/services"
)

// ReceiptArchive writes gateway receipts as JSON objects to a Cloud Storage bucket.
type ReceiptArchive struct {
	client *gcs.Client
	bucket string
}

var _ services.ReceiptArchive = (*ReceiptArchive)(nil)

// NewReceiptArchive constructs an archive backed by the provided Cloud Storage client.
func NewReceiptArchive(client *gcs.Client, bucket string) (*ReceiptArchive, error) {
	if client == nil {
		return nil, errors.New("receipt archive: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("receipt archive: bucket is required")
	}
	return &ReceiptArchive{client: client, bucket: bucket}, nil
}

type receiptObject struct {
	Kind        string          `json:"kind"`
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	Reference   string          `json:"reference"`
	RecordedAt  time.Time       `json:"recordedAt"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Archive stores the receipt once. An object already present for the same reference is left
// untouched and reported as success.
func (a *ReceiptArchive) Archive(ctx context.Context, receipt services.Receipt) error {
	if a == nil || a.client == nil {
		return errors.New("receipt archive: client is not initialised")
	}
	object, err := ReceiptPath(receipt)
	if err != nil {
		return err
	}

	payload := receipt.Payload
	if len(payload) > 0 && !json.Valid(payload) {
		return fmt.Errorf("receipt archive: payload for %s is not valid JSON", object)
	}
	data, err := json.Marshal(receiptObject{
		Kind:        string(receipt.Kind),
		OrderID:     receipt.OrderID,
		OrderNumber: receipt.OrderNumber,
		Reference:   receipt.Reference,
		RecordedAt:  receipt.RecordedAt.UTC(),
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("receipt archive: marshal: %w", err)
	}

	handle := a.client.Bucket(a.bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
	w := handle.NewWriter(ctx)
	w.ContentType = "application/json"
	w.ChunkSize = 0
	w.Metadata = map[string]string{
		"orderId":     receipt.OrderID,
		"orderNumber": receipt.OrderNumber,
		"kind":        string(receipt.Kind),
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("receipt archive: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("receipt archive: close %s: %w", object, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
