package storage

import (
	"fmt"
	"regexp"

	"github.com/bazaar-market/ledger/internal/services"
)

// Order IDs are prefixed ULIDs and PayPal references are upper-case alphanumerics.
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ReceiptPath returns receipts/orders/{orderID}/{kind}-{reference}.json.
func ReceiptPath(receipt services.Receipt) (string, error) {
	switch receipt.Kind {
	case services.ReceiptCapture, services.ReceiptRefund:
	default:
		return "", fmt.Errorf("storage: unknown receipt kind %q", receipt.Kind)
	}
	if !segmentPattern.MatchString(receipt.OrderID) {
		return "", fmt.Errorf("storage: invalid order id %q", receipt.OrderID)
	}
	if !segmentPattern.MatchString(receipt.Reference) {
		return "", fmt.Errorf("storage: invalid %s reference %q", receipt.Kind, receipt.Reference)
	}
	return fmt.Sprintf("receipts/orders/%s/%s-%s.json", receipt.OrderID, receipt.Kind, receipt.Reference), nil
}
