package storage

import (
	"testing"

	"github.com/bazaar-market/ledger/internal/services"
)

func TestReceiptPath(t *testing.T) {
	path, err := ReceiptPath(services.Receipt{OrderID: "01HZX3", Kind: services.ReceiptRefund, Reference: "1JU08902781691411"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "receipts/orders/01HZX3/refund-1JU08902781691411.json"; path != want {
		t.Fatalf("expected %s, got %s", want, path)
	}
}

func TestReceiptPathRejectsInvalidInput(t *testing.T) {
	cases := map[string]services.Receipt{
		"traversal":    {OrderID: "../bad", Kind: services.ReceiptCapture, Reference: "CAP1"},
		"slash":        {OrderID: "ord_1", Kind: services.ReceiptCapture, Reference: "a/b"},
		"empty ref":    {OrderID: "ord_1", Kind: services.ReceiptCapture},
		"unknown kind": {OrderID: "ord_1", Kind: "chargeback", Reference: "CAP1"},
	}
	for name, receipt := range cases {
		if _, err := ReceiptPath(receipt); err == nil {
			t.Fatalf("%s: expected error for %+v", name, receipt)
		}
	}
}
