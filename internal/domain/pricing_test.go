package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func line(price string, qty int64) OrderItem {
	unit := decimal.RequireFromString(price)
	return OrderItem{Quantity: int(qty), UnitPrice: unit, LineTotal: unit.Mul(decimal.NewFromInt(qty))}
}

func TestPricingPolicyPrice(t *testing.T) {
	policy := DefaultPricingPolicy()
	cases := []struct {
		name                           string
		items                          []OrderItem
		subtotal, tax, shipping, total string
	}{
		{"free shipping above threshold", []OrderItem{line("60", 2)}, "120", "12", "0", "132"},
		{"flat fee below threshold", []OrderItem{line("25", 2)}, "50", "5", "10", "65"},
		{"exactly at threshold pays shipping", []OrderItem{line("100", 1)}, "100", "10", "10", "120"},
		{"tax rounds to cents", []OrderItem{line("19.99", 3)}, "59.97", "6", "10", "75.97"},
		{"tax rounds half up", []OrderItem{line("0.05", 1)}, "0.05", "0.01", "10", "10.06"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.Price(tc.items)
			check := func(label string, value decimal.Decimal, want string) {
				t.Helper()
				if !value.Equal(decimal.RequireFromString(want)) {
					t.Fatalf("%s: expected %s, got %s", label, want, value)
				}
			}
			check("subtotal", got.Subtotal, tc.subtotal)
			check("tax", got.Tax, tc.tax)
			check("shipping", got.Shipping, tc.shipping)
			check("total", got.Total, tc.total)
			if !got.Total.Equal(got.Subtotal.Add(got.Tax).Add(got.Shipping)) {
				t.Fatalf("total must equal subtotal+tax+shipping: %+v", got)
			}
		})
	}
}

func TestNewOrderItemSnapshotsProduct(t *testing.T) {
	product := Product{ID: "p1", VendorID: "v1", Name: "Lamp", Price: decimal.RequireFromString("12.50")}
	item := NewOrderItem(product, 3)
	if item.ProductID != "p1" || item.VendorID != "v1" || item.Name != "Lamp" || item.Quantity != 3 {
		t.Fatalf("unexpected item %+v", item)
	}
	if !item.LineTotal.Equal(decimal.RequireFromString("37.5")) {
		t.Fatalf("expected line total 37.50, got %s", item.LineTotal)
	}
}
