package domain

import "github.com/shopspring/decimal"

// PricingPolicy holds the store-wide tax and shipping rules applied when an order is placed.
type PricingPolicy struct {
	TaxRate          decimal.Decimal
	FreeShippingOver decimal.Decimal
	FlatShippingFee  decimal.Decimal
}

// DefaultPricingPolicy is 10% tax with free shipping for subtotals above 100 and a flat 10 otherwise.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		TaxRate:          decimal.NewFromFloat(0.10),
		FreeShippingOver: decimal.NewFromInt(100),
		FlatShippingFee:  decimal.NewFromInt(10),
	}
}

// PricingBreakdown is the result of pricing a set of order lines.
type PricingBreakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Price computes totals for items whose LineTotal is already set. Tax is rounded half away from
// zero to cents; shipping is free only when the subtotal strictly exceeds the threshold.
func (p PricingPolicy) Price(items []OrderItem) PricingBreakdown {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
	}
	tax := subtotal.Mul(p.TaxRate).Round(2)
	shipping := p.FlatShippingFee
	if subtotal.GreaterThan(p.FreeShippingOver) {
		shipping = decimal.Zero
	}
	return PricingBreakdown{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping),
	}
}

// NewOrderItem snapshots the product's name, vendor and price for quantity units.
func NewOrderItem(product Product, quantity int) OrderItem {
	return OrderItem{
		ProductID: product.ID,
		VendorID:  product.VendorID,
		Name:      product.Name,
		Quantity:  quantity,
		UnitPrice: product.Price,
		LineTotal: product.Price.Mul(decimal.NewFromInt(int64(quantity))),
	}
}
