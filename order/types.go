package order

import "github.com/shopspring/decimal"

// CustomerInfo identifies the person placing an order.
type CustomerInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// ShippingAddress is the delivery destination for an order.
type ShippingAddress struct {
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zipCode"`
	Country      string `json:"country"`
}

// LineItem is one priced order line.
type LineItem struct {
	ProductID   string          `json:"productId"`
	SKU         string          `json:"sku"`
	ProductName string          `json:"productName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
}

// Subtotal returns the line's price times quantity.
func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Totals is the money summary of an order.
type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	ShippingFee decimal.Decimal `json:"shippingFee"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
}

var (
	// flatShippingFee applies below the free shipping threshold.
	flatShippingFee = decimal.RequireFromString("4.99")

	// freeShippingFrom is the subtotal at which shipping is free.
	freeShippingFrom = decimal.RequireFromString("50.00")

	// taxRate is applied to the subtotal.
	taxRate = decimal.RequireFromString("0.08")
)

// ComputeTotals derives the money summary from the order lines.
func ComputeTotals(items []LineItem) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Subtotal())
	}

	shipping := flatShippingFee
	if subtotal.GreaterThanOrEqual(freeShippingFrom) {
		shipping = decimal.Zero
	}

	tax := subtotal.Mul(taxRate).Round(2)

	return Totals{
		Subtotal:    subtotal,
		ShippingFee: shipping,
		Tax:         tax,
		Total:       subtotal.Add(shipping).Add(tax),
	}
}
