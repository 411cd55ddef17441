// Package product is the product catalog bounded context. It owns product
// identity, pricing and availability, and serves snapshot requests during
// checkout.
package product

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	cqrs "github.com/commercekit/eventflow"
)

// AggregateType is the routing tag for product snapshots and events.
const AggregateType = "Product"

// Product is a catalog entry.
type Product struct {
	*cqrs.AggregateBase

	SKU    string
	Name   string
	Price  decimal.Decimal
	Active bool
}

// New creates a product and raises its creation event.
func New(productID, sku, name string, price decimal.Decimal, active bool) (*Product, error) {
	if productID == "" {
		return nil, &cqrs.ValidationError{Field: "productId", Reason: "must not be empty"}
	}
	if sku == "" {
		return nil, &cqrs.ValidationError{Field: "sku", Reason: "must not be empty"}
	}
	if name == "" {
		return nil, &cqrs.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if price.IsNegative() {
		return nil, &cqrs.ValidationError{Field: "price", Reason: "must not be negative"}
	}

	p := &Product{
		AggregateBase: cqrs.NewAggregateBase(productID),
		SKU:           sku,
		Name:          name,
		Price:         price,
		Active:        active,
	}
	p.Raise(&ProductCreated{
		ProductID: productID,
		SKU:       sku,
		Name:      name,
		Price:     price,
		Active:    active,
	})
	return p, nil
}

// Details is the read shape handed to checkout: everything order creation
// needs to price a line item.
type Details struct {
	ProductID string          `json:"productId"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Active    bool            `json:"active"`
}

// Details returns the product's checkout snapshot.
func (p *Product) Details() Details {
	return Details{
		ProductID: p.EntityID(),
		SKU:       p.SKU,
		Name:      p.Name,
		Price:     p.Price,
		Active:    p.Active,
	}
}

type productState struct {
	SKU    string          `json:"sku"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active bool            `json:"active"`
}

func encode(p *Product) ([]byte, error) {
	return json.Marshal(productState{
		SKU:    p.SKU,
		Name:   p.Name,
		Price:  p.Price,
		Active: p.Active,
	})
}

func decode(snap *cqrs.Snapshot) (*Product, error) {
	var state productState
	if err := json.Unmarshal(snap.State, &state); err != nil {
		return nil, err
	}

	p := &Product{
		AggregateBase: cqrs.NewAggregateBase(snap.AggregateID),
		SKU:           state.SKU,
		Name:          state.Name,
		Price:         state.Price,
		Active:        state.Active,
	}
	p.SetAggregateVersion(snap.Version)
	return p, nil
}

// NewRepository creates the product repository on the given store and bus.
func NewRepository(store cqrs.SnapshotStore, bus cqrs.EventBus, opts ...cqrs.RepositoryOption) *cqrs.Repository[*Product] {
	return cqrs.NewRepository(store, bus, AggregateType, encode, decode, opts...)
}
