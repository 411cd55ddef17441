// Package inventory is the stock-keeping bounded context. It owns one
// InventoryItem per product and answers the checkout saga's validate and
// deduct requests.
package inventory

import (
	"encoding/json"
	"fmt"

	cqrs "github.com/commercekit/eventflow"
)

// AggregateType is the routing tag for inventory snapshots and events.
const AggregateType = "InventoryItem"

// InventoryItem tracks the on-hand quantity of a single product.
type InventoryItem struct {
	*cqrs.AggregateBase

	Quantity int
}

// New creates an inventory record for a product with zero stock.
func New(productID string) *InventoryItem {
	return &InventoryItem{
		AggregateBase: cqrs.NewAggregateBase(productID),
	}
}

// ProductID returns the product this record tracks.
func (i *InventoryItem) ProductID() string {
	return i.EntityID()
}

// SetStock sets the absolute on-hand quantity.
func (i *InventoryItem) SetStock(quantity int) error {
	if quantity < 0 {
		return &cqrs.ValidationError{Field: "quantity", Reason: "must not be negative"}
	}

	i.Quantity = quantity
	i.Raise(&StockSet{
		ProductID: i.ProductID(),
		Quantity:  quantity,
	})
	return nil
}

// DeductForOrder removes the ordered quantity from stock. Insufficient stock
// fails before any mutation.
func (i *InventoryItem) DeductForOrder(orderID string, quantity int) error {
	if quantity <= 0 {
		return &cqrs.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if quantity > i.Quantity {
		return &cqrs.BusinessRuleError{Code: "insufficient_stock",
			Reason: fmt.Sprintf("product %q has %d on hand, %d requested", i.ProductID(), i.Quantity, quantity)}
	}

	i.Quantity -= quantity
	i.Raise(&StockDeductedForOrder{
		ProductID: i.ProductID(),
		OrderID:   orderID,
		Quantity:  quantity,
		Remaining: i.Quantity,
	})
	return nil
}

type itemState struct {
	Quantity int `json:"quantity"`
}

func encode(i *InventoryItem) ([]byte, error) {
	return json.Marshal(itemState{Quantity: i.Quantity})
}

func decode(snap *cqrs.Snapshot) (*InventoryItem, error) {
	var state itemState
	if err := json.Unmarshal(snap.State, &state); err != nil {
		return nil, err
	}

	i := New(snap.AggregateID)
	i.SetAggregateVersion(snap.Version)
	i.Quantity = state.Quantity
	return i, nil
}

// NewRepository creates the inventory repository on the given store and bus.
func NewRepository(store cqrs.SnapshotStore, bus cqrs.EventBus, opts ...cqrs.RepositoryOption) *cqrs.Repository[*InventoryItem] {
	return cqrs.NewRepository(store, bus, AggregateType, encode, decode, opts...)
}
