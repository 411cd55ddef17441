// Package cart is the shopping cart bounded context. A cart is keyed by the
// guest token of the browser session that owns it and holds product
// quantities until checkout clears them.
package cart

import (
	"encoding/json"
	"fmt"

	cqrs "github.com/commercekit/eventflow"
)

// AggregateType is the routing tag for cart snapshots and events.
const AggregateType = "ShoppingCart"

// ShoppingCart accumulates items for a guest session.
type ShoppingCart struct {
	*cqrs.AggregateBase

	Items map[string]int // productID -> quantity
}

// New creates an empty cart for a guest token.
func New(guestToken string) *ShoppingCart {
	return &ShoppingCart{
		AggregateBase: cqrs.NewAggregateBase(guestToken),
		Items:         make(map[string]int),
	}
}

// GuestToken returns the session token identifying this cart.
func (c *ShoppingCart) GuestToken() string {
	return c.EntityID()
}

// AddItem increases the quantity of a product in the cart.
func (c *ShoppingCart) AddItem(productID string, quantity int) error {
	if productID == "" {
		return &cqrs.ValidationError{Field: "productId", Reason: "must not be empty"}
	}
	if quantity <= 0 {
		return &cqrs.ValidationError{Field: "quantity", Reason: "must be positive"}
	}

	c.Items[productID] += quantity
	c.Raise(&CartItemAdded{
		GuestToken: c.GuestToken(),
		ProductID:  productID,
		Quantity:   quantity,
	})
	return nil
}

// RemoveItem removes a product from the cart entirely.
func (c *ShoppingCart) RemoveItem(productID string) error {
	if _, ok := c.Items[productID]; !ok {
		return &cqrs.BusinessRuleError{Code: "item_not_in_cart",
			Reason: fmt.Sprintf("product %q is not in the cart", productID)}
	}

	delete(c.Items, productID)
	c.Raise(&CartItemRemoved{
		GuestToken: c.GuestToken(),
		ProductID:  productID,
	})
	return nil
}

// UpdateItemQty sets the quantity of a product already in the cart.
func (c *ShoppingCart) UpdateItemQty(productID string, quantity int) error {
	if quantity <= 0 {
		return &cqrs.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if _, ok := c.Items[productID]; !ok {
		return &cqrs.BusinessRuleError{Code: "item_not_in_cart",
			Reason: fmt.Sprintf("product %q is not in the cart", productID)}
	}

	c.Items[productID] = quantity
	c.Raise(&CartItemQtyUpdated{
		GuestToken: c.GuestToken(),
		ProductID:  productID,
		Quantity:   quantity,
	})
	return nil
}

// Clear empties the cart. Clearing an already empty cart is a no-op that
// still raises the event, so a saga observing the clear always gets its
// confirmation.
func (c *ShoppingCart) Clear(orderID string) {
	c.Items = make(map[string]int)
	c.Raise(&CartCleared{
		GuestToken: c.GuestToken(),
		OrderID:    orderID,
	})
}

type cartState struct {
	Items map[string]int `json:"items"`
}

func encode(c *ShoppingCart) ([]byte, error) {
	return json.Marshal(cartState{Items: c.Items})
}

func decode(snap *cqrs.Snapshot) (*ShoppingCart, error) {
	var state cartState
	if err := json.Unmarshal(snap.State, &state); err != nil {
		return nil, err
	}

	c := New(snap.AggregateID)
	c.SetAggregateVersion(snap.Version)
	if state.Items != nil {
		c.Items = state.Items
	}
	return c, nil
}

// NewRepository creates the cart repository on the given store and bus.
func NewRepository(store cqrs.SnapshotStore, bus cqrs.EventBus, opts ...cqrs.RepositoryOption) *cqrs.Repository[*ShoppingCart] {
	return cqrs.NewRepository(store, bus, AggregateType, encode, decode, opts...)
}
