package cart

import (
	"sync"

	cqrs "github.com/commercekit/eventflow"
)

// CartItemAdded records a quantity added to a cart.
type CartItemAdded struct {
	GuestToken string `json:"guestToken"`
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
}

func (e *CartItemAdded) AggregateID() string   { return e.GuestToken }
func (e *CartItemAdded) AggregateType() string { return AggregateType }
func (e *CartItemAdded) EventType() string     { return "CartItemAdded" }

// CartItemRemoved records a product removed from a cart.
type CartItemRemoved struct {
	GuestToken string `json:"guestToken"`
	ProductID  string `json:"productId"`
}

func (e *CartItemRemoved) AggregateID() string   { return e.GuestToken }
func (e *CartItemRemoved) AggregateType() string { return AggregateType }
func (e *CartItemRemoved) EventType() string     { return "CartItemRemoved" }

// CartItemQtyUpdated records a quantity change for a product in a cart.
type CartItemQtyUpdated struct {
	GuestToken string `json:"guestToken"`
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
}

func (e *CartItemQtyUpdated) AggregateID() string   { return e.GuestToken }
func (e *CartItemQtyUpdated) AggregateType() string { return AggregateType }
func (e *CartItemQtyUpdated) EventType() string     { return "CartItemQtyUpdated" }

// CartCleared records a cart emptied after order creation.
type CartCleared struct {
	GuestToken string `json:"guestToken"`
	OrderID    string `json:"orderId"`
}

func (e *CartCleared) AggregateID() string   { return e.GuestToken }
func (e *CartCleared) AggregateType() string { return AggregateType }
func (e *CartCleared) EventType() string     { return "CartCleared" }

// CartSnapshotProvided carries the cart contents requested for an order.
type CartSnapshotProvided struct {
	GuestToken string         `json:"guestToken"`
	OrderID    string         `json:"orderId"`
	Items      map[string]int `json:"items"`
}

func (e *CartSnapshotProvided) AggregateID() string   { return e.GuestToken }
func (e *CartSnapshotProvided) AggregateType() string { return AggregateType }
func (e *CartSnapshotProvided) EventType() string     { return "CartSnapshotProvided" }

var registerOnce sync.Once

// RegisterTypes registers the cart wire types. Safe to call from multiple
// wiring paths.
func RegisterTypes() {
	registerOnce.Do(func() {
		cqrs.RegisterEvent(func() cqrs.Event { return &CartItemAdded{} })
		cqrs.RegisterEvent(func() cqrs.Event { return &CartItemRemoved{} })
		cqrs.RegisterEvent(func() cqrs.Event { return &CartItemQtyUpdated{} })
		cqrs.RegisterEvent(func() cqrs.Event { return &CartCleared{} })
		cqrs.RegisterEvent(func() cqrs.Event { return &CartSnapshotProvided{} })

		cqrs.RegisterCommand(func() cqrs.Command { return &AddCartItem{} })
		cqrs.RegisterCommand(func() cqrs.Command { return &RemoveCartItem{} })
		cqrs.RegisterCommand(func() cqrs.Command { return &UpdateCartItemQty{} })
		cqrs.RegisterCommand(func() cqrs.Command { return &ClearCart{} })
		cqrs.RegisterCommand(func() cqrs.Command { return &GetCartSnapshot{} })
	})
}
