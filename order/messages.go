package order

import (
	"sync"

	cqrs "github.com/commercekit/eventflow"
)

// CreateOrder creates the order for a checked out cart. The idempotency key
// makes the command safe to redeliver: for a given key exactly one order is
// ever created, and replays re-announce the original.
type CreateOrder struct {
	OrderID        string          `json:"orderId"`
	GuestToken     string          `json:"guestToken"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Customer       CustomerInfo    `json:"customer"`
	Address        ShippingAddress `json:"address"`
	Items          []LineItem      `json:"items"`
}

func (c *CreateOrder) AggregateID() string { return c.OrderID }
func (c *CreateOrder) CommandType() string { return "CreateOrder" }

// MarkCheckoutCompleted finalizes the order once the saga has finished.
type MarkCheckoutCompleted struct {
	OrderID string `json:"orderId"`
}

func (c *MarkCheckoutCompleted) AggregateID() string { return c.OrderID }
func (c *MarkCheckoutCompleted) CommandType() string { return "MarkCheckoutCompleted" }

// OrderCreated records a new order with its priced lines and totals.
type OrderCreated struct {
	OrderID        string          `json:"orderId"`
	GuestToken     string          `json:"guestToken"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Customer       CustomerInfo    `json:"customer"`
	Address        ShippingAddress `json:"address"`
	Items          []LineItem      `json:"items"`
	Totals         Totals          `json:"totals"`
}

func (e *OrderCreated) AggregateID() string   { return e.OrderID }
func (e *OrderCreated) AggregateType() string { return AggregateType }
func (e *OrderCreated) EventType() string     { return "OrderCreated" }

// CheckoutCompleted records the order reaching its terminal status.
type CheckoutCompleted struct {
	OrderID        string `json:"orderId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (e *CheckoutCompleted) AggregateID() string   { return e.OrderID }
func (e *CheckoutCompleted) AggregateType() string { return AggregateType }
func (e *CheckoutCompleted) EventType() string     { return "CheckoutCompleted" }

var registerOnce sync.Once

// RegisterTypes registers the order management wire types.
func RegisterTypes() {
	registerOnce.Do(func() {
		cqrs.RegisterEvent(func() cqrs.Event { return &OrderCreated{} })
		cqrs.RegisterEvent(func() cqrs.Event { return &CheckoutCompleted{} })

		cqrs.RegisterCommand(func() cqrs.Command { return &CreateOrder{} })
		cqrs.RegisterCommand(func() cqrs.Command { return &MarkCheckoutCompleted{} })
	})
}
