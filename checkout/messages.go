package checkout

import (
	"sync"

	cqrs "github.com/commercekit/eventflow"
	"github.com/commercekit/eventflow/order"
)

// PlaceOrder starts a checkout for the guest's cart. The idempotency key
// makes the whole checkout safe to retry: for a given key at most one order
// is ever created.
type PlaceOrder struct {
	GuestToken     string                `json:"guestToken"`
	IdempotencyKey string                `json:"idempotencyKey"`
	Customer       order.CustomerInfo    `json:"customer"`
	Address        order.ShippingAddress `json:"address"`
}

func (c *PlaceOrder) AggregateID() string { return c.GuestToken }
func (c *PlaceOrder) CommandType() string { return "PlaceOrder" }

var registerOnce sync.Once

// RegisterTypes registers the checkout wire types.
func RegisterTypes() {
	registerOnce.Do(func() {
		cqrs.RegisterCommand(func() cqrs.Command { return &PlaceOrder{} })
	})
}
