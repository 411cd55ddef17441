// Package order is the order management bounded context. It turns a checked
// out cart into a priced, addressed order and owns the idempotency index that
// makes order placement safe to retry.
package order

import (
	"encoding/json"

	cqrs "github.com/commercekit/eventflow"
)

// AggregateType is the routing tag for order snapshots and events.
const AggregateType = "Order"

// Order status values.
const (
	StatusCreated   = "created"
	StatusCompleted = "completed"
)

// Order is a placed order.
type Order struct {
	*cqrs.AggregateBase

	GuestToken     string
	IdempotencyKey string
	Customer       CustomerInfo
	Address        ShippingAddress
	Items          []LineItem
	Totals         Totals
	Status         string
}

// New creates an order from priced line items and raises OrderCreated.
func New(orderID, guestToken, idempotencyKey string, customer CustomerInfo, address ShippingAddress, items []LineItem) (*Order, error) {
	if orderID == "" {
		return nil, &cqrs.ValidationError{Field: "orderId", Reason: "must not be empty"}
	}
	if idempotencyKey == "" {
		return nil, &cqrs.ValidationError{Field: "idempotencyKey", Reason: "must not be empty"}
	}
	if len(items) == 0 {
		return nil, &cqrs.ValidationError{Field: "items", Reason: "order must have at least one line"}
	}

	o := &Order{
		AggregateBase:  cqrs.NewAggregateBase(orderID),
		GuestToken:     guestToken,
		IdempotencyKey: idempotencyKey,
		Customer:       customer,
		Address:        address,
		Items:          items,
		Totals:         ComputeTotals(items),
		Status:         StatusCreated,
	}
	o.Raise(&OrderCreated{
		OrderID:        orderID,
		GuestToken:     guestToken,
		IdempotencyKey: idempotencyKey,
		Customer:       customer,
		Address:        address,
		Items:          items,
		Totals:         o.Totals,
	})
	return o, nil
}

// MarkCheckoutCompleted moves the order to its terminal status. Completing
// an already completed order is a no-op.
func (o *Order) MarkCheckoutCompleted() {
	if o.Status == StatusCompleted {
		return
	}
	o.Status = StatusCompleted
	o.Raise(&CheckoutCompleted{
		OrderID:        o.EntityID(),
		IdempotencyKey: o.IdempotencyKey,
	})
}

type orderState struct {
	GuestToken     string          `json:"guestToken"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Customer       CustomerInfo    `json:"customer"`
	Address        ShippingAddress `json:"address"`
	Items          []LineItem      `json:"items"`
	Totals         Totals          `json:"totals"`
	Status         string          `json:"status"`
}

func encode(o *Order) ([]byte, error) {
	return json.Marshal(orderState{
		GuestToken:     o.GuestToken,
		IdempotencyKey: o.IdempotencyKey,
		Customer:       o.Customer,
		Address:        o.Address,
		Items:          o.Items,
		Totals:         o.Totals,
		Status:         o.Status,
	})
}

func decode(snap *cqrs.Snapshot) (*Order, error) {
	var state orderState
	if err := json.Unmarshal(snap.State, &state); err != nil {
		return nil, err
	}

	o := &Order{
		AggregateBase:  cqrs.NewAggregateBase(snap.AggregateID),
		GuestToken:     state.GuestToken,
		IdempotencyKey: state.IdempotencyKey,
		Customer:       state.Customer,
		Address:        state.Address,
		Items:          state.Items,
		Totals:         state.Totals,
		Status:         state.Status,
	}
	o.SetAggregateVersion(snap.Version)
	return o, nil
}

// NewRepository creates the order repository on the given store and bus.
func NewRepository(store cqrs.SnapshotStore, bus cqrs.EventBus, opts ...cqrs.RepositoryOption) *cqrs.Repository[*Order] {
	return cqrs.NewRepository(store, bus, AggregateType, encode, decode, opts...)
}
