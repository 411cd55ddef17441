package order

import (
	"context"
	"errors"

	cqrs "github.com/commercekit/eventflow"
)

// Handlers consumes the order management command queue.
type Handlers struct {
	repo   *cqrs.Repository[*Order]
	events cqrs.EventBus
	index  IdempotencyIndex
}

// NewHandlers creates the order command handlers.
func NewHandlers(repo *cqrs.Repository[*Order], events cqrs.EventBus, index IdempotencyIndex) *Handlers {
	return &Handlers{repo: repo, events: events, index: index}
}

// CommandProcessor returns the typed processor for the order queue.
func (h *Handlers) CommandProcessor() *cqrs.CommandGroupProcessor {
	return cqrs.NewCommandGroupProcessor(
		cqrs.OnCommand(h.Create),
		cqrs.OnCommand(h.CompleteCheckout),
	)
}

// Create handles CreateOrder. The idempotency key is claimed before the
// order is written. A redelivered or retried create whose key is already
// bound re-announces the original order instead of creating a second one,
// so a saga waiting on OrderCreated always gets its event.
func (h *Handlers) Create(ctx context.Context, cmd *CreateOrder) error {
	existingID, err := h.index.Get(ctx, cmd.IdempotencyKey)
	if err != nil && !errors.Is(err, cqrs.ErrNotFound) {
		return err
	}
	if err == nil {
		existing, err := h.repo.FindByID(ctx, existingID)
		if err != nil {
			return err
		}
		return h.announce(ctx, existing)
	}

	o, err := New(cmd.OrderID, cmd.GuestToken, cmd.IdempotencyKey, cmd.Customer, cmd.Address, cmd.Items)
	if err != nil {
		return err
	}

	if err := h.index.Put(ctx, cmd.IdempotencyKey, cmd.OrderID); err != nil {
		return err
	}
	return h.repo.Save(ctx, o)
}

// announce republishes OrderCreated for an already persisted order.
func (h *Handlers) announce(ctx context.Context, o *Order) error {
	env := cqrs.NewEnvelope(&OrderCreated{
		OrderID:        o.EntityID(),
		GuestToken:     o.GuestToken,
		IdempotencyKey: o.IdempotencyKey,
		Customer:       o.Customer,
		Address:        o.Address,
		Items:          o.Items,
		Totals:         o.Totals,
	},
		cqrs.WithCorrelationID(cqrs.CorrelationIDFromContext(ctx)),
		cqrs.WithCausationID(cqrs.CommandIDFromContext(ctx)),
	)
	return h.events.Publish(ctx, env)
}

// CompleteCheckout handles MarkCheckoutCompleted.
func (h *Handlers) CompleteCheckout(ctx context.Context, cmd *MarkCheckoutCompleted) error {
	o, err := h.repo.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if o.Status == StatusCompleted {
		return nil
	}

	o.MarkCheckoutCompleted()
	return h.repo.Save(ctx, o)
}
