package cart

import (
	"context"
	"errors"
	"fmt"

	cqrs "github.com/commercekit/eventflow"
)

// Handlers consumes the cart command queue.
type Handlers struct {
	repo   *cqrs.Repository[*ShoppingCart]
	events cqrs.EventBus
}

// NewHandlers creates the cart command handlers.
func NewHandlers(repo *cqrs.Repository[*ShoppingCart], events cqrs.EventBus) *Handlers {
	return &Handlers{repo: repo, events: events}
}

// CommandProcessor returns the typed processor for the cart queue.
func (h *Handlers) CommandProcessor() *cqrs.CommandGroupProcessor {
	return cqrs.NewCommandGroupProcessor(
		cqrs.OnCommand(h.AddItem),
		cqrs.OnCommand(h.RemoveItem),
		cqrs.OnCommand(h.UpdateItemQty),
		cqrs.OnCommand(h.Clear),
		cqrs.OnCommand(h.ProvideSnapshot),
	)
}

// loadOrNew returns the stored cart for the token or a fresh one.
func (h *Handlers) loadOrNew(ctx context.Context, guestToken string) (*ShoppingCart, error) {
	c, err := h.repo.FindByID(ctx, guestToken)
	if err == nil {
		return c, nil
	}
	if errors.Is(err, cqrs.ErrNotFound) {
		return New(guestToken), nil
	}
	return nil, err
}

// AddItem handles AddCartItem.
func (h *Handlers) AddItem(ctx context.Context, cmd *AddCartItem) error {
	c, err := h.loadOrNew(ctx, cmd.GuestToken)
	if err != nil {
		return err
	}
	if err := c.AddItem(cmd.ProductID, cmd.Quantity); err != nil {
		return err
	}
	return h.repo.Save(ctx, c)
}

// RemoveItem handles RemoveCartItem.
func (h *Handlers) RemoveItem(ctx context.Context, cmd *RemoveCartItem) error {
	c, err := h.repo.FindByID(ctx, cmd.GuestToken)
	if err != nil {
		return err
	}
	if err := c.RemoveItem(cmd.ProductID); err != nil {
		return err
	}
	return h.repo.Save(ctx, c)
}

// UpdateItemQty handles UpdateCartItemQty.
func (h *Handlers) UpdateItemQty(ctx context.Context, cmd *UpdateCartItemQty) error {
	c, err := h.repo.FindByID(ctx, cmd.GuestToken)
	if err != nil {
		return err
	}
	if err := c.UpdateItemQty(cmd.ProductID, cmd.Quantity); err != nil {
		return err
	}
	return h.repo.Save(ctx, c)
}

// Clear handles ClearCart.
func (h *Handlers) Clear(ctx context.Context, cmd *ClearCart) error {
	c, err := h.loadOrNew(ctx, cmd.GuestToken)
	if err != nil {
		return err
	}
	c.Clear(cmd.OrderID)
	return h.repo.Save(ctx, c)
}

// ProvideSnapshot handles GetCartSnapshot. It mutates nothing: the cart's
// contents are published directly as an event carrying the requesting
// order's correlation id.
func (h *Handlers) ProvideSnapshot(ctx context.Context, cmd *GetCartSnapshot) error {
	c, err := h.repo.FindByID(ctx, cmd.GuestToken)
	if err != nil {
		return fmt.Errorf("snapshot for cart %q: %w", cmd.GuestToken, err)
	}

	items := make(map[string]int, len(c.Items))
	for id, qty := range c.Items {
		items[id] = qty
	}

	env := cqrs.NewEnvelope(&CartSnapshotProvided{
		GuestToken: cmd.GuestToken,
		OrderID:    cmd.OrderID,
		Items:      items,
	},
		cqrs.WithCorrelationID(cqrs.CorrelationIDFromContext(ctx)),
		cqrs.WithCausationID(cqrs.CommandIDFromContext(ctx)),
	)
	return h.events.Publish(ctx, env)
}
