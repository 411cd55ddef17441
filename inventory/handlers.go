package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	cqrs "github.com/commercekit/eventflow"
)

// deductAttempts bounds the reload-and-retry loop a deduction runs when it
// loses a version race against a concurrent order.
const deductAttempts = 3

// Handlers consumes the inventory command queue.
type Handlers struct {
	repo   *cqrs.Repository[*InventoryItem]
	events cqrs.EventBus
}

// NewHandlers creates the inventory command handlers.
func NewHandlers(repo *cqrs.Repository[*InventoryItem], events cqrs.EventBus) *Handlers {
	return &Handlers{repo: repo, events: events}
}

// CommandProcessor returns the typed processor for the inventory queue.
func (h *Handlers) CommandProcessor() *cqrs.CommandGroupProcessor {
	return cqrs.NewCommandGroupProcessor(
		cqrs.OnCommand(h.Set),
		cqrs.OnCommand(h.ValidateBatch),
		cqrs.OnCommand(h.DeductForOrder),
	)
}

// Set handles SetStock, creating the inventory record on first write.
func (h *Handlers) Set(ctx context.Context, cmd *SetStock) error {
	item, err := h.repo.FindByID(ctx, cmd.ProductID)
	if errors.Is(err, cqrs.ErrNotFound) {
		item = New(cmd.ProductID)
	} else if err != nil {
		return err
	}

	if err := item.SetStock(cmd.Quantity); err != nil {
		return err
	}
	return h.repo.Save(ctx, item)
}

// ValidateBatch handles ValidateStockBatch. Every line is checked against
// current stock and a single verdict event is published. Nothing is mutated;
// a passing validation is a prediction, not a reservation.
func (h *Handlers) ValidateBatch(ctx context.Context, cmd *ValidateStockBatch) error {
	verdict := &StockBatchValidated{OrderID: cmd.OrderID, Success: true}

	for _, productID := range sortedProducts(cmd.Items) {
		quantity := cmd.Items[productID]

		item, err := h.repo.FindByID(ctx, productID)
		if errors.Is(err, cqrs.ErrNotFound) {
			verdict.Success = false
			verdict.FailureReason = "insufficient stock"
			break
		}
		if err != nil {
			return err
		}
		if quantity > item.Quantity {
			verdict.Success = false
			verdict.FailureReason = "insufficient stock"
			break
		}
	}

	return h.publish(ctx, verdict)
}

// DeductForOrder handles DeductStockForOrder. All lines are checked before
// any is written; when a write then loses a version race, the line is
// reloaded and retried. If a line still cannot be satisfied, the lines
// already deducted are restored and a rejection is published, keeping the
// deduction all-or-nothing per order.
func (h *Handlers) DeductForOrder(ctx context.Context, cmd *DeductStockForOrder) error {
	products := sortedProducts(cmd.Items)

	for _, productID := range products {
		item, err := h.repo.FindByID(ctx, productID)
		if errors.Is(err, cqrs.ErrNotFound) {
			return h.publish(ctx, &StockDeductionRejected{
				OrderID:   cmd.OrderID,
				ProductID: productID,
				Reason:    "insufficient stock",
			})
		}
		if err != nil {
			return err
		}
		if cmd.Items[productID] > item.Quantity {
			return h.publish(ctx, &StockDeductionRejected{
				OrderID:   cmd.OrderID,
				ProductID: productID,
				Reason:    "insufficient stock",
			})
		}
	}

	applied := make(map[string]int, len(products))
	for _, productID := range products {
		err := h.deductOne(ctx, cmd.OrderID, productID, cmd.Items[productID])
		if err == nil {
			applied[productID] = cmd.Items[productID]
			continue
		}

		var rule *cqrs.BusinessRuleError
		if errors.As(err, &rule) {
			if rerr := h.restore(ctx, applied); rerr != nil {
				return fmt.Errorf("restore after rejected deduction for order %q: %w", cmd.OrderID, rerr)
			}
			return h.publish(ctx, &StockDeductionRejected{
				OrderID:   cmd.OrderID,
				ProductID: productID,
				Reason:    "insufficient stock",
			})
		}
		return err
	}

	return nil
}

// deductOne applies one order line, reloading on version conflicts.
func (h *Handlers) deductOne(ctx context.Context, orderID, productID string, quantity int) error {
	var lastErr error
	for attempt := 0; attempt < deductAttempts; attempt++ {
		item, err := h.repo.FindByID(ctx, productID)
		if err != nil {
			return err
		}
		if err := item.DeductForOrder(orderID, quantity); err != nil {
			return err
		}
		err = h.repo.Save(ctx, item)
		if err == nil {
			return nil
		}

		var conflict *cqrs.ConcurrencyConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// restore re-adds already deducted lines after a mid-order rejection.
func (h *Handlers) restore(ctx context.Context, applied map[string]int) error {
	for _, productID := range sortedProducts(applied) {
		quantity := applied[productID]
		for attempt := 0; ; attempt++ {
			item, err := h.repo.FindByID(ctx, productID)
			if err != nil {
				return err
			}
			if err := item.SetStock(item.Quantity + quantity); err != nil {
				return err
			}
			err = h.repo.Save(ctx, item)
			if err == nil {
				break
			}

			var conflict *cqrs.ConcurrencyConflictError
			if !errors.As(err, &conflict) || attempt+1 >= deductAttempts {
				return err
			}
		}
	}
	return nil
}

func (h *Handlers) publish(ctx context.Context, event cqrs.Event) error {
	env := cqrs.NewEnvelope(event,
		cqrs.WithCorrelationID(cqrs.CorrelationIDFromContext(ctx)),
		cqrs.WithCausationID(cqrs.CommandIDFromContext(ctx)),
	)
	return h.events.Publish(ctx, env)
}

// sortedProducts returns the product ids in deterministic order so two
// concurrent orders touching the same products deduct in the same sequence.
func sortedProducts(items map[string]int) []string {
	out := make([]string, 0, len(items))
	for id := range items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
