package product

import (
	"context"
	"fmt"
	"sync"

	cqrs "github.com/commercekit/eventflow"
)

// SKUIndex maps stock-keeping units to product ids. Reserving a taken SKU
// for a different product fails, which is how the catalog enforces SKU
// uniqueness without scanning snapshots.
type SKUIndex interface {
	// Reserve claims the SKU for the product id. Reserving an already held
	// SKU succeeds only for the same product id.
	Reserve(ctx context.Context, sku, productID string) error
}

// MemorySKUIndex is an in-memory SKUIndex.
type MemorySKUIndex struct {
	mu   sync.Mutex
	skus map[string]string // sku -> productID
}

// NewMemorySKUIndex creates an empty in-memory SKU index.
func NewMemorySKUIndex() *MemorySKUIndex {
	return &MemorySKUIndex{skus: make(map[string]string)}
}

// Reserve implements SKUIndex.Reserve.
func (i *MemorySKUIndex) Reserve(ctx context.Context, sku, productID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if owner, taken := i.skus[sku]; taken && owner != productID {
		return &cqrs.BusinessRuleError{Code: "duplicate_sku",
			Reason: fmt.Sprintf("sku %q is already in use", sku)}
	}
	i.skus[sku] = productID
	return nil
}

// Handlers consumes the product catalog command queue.
type Handlers struct {
	repo   *cqrs.Repository[*Product]
	events cqrs.EventBus
	skus   SKUIndex
}

// NewHandlers creates the product catalog command handlers.
func NewHandlers(repo *cqrs.Repository[*Product], events cqrs.EventBus, skus SKUIndex) *Handlers {
	return &Handlers{repo: repo, events: events, skus: skus}
}

// CommandProcessor returns the typed processor for the catalog queue.
func (h *Handlers) CommandProcessor() *cqrs.CommandGroupProcessor {
	return cqrs.NewCommandGroupProcessor(
		cqrs.OnCommand(h.Create),
		cqrs.OnCommand(h.ProvideSnapshots),
	)
}

// Create handles CreateProduct. The SKU is reserved before the aggregate is
// written; a duplicate SKU fails with a BusinessRuleError and no mutation.
func (h *Handlers) Create(ctx context.Context, cmd *CreateProduct) error {
	exists, err := h.repo.Exists(ctx, cmd.ProductID)
	if err != nil {
		return err
	}
	if exists {
		// Redelivery of an applied create is a no-op.
		return nil
	}

	if err := h.skus.Reserve(ctx, cmd.SKU, cmd.ProductID); err != nil {
		return err
	}

	p, err := New(cmd.ProductID, cmd.SKU, cmd.Name, cmd.Price, cmd.Active)
	if err != nil {
		return err
	}
	return h.repo.Save(ctx, p)
}

// ProvideSnapshots handles GetProductSnapshots. Details for every requested
// product are published in a single event; an unknown product id fails the
// command so the message dead-letters instead of silently shorting the order.
func (h *Handlers) ProvideSnapshots(ctx context.Context, cmd *GetProductSnapshots) error {
	details := make([]Details, 0, len(cmd.ProductIDs))
	for _, id := range cmd.ProductIDs {
		p, err := h.repo.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("snapshot for product %q: %w", id, err)
		}
		details = append(details, p.Details())
	}

	env := cqrs.NewEnvelope(&ProductSnapshotsProvided{
		OrderID:  cmd.OrderID,
		Products: details,
	},
		cqrs.WithCorrelationID(cqrs.CorrelationIDFromContext(ctx)),
		cqrs.WithCausationID(cqrs.CommandIDFromContext(ctx)),
	)
	return h.events.Publish(ctx, env)
}
