package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	cqrs "github.com/commercekit/eventflow"
	"github.com/commercekit/eventflow/cart"
	"github.com/commercekit/eventflow/inventory"
	"github.com/commercekit/eventflow/order"
	"github.com/commercekit/eventflow/product"
)

// Saga drives one checkout per correlation id. It owns no aggregate: every
// effect goes out as a command to the context that owns the state, and every
// transition is triggered by an event observed on the bus.
//
// Compensation is forward-only: validation precedes deduction and deduction
// precedes order creation, so a rejection before the point of no return
// simply fails the instance. The single mutation that can strand state is a
// mid-order deduction race, which the inventory context itself restores.
type Saga struct {
	store    InstanceStore
	commands cqrs.CommandBus
	index    order.IdempotencyIndex
	topology cqrs.Topology
	logger   *slog.Logger
}

// NewSaga creates the checkout saga manager.
func NewSaga(store InstanceStore, commands cqrs.CommandBus, index order.IdempotencyIndex, topology cqrs.Topology, logger *slog.Logger) *Saga {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saga{
		store:    store,
		commands: commands,
		index:    index,
		topology: topology,
		logger:   logger,
	}
}

// CommandProcessor returns the typed processor for the checkout queue.
func (s *Saga) CommandProcessor() *cqrs.CommandGroupProcessor {
	return cqrs.NewCommandGroupProcessor(
		cqrs.OnCommand(s.HandlePlaceOrder),
	)
}

// EventProcessor returns the typed group handling every event the saga
// reacts to. Each handler matches on the envelope's correlation id; events
// for unknown or mismatched instances are ignored without a transition.
func (s *Saga) EventProcessor() *cqrs.EventGroupProcessor {
	return cqrs.NewEventGroupProcessor(
		cqrs.OnEvent(s.onCartSnapshot),
		cqrs.OnEvent(s.onProductSnapshots),
		cqrs.OnEvent(s.onStockValidated),
		cqrs.OnEvent(s.onStockDeducted),
		cqrs.OnEvent(s.onDeductionRejected),
		cqrs.OnEvent(s.onOrderCreated),
		cqrs.OnEvent(s.onCartCleared),
	)
}

// Status returns the instance for a correlation id or ErrNotFound. A
// rejected checkout reports StepFailed with its reason; an accepted but
// unfinished one reports its awaiting step. Success is never reported before
// StepCompleted.
func (s *Saga) Status(ctx context.Context, correlationID string) (*Instance, error) {
	return s.store.Load(ctx, correlationID)
}

// HandlePlaceOrder starts a checkout. The idempotency key is checked first:
// a key that already produced an order short-circuits the new instance to
// Completed with the original order id and no commands are issued.
func (s *Saga) HandlePlaceOrder(ctx context.Context, cmd *PlaceOrder) error {
	if cmd.GuestToken == "" {
		return &cqrs.ValidationError{Field: "guestToken", Reason: "must not be empty"}
	}
	if cmd.IdempotencyKey == "" {
		return &cqrs.ValidationError{Field: "idempotencyKey", Reason: "must not be empty"}
	}

	correlationID := cqrs.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = cqrs.CommandIDFromContext(ctx)
	}

	if existing, err := s.store.Load(ctx, correlationID); err == nil {
		// Redelivered PlaceOrder for a running instance is a no-op.
		s.logger.DebugContext(ctx, "checkout already running",
			"correlation", correlationID, "step", existing.Step)
		return nil
	} else if !errors.Is(err, cqrs.ErrNotFound) {
		return err
	}

	started := time.Now()
	inst := &Instance{
		CorrelationID:  correlationID,
		OrderID:        uuid.New().String(),
		GuestToken:     cmd.GuestToken,
		IdempotencyKey: cmd.IdempotencyKey,
		Customer:       cmd.Customer,
		Address:        cmd.Address,
		Step:           StepStarted,
		StartedAt:      started,
		UpdatedAt:      started,
	}

	orderID, err := s.index.Get(ctx, cmd.IdempotencyKey)
	if err == nil {
		inst.OrderID = orderID
		inst.Step = StepCompleted
		s.logger.InfoContext(ctx, "checkout short-circuited on idempotency key",
			"correlation", correlationID, "order", orderID)
		return s.store.Save(ctx, inst)
	}
	if !errors.Is(err, cqrs.ErrNotFound) {
		return err
	}

	inst.Step = StepAwaitingCartSnapshot
	if err := s.store.Save(ctx, inst); err != nil {
		return err
	}

	return s.issue(ctx, inst, s.topology.CartCommands, &cart.GetCartSnapshot{
		GuestToken: cmd.GuestToken,
		OrderID:    inst.OrderID,
	})
}

func (s *Saga) onCartSnapshot(ctx context.Context, ev *cart.CartSnapshotProvided) error {
	inst, ok, err := s.expect(ctx, StepAwaitingCartSnapshot)
	if err != nil || !ok {
		return err
	}

	if len(ev.Items) == 0 {
		return s.fail(ctx, inst, "cart is empty")
	}

	inst.Items = ev.Items
	inst.Step = StepAwaitingProductSnapshots
	if err := s.save(ctx, inst); err != nil {
		return err
	}

	return s.issue(ctx, inst, s.topology.ProductCatalogCommands, &product.GetProductSnapshots{
		OrderID:    inst.OrderID,
		ProductIDs: sortedProducts(inst.Items),
	})
}

func (s *Saga) onProductSnapshots(ctx context.Context, ev *product.ProductSnapshotsProvided) error {
	inst, ok, err := s.expect(ctx, StepAwaitingProductSnapshots)
	if err != nil || !ok {
		return err
	}

	inst.Products = make(map[string]product.Details, len(ev.Products))
	for _, d := range ev.Products {
		inst.Products[d.ProductID] = d
	}

	for _, productID := range sortedProducts(inst.Items) {
		d, known := inst.Products[productID]
		if !known {
			return s.fail(ctx, inst, fmt.Sprintf("product %q not found", productID))
		}
		if !d.Active {
			return s.fail(ctx, inst, fmt.Sprintf("product %q is unavailable", productID))
		}
	}

	inst.Step = StepAwaitingStockValidation
	if err := s.save(ctx, inst); err != nil {
		return err
	}

	return s.issue(ctx, inst, s.topology.InventoryCommands, &inventory.ValidateStockBatch{
		OrderID: inst.OrderID,
		Items:   inst.Items,
	})
}

func (s *Saga) onStockValidated(ctx context.Context, ev *inventory.StockBatchValidated) error {
	inst, ok, err := s.expect(ctx, StepAwaitingStockValidation)
	if err != nil || !ok {
		return err
	}

	if !ev.Success {
		reason := ev.FailureReason
		if reason == "" {
			reason = "insufficient stock"
		}
		return s.fail(ctx, inst, reason)
	}

	inst.Pending = make(map[string]int, len(inst.Items))
	for productID, qty := range inst.Items {
		inst.Pending[productID] = qty
	}
	inst.Step = StepAwaitingStockDeduction
	if err := s.save(ctx, inst); err != nil {
		return err
	}

	return s.issue(ctx, inst, s.topology.InventoryCommands, &inventory.DeductStockForOrder{
		OrderID: inst.OrderID,
		Items:   inst.Items,
	})
}

// onStockDeducted confirms one order line. The order's lines may confirm in
// any interleaving with other orders' events; the instance advances only
// when its own pending set drains.
func (s *Saga) onStockDeducted(ctx context.Context, ev *inventory.StockDeductedForOrder) error {
	inst, ok, err := s.expect(ctx, StepAwaitingStockDeduction)
	if err != nil || !ok {
		return err
	}
	if ev.OrderID != inst.OrderID {
		return nil
	}

	delete(inst.Pending, ev.ProductID)
	if len(inst.Pending) > 0 {
		return s.save(ctx, inst)
	}

	inst.Step = StepAwaitingOrderCreation
	if err := s.save(ctx, inst); err != nil {
		return err
	}

	return s.issue(ctx, inst, s.topology.OrderCommands, &order.CreateOrder{
		OrderID:        inst.OrderID,
		GuestToken:     inst.GuestToken,
		IdempotencyKey: inst.IdempotencyKey,
		Customer:       inst.Customer,
		Address:        inst.Address,
		Items:          s.lineItems(inst),
	})
}

func (s *Saga) onDeductionRejected(ctx context.Context, ev *inventory.StockDeductionRejected) error {
	inst, err := s.load(ctx)
	if err != nil || inst == nil {
		return err
	}
	if inst.Step.Terminal() || ev.OrderID != inst.OrderID {
		return nil
	}

	reason := ev.Reason
	if reason == "" {
		reason = "insufficient stock"
	}
	return s.fail(ctx, inst, reason)
}

func (s *Saga) onOrderCreated(ctx context.Context, ev *order.OrderCreated) error {
	inst, ok, err := s.expect(ctx, StepAwaitingOrderCreation)
	if err != nil || !ok {
		return err
	}
	if ev.IdempotencyKey != inst.IdempotencyKey {
		return nil
	}

	inst.Step = StepAwaitingCartClear
	if err := s.save(ctx, inst); err != nil {
		return err
	}

	return s.issue(ctx, inst, s.topology.CartCommands, &cart.ClearCart{
		GuestToken: inst.GuestToken,
		OrderID:    inst.OrderID,
	})
}

func (s *Saga) onCartCleared(ctx context.Context, ev *cart.CartCleared) error {
	inst, ok, err := s.expect(ctx, StepAwaitingCartClear)
	if err != nil || !ok {
		return err
	}
	if ev.OrderID != inst.OrderID {
		return nil
	}

	inst.Step = StepCompleted
	if err := s.save(ctx, inst); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "checkout completed",
		"correlation", inst.CorrelationID, "order", inst.OrderID)

	return s.issue(ctx, inst, s.topology.OrderCommands, &order.MarkCheckoutCompleted{
		OrderID: inst.OrderID,
	})
}

// load returns the instance for the event's correlation id, or nil when the
// event belongs to no known instance.
func (s *Saga) load(ctx context.Context) (*Instance, error) {
	correlationID := cqrs.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		return nil, nil
	}

	inst, err := s.store.Load(ctx, correlationID)
	if errors.Is(err, cqrs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// expect loads the instance and checks it awaits the given step. Anything
// else, including redelivery of an event already acted on, reports ok=false
// and the event is ignored.
func (s *Saga) expect(ctx context.Context, step Step) (*Instance, bool, error) {
	inst, err := s.load(ctx)
	if err != nil || inst == nil {
		return nil, false, err
	}
	if inst.Step != step {
		return nil, false, nil
	}
	return inst, true, nil
}

func (s *Saga) save(ctx context.Context, inst *Instance) error {
	inst.UpdatedAt = time.Now()
	return s.store.Save(ctx, inst)
}

func (s *Saga) fail(ctx context.Context, inst *Instance, reason string) error {
	inst.Step = StepFailed
	inst.FailureReason = reason
	if err := s.save(ctx, inst); err != nil {
		return err
	}

	s.logger.WarnContext(ctx, "checkout failed",
		"correlation", inst.CorrelationID, "order", inst.OrderID, "reason", reason)
	return nil
}

// issue publishes one command carrying the instance's correlation id, with
// the triggering message recorded as causation.
func (s *Saga) issue(ctx context.Context, inst *Instance, queue string, cmd cqrs.Command) error {
	causation := cqrs.EventIDFromContext(ctx).String()
	if causation == uuid.Nil.String() {
		causation = cqrs.CommandIDFromContext(ctx)
	}

	env := cqrs.NewCommandEnvelope(cmd,
		cqrs.WithCommandCorrelationID(inst.CorrelationID),
		cqrs.WithCommandCausationID(causation),
	)
	return s.commands.Publish(ctx, queue, env)
}

// lineItems prices the instance's cart lines from the product snapshots.
func (s *Saga) lineItems(inst *Instance) []order.LineItem {
	items := make([]order.LineItem, 0, len(inst.Items))
	for _, productID := range sortedProducts(inst.Items) {
		d := inst.Products[productID]
		items = append(items, order.LineItem{
			ProductID:   productID,
			SKU:         d.SKU,
			ProductName: d.Name,
			UnitPrice:   d.Price,
			Quantity:    inst.Items[productID],
		})
	}
	return items
}

func sortedProducts(items map[string]int) []string {
	out := make([]string, 0, len(items))
	for id := range items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
