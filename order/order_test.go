package order

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cqrs "github.com/commercekit/eventflow"
	"github.com/commercekit/eventflow/fixtures"
	memstore "github.com/commercekit/eventflow/store/memory"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func line(productID, price string, qty int) LineItem {
	return LineItem{
		ProductID:   productID,
		SKU:         "SKU-" + productID,
		ProductName: "Product " + productID,
		UnitPrice:   money(price),
		Quantity:    qty,
	}
}

func TestComputeTotals_BelowFreeShipping(t *testing.T) {
	totals := ComputeTotals([]LineItem{line("P1", "10.00", 2)})

	assert.True(t, totals.Subtotal.Equal(money("20.00")), "subtotal %s", totals.Subtotal)
	assert.True(t, totals.ShippingFee.Equal(money("4.99")), "shipping %s", totals.ShippingFee)
	assert.True(t, totals.Tax.Equal(money("1.60")), "tax %s", totals.Tax)
	assert.True(t, totals.Total.Equal(money("26.59")), "total %s", totals.Total)
}

func TestComputeTotals_FreeShippingAtThreshold(t *testing.T) {
	totals := ComputeTotals([]LineItem{line("P1", "25.00", 2)})

	assert.True(t, totals.ShippingFee.IsZero(), "shipping %s", totals.ShippingFee)
	assert.True(t, totals.Tax.Equal(money("4.00")), "tax %s", totals.Tax)
	assert.True(t, totals.Total.Equal(money("54.00")), "total %s", totals.Total)
}

func TestComputeTotals_TaxRounding(t *testing.T) {
	// 3 * 3.33 = 9.99; 8% of 9.99 = 0.7992, rounded to 0.80.
	totals := ComputeTotals([]LineItem{line("P1", "3.33", 3)})

	assert.True(t, totals.Tax.Equal(money("0.80")), "tax %s", totals.Tax)
}

func TestNew_Validation(t *testing.T) {
	items := []LineItem{line("P1", "10.00", 1)}

	var invalid *cqrs.ValidationError
	_, err := New("", "G1", "K1", CustomerInfo{}, ShippingAddress{}, items)
	require.ErrorAs(t, err, &invalid)

	_, err = New("O1", "G1", "", CustomerInfo{}, ShippingAddress{}, items)
	require.ErrorAs(t, err, &invalid)

	_, err = New("O1", "G1", "K1", CustomerInfo{}, ShippingAddress{}, nil)
	require.ErrorAs(t, err, &invalid)
}

func TestMemoryIdempotencyIndex(t *testing.T) {
	idx := NewMemoryIdempotencyIndex()
	ctx := context.Background()

	_, err := idx.Get(ctx, "K1")
	require.ErrorIs(t, err, cqrs.ErrNotFound)

	require.NoError(t, idx.Put(ctx, "K1", "O1"))

	got, err := idx.Get(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, "O1", got)

	// Same pair again is fine; a different order id for a held key is not.
	require.NoError(t, idx.Put(ctx, "K1", "O1"))
	assert.Error(t, idx.Put(ctx, "K1", "O2"))
}

type orderWorld struct {
	handlers *Handlers
	bus      *fixtures.EventBusSpy
	repo     *cqrs.Repository[*Order]
}

func newWorld(t *testing.T) *orderWorld {
	t.Helper()
	store := memstore.NewSnapshotStore()
	bus := fixtures.NewEventBusSpy()
	repo := NewRepository(store, bus)
	return &orderWorld{
		handlers: NewHandlers(repo, bus, NewMemoryIdempotencyIndex()),
		bus:      bus,
		repo:     repo,
	}
}

func (w *orderWorld) process(t *testing.T, cmd cqrs.Command) error {
	t.Helper()
	return w.handlers.CommandProcessor().Process(context.Background(), cqrs.NewCommandEnvelope(cmd))
}

func createCmd(orderID string) *CreateOrder {
	return &CreateOrder{
		OrderID:        orderID,
		GuestToken:     "G1",
		IdempotencyKey: "K1",
		Customer:       CustomerInfo{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		Address:        ShippingAddress{AddressLine1: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701", Country: "US"},
		Items:          []LineItem{line("P1", "19.99", 2)},
	}
}

func TestCreate_PersistsOrderWithTotals(t *testing.T) {
	w := newWorld(t)

	require.NoError(t, w.process(t, createCmd("O1")))

	o, err := w.repo.FindByID(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, o.Status)
	assert.True(t, o.Totals.Subtotal.Equal(money("39.98")))

	require.Equal(t, []string{"OrderCreated"}, w.bus.PublishedTypes())
	created := w.bus.Published[0].Event.(*OrderCreated)
	assert.Equal(t, "K1", created.IdempotencyKey)
	assert.True(t, created.Totals.Total.Equal(o.Totals.Total))
}

func TestCreate_SameKeyReAnnouncesOriginal(t *testing.T) {
	w := newWorld(t)
	require.NoError(t, w.process(t, createCmd("O1")))

	// A retry under the same idempotency key proposes a different order id.
	retry := createCmd("O2")
	require.NoError(t, w.process(t, retry))

	_, err := w.repo.FindByID(context.Background(), "O2")
	assert.ErrorIs(t, err, cqrs.ErrNotFound, "the retry must not create a second order")

	require.Equal(t, []string{"OrderCreated", "OrderCreated"}, w.bus.PublishedTypes())
	reannounced := w.bus.Published[1].Event.(*OrderCreated)
	assert.Equal(t, "O1", reannounced.OrderID, "replay must announce the original order id")
}

func TestCompleteCheckout(t *testing.T) {
	w := newWorld(t)
	require.NoError(t, w.process(t, createCmd("O1")))

	require.NoError(t, w.process(t, &MarkCheckoutCompleted{OrderID: "O1"}))

	o, err := w.repo.FindByID(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, o.Status)

	completed := w.bus.Published[len(w.bus.Published)-1].Event.(*CheckoutCompleted)
	assert.Equal(t, "O1", completed.OrderID)
	assert.Equal(t, "K1", completed.IdempotencyKey)
}

func TestCompleteCheckout_Idempotent(t *testing.T) {
	w := newWorld(t)
	require.NoError(t, w.process(t, createCmd("O1")))
	require.NoError(t, w.process(t, &MarkCheckoutCompleted{OrderID: "O1"}))
	published := len(w.bus.Published)

	require.NoError(t, w.process(t, &MarkCheckoutCompleted{OrderID: "O1"}))

	assert.Len(t, w.bus.Published, published, "completing twice must not publish again")
}

func TestCompleteCheckout_MissingOrder(t *testing.T) {
	w := newWorld(t)

	err := w.process(t, &MarkCheckoutCompleted{OrderID: "ghost"})
	assert.ErrorIs(t, err, cqrs.ErrNotFound)
}
