package inventory

import (
	"sync"

	cqrs "github.com/commercekit/eventflow"
)

// SetStock sets the absolute on-hand quantity for a product.
type SetStock struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (c *SetStock) AggregateID() string { return c.ProductID }
func (c *SetStock) CommandType() string { return "SetStock" }

// ValidateStockBatch checks that every line of an order can be satisfied.
// Validation never mutates stock.
type ValidateStockBatch struct {
	OrderID string         `json:"orderId"`
	Items   map[string]int `json:"items"` // productID -> quantity
}

func (c *ValidateStockBatch) AggregateID() string { return c.OrderID }
func (c *ValidateStockBatch) CommandType() string { return "ValidateStockBatch" }

// DeductStockForOrder removes an order's quantities from stock,
// all-or-nothing across the order's lines.
type DeductStockForOrder struct {
	OrderID string         `json:"orderId"`
	Items   map[string]int `json:"items"` // productID -> quantity
}

func (c *DeductStockForOrder) AggregateID() string { return c.OrderID }
func (c *DeductStockForOrder) CommandType() string { return "DeductStockForOrder" }

// StockSet records an absolute stock level write.
type StockSet struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (e *StockSet) AggregateID() string   { return e.ProductID }
func (e *StockSet) AggregateType() string { return AggregateType }
func (e *StockSet) EventType() string     { return "StockSet" }

// StockBatchValidated reports whether an order's lines can all be satisfied.
type StockBatchValidated struct {
	OrderID       string `json:"orderId"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failureReason,omitempty"`
}

func (e *StockBatchValidated) AggregateID() string   { return e.OrderID }
func (e *StockBatchValidated) AggregateType() string { return AggregateType }
func (e *StockBatchValidated) EventType() string     { return "StockBatchValidated" }

// StockDeductedForOrder records one product's stock leaving for an order.
type StockDeductedForOrder struct {
	ProductID string `json:"productId"`
	OrderID   string `json:"orderId"`
	Quantity  int    `json:"quantity"`
	Remaining int    `json:"remaining"`
}

func (e *StockDeductedForOrder) AggregateID() string   { return e.ProductID }
func (e *StockDeductedForOrder) AggregateType() string { return AggregateType }
func (e *StockDeductedForOrder) EventType() string     { return "StockDeductedForOrder" }

// StockDeductionRejected reports that an order's deduction could not be
// applied. Any lines deducted before the failing one have been restored.
type StockDeductionRejected struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Reason    string `json:"reason"`
}

func (e *StockDeductionRejected) AggregateID() string   { return e.OrderID }
func (e *StockDeductionRejected) AggregateType() string { return AggregateType }
func (e *StockDeductionRejected) EventType() string     { return "StockDeductionRejected" }

var registerOnce sync.Once

// RegisterTypes registers the inventory wire types.
func RegisterTypes() {
	registerOnce.Do(func() {
		cqrs.RegisterEvent(func() cqrs.Event { return &StockSet{} })
		cqrs.RegisterEvent(func() cqrs.Event { return &StockBatchValidated{} })
		cqrs.RegisterEvent(func() cqrs.Event { return &StockDeductedForOrder{} })
		cqrs.RegisterEvent(func() cqrs.Event { return &StockDeductionRejected{} })

		cqrs.RegisterCommand(func() cqrs.Command { return &SetStock{} })
		cqrs.RegisterCommand(func() cqrs.Command { return &ValidateStockBatch{} })
		cqrs.RegisterCommand(func() cqrs.Command { return &DeductStockForOrder{} })
	})
}
