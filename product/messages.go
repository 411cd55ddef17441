package product

import (
	"sync"

	"github.com/shopspring/decimal"

	cqrs "github.com/commercekit/eventflow"
)

// CreateProduct adds a new product to the catalog.
type CreateProduct struct {
	ProductID string          `json:"productId"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Active    bool            `json:"active"`
}

func (c *CreateProduct) AggregateID() string { return c.ProductID }
func (c *CreateProduct) CommandType() string { return "CreateProduct" }

// GetProductSnapshots asks the catalog to broadcast details for the products
// in an order being checked out. It mutates nothing.
type GetProductSnapshots struct {
	OrderID    string   `json:"orderId"`
	ProductIDs []string `json:"productIds"`
}

// AggregateID keys on the order so all snapshot requests for one checkout
// land on the same shard.
func (c *GetProductSnapshots) AggregateID() string { return c.OrderID }
func (c *GetProductSnapshots) CommandType() string { return "GetProductSnapshots" }

// ProductCreated records a new catalog entry.
type ProductCreated struct {
	ProductID string          `json:"productId"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Active    bool            `json:"active"`
}

func (e *ProductCreated) AggregateID() string   { return e.ProductID }
func (e *ProductCreated) AggregateType() string { return AggregateType }
func (e *ProductCreated) EventType() string     { return "ProductCreated" }

// ProductSnapshotsProvided carries the product details requested for an order.
type ProductSnapshotsProvided struct {
	OrderID  string    `json:"orderId"`
	Products []Details `json:"products"`
}

func (e *ProductSnapshotsProvided) AggregateID() string   { return e.OrderID }
func (e *ProductSnapshotsProvided) AggregateType() string { return AggregateType }
func (e *ProductSnapshotsProvided) EventType() string     { return "ProductSnapshotsProvided" }

var registerOnce sync.Once

// RegisterTypes registers the product catalog wire types.
func RegisterTypes() {
	registerOnce.Do(func() {
		cqrs.RegisterEvent(func() cqrs.Event { return &ProductCreated{} })
		cqrs.RegisterEvent(func() cqrs.Event { return &ProductSnapshotsProvided{} })

		cqrs.RegisterCommand(func() cqrs.Command { return &CreateProduct{} })
		cqrs.RegisterCommand(func() cqrs.Command { return &GetProductSnapshots{} })
	})
}
