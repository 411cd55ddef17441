package eventflow

// Topology names the routing surfaces of the system. Queue and destination
// names are configuration, not hard-coded strings, so tests can rewire the
// whole system onto an in-memory transport without touching handler code.
type Topology struct {
	ProductCatalogCommands string
	InventoryCommands      string
	CartCommands           string
	CheckoutCommands       string
	OrderCommands          string
	PaymentCommands        string

	ProductCatalogEvents string
	InventoryEvents      string
	CartEvents           string
	CheckoutEvents       string
	OrderEvents          string
	PaymentEvents        string

	// DeadLetter is the single holding destination for messages a consumer
	// could not process.
	DeadLetter string
}

// DefaultTopology returns the production queue and destination names.
func DefaultTopology() Topology {
	return Topology{
		ProductCatalogCommands: "product-catalog.commands",
		InventoryCommands:      "inventory.commands",
		CartCommands:           "cart.commands",
		CheckoutCommands:       "checkout.commands",
		OrderCommands:          "order-management.commands",
		PaymentCommands:        "payment.commands",

		ProductCatalogEvents: "product-catalog.events",
		InventoryEvents:      "inventory.events",
		CartEvents:           "cart.events",
		CheckoutEvents:       "checkout.events",
		OrderEvents:          "order-management.events",
		PaymentEvents:        "payment.events",

		DeadLetter: "commerce.dead-letter",
	}
}

// Message header keys carried with every published command and event. They
// serve routing and tracing, never payload content.
const (
	HeaderEventType     = "eventType"
	HeaderCommandType   = "commandType"
	HeaderAggregateType = "aggregateType"
	HeaderCorrelationID = "correlationId"
	HeaderCausationID   = "causationId"
	HeaderTenantID      = "tenantId"
)
