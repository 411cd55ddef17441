// Package eventflow coordinates multi-step commerce workflows across bounded
// contexts that communicate only through asynchronous commands and events.
//
// The package provides the three tightly coupled pieces the workflow depends
// on: the aggregate persistence model (versioned entities, event capture,
// concurrency-checked save), the command/event bus contracts (typed
// envelopes, queue and topic routing, dead-lettering), and the building
// blocks the checkout saga uses to drive a cart through stock validation,
// deduction and order creation with idempotency under at-least-once delivery.
//
// Transports live in bus/, stores in store/, and the bounded contexts in
// cart, product, inventory, order and checkout.
package eventflow
