package eventflow

// Aggregate is the interface that all aggregates must implement. An aggregate
// is the unit of atomic state change: its version counts the number of
// successfully persisted mutations, and events raised since the last persist
// accumulate in the uncommitted list until the repository publishes them.
type Aggregate interface {

	// EntityID returns the unique identifier of the aggregate.
	EntityID() string

	// AggregateVersion returns the persisted version of the aggregate.
	// A version of 0 means the aggregate has never been saved.
	AggregateVersion() uint64

	// SetAggregateVersion sets the version of the aggregate.
	SetAggregateVersion(version uint64)

	// UncommittedEvents returns all the events that are currently uncommitted.
	UncommittedEvents() []Envelope

	// ClearUncommittedEvents clears all uncommitted events from the aggregate.
	ClearUncommittedEvents()

	// Raise appends a new event to the aggregate's uncommitted list.
	Raise(event Event, options ...EventOption)
}

// AggregateBase provides the identity, version and event bookkeeping shared by
// all aggregates. Embed it and call Raise after the in-memory state already
// reflects the change; events record facts, not intentions.
type AggregateBase struct {
	id     string
	v      uint64
	events []Envelope
}

// NewAggregateBase creates an aggregate base with version 0.
func NewAggregateBase(id string) *AggregateBase {
	return &AggregateBase{
		id:     id,
		events: make([]Envelope, 0),
	}
}

// EntityID implements the EntityID method of the Aggregate interface.
func (a *AggregateBase) EntityID() string {
	return a.id
}

// AggregateVersion implements the AggregateVersion method of the Aggregate interface.
func (a *AggregateBase) AggregateVersion() uint64 {
	return a.v
}

// SetAggregateVersion implements the SetAggregateVersion method of the Aggregate interface.
func (a *AggregateBase) SetAggregateVersion(v uint64) {
	a.v = v
}

// UncommittedEvents implements the UncommittedEvents method of the Aggregate interface.
func (a *AggregateBase) UncommittedEvents() []Envelope {
	return a.events
}

// ClearUncommittedEvents implements the ClearUncommittedEvents method of the Aggregate interface.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.events = nil
}

// Raise appends an event for later publication by the repository.
func (a *AggregateBase) Raise(event Event, options ...EventOption) {
	a.events = append(a.events, NewEnvelope(event, options...))
}
