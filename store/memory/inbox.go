package memory

import (
	"context"
	"sync"

	cqrs "github.com/commercekit/eventflow"
)

// Inbox is an in-memory processed-command record. Suitable for tests and
// single-binary deployments; entries live until Close.
type Inbox struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewInbox creates an empty in-memory inbox.
func NewInbox() *Inbox {
	return &Inbox{seen: make(map[string]struct{})}
}

// Seen implements Inbox.Seen.
func (i *Inbox) Seen(ctx context.Context, consumer, commandID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.seen[consumer+"/"+commandID]
	return ok, nil
}

// Mark implements Inbox.Mark.
func (i *Inbox) Mark(ctx context.Context, consumer, commandID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen[consumer+"/"+commandID] = struct{}{}
	return nil
}

// Close implements Inbox.Close.
func (i *Inbox) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen = make(map[string]struct{})
	return nil
}

var _ cqrs.Inbox = (*Inbox)(nil)
