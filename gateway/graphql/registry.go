package graphql

import (
	"context"
	"sync"
)

// operationRegistry tracks the cancellation handle of every live streaming
// operation on one connection, keyed by the client-chosen operation id.
//
// All mutations take the lock for the full read-modify-write so a stop can
// never race the insertion of the handle it is meant to cancel.
type operationRegistry struct {
	mu  sync.Mutex
	ops map[string]context.CancelFunc
}

func newOperationRegistry() *operationRegistry {
	return &operationRegistry{ops: make(map[string]context.CancelFunc)}
}

// add records the cancellation handle for id. If the id is already in use
// the previous handle is overwritten without being invoked and add reports
// the collision; the caller decides whether to log it.
func (r *operationRegistry) add(id string, cancel context.CancelFunc) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced = r.ops[id]
	r.ops[id] = cancel
	return replaced
}

// remove deletes the entry for id and returns its handle. The lookup and
// delete are one atomic step: at most one caller ever receives the handle,
// so cancellation happens exactly once.
func (r *operationRegistry) remove(id string) (context.CancelFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancel, ok := r.ops[id]
	if ok {
		delete(r.ops, id)
	}
	return cancel, ok
}

// cancelAll cancels and removes every live operation. Used on connection
// teardown.
func (r *operationRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, cancel := range r.ops {
		cancel()
		delete(r.ops, id)
	}
}

// size reports the number of live operations.
func (r *operationRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}
