// Package queue buffers incoming session requests on the provider side until
// one of them is accepted, rejected or expires.
package queue

import (
	"sync"
	"time"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
)

// Op names the mutation reported to observers.
type Op string

const (
	OpEnqueued Op = "enqueued"
	OpRemoved  Op = "removed"
	OpPurged   Op = "purged"
	OpEvicted  Op = "evicted"
)

// Change describes one mutation of the queue.
type Change struct {
	Op       Op
	Requests []domain.IncomingRequest
	Len      int
}

// Observer is called synchronously after every mutation, outside the lock.
type Observer func(Change)

// Queue is a FIFO of pending requests keyed by request id. Enqueuing an id
// that is already present is a no-op.
type Queue struct {
	mu        sync.Mutex
	order     []string
	byID      map[string]domain.IncomingRequest
	observers []Observer
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{byID: make(map[string]domain.IncomingRequest)}
}

// Observe registers fn for every future mutation.
func (q *Queue) Observe(fn Observer) {
	q.mu.Lock()
	q.observers = append(q.observers, fn)
	q.mu.Unlock()
}

// Enqueue appends req unless a request with the same id is queued. It reports
// whether the request was added.
func (q *Queue) Enqueue(req domain.IncomingRequest) bool {
	q.mu.Lock()
	if _, ok := q.byID[req.ID]; ok {
		q.mu.Unlock()
		return false
	}
	q.byID[req.ID] = req
	q.order = append(q.order, req.ID)
	change := Change{Op: OpEnqueued, Requests: []domain.IncomingRequest{req}, Len: len(q.order)}
	obs := q.observers
	q.mu.Unlock()

	notify(obs, change)
	return true
}

// Remove drops the request with id and returns it.
func (q *Queue) Remove(id string) (domain.IncomingRequest, bool) {
	q.mu.Lock()
	req, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return domain.IncomingRequest{}, false
	}
	q.removeLocked(id)
	change := Change{Op: OpRemoved, Requests: []domain.IncomingRequest{req}, Len: len(q.order)}
	obs := q.observers
	q.mu.Unlock()

	notify(obs, change)
	return req, true
}

// PurgeAll empties the queue and returns what it held, oldest first.
func (q *Queue) PurgeAll() []domain.IncomingRequest {
	q.mu.Lock()
	if len(q.order) == 0 {
		q.mu.Unlock()
		return nil
	}
	purged := q.snapshotLocked()
	q.order = nil
	q.byID = make(map[string]domain.IncomingRequest)
	obs := q.observers
	q.mu.Unlock()

	notify(obs, Change{Op: OpPurged, Requests: purged})
	return purged
}

// EvictStale removes requests that have waited longer than threshold at now.
// The backend's own expiry stays authoritative; this only trims the view.
func (q *Queue) EvictStale(now time.Time, threshold time.Duration) []domain.IncomingRequest {
	q.mu.Lock()
	var evicted []domain.IncomingRequest
	for _, id := range append([]string(nil), q.order...) {
		req := q.byID[id]
		if req.Waited(now) > threshold {
			evicted = append(evicted, req)
			q.removeLocked(id)
		}
	}
	if len(evicted) == 0 {
		q.mu.Unlock()
		return nil
	}
	change := Change{Op: OpEvicted, Requests: evicted, Len: len(q.order)}
	obs := q.observers
	q.mu.Unlock()

	notify(obs, change)
	return evicted
}

// Get returns the queued request with id.
func (q *Queue) Get(id string) (domain.IncomingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.byID[id]
	return req, ok
}

// List returns the queued requests, oldest first.
func (q *Queue) List() []domain.IncomingRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

func (q *Queue) removeLocked(id string) {
	delete(q.byID, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i:i], q.order[i+1:]...)
			return
		}
	}
}

func (q *Queue) snapshotLocked() []domain.IncomingRequest {
	out := make([]domain.IncomingRequest, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.byID[id])
	}
	return out
}

func notify(obs []Observer, c Change) {
	for _, fn := range obs {
		fn(c)
	}
}
