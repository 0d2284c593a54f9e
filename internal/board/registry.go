package board

import (
	"fmt"
	"sync"
	"time"
)

// ReplaceResult summarises one registry swap.
type ReplaceResult struct {
	Generation uint64
	Added      int
	Carried    int
	Dropped    int
	Duplicates int

	// Escalated holds copies of unacknowledged queues that are critical now
	// but were not critical (or did not exist) before the swap.
	Escalated []Queue
}

// Registry is the authoritative set of current queues. It is replaced
// wholesale on each successful refresh; readers always see either the old or
// the new set, never a mix.
type Registry struct {
	mu     sync.RWMutex
	gen    uint64
	queues []Queue
	byID   map[string]int
	now    func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]int),
		now:  time.Now,
	}
}

// Replace swaps the registry to next, which must come from refresh gen.
// Acknowledgement and event history move over from the previous queue with
// the same key; keys missing from next are dropped. A generation older than
// the one already applied is refused with ErrStaleGeneration.
func (r *Registry) Replace(gen uint64, next []Queue) (ReplaceResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen < r.gen {
		return ReplaceResult{}, fmt.Errorf("replace with generation %d after %d: %w", gen, r.gen, ErrStaleGeneration)
	}

	prior := make(map[Key]*Queue, len(r.queues))
	for i := range r.queues {
		prior[r.queues[i].Key()] = &r.queues[i]
	}

	res := ReplaceResult{Generation: gen}
	queues := make([]Queue, 0, len(next))
	byID := make(map[string]int, len(next))
	seen := make(map[Key]struct{}, len(next))

	for i := range next {
		q := next[i].clone()
		k := q.Key()
		if _, dup := seen[k]; dup {
			res.Duplicates++
			continue
		}
		seen[k] = struct{}{}

		old, existed := prior[k]
		if existed {
			res.Carried++
			carryForward(&q, old)
		} else {
			res.Added++
		}

		if q.Severity == SeverityCritical && !q.Acknowledged && (!existed || old.Severity != SeverityCritical) {
			res.Escalated = append(res.Escalated, q.clone())
		}

		byID[q.ID] = len(queues)
		queues = append(queues, q)
	}

	for k := range prior {
		if _, ok := seen[k]; !ok {
			res.Dropped++
		}
	}

	r.gen = gen
	r.queues = queues
	r.byID = byID
	return res, nil
}

// carryForward moves ack state and history from old onto the fresh queue q.
func carryForward(q, old *Queue) {
	at := q.LastEventAt
	q.Acknowledged = old.Acknowledged
	q.Events = old.Events
	q.LastEventAt = old.LastEventAt

	if old.MessageCount != q.MessageCount {
		q.prependEvent(Event{Time: at, Message: fmt.Sprintf("Queue depth changed: %d -> %d messages", old.MessageCount, q.MessageCount)})
	}
	if old.Severity != q.Severity {
		q.prependEvent(Event{Time: at, Message: fmt.Sprintf("Severity changed: %s -> %s", old.Severity, q.Severity)})
	}
}

// ToggleAck flips the acknowledgement of queue id and logs it. It returns
// ErrNotFound when id is not part of the current registry, which happens
// when a refresh replaced the set after the caller captured the id.
func (r *Registry) ToggleAck(id string) (Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return Queue{}, fmt.Errorf("toggle ack %q: %w", id, ErrNotFound)
	}

	q := &r.queues[idx]
	q.Acknowledged = !q.Acknowledged
	msg := "Acknowledgement removed"
	if q.Acknowledged {
		msg = "Alert acknowledged"
	}
	q.prependEvent(Event{Time: r.now(), Message: msg})
	return q.clone(), nil
}

// Get returns a copy of queue id.
func (r *Registry) Get(id string) (Queue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return Queue{}, false
	}
	return r.queues[idx].clone(), true
}

// Snapshot returns copies of all queues in ingestion order.
func (r *Registry) Snapshot() []Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Queue, len(r.queues))
	for i := range r.queues {
		out[i] = r.queues[i].clone()
	}
	return out
}

// Len returns the number of live queues.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}

// Generation returns the generation of the applied refresh, 0 before the first.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}
