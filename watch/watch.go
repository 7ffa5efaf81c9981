// Package watch fans task-change notifications out to live listeners. The
// payload names only which quadrants changed; listeners re-read the store for
// fresh data rather than trusting a pushed snapshot.
package watch

import (
	"sync"

	"quadrantd/domain"
)

const subscriberBuffer = 8

// Hub distributes quadrant-change events to any number of subscribers.
// TasksChanged never blocks: each subscriber has a delivery goroutine that
// merges the quadrants of commits its reader has not caught up with and
// hands the merged set over as soon as the reader drains.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	mu      sync.Mutex
	pending map[domain.Quadrant]struct{}

	kick chan struct{}
	done chan struct{}
	ch   chan []domain.Quadrant
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: map[int]*subscriber{}}
}

// Subscribe registers a listener. The returned channel carries the set of
// quadrants that changed since the listener last received. cancel removes
// the subscription and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe() (<-chan []domain.Quadrant, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	sub := &subscriber{
		pending: map[domain.Quadrant]struct{}{},
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		ch:      make(chan []domain.Quadrant, subscriberBuffer),
	}
	h.subs[id] = sub
	go sub.run()

	cancel := func() {
		h.mu.Lock()
		s, ok := h.subs[id]
		if ok {
			delete(h.subs, id)
		}
		h.mu.Unlock()
		if ok {
			close(s.done)
		}
	}
	return sub.ch, cancel
}

// TasksChanged tells every subscriber the given quadrants changed. It
// satisfies the service's notifier contract.
func (h *Hub) TasksChanged(quadrants ...domain.Quadrant) {
	if len(quadrants) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		sub.mu.Lock()
		for _, q := range quadrants {
			sub.pending[q] = struct{}{}
		}
		sub.mu.Unlock()
		select {
		case sub.kick <- struct{}{}:
		default:
		}
	}
}

// run drains the pending set into the subscriber's channel. The send blocks
// until the reader is ready, so quadrants accumulated during a burst still
// arrive once a slow reader catches up, even with no further commits.
func (s *subscriber) run() {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case <-s.kick:
		}
		for {
			batch := s.takeBatch()
			if batch == nil {
				break
			}
			select {
			case s.ch <- batch:
			case <-s.done:
				return
			}
		}
	}
}

func (s *subscriber) takeBatch() []domain.Quadrant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	batch := make([]domain.Quadrant, 0, len(s.pending))
	for _, q := range domain.Quadrants() {
		if _, ok := s.pending[q]; ok {
			batch = append(batch, q)
		}
	}
	s.pending = map[domain.Quadrant]struct{}{}
	return batch
}

// Subscribers reports the current listener count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
