// Package realtime fans out the row changes of the records store to in-process subscribers.
package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core/collection"
)

var ErrClosed = errors.New("realtime hub closed")

// Hub is an in-process collection.ChangeStream fed through Publish.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]func(collection.ChangeEvent) // {collection: {id: fn}}
	nextID uint64
	closed bool
}

var (
	_ collection.ChangeStream = (*Hub)(nil)
	_ collection.Publisher    = (*Hub)(nil)
)

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]func(collection.ChangeEvent))}
}

type subscription struct {
	hub  *Hub
	coll string
	id   uint64
	once sync.Once
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() { s.hub.remove(s.coll, s.id) })
	return nil
}

// Subscribe calls fn with every change of coll until the subscription is cancelled or ctx is done.
func (h *Hub) Subscribe(ctx context.Context, coll string, fn func(collection.ChangeEvent)) (collection.Subscription, error) {
	err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(coll, "collection"),
	).Check()
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.New("nil change handler")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	id := h.nextID
	if h.subs[coll] == nil {
		h.subs[coll] = make(map[uint64]func(collection.ChangeEvent))
	}
	h.subs[coll][id] = fn
	h.mu.Unlock()

	sub := &subscription{hub: h, coll: coll, id: id}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			_ = sub.Unsubscribe()
		}()
	}
	return sub, nil
}

func (h *Hub) remove(coll string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[coll], id)
	if len(h.subs[coll]) == 0 {
		delete(h.subs, coll)
	}
}

// Publish delivers ev to the subscribers of its collection, synchronously and in subscription order.
func (h *Hub) Publish(ev collection.ChangeEvent) {
	h.mu.RLock()
	subs := h.subs[ev.Collection]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	fns := make([]func(collection.ChangeEvent), 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fns = append(fns, subs[id])
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		evCopy := ev
		evCopy.Record = ev.Record.Clone()
		fn(evCopy)
	}
}

// Subscribers returns the number of subscriptions to coll.
func (h *Hub) Subscribers(coll string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[coll])
}

// Close drops every subscription. Later subscriptions fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = make(map[string]map[uint64]func(collection.ChangeEvent))
}
