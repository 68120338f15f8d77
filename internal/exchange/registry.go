package exchange

import (
	"sync"

	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/position"
)

// Registry keeps the price and event subscriptions of a gateway and fans
// events out to them. Dispatch happens on the caller's goroutine.
type Registry struct {
	mu     sync.RWMutex
	nextID int
	prices map[int]priceSub
	events map[int]Handlers
}

type priceSub struct {
	symbols map[string]struct{}
	fn      TickHandler
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() { s.once.Do(s.cancel) }

func (r *Registry) init() {
	if r.prices == nil {
		r.prices = make(map[int]priceSub)
		r.events = make(map[int]Handlers)
	}
}

func (r *Registry) AddPrice(symbols []string, fn TickHandler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
	r.nextID++
	id := r.nextID
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	r.prices[id] = priceSub{symbols: set, fn: fn}
	return &subscription{cancel: func() {
		r.mu.Lock()
		delete(r.prices, id)
		r.mu.Unlock()
	}}
}

func (r *Registry) AddEvents(h Handlers) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
	r.nextID++
	id := r.nextID
	r.events[id] = h
	return &subscription{cancel: func() {
		r.mu.Lock()
		delete(r.events, id)
		r.mu.Unlock()
	}}
}

// Symbols returns every symbol with at least one price subscriber.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, sub := range r.prices {
		for s := range sub.symbols {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
	}
	return out
}

func (r *Registry) DispatchTick(t market.Tick) {
	r.mu.RLock()
	var fns []TickHandler
	for _, sub := range r.prices {
		if _, ok := sub.symbols[t.Symbol]; ok {
			fns = append(fns, sub.fn)
		}
	}
	r.mu.RUnlock()
	for _, fn := range fns {
		fn(t)
	}
}

func (r *Registry) handlers() []Handlers {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handlers, 0, len(r.events))
	for _, h := range r.events {
		out = append(out, h)
	}
	return out
}

func (r *Registry) dispatchPosition(p position.Position, pick func(Handlers) func(position.Position)) {
	for _, h := range r.handlers() {
		if fn := pick(h); fn != nil {
			fn(p)
		}
	}
}

func (r *Registry) DispatchOpened(p position.Position) {
	r.dispatchPosition(p, func(h Handlers) func(position.Position) { return h.OnPositionOpened })
}

func (r *Registry) DispatchUpdated(p position.Position) {
	r.dispatchPosition(p, func(h Handlers) func(position.Position) { return h.OnPositionUpdated })
}

func (r *Registry) DispatchRejected(p position.Position) {
	r.dispatchPosition(p, func(h Handlers) func(position.Position) { return h.OnPositionRejected })
}

func (r *Registry) DispatchClosed(p position.Position) {
	r.dispatchPosition(p, func(h Handlers) func(position.Position) { return h.OnPositionClosed })
}

func (r *Registry) DispatchBalance(b market.AccountBalance) {
	for _, h := range r.handlers() {
		if h.OnBalanceChanged != nil {
			h.OnBalanceChanged(b)
		}
	}
}

func (r *Registry) DispatchDisconnected() {
	for _, h := range r.handlers() {
		if h.OnDisconnected != nil {
			h.OnDisconnected()
		}
	}
}
