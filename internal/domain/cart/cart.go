// Package cart implements the in-memory shopping cart of a storefront session.
//
// A Store owns an ordered list of entries keyed by product id. Quantities are
// always at least one: any operation that would bring a quantity to zero or
// below removes the entry instead. Every mutating call notifies subscribers
// with a Snapshot of the resulting state.
package cart

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

// Entry pairs a product with the quantity held in the cart.
type Entry struct {
	Product  product.Product
	Quantity int
}

// Subtotal returns quantity * price at full precision.
func (e Entry) Subtotal() decimal.Decimal {
	return e.Product.Price.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

// Snapshot is an immutable view of the cart taken right after a mutation.
type Snapshot struct {
	Entries []Entry
	Count   int
	Total   decimal.Decimal
}

// Listener receives a Snapshot after every mutation. Snapshots are delivered
// in mutation order with no Store lock held.
type Listener func(Snapshot)

// Store is the single owner of a session's cart state.
type Store struct {
	mu      sync.Mutex
	entries []Entry
	index   map[int]int // product id -> position in entries

	listeners   map[uint64]Listener
	nextID      uint64
	pending     []Snapshot
	dispatching bool
}

// NewStore returns an empty cart.
func NewStore() *Store {
	return &Store{
		index:     make(map[int]int),
		listeners: make(map[uint64]Listener),
	}
}

// AddToCart increments the quantity of p by one, appending a new entry when
// p is not in the cart yet.
func (s *Store) AddToCart(p product.Product) {
	if p.ID <= 0 {
		panic(fmt.Sprintf("cart: invalid product id %d", p.ID))
	}

	s.mu.Lock()
	if i, ok := s.index[p.ID]; ok {
		s.entries[i].Quantity++
	} else {
		s.index[p.ID] = len(s.entries)
		s.entries = append(s.entries, Entry{Product: p, Quantity: 1})
	}
	s.commit()
}

// RemoveFromCart drops the entry for productID. Absent ids are a no-op.
func (s *Store) RemoveFromCart(productID int) {
	s.mu.Lock()
	s.removeLocked(productID)
	s.commit()
}

// UpdateQuantity sets the quantity of productID. A quantity of zero or less
// removes the entry. Absent ids are a no-op.
func (s *Store) UpdateQuantity(productID, quantity int) {
	s.mu.Lock()
	if quantity <= 0 {
		s.removeLocked(productID)
	} else if i, ok := s.index[productID]; ok {
		s.entries[i].Quantity = quantity
	}
	s.commit()
}

// ClearCart empties the cart.
func (s *Store) ClearCart() {
	s.mu.Lock()
	s.entries = nil
	clear(s.index)
	s.commit()
}

// ItemsCount returns the sum of all quantities.
func (s *Store) ItemsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

// Total returns the sum of quantity * price over all entries, unrounded.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLocked()
}

// Items returns a copy of the entries in insertion order.
func (s *Store) Items() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Snapshot returns entries, count and total read under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for mutation notifications. The returned function
// removes the subscription and is safe to call more than once.
func (s *Store) Subscribe(fn Listener) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) removeLocked(productID int) {
	i, ok := s.index[productID]
	if !ok {
		return
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	delete(s.index, productID)
	for j := i; j < len(s.entries); j++ {
		s.index[s.entries[j].Product.ID] = j
	}
}

// commit must be called with mu held and releases it. Snapshots are queued
// and drained by whichever goroutine is not already dispatching, which keeps
// delivery ordered without holding mu while listeners run.
//
// A panicking listener propagates to the mutating caller. The mutation stays
// applied, snapshots not yet delivered are dropped and the next mutation
// dispatches again.
func (s *Store) commit() {
	s.pending = append(s.pending, s.snapshotLocked())
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	s.mu.Unlock()

	drained := false
	defer func() {
		if drained {
			return
		}
		s.mu.Lock()
		s.pending = nil
		s.dispatching = false
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.dispatching = false
			s.mu.Unlock()
			drained = true
			return
		}
		batch := s.pending
		s.pending = nil
		listeners := make([]Listener, 0, len(s.listeners))
		for _, id := range slices.Sorted(maps.Keys(s.listeners)) {
			listeners = append(listeners, s.listeners[id])
		}
		s.mu.Unlock()

		for _, snap := range batch {
			for _, fn := range listeners {
				fn(snap)
			}
		}
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Entries: slices.Clone(s.entries),
		Count:   s.countLocked(),
		Total:   s.totalLocked(),
	}
}

func (s *Store) countLocked() int {
	n := 0
	for _, e := range s.entries {
		n += e.Quantity
	}
	return n
}

func (s *Store) totalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.entries {
		total = total.Add(e.Subtotal())
	}
	return total
}
