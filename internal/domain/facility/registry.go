package facility

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownFacility  = errors.New("unknown facility")
	ErrDuplicateID      = errors.New("duplicate facility id")
	ErrNoFacilities     = errors.New("facility catalog is empty")
	ErrInvalidDay       = errors.New("day must be non-negative")
	ErrNegativeNeeds    = errors.New("needs must be non-negative")
	ErrReleaseUnderflow = errors.New("release exceeds allocated amount")
	ErrDayPruned        = errors.New("day is no longer tracked")
)

// Registry owns the capacity counters of every facility, one ledger per
// (facility, day). Ledgers are created on first use with nothing allocated,
// so each new day starts from full capacity.
//
// All check-and-commit operations on a ledger hold that ledger's mutex,
// which makes a reservation atomic across every resource kind and
// serializes concurrent reservations against the same facility-day.
// Ledger operations also hold mu for reading, so Prune never drops a
// ledger while a reservation against it is in flight.
type Registry struct {
	facilities []Facility
	index      map[string]int

	mu      sync.RWMutex
	ledgers map[ledgerKey]*ledger
	// prunedBefore is the lowest day still tracked. Days below it were
	// pruned and accept no further reservations.
	prunedBefore int
}

type ledgerKey struct {
	facility int
	day      int
}

type ledger struct {
	mu        sync.Mutex
	allocated Resources
}

// NewRegistry builds a registry from facilities in declaration order. The
// order is kept and defines the transfer candidate order.
func NewRegistry(facilities []Facility) (*Registry, error) {
	if len(facilities) == 0 {
		return nil, ErrNoFacilities
	}
	r := &Registry{
		facilities: make([]Facility, 0, len(facilities)),
		index:      make(map[string]int, len(facilities)),
		ledgers:    make(map[ledgerKey]*ledger),
	}
	for _, f := range facilities {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.index[f.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, f.ID)
		}
		r.index[f.ID] = len(r.facilities)
		r.facilities = append(r.facilities, f)
	}
	return r, nil
}

// Facilities returns a copy of the registered facilities in declaration order.
func (r *Registry) Facilities() []Facility {
	out := make([]Facility, len(r.facilities))
	copy(out, r.facilities)
	return out
}

// Lookup returns the facility registered under id.
func (r *Registry) Lookup(id string) (Facility, bool) {
	i, ok := r.index[id]
	if !ok {
		return Facility{}, false
	}
	return r.facilities[i], true
}

// withLedger runs fn on the ledger of (facility, day) while holding both
// the registry read lock and the ledger lock. A missing ledger is created
// when create is set; otherwise fn receives nil.
func (r *Registry) withLedger(facility, day int, create bool, fn func(l *ledger)) error {
	key := ledgerKey{facility: facility, day: day}

	r.mu.RLock()
	if day < r.prunedBefore {
		r.mu.RUnlock()
		return fmt.Errorf("%w: %d", ErrDayPruned, day)
	}
	if l, ok := r.ledgers[key]; ok {
		l.mu.Lock()
		fn(l)
		l.mu.Unlock()
		r.mu.RUnlock()
		return nil
	}
	r.mu.RUnlock()

	if !create {
		fn(nil)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if day < r.prunedBefore {
		return fmt.Errorf("%w: %d", ErrDayPruned, day)
	}
	l, ok := r.ledgers[key]
	if !ok {
		l = &ledger{}
		r.ledgers[key] = l
	}
	l.mu.Lock()
	fn(l)
	l.mu.Unlock()
	return nil
}

func (r *Registry) resolve(id string, day int, needs Resources) (int, error) {
	i, ok := r.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFacility, id)
	}
	if day < 0 {
		return 0, ErrInvalidDay
	}
	if !needs.NonNegative() {
		return 0, ErrNegativeNeeds
	}
	return i, nil
}

// TryReserve commits needs against the facility's ledger for day if, for
// every resource kind, allocated + needs stays within capacity. Otherwise
// nothing changes and false is returned. Running out of room is not an
// error; reserving against a pruned day is (ErrDayPruned).
func (r *Registry) TryReserve(id string, day int, needs Resources) (bool, error) {
	i, err := r.resolve(id, day, needs)
	if err != nil {
		return false, err
	}
	capacity := r.facilities[i].Capacity

	reserved := false
	err = r.withLedger(i, day, true, func(l *ledger) {
		if !l.allocated.HasRoomFor(needs, capacity) {
			return
		}
		l.allocated = l.allocated.Add(needs)
		reserved = true
	})
	return reserved, err
}

// Release gives back a reservation previously committed by TryReserve.
func (r *Registry) Release(id string, day int, needs Resources) error {
	i, err := r.resolve(id, day, needs)
	if err != nil {
		return err
	}
	var underflow bool
	err = r.withLedger(i, day, false, func(l *ledger) {
		if l == nil || !needs.Within(l.allocated) {
			underflow = !needs.IsZero()
			return
		}
		l.allocated = l.allocated.Sub(needs)
	})
	if err != nil {
		return err
	}
	if underflow {
		return fmt.Errorf("%w: %s day %d", ErrReleaseUnderflow, id, day)
	}
	return nil
}

// Usage reports capacity and consumption of one facility on one day. An
// untouched day reports nothing allocated; a pruned day is ErrDayPruned.
func (r *Registry) Usage(id string, day int) (Usage, error) {
	i, err := r.resolve(id, day, Resources{})
	if err != nil {
		return Usage{}, err
	}
	var allocated Resources
	err = r.withLedger(i, day, false, func(l *ledger) {
		if l != nil {
			allocated = l.allocated
		}
	})
	if err != nil {
		return Usage{}, err
	}
	return r.usage(i, day, allocated), nil
}

func (r *Registry) usage(i, day int, allocated Resources) Usage {
	capacity := r.facilities[i].Capacity
	return Usage{
		FacilityID: r.facilities[i].ID,
		Day:        day,
		Capacity:   capacity,
		Allocated:  allocated,
		Available:  capacity.Sub(allocated),
	}
}

// Snapshot returns the usage of every ledger that has been touched, ordered
// by facility declaration order then day. Each entry is read under its own
// lock, so the whole snapshot is only eventually consistent.
func (r *Registry) Snapshot() []Usage {
	r.mu.RLock()
	keys := make([]ledgerKey, 0, len(r.ledgers))
	ledgers := make([]*ledger, 0, len(r.ledgers))
	for k, l := range r.ledgers {
		keys = append(keys, k)
		ledgers = append(ledgers, l)
	}
	r.mu.RUnlock()

	out := make([]Usage, len(keys))
	for n, k := range keys {
		l := ledgers[n]
		l.mu.Lock()
		allocated := l.allocated
		l.mu.Unlock()
		out[n] = r.usage(k.facility, k.day, allocated)
	}
	sort.Slice(out, func(a, b int) bool {
		ia, ib := r.index[out[a].FacilityID], r.index[out[b].FacilityID]
		if ia != ib {
			return ia < ib
		}
		return out[a].Day < out[b].Day
	})
	return out
}

// Prune drops the ledgers of every day strictly before day and returns how
// many were removed. Pruned days stay closed: later reservations against
// them fail with ErrDayPruned instead of finding fresh capacity.
func (r *Registry) Prune(day int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if day > r.prunedBefore {
		r.prunedBefore = day
	}
	removed := 0
	for k := range r.ledgers {
		if k.day < day {
			delete(r.ledgers, k)
			removed++
		}
	}
	return removed
}
