package model

import "time"

// Instrument is static contract metadata, loaded once at startup and never
// mutated for the lifetime of a run.
type Instrument struct {
	OrderBookID        string
	Type               InstrumentType
	Exchange           string
	TickSize           float64
	RoundLot           int32 // minimum tradable increment, e.g. 100 shares
	ContractMultiplier float64
	MarginRate         float64
	UnderlyingSymbol   string
	ListedDate         time.Time
	DeListedDate       *time.Time // nil if still listed
}

// AccountType reports which bookkeeping rules this instrument settles under.
func (i Instrument) AccountType() AccountType {
	if i.Type == InstrumentFuture {
		return AccountFuture
	}
	return AccountStock
}

// IsDeListed reports whether the instrument has left its listed window as
// of asOf (the current trading date).
func (i Instrument) IsDeListed(asOf time.Time) bool {
	return i.DeListedDate != nil && !asOf.Before(*i.DeListedDate)
}

// IsListedOn reports whether asOf falls on the instrument's listing date —
// orders are rejected on listing day per the matcher's data-validity check.
func (i Instrument) IsListedOn(asOf time.Time) bool {
	return sameDate(i.ListedDate, asOf)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Universe is the immutable ordered set of instrument identifiers
// subscribed for a run. Order matters: it is the broker's tie-break order
// for simultaneous snapshots and is fixed for the run's lifetime.
type Universe struct {
	ids   []string
	index map[string]int
}

// NewUniverse builds an immutable ordered universe, de-duplicating while
// preserving first-seen order.
func NewUniverse(ids ...string) Universe {
	u := Universe{index: make(map[string]int, len(ids))}
	for _, id := range ids {
		if _, ok := u.index[id]; ok {
			continue
		}
		u.index[id] = len(u.ids)
		u.ids = append(u.ids, id)
	}
	return u
}

// IDs returns the universe's members in stable subscription order.
func (u Universe) IDs() []string {
	out := make([]string, len(u.ids))
	copy(out, u.ids)
	return out
}

// Contains reports whether id is a member of the universe.
func (u Universe) Contains(id string) bool {
	_, ok := u.index[id]
	return ok
}

// Rank returns id's position in subscription order, used to tie-break
// simultaneous market snapshots deterministically. ok is false if id is not
// a member.
func (u Universe) Rank(id string) (rank int, ok bool) {
	rank, ok = u.index[id]
	return
}

// Len returns the number of instruments in the universe.
func (u Universe) Len() int {
	return len(u.ids)
}
