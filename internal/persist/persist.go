// Package persist implements the persistence helper: a registry of named
// objects that know how to serialize and restore their own state, snapshot
// to a key/value store.Provider on lifecycle events, and a content hash so
// an unchanged object is never rewritten.
package persist

import (
	"context"
	"crypto/sha256"
	"log"

	"github.com/quantreplay/backsim/internal/bus"
	"github.com/quantreplay/backsim/internal/model"
	"github.com/quantreplay/backsim/internal/store"
)

// Stateful is a named object a Helper can snapshot and restore.
type Stateful interface {
	GetState() ([]byte, error)
	SetState(data []byte) error
}

// Helper snapshots a registry of named Stateful objects to a store.Provider
// on lifecycle events, skipping unchanged state via a content hash, and
// restores them at startup.
type Helper struct {
	Store  store.Provider
	Logger *log.Logger

	registry map[string]Stateful
	lastHash map[string][32]byte
}

// NewHelper constructs a Helper backed by s.
func NewHelper(s store.Provider) *Helper {
	return &Helper{
		Store:    s,
		Logger:   log.New(log.Writer(), "[persist] ", log.LstdFlags|log.Lmicroseconds),
		registry: make(map[string]Stateful),
		lastHash: make(map[string][32]byte),
	}
}

// Register adds obj to the registry under name. Registering the same name
// twice replaces the prior entry.
func (h *Helper) Register(name string, obj Stateful) {
	h.registry[name] = obj
}

// RegisterHandlers wires PersistAll onto every lifecycle event the helper
// fires on in REAL_TIME mode: BEFORE_TRADING, AFTER_TRADING, BAR,
// SETTLEMENT, and DO_PERSIST. Registered via AddListener, so it runs after
// whatever primary handlers already subscribed to these events — the
// source's POST_ prefix on these subscriptions is just "runs last", which
// append ordering already gives us.
func (h *Helper) RegisterHandlers(b *bus.Bus) {
	persistFn := func(ctx context.Context, event *model.Event) error {
		if err := h.PersistAll(ctx); err != nil {
			h.Logger.Printf("persist on %s: %v", event.Type, err)
		}
		return nil
	}
	b.AddListener(model.EventBeforeTrading, persistFn)
	b.AddListener(model.EventAfterTrading, persistFn)
	b.AddListener(model.EventBar, persistFn)
	b.AddListener(model.EventSettlement, persistFn)
	b.AddListener(model.EventDoPersist, persistFn)
}

// PersistAll writes every registered object's state to the store, skipping
// any whose content hash is unchanged since the last successful write.
// A store failure for one object is logged and does not block the rest —
// PersistError is non-fatal, the next lifecycle event retries.
func (h *Helper) PersistAll(ctx context.Context) error {
	var first error
	for name, obj := range h.registry {
		data, err := obj.GetState()
		if err != nil {
			if first == nil {
				first = &model.PersistError{Key: name, Err: err}
			}
			continue
		}
		sum := sha256.Sum256(data)
		if prev, ok := h.lastHash[name]; ok && prev == sum {
			continue
		}
		if err := h.Store.Store(ctx, name, data); err != nil {
			h.Logger.Printf("persist %s: %v", name, &model.PersistError{Key: name, Err: err})
			continue
		}
		h.lastHash[name] = sum
	}
	return first
}

// RestoreAll loads and applies stored state for every registered object
// that has one, leaving objects with no stored key at their zero value.
func (h *Helper) RestoreAll(ctx context.Context) error {
	for name, obj := range h.registry {
		data, ok, err := h.Store.Load(ctx, name)
		if err != nil {
			return &model.PersistError{Key: name, Err: err}
		}
		if !ok {
			continue
		}
		if err := obj.SetState(data); err != nil {
			return &model.PersistError{Key: name, Err: err}
		}
		h.lastHash[name] = sha256.Sum256(data)
	}
	return nil
}
