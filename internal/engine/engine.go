// Package engine holds the authoritative control state of every territory
// and applies the events that change it: activity contributions, tactical
// moves, the daily production tick and repairs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/territory/internal/allocation"
	"github.com/talgya/territory/internal/control"
	"github.com/talgya/territory/internal/metrics"
	"github.com/talgya/territory/internal/territory"
	"github.com/talgya/territory/internal/world"
)

// GeoIndex maps coordinates to finest-level cells.
type GeoIndex interface {
	PointToCell(lat, lng float64, res int) (string, error)
	CellBoundary(id string) ([]territory.LatLng, error)
	CellNeighbors(id string) ([]string, error)
}

// Locator finds the deepest named entity containing a point.
type Locator interface {
	Locate(lat, lng float64) (string, bool)
}

// Allocator holds the distance budget that tactical moves spend.
type Allocator interface {
	Reserve(ctx context.Context, actor territory.Actor, activityID string, km float64) error
	Commit(ctx context.Context, actor territory.Actor, activityID string, km float64) error
	Release(ctx context.Context, actor territory.Actor, activityID string, km float64) error
}

// Funder is implemented by allocators that accept new budget. Contributions
// that carry an activity id credit their distance through it.
type Funder interface {
	Credit(ctx context.Context, actor territory.Actor, activityID string, km float64) error
}

// Store persists the changes of one event atomically. Apply returns an
// error wrapping territory.ErrConflict when the write lost a race.
type Store interface {
	Apply(ctx context.Context, cs *ChangeSet) error
}

// Directory resolves display names for actors.
type Directory interface {
	DisplayName(a territory.Actor) string
}

// Options configures an Engine. Zero fields take defaults.
type Options struct {
	Policy     control.Policy
	Geo        GeoIndex
	Resolution int
	Locator    Locator
	Allocator  Allocator
	Store      Store
	Directory  Directory
	Now        func() time.Time
}

// DefaultResolution is the cell resolution used when none is configured.
const DefaultResolution = 9

// Engine owns the in-memory control state.
type Engine struct {
	policy  control.Policy
	ledger  control.Ledger
	geo     GeoIndex
	res     int
	locator Locator
	alloc   Allocator
	store   Store
	dir     Directory
	now     func() time.Time

	gate  sync.RWMutex // events share it; the daily tick and repairs hold it exclusively
	locks *lockSet

	mu        sync.RWMutex
	tree      *world.Tree
	records   map[string]*territory.ControlRecord
	books     map[string]control.Book
	battles   map[string]*territory.Battle
	moves     []territory.TacticalMove
	conquests []territory.ConquestRecord
	bonuses   map[string]*territory.ContinentalBonus
	lastTick  string
	version   uint64

	qmu        sync.RWMutex
	quarantine map[string]string
	qversion   uint64

	bus *bus
}

// New creates an engine over a territory tree.
func New(tree *world.Tree, opts Options) (*Engine, error) {
	if tree == nil {
		return nil, fmt.Errorf("engine: nil tree")
	}
	if opts.Policy == (control.Policy{}) {
		opts.Policy = control.DefaultPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Geo == nil {
		opts.Geo = world.NewHexGrid()
	}
	if opts.Resolution == 0 {
		opts.Resolution = DefaultResolution
	}
	if opts.Locator == nil {
		opts.Locator = world.NewLocator(tree)
	}
	if opts.Allocator == nil {
		opts.Allocator = allocation.NewMemoryLedger()
	}
	if opts.Store == nil {
		opts.Store = nopStore{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		policy:     opts.Policy,
		ledger:     control.Ledger{Policy: opts.Policy},
		geo:        opts.Geo,
		res:        opts.Resolution,
		locator:    opts.Locator,
		alloc:      opts.Allocator,
		store:      opts.Store,
		dir:        opts.Directory,
		now:        opts.Now,
		locks:      newLockSet(),
		tree:       tree,
		records:    make(map[string]*territory.ControlRecord),
		books:      make(map[string]control.Book),
		battles:    make(map[string]*territory.Battle),
		bonuses:    make(map[string]*territory.ContinentalBonus),
		quarantine: make(map[string]string),
		bus:        newBus(),
	}, nil
}

// Policy returns the engine's control policy.
func (e *Engine) Policy() control.Policy { return e.policy }

// Version increases with every committed event and every change to the
// quarantine set.
func (e *Engine) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.versionLocked()
}

func (e *Engine) versionLocked() uint64 {
	e.qmu.RLock()
	defer e.qmu.RUnlock()
	return e.version + e.qversion
}

// LastTickDay returns the most recent day a daily tick committed, as
// YYYY-MM-DD.
func (e *Engine) LastTickDay() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastTick
}

// State is the persisted control state loaded at startup.
type State struct {
	Records       []*territory.ControlRecord
	Contributions []territory.Contribution
	Battles       []*territory.Battle
	Moves         []territory.TacticalMove
	Conquests     []territory.ConquestRecord
	Bonuses       []*territory.ContinentalBonus
	LastTickDay   string
}

// Restore replaces the in-memory state with a persisted one. Entities whose
// stored state breaks an invariant are quarantined rather than rejected.
func (e *Engine) Restore(st State) {
	e.gate.Lock()
	defer e.gate.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.records = make(map[string]*territory.ControlRecord, len(st.Records))
	e.books = make(map[string]control.Book)
	e.battles = make(map[string]*territory.Battle, len(st.Battles))
	e.bonuses = make(map[string]*territory.ContinentalBonus, len(st.Bonuses))

	for _, r := range st.Records {
		cp := *r
		e.records[r.EntityID] = &cp
		if e.tree.Get(r.EntityID) == nil {
			e.quarantineLocked(r.EntityID, "control record references a missing entity")
		}
	}
	for _, c := range st.Contributions {
		b := e.books[c.EntityID]
		if b == nil {
			b = make(control.Book)
			e.books[c.EntityID] = b
		}
		cp := c
		b[c.Actor] = &cp
	}
	for _, b := range st.Battles {
		cp := *b
		e.battles[b.EntityID] = &cp
		rec := e.records[b.EntityID]
		switch {
		case e.tree.Get(b.EntityID) == nil:
			e.quarantineLocked(b.EntityID, "battle references a missing entity")
		case rec == nil:
			e.quarantineLocked(b.EntityID, "battle without a control record")
		case rec.Controller != b.Defender:
			e.quarantineLocked(b.EntityID, fmt.Sprintf("battle defender %s is not the controller %s", b.Defender, rec.Controller))
		default:
			counts := e.countCells(b.EntityID, nil)
			if !e.policy.Contested(counts.ByController[b.Attacker], counts.Total) {
				e.quarantineLocked(b.EntityID, "battle without a contested fraction")
			}
		}
	}
	e.moves = append([]territory.TacticalMove(nil), st.Moves...)
	e.conquests = append([]territory.ConquestRecord(nil), st.Conquests...)
	for _, b := range st.Bonuses {
		cp := *b
		e.bonuses[b.EntityID] = &cp
	}
	e.lastTick = st.LastTickDay
	e.version++
	metrics.ActiveBattles.Set(float64(len(e.battles)))
	slog.Info("engine state restored",
		"records", len(e.records),
		"battles", len(e.battles),
		"moves", len(e.moves),
		"conquests", len(e.conquests),
		"quarantined", len(e.quarantine),
	)
}

// run applies one event under the locks of the given entity chain. A store
// conflict is retried once before surfacing as a transient error.
func (e *Engine) run(ctx context.Context, kind string, ids []string, fn func(*txn) error) (*txn, error) {
	e.gate.RLock()
	defer e.gate.RUnlock()
	unlock := e.locks.lock(ids)
	defer unlock()
	return e.retry(ctx, kind, fn)
}

// runExclusive applies an event with every other event excluded.
func (e *Engine) runExclusive(ctx context.Context, kind string, fn func(*txn) error) (*txn, error) {
	e.gate.Lock()
	defer e.gate.Unlock()
	return e.retry(ctx, kind, fn)
}

func (e *Engine) retry(ctx context.Context, kind string, fn func(*txn) error) (*txn, error) {
	start := time.Now()
	defer func() {
		metrics.EventDurationMs.WithLabelValues(kind).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()
	for attempt := 0; ; attempt++ {
		t, err := e.attempt(ctx, fn)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, territory.ErrConflict) {
			return nil, err
		}
		if attempt > 0 {
			return nil, fmt.Errorf("%w: %s: %v", territory.ErrTransient, kind, err)
		}
		metrics.ConflictRetries.Inc()
		slog.Warn("store conflict, retrying event", "kind", kind, "error", err)
	}
}

func (e *Engine) attempt(ctx context.Context, fn func(*txn) error) (*txn, error) {
	t := e.begin()
	e.mu.RLock()
	err := fn(t)
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	cs := t.changeSet()
	if !cs.Empty() {
		if err := e.store.Apply(ctx, cs); err != nil {
			return nil, err
		}
	}
	e.commit(t, cs)
	e.bus.publish(t.events...)
	return t, nil
}

// commit installs a persisted change set into memory.
func (e *Engine) commit(t *txn, cs *ChangeSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ent := range cs.Entities {
		if err := e.tree.Add(ent); err != nil {
			slog.Error("cell insert failed after persist", "entity", ent.ID, "error", err)
		}
	}
	for _, r := range cs.Records {
		e.records[r.EntityID] = r
	}
	for id, b := range t.books {
		e.books[id] = b
	}
	for _, b := range cs.Battles {
		e.battles[b.EntityID] = b
	}
	for _, id := range cs.ClosedBattles {
		delete(e.battles, id)
	}
	e.moves = append(e.moves, cs.Moves...)
	e.conquests = append(e.conquests, cs.Conquests...)
	for _, b := range cs.Bonuses {
		e.bonuses[b.EntityID] = b
	}
	if cs.TickDay > e.lastTick {
		e.lastTick = cs.TickDay
	}
	e.version++
	metrics.ActiveBattles.Set(float64(len(e.battles)))
}

// chain returns the entity followed by its ancestors, from the committed tree.
func (e *Engine) chain(id string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.tree.Get(id) == nil {
		return nil
	}
	return append([]string{id}, e.tree.Ancestors(id)...)
}

type nopStore struct{}

func (nopStore) Apply(context.Context, *ChangeSet) error { return nil }
