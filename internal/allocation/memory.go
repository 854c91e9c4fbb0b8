// Package allocation implements the activity allocation ledger: the
// distance each recorded activity makes available for tactical moves,
// reserved while a move is applied and then committed or released.
package allocation

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/talgya/territory/internal/territory"
)

type slot struct {
	actor    territory.Actor
	activity string
}

// MemoryLedger keeps balances in process memory.
type MemoryLedger struct {
	mu    sync.Mutex
	avail map[slot]float64
	held  map[slot]float64
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		avail: make(map[slot]float64),
		held:  make(map[slot]float64),
	}
}

// Credit makes km of an activity available to its actor.
func (l *MemoryLedger) Credit(_ context.Context, actor territory.Actor, activityID string, km float64) error {
	if err := checkAmount(km); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.avail[slot{actor, activityID}] += km
	return nil
}

// Reserve holds km for a pending move.
func (l *MemoryLedger) Reserve(_ context.Context, actor territory.Actor, activityID string, km float64) error {
	if err := checkAmount(km); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := slot{actor, activityID}
	if l.avail[k]+1e-9 < km {
		return fmt.Errorf("%w: %.3f km requested, %.3f km available", territory.ErrInsufficientBudget, km, l.avail[k])
	}
	l.avail[k] = math.Max(0, l.avail[k]-km)
	l.held[k] += km
	return nil
}

// Commit spends a reservation.
func (l *MemoryLedger) Commit(_ context.Context, actor territory.Actor, activityID string, km float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := slot{actor, activityID}
	if l.held[k]+1e-9 < km {
		return fmt.Errorf("commit %.3f km: only %.3f km reserved", km, l.held[k])
	}
	l.held[k] = math.Max(0, l.held[k]-km)
	return nil
}

// Release returns a reservation to the available balance.
func (l *MemoryLedger) Release(_ context.Context, actor territory.Actor, activityID string, km float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := slot{actor, activityID}
	if l.held[k]+1e-9 < km {
		return fmt.Errorf("release %.3f km: only %.3f km reserved", km, l.held[k])
	}
	l.held[k] = math.Max(0, l.held[k]-km)
	l.avail[k] += km
	return nil
}

// Available returns the reservable balance of an activity.
func (l *MemoryLedger) Available(_ context.Context, actor territory.Actor, activityID string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.avail[slot{actor, activityID}], nil
}

func checkAmount(km float64) error {
	if math.IsNaN(km) || math.IsInf(km, 0) || km <= 0 {
		return &territory.ValidationError{Field: "distance", Reason: "must be a positive finite number"}
	}
	return nil
}
