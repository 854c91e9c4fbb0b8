package engine

import (
	"sync"
	"time"

	"github.com/talgya/territory/internal/territory"
)

// EventKind categorises engine notifications.
type EventKind string

const (
	EventControlChanged EventKind = "control_changed"
	EventBattleStarted  EventKind = "battle_started"
	EventBattleUpdated  EventKind = "battle_updated"
	EventBattleClosed   EventKind = "battle_closed"
	EventConquest       EventKind = "conquest"
	EventMove           EventKind = "move"
	EventDailyTick      EventKind = "daily_tick"
	EventInvariant      EventKind = "invariant_violation"
)

// Event is a notable change, published after its event has been persisted.
type Event struct {
	Time        time.Time       `json:"time"`
	Kind        EventKind       `json:"kind"`
	EntityID    string          `json:"entity_id,omitempty"`
	Actor       territory.Actor `json:"actor"`
	Description string          `json:"description"`
}

const (
	recentEvents  = 200
	subscriberBuf = 64
)

// bus fans events out to subscribers and keeps a ring of recent ones.
// Slow subscribers miss events rather than stall the engine.
type bus struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]chan Event
	recent []Event
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

func (b *bus) publish(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent = append(b.recent, evs...)
	if over := len(b.recent) - recentEvents; over > 0 {
		b.recent = append([]Event(nil), b.recent[over:]...)
	}
	for _, ch := range b.subs {
		for _, ev := range evs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Subscribe registers a listener. The channel is closed by Unsubscribe.
func (e *Engine) Subscribe() (int, <-chan Event) {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	id := e.bus.next
	e.bus.next++
	ch := make(chan Event, subscriberBuf)
	e.bus.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (e *Engine) Unsubscribe(id int) {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	if ch, ok := e.bus.subs[id]; ok {
		delete(e.bus.subs, id)
		close(ch)
	}
}

// RecentEvents returns up to n of the latest events, oldest first.
func (e *Engine) RecentEvents(n int) []Event {
	e.bus.mu.RLock()
	defer e.bus.mu.RUnlock()
	if n <= 0 || n > len(e.bus.recent) {
		n = len(e.bus.recent)
	}
	return append([]Event(nil), e.bus.recent[len(e.bus.recent)-n:]...)
}
