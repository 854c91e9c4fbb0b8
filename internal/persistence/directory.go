package persistence

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/talgya/territory/internal/territory"
)

// Directory serves actor display names from the actors table. Names are
// cached in memory; the engine asks for them while holding its read lock.
type Directory struct {
	db    *DB
	mu    sync.RWMutex
	names map[string]string
}

// Directory loads every stored display name.
func (db *DB) Directory(ctx context.Context) (*Directory, error) {
	var rows []struct {
		Actor string `db:"actor"`
		Name  string `db:"display_name"`
	}
	if err := db.conn.SelectContext(ctx, &rows, "SELECT actor, display_name FROM actors"); err != nil {
		return nil, fmt.Errorf("load actors: %w", err)
	}
	d := &Directory{db: db, names: make(map[string]string, len(rows))}
	for _, r := range rows {
		d.names[r.Actor] = r.Name
	}
	return d, nil
}

// DisplayName returns the stored name, or "" when the actor has none.
func (d *Directory) DisplayName(a territory.Actor) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.names[a.Key()]
}

// SetDisplayName stores a name. An empty name removes it.
func (d *Directory) SetDisplayName(ctx context.Context, a territory.Actor, name string) error {
	if err := a.Validate(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if len(name) > 64 {
		return &territory.ValidationError{Field: "name", Reason: "at most 64 characters"}
	}

	var err error
	if name == "" {
		_, err = d.db.conn.ExecContext(ctx, d.db.conn.Rebind("DELETE FROM actors WHERE actor = ?"), a.Key())
	} else {
		_, err = d.db.conn.ExecContext(ctx, d.db.conn.Rebind(`INSERT INTO actors (actor, display_name) VALUES (?, ?)
			ON CONFLICT (actor) DO UPDATE SET display_name = excluded.display_name`), a.Key(), name)
	}
	if err != nil {
		return classify(err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if name == "" {
		delete(d.names, a.Key())
	} else {
		d.names[a.Key()] = name
	}
	return nil
}
