package world

import (
	"fmt"
	"sort"

	"github.com/talgya/territory/internal/territory"
)

// Tree is the geographic containment hierarchy: entities addressed by
// stable ids with parent/child links. Tree is not safe for concurrent
// mutation; the engine guards it.
type Tree struct {
	entities map[string]*territory.Entity
	children map[string][]string
}

// NewTree builds a tree from a flat entity list. Parents must be present
// and the parent graph must be acyclic with kinds strictly decreasing
// toward the leaves.
func NewTree(entities []*territory.Entity) (*Tree, error) {
	t := &Tree{
		entities: make(map[string]*territory.Entity, len(entities)),
		children: make(map[string][]string),
	}
	for _, e := range entities {
		if e.ID == "" {
			return nil, fmt.Errorf("entity with empty id")
		}
		if _, dup := t.entities[e.ID]; dup {
			return nil, fmt.Errorf("duplicate entity id %q", e.ID)
		}
		t.entities[e.ID] = e
	}
	for _, e := range entities {
		if e.ParentID == "" {
			continue
		}
		p, ok := t.entities[e.ParentID]
		if !ok {
			return nil, fmt.Errorf("entity %q: unknown parent %q", e.ID, e.ParentID)
		}
		if p.Kind <= e.Kind {
			return nil, fmt.Errorf("entity %q (%s) cannot sit under %q (%s)", e.ID, e.Kind, p.ID, p.Kind)
		}
		t.children[e.ParentID] = append(t.children[e.ParentID], e.ID)
	}
	for id := range t.children {
		sort.Strings(t.children[id])
	}
	return t, nil
}

// Get returns the entity with the given id, or nil.
func (t *Tree) Get(id string) *territory.Entity {
	return t.entities[id]
}

// Len returns the number of entities.
func (t *Tree) Len() int {
	return len(t.entities)
}

// Add inserts a new leaf under an existing parent.
func (t *Tree) Add(e *territory.Entity) error {
	if _, dup := t.entities[e.ID]; dup {
		return fmt.Errorf("duplicate entity id %q", e.ID)
	}
	if e.ParentID != "" {
		p, ok := t.entities[e.ParentID]
		if !ok {
			return fmt.Errorf("entity %q: unknown parent %q", e.ID, e.ParentID)
		}
		if p.Kind <= e.Kind {
			return fmt.Errorf("entity %q (%s) cannot sit under %q (%s)", e.ID, e.Kind, p.ID, p.Kind)
		}
		kids := append(t.children[e.ParentID], e.ID)
		sort.Strings(kids)
		t.children[e.ParentID] = kids
	}
	t.entities[e.ID] = e
	return nil
}

// Children returns the direct children of an entity in id order.
func (t *Tree) Children(id string) []string {
	return t.children[id]
}

// Ancestors returns the path from the entity's parent up to the root.
func (t *Tree) Ancestors(id string) []string {
	var out []string
	e := t.entities[id]
	for e != nil && e.ParentID != "" {
		out = append(out, e.ParentID)
		e = t.entities[e.ParentID]
	}
	return out
}

// DescendantCells returns every cell at or below the entity.
func (t *Tree) DescendantCells(id string) []string {
	e := t.entities[id]
	if e == nil {
		return nil
	}
	if e.Kind == territory.KindCell {
		return []string{id}
	}
	var out []string
	stack := append([]string(nil), t.children[id]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ce := t.entities[cur]
		if ce == nil {
			continue
		}
		if ce.Kind == territory.KindCell {
			out = append(out, cur)
			continue
		}
		stack = append(stack, t.children[cur]...)
	}
	return out
}

// Roots returns the top-level entities in id order.
func (t *Tree) Roots() []string {
	var out []string
	for id, e := range t.entities {
		if e.ParentID == "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// OfKind returns all entities of a kind in id order.
func (t *Tree) OfKind(k territory.Kind) []*territory.Entity {
	var out []*territory.Entity
	for _, e := range t.entities {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every entity in id order.
func (t *Tree) All() []*territory.Entity {
	out := make([]*territory.Entity, 0, len(t.entities))
	for _, e := range t.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// String returns a summary of the tree.
func (t *Tree) String() string {
	return fmt.Sprintf("Tree(entities=%d, roots=%d)", len(t.entities), len(t.Roots()))
}
