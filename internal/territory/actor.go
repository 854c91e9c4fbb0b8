// Package territory defines the core records of the conquest game: actors,
// geographic entities, control records, battles and the append-only logs.
package territory

import (
	"fmt"
	"strings"
)

// ActorKind distinguishes the kinds of competitors that can hold territory.
type ActorKind string

const (
	ActorIndividual ActorKind = "individual"
	ActorTeam       ActorKind = "team"
	ActorCountry    ActorKind = "country"
)

// Valid reports whether k is one of the known actor kinds.
func (k ActorKind) Valid() bool {
	switch k {
	case ActorIndividual, ActorTeam, ActorCountry:
		return true
	}
	return false
}

// Actor identifies a competitor. The zero Actor means "nobody".
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
}

// IsZero reports whether the actor is unset.
func (a Actor) IsZero() bool {
	return a.Kind == "" && a.ID == ""
}

// Key returns the stable "kind:id" form used for storage and ordering.
func (a Actor) Key() string {
	if a.IsZero() {
		return ""
	}
	return string(a.Kind) + ":" + a.ID
}

func (a Actor) String() string {
	if a.IsZero() {
		return "neutral"
	}
	return a.Key()
}

// Validate checks that the actor can issue contributions.
func (a Actor) Validate() error {
	if !a.Kind.Valid() {
		return &ValidationError{Field: "actor.kind", Reason: fmt.Sprintf("unknown actor kind %q", a.Kind)}
	}
	if strings.TrimSpace(a.ID) == "" {
		return &ValidationError{Field: "actor.id", Reason: "required"}
	}
	return nil
}

// ParseActor reverses Actor.Key. The empty string parses to the zero Actor.
func ParseActor(key string) (Actor, error) {
	if key == "" {
		return Actor{}, nil
	}
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return Actor{}, &ValidationError{Field: "actor", Reason: fmt.Sprintf("malformed actor key %q", key)}
	}
	a := Actor{Kind: ActorKind(kind), ID: id}
	if err := a.Validate(); err != nil {
		return Actor{}, err
	}
	return a, nil
}
