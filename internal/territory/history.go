package territory

import (
	"fmt"
	"time"
)

// MoveType is the kind of tactical command a player issues.
type MoveType string

const (
	MoveAttack    MoveType = "attack"
	MoveDefend    MoveType = "defend"
	MoveReinforce MoveType = "reinforce"
	MoveTransfer  MoveType = "transfer"
)

// ParseMoveType validates a move type name.
func ParseMoveType(s string) (MoveType, error) {
	switch m := MoveType(s); m {
	case MoveAttack, MoveDefend, MoveReinforce, MoveTransfer:
		return m, nil
	}
	return "", &ValidationError{Field: "move_type", Reason: fmt.Sprintf("unknown move type %q", s)}
}

// TacticalMove is an accepted player command. Append-only.
type TacticalMove struct {
	ID                string    `json:"id"`
	Actor             Actor     `json:"actor"`
	ActivityID        string    `json:"activity_id,omitempty"`
	Type              MoveType  `json:"move_type"`
	FromEntityID      string    `json:"from_entity_id,omitempty"`
	ToEntityID        string    `json:"to_entity_id"`
	UnitsMoved        int64     `json:"units_moved"`
	DistanceAllocated float64   `json:"distance_allocated"`
	Success           bool      `json:"success"`
	HexagonsConquered int       `json:"hexagons_conquered"`
	WasCritical       bool      `json:"was_critical"`
	TurnedTide        bool      `json:"turned_tide"`
	CreatedAt         time.Time `json:"created_at"`
}

// ConquestRecord is one transfer of control. Append-only.
type ConquestRecord struct {
	ID             string        `json:"id"`
	EntityID       string        `json:"entity_id"`
	Previous       Actor         `json:"previous_controller"`
	New            Actor         `json:"new_controller"`
	BattleID       string        `json:"battle_id"`
	DecisiveMoveID string        `json:"decisive_move_id,omitempty"`
	BattleDuration time.Duration `json:"battle_duration"`
	Participants   int           `json:"participants"`
	UnitsExchanged int64         `json:"units_exchanged"`
	ConqueredAt    time.Time     `json:"conquered_at"`
}

// ContinentalBonus summarises control of a top-level entity's children.
type ContinentalBonus struct {
	EntityID          string    `json:"entity_id"`
	ChildCount        int       `json:"child_count"`
	ControlledCount   int       `json:"controlled_count"`
	Leader            Actor     `json:"leader"`
	ControlPercentage float64   `json:"control_percentage"`
	BonusRate         int64     `json:"bonus_rate"`
	LastFullControlBy Actor     `json:"last_full_control_by"`
	LastFullControlAt time.Time `json:"last_full_control_at"`
	ComputedAt        time.Time `json:"computed_at"`
}
