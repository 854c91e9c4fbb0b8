package territory

import "time"

// ControlRecord is the single control state of an entity.
type ControlRecord struct {
	EntityID        string    `json:"entity_id"`
	Controller      Actor     `json:"controller"`
	UnitStrength    int64     `json:"unit_strength"`
	BonusUnits      int64     `json:"bonus_units"` // Production and conquest adjustments on top of distance
	TotalDistance   float64   `json:"total_distance"`
	ControlledSince time.Time `json:"controlled_since"`
	DaysControlled  int       `json:"days_controlled"`
	IsUnderAttack   bool      `json:"is_under_attack"`
	AttackStrength  int64     `json:"attack_strength"`
}

// Contribution is the cumulative distance one actor has put into one entity.
type Contribution struct {
	EntityID string    `json:"entity_id"`
	Actor    Actor     `json:"actor"`
	Distance float64   `json:"distance"`
	FirstAt  time.Time `json:"first_at"`
	LastAt   time.Time `json:"last_at"`
}
