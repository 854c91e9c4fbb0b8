package territory

import "time"

// BattleStatus tracks which side is ahead in a contested entity.
type BattleStatus string

const (
	BattleOngoing         BattleStatus = "ongoing"
	BattleDefenderWinning BattleStatus = "defender_winning"
	BattleAttackerWinning BattleStatus = "attacker_winning"
	BattleConquered       BattleStatus = "conquered"
)

// Battle is the contest between the incumbent of an entity and its
// strongest challenger. At most one is active per entity.
type Battle struct {
	ID             string       `json:"id"`
	EntityID       string       `json:"entity_id"`
	Defender       Actor        `json:"defender"`
	Attacker       Actor        `json:"attacker"`
	TotalCells     int          `json:"total_cells"`
	DefenderCells  int          `json:"defender_cells"`
	AttackerCells  int          `json:"attacker_cells"`
	ContestedCells int          `json:"contested_cells"` // Held by neither side
	Status         BattleStatus `json:"status"`
	Progress       float64      `json:"conquest_progress"` // Attacker cell share, 0–100
	StartedAt      time.Time    `json:"started_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}
