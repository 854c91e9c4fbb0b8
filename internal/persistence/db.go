// Package persistence stores territories, control state and the
// append-only logs in SQL. SQLite (modernc) is the default; PostgreSQL is
// used when configured.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/talgya/territory/internal/engine"
	"github.com/talgya/territory/internal/territory"
)

// DB wraps a SQL connection for territory state persistence.
type DB struct {
	conn   *sqlx.DB
	driver string
}

// Open opens or creates the database. driver is "sqlite" or "postgres";
// dsn is a file path for sqlite and a connection URL for postgres.
func Open(driver, dsn string) (*DB, error) {
	var (
		conn *sqlx.DB
		err  error
	)
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		if dsn != ":memory:" {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
		conn, err = sqlx.Open("sqlite", dsn)
		if err == nil {
			// One writer; also keeps an in-memory database on a single connection.
			conn.SetMaxOpenConns(1)
		}
	case "postgres":
		conn, err = sqlx.Open("postgres", dsn)
		if err == nil {
			conn.SetMaxOpenConns(50)
			conn.SetMaxIdleConns(25)
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn, driver: driver}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the SQL driver in use.
func (db *DB) Driver() string { return db.driver }

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind INTEGER NOT NULL,
			parent_id TEXT NOT NULL,
			special_type TEXT NOT NULL,
			defense_bonus DOUBLE PRECISION NOT NULL,
			production_rate BIGINT NOT NULL,
			is_capital INTEGER NOT NULL,
			boundary_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS control_records (
			entity_id TEXT PRIMARY KEY,
			controller TEXT NOT NULL,
			unit_strength BIGINT NOT NULL,
			bonus_units BIGINT NOT NULL,
			total_distance DOUBLE PRECISION NOT NULL,
			controlled_since BIGINT NOT NULL,
			days_controlled INTEGER NOT NULL,
			is_under_attack INTEGER NOT NULL,
			attack_strength BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contributions (
			entity_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			distance DOUBLE PRECISION NOT NULL,
			first_at BIGINT NOT NULL,
			last_at BIGINT NOT NULL,
			PRIMARY KEY (entity_id, actor)
		)`,
		`CREATE TABLE IF NOT EXISTS battles (
			entity_id TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			defender TEXT NOT NULL,
			attacker TEXT NOT NULL,
			total_cells INTEGER NOT NULL,
			defender_cells INTEGER NOT NULL,
			attacker_cells INTEGER NOT NULL,
			contested_cells INTEGER NOT NULL,
			status TEXT NOT NULL,
			progress DOUBLE PRECISION NOT NULL,
			started_at BIGINT NOT NULL,
			last_activity_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tactical_moves (
			id TEXT PRIMARY KEY,
			actor TEXT NOT NULL,
			activity_id TEXT NOT NULL,
			move_type TEXT NOT NULL,
			from_entity_id TEXT NOT NULL,
			to_entity_id TEXT NOT NULL,
			units_moved BIGINT NOT NULL,
			distance_allocated DOUBLE PRECISION NOT NULL,
			success INTEGER NOT NULL,
			hexagons_conquered INTEGER NOT NULL,
			was_critical INTEGER NOT NULL,
			turned_tide INTEGER NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conquest_history (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			previous_controller TEXT NOT NULL,
			new_controller TEXT NOT NULL,
			battle_id TEXT NOT NULL,
			decisive_move_id TEXT NOT NULL,
			battle_duration BIGINT NOT NULL,
			participants INTEGER NOT NULL,
			units_exchanged BIGINT NOT NULL,
			conquered_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS continental_bonus (
			entity_id TEXT PRIMARY KEY,
			child_count INTEGER NOT NULL,
			controlled_count INTEGER NOT NULL,
			leader TEXT NOT NULL,
			control_percentage DOUBLE PRECISION NOT NULL,
			bonus_rate BIGINT NOT NULL,
			last_full_control_by TEXT NOT NULL,
			last_full_control_at BIGINT NOT NULL,
			computed_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS actors (
			actor TEXT PRIMARY KEY,
			display_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS world_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_moves_created ON tactical_moves(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_moves_actor ON tactical_moves(actor)`,
		`CREATE INDEX IF NOT EXISTS idx_conquest_entity ON conquest_history(entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conquest_time ON conquest_history(conquered_at)`,
	}
	for _, s := range stmts {
		if _, err := db.conn.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// classify maps driver errors onto the engine's error kinds. Lost races
// become territory.ErrConflict so the engine retries the event.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %v", territory.ErrConflict, err)
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", territory.ErrConflict, err)
	}
	return err
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Apply writes one engine event in a single transaction.
func (db *DB) Apply(ctx context.Context, cs *engine.ChangeSet) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if err := db.apply(ctx, tx, cs); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

func (db *DB) apply(ctx context.Context, tx *sqlx.Tx, cs *engine.ChangeSet) error {
	for _, e := range cs.Entities {
		if err := db.upsertEntity(ctx, tx, e); err != nil {
			return fmt.Errorf("insert entity %s: %w", e.ID, err)
		}
	}
	for _, r := range cs.Records {
		_, err := tx.ExecContext(ctx, db.conn.Rebind(`INSERT INTO control_records
			(entity_id, controller, unit_strength, bonus_units, total_distance,
			 controlled_since, days_controlled, is_under_attack, attack_strength)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (entity_id) DO UPDATE SET
			 controller = excluded.controller,
			 unit_strength = excluded.unit_strength,
			 bonus_units = excluded.bonus_units,
			 total_distance = excluded.total_distance,
			 controlled_since = excluded.controlled_since,
			 days_controlled = excluded.days_controlled,
			 is_under_attack = excluded.is_under_attack,
			 attack_strength = excluded.attack_strength`),
			r.EntityID, r.Controller.Key(), r.UnitStrength, r.BonusUnits, r.TotalDistance,
			nanos(r.ControlledSince), r.DaysControlled, flag(r.IsUnderAttack), r.AttackStrength,
		)
		if err != nil {
			return fmt.Errorf("upsert record %s: %w", r.EntityID, err)
		}
	}
	for _, c := range cs.Contributions {
		_, err := tx.ExecContext(ctx, db.conn.Rebind(`INSERT INTO contributions
			(entity_id, actor, distance, first_at, last_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (entity_id, actor) DO UPDATE SET
			 distance = excluded.distance,
			 last_at = excluded.last_at`),
			c.EntityID, c.Actor.Key(), c.Distance, nanos(c.FirstAt), nanos(c.LastAt),
		)
		if err != nil {
			return fmt.Errorf("upsert contribution %s/%s: %w", c.EntityID, c.Actor, err)
		}
	}
	for _, b := range cs.Battles {
		_, err := tx.ExecContext(ctx, db.conn.Rebind(`INSERT INTO battles
			(entity_id, id, defender, attacker, total_cells, defender_cells, attacker_cells,
			 contested_cells, status, progress, started_at, last_activity_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (entity_id) DO UPDATE SET
			 id = excluded.id,
			 defender = excluded.defender,
			 attacker = excluded.attacker,
			 total_cells = excluded.total_cells,
			 defender_cells = excluded.defender_cells,
			 attacker_cells = excluded.attacker_cells,
			 contested_cells = excluded.contested_cells,
			 status = excluded.status,
			 progress = excluded.progress,
			 started_at = excluded.started_at,
			 last_activity_at = excluded.last_activity_at`),
			b.EntityID, b.ID, b.Defender.Key(), b.Attacker.Key(), b.TotalCells, b.DefenderCells,
			b.AttackerCells, b.ContestedCells, string(b.Status), b.Progress,
			nanos(b.StartedAt), nanos(b.LastActivityAt),
		)
		if err != nil {
			return fmt.Errorf("upsert battle %s: %w", b.EntityID, err)
		}
	}
	for _, id := range cs.ClosedBattles {
		if _, err := tx.ExecContext(ctx, db.conn.Rebind("DELETE FROM battles WHERE entity_id = ?"), id); err != nil {
			return fmt.Errorf("close battle %s: %w", id, err)
		}
	}
	for _, m := range cs.Moves {
		_, err := tx.ExecContext(ctx, db.conn.Rebind(`INSERT INTO tactical_moves
			(id, actor, activity_id, move_type, from_entity_id, to_entity_id, units_moved,
			 distance_allocated, success, hexagons_conquered, was_critical, turned_tide, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			m.ID, m.Actor.Key(), m.ActivityID, string(m.Type), m.FromEntityID, m.ToEntityID,
			m.UnitsMoved, m.DistanceAllocated, flag(m.Success), m.HexagonsConquered,
			flag(m.WasCritical), flag(m.TurnedTide), nanos(m.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert move %s: %w", m.ID, err)
		}
	}
	for _, h := range cs.Conquests {
		_, err := tx.ExecContext(ctx, db.conn.Rebind(`INSERT INTO conquest_history
			(id, entity_id, previous_controller, new_controller, battle_id, decisive_move_id,
			 battle_duration, participants, units_exchanged, conquered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			h.ID, h.EntityID, h.Previous.Key(), h.New.Key(), h.BattleID, h.DecisiveMoveID,
			int64(h.BattleDuration), h.Participants, h.UnitsExchanged, nanos(h.ConqueredAt),
		)
		if err != nil {
			return fmt.Errorf("insert conquest %s: %w", h.ID, err)
		}
	}
	for _, b := range cs.Bonuses {
		_, err := tx.ExecContext(ctx, db.conn.Rebind(`INSERT INTO continental_bonus
			(entity_id, child_count, controlled_count, leader, control_percentage, bonus_rate,
			 last_full_control_by, last_full_control_at, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (entity_id) DO UPDATE SET
			 child_count = excluded.child_count,
			 controlled_count = excluded.controlled_count,
			 leader = excluded.leader,
			 control_percentage = excluded.control_percentage,
			 bonus_rate = excluded.bonus_rate,
			 last_full_control_by = excluded.last_full_control_by,
			 last_full_control_at = excluded.last_full_control_at,
			 computed_at = excluded.computed_at`),
			b.EntityID, b.ChildCount, b.ControlledCount, b.Leader.Key(), b.ControlPercentage,
			b.BonusRate, b.LastFullControlBy.Key(), nanos(b.LastFullControlAt), nanos(b.ComputedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert bonus %s: %w", b.EntityID, err)
		}
	}
	if cs.TickDay != "" {
		if err := db.saveMeta(ctx, tx, MetaLastTickDay, cs.TickDay); err != nil {
			return fmt.Errorf("record tick day: %w", err)
		}
	}
	return nil
}

func (db *DB) upsertEntity(ctx context.Context, tx *sqlx.Tx, e *territory.Entity) error {
	boundary, err := json.Marshal(e.Boundary)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, db.conn.Rebind(`INSERT INTO entities
		(id, name, kind, parent_id, special_type, defense_bonus, production_rate, is_capital, boundary_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		e.ID, e.Name, int(e.Kind), e.ParentID, string(e.Special), e.DefenseBonus,
		e.ProductionRate, flag(e.IsCapital), string(boundary),
	)
	return err
}

// SaveEntities writes the territory tree. Existing entities are kept:
// topology is fixed once created.
func (db *DB) SaveEntities(ctx context.Context, entities []*territory.Entity) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entities {
		if err := db.upsertEntity(ctx, tx, e); err != nil {
			return fmt.Errorf("insert entity %s: %w", e.ID, err)
		}
	}
	slog.Info("territories saved", "entities", len(entities))
	return tx.Commit()
}

type entityRow struct {
	ID             string  `db:"id"`
	Name           string  `db:"name"`
	Kind           int     `db:"kind"`
	ParentID       string  `db:"parent_id"`
	Special        string  `db:"special_type"`
	DefenseBonus   float64 `db:"defense_bonus"`
	ProductionRate int64   `db:"production_rate"`
	IsCapital      int     `db:"is_capital"`
	Boundary       string  `db:"boundary_json"`
}

// LoadEntities returns every stored territory, cells included.
func (db *DB) LoadEntities(ctx context.Context) ([]*territory.Entity, error) {
	var rows []entityRow
	if err := db.conn.SelectContext(ctx, &rows, "SELECT * FROM entities ORDER BY id"); err != nil {
		return nil, err
	}
	out := make([]*territory.Entity, 0, len(rows))
	for _, r := range rows {
		e := &territory.Entity{
			ID:             r.ID,
			Name:           r.Name,
			Kind:           territory.Kind(r.Kind),
			ParentID:       r.ParentID,
			Special:        territory.SpecialType(r.Special),
			DefenseBonus:   r.DefenseBonus,
			ProductionRate: r.ProductionRate,
			IsCapital:      r.IsCapital != 0,
		}
		if err := json.Unmarshal([]byte(r.Boundary), &e.Boundary); err != nil {
			return nil, fmt.Errorf("entity %s boundary: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

type recordRow struct {
	EntityID        string  `db:"entity_id"`
	Controller      string  `db:"controller"`
	UnitStrength    int64   `db:"unit_strength"`
	BonusUnits      int64   `db:"bonus_units"`
	TotalDistance   float64 `db:"total_distance"`
	ControlledSince int64   `db:"controlled_since"`
	DaysControlled  int     `db:"days_controlled"`
	IsUnderAttack   int     `db:"is_under_attack"`
	AttackStrength  int64   `db:"attack_strength"`
}

type contributionRow struct {
	EntityID string  `db:"entity_id"`
	Actor    string  `db:"actor"`
	Distance float64 `db:"distance"`
	FirstAt  int64   `db:"first_at"`
	LastAt   int64   `db:"last_at"`
}

type battleRow struct {
	EntityID       string  `db:"entity_id"`
	ID             string  `db:"id"`
	Defender       string  `db:"defender"`
	Attacker       string  `db:"attacker"`
	TotalCells     int     `db:"total_cells"`
	DefenderCells  int     `db:"defender_cells"`
	AttackerCells  int     `db:"attacker_cells"`
	ContestedCells int     `db:"contested_cells"`
	Status         string  `db:"status"`
	Progress       float64 `db:"progress"`
	StartedAt      int64   `db:"started_at"`
	LastActivityAt int64   `db:"last_activity_at"`
}

type moveRow struct {
	ID                string  `db:"id"`
	Actor             string  `db:"actor"`
	ActivityID        string  `db:"activity_id"`
	Type              string  `db:"move_type"`
	FromEntityID      string  `db:"from_entity_id"`
	ToEntityID        string  `db:"to_entity_id"`
	UnitsMoved        int64   `db:"units_moved"`
	DistanceAllocated float64 `db:"distance_allocated"`
	Success           int     `db:"success"`
	HexagonsConquered int     `db:"hexagons_conquered"`
	WasCritical       int     `db:"was_critical"`
	TurnedTide        int     `db:"turned_tide"`
	CreatedAt         int64   `db:"created_at"`
}

type conquestRow struct {
	ID             string `db:"id"`
	EntityID       string `db:"entity_id"`
	Previous       string `db:"previous_controller"`
	New            string `db:"new_controller"`
	BattleID       string `db:"battle_id"`
	DecisiveMoveID string `db:"decisive_move_id"`
	BattleDuration int64  `db:"battle_duration"`
	Participants   int    `db:"participants"`
	UnitsExchanged int64  `db:"units_exchanged"`
	ConqueredAt    int64  `db:"conquered_at"`
}

type bonusRow struct {
	EntityID          string  `db:"entity_id"`
	ChildCount        int     `db:"child_count"`
	ControlledCount   int     `db:"controlled_count"`
	Leader            string  `db:"leader"`
	ControlPercentage float64 `db:"control_percentage"`
	BonusRate         int64   `db:"bonus_rate"`
	LastFullControlBy string  `db:"last_full_control_by"`
	LastFullControlAt int64   `db:"last_full_control_at"`
	ComputedAt        int64   `db:"computed_at"`
}

// actorParser remembers the first malformed actor key it meets.
type actorParser struct{ err error }

func (p *actorParser) parse(key string) territory.Actor {
	a, err := territory.ParseActor(key)
	if err != nil && p.err == nil {
		p.err = err
	}
	return a
}

// LoadState reads the control state and logs for engine.Restore.
func (db *DB) LoadState(ctx context.Context) (engine.State, error) {
	var st engine.State
	var p actorParser

	var records []recordRow
	if err := db.conn.SelectContext(ctx, &records, "SELECT * FROM control_records ORDER BY entity_id"); err != nil {
		return st, fmt.Errorf("load records: %w", err)
	}
	for _, r := range records {
		st.Records = append(st.Records, &territory.ControlRecord{
			EntityID:        r.EntityID,
			Controller:      p.parse(r.Controller),
			UnitStrength:    r.UnitStrength,
			BonusUnits:      r.BonusUnits,
			TotalDistance:   r.TotalDistance,
			ControlledSince: fromNanos(r.ControlledSince),
			DaysControlled:  r.DaysControlled,
			IsUnderAttack:   r.IsUnderAttack != 0,
			AttackStrength:  r.AttackStrength,
		})
	}

	var contribs []contributionRow
	if err := db.conn.SelectContext(ctx, &contribs, "SELECT * FROM contributions ORDER BY entity_id, actor"); err != nil {
		return st, fmt.Errorf("load contributions: %w", err)
	}
	for _, c := range contribs {
		st.Contributions = append(st.Contributions, territory.Contribution{
			EntityID: c.EntityID,
			Actor:    p.parse(c.Actor),
			Distance: c.Distance,
			FirstAt:  fromNanos(c.FirstAt),
			LastAt:   fromNanos(c.LastAt),
		})
	}

	var battles []battleRow
	if err := db.conn.SelectContext(ctx, &battles, "SELECT * FROM battles ORDER BY entity_id"); err != nil {
		return st, fmt.Errorf("load battles: %w", err)
	}
	for _, b := range battles {
		st.Battles = append(st.Battles, &territory.Battle{
			ID:             b.ID,
			EntityID:       b.EntityID,
			Defender:       p.parse(b.Defender),
			Attacker:       p.parse(b.Attacker),
			TotalCells:     b.TotalCells,
			DefenderCells:  b.DefenderCells,
			AttackerCells:  b.AttackerCells,
			ContestedCells: b.ContestedCells,
			Status:         territory.BattleStatus(b.Status),
			Progress:       b.Progress,
			StartedAt:      fromNanos(b.StartedAt),
			LastActivityAt: fromNanos(b.LastActivityAt),
		})
	}

	var moves []moveRow
	if err := db.conn.SelectContext(ctx, &moves, "SELECT * FROM tactical_moves ORDER BY created_at, id"); err != nil {
		return st, fmt.Errorf("load moves: %w", err)
	}
	for _, m := range moves {
		st.Moves = append(st.Moves, territory.TacticalMove{
			ID:                m.ID,
			Actor:             p.parse(m.Actor),
			ActivityID:        m.ActivityID,
			Type:              territory.MoveType(m.Type),
			FromEntityID:      m.FromEntityID,
			ToEntityID:        m.ToEntityID,
			UnitsMoved:        m.UnitsMoved,
			DistanceAllocated: m.DistanceAllocated,
			Success:           m.Success != 0,
			HexagonsConquered: m.HexagonsConquered,
			WasCritical:       m.WasCritical != 0,
			TurnedTide:        m.TurnedTide != 0,
			CreatedAt:         fromNanos(m.CreatedAt),
		})
	}

	var conquests []conquestRow
	if err := db.conn.SelectContext(ctx, &conquests, "SELECT * FROM conquest_history ORDER BY conquered_at, id"); err != nil {
		return st, fmt.Errorf("load conquests: %w", err)
	}
	for _, h := range conquests {
		st.Conquests = append(st.Conquests, territory.ConquestRecord{
			ID:             h.ID,
			EntityID:       h.EntityID,
			Previous:       p.parse(h.Previous),
			New:            p.parse(h.New),
			BattleID:       h.BattleID,
			DecisiveMoveID: h.DecisiveMoveID,
			BattleDuration: time.Duration(h.BattleDuration),
			Participants:   h.Participants,
			UnitsExchanged: h.UnitsExchanged,
			ConqueredAt:    fromNanos(h.ConqueredAt),
		})
	}

	var bonuses []bonusRow
	if err := db.conn.SelectContext(ctx, &bonuses, "SELECT * FROM continental_bonus ORDER BY entity_id"); err != nil {
		return st, fmt.Errorf("load bonuses: %w", err)
	}
	for _, b := range bonuses {
		st.Bonuses = append(st.Bonuses, &territory.ContinentalBonus{
			EntityID:          b.EntityID,
			ChildCount:        b.ChildCount,
			ControlledCount:   b.ControlledCount,
			Leader:            p.parse(b.Leader),
			ControlPercentage: b.ControlPercentage,
			BonusRate:         b.BonusRate,
			LastFullControlBy: p.parse(b.LastFullControlBy),
			LastFullControlAt: fromNanos(b.LastFullControlAt),
			ComputedAt:        fromNanos(b.ComputedAt),
		})
	}
	if p.err != nil {
		return st, fmt.Errorf("load state: %w", p.err)
	}
	day, err := db.GetMeta(MetaLastTickDay)
	if err != nil {
		return st, fmt.Errorf("load tick day: %w", err)
	}
	st.LastTickDay = day

	slog.Info("state loaded",
		"records", len(st.Records),
		"contributions", len(st.Contributions),
		"battles", len(st.Battles),
		"moves", len(st.Moves),
		"conquests", len(st.Conquests),
	)
	return st, nil
}

// MetaLastTickDay is the world_meta key holding the last day ticked. It is
// written in the same transaction as the tick.
const MetaLastTickDay = "last_tick_day"

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	return db.saveMeta(context.Background(), db.conn, key, value)
}

func (db *DB) saveMeta(ctx context.Context, ex sqlx.ExecerContext, key, value string) error {
	_, err := ex.ExecContext(ctx, db.conn.Rebind(`INSERT INTO world_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`),
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. A missing key returns "" and no error.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, db.conn.Rebind("SELECT value FROM world_meta WHERE key = ?"), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
