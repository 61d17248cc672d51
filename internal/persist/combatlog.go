package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// HitEntry is one landed attack.
type HitEntry struct {
	Frame    int32   `json:"frame"`
	Victim   int     `json:"victim"`
	Attacker int     `json:"attacker"`
	Attack   string  `json:"attack"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Z        float32 `json:"z"`

	CreatedAt time.Time `json:"created_at,omitempty"` // set on read
}

// PresenceEntry records an avatar entering (Joined) or leaving the arena.
type PresenceEntry struct {
	Slot      int
	SessionID uint64
	Name      string
	Bot       bool
	Joined    bool
}

type CombatLogRepo struct {
	db       *DB
	serverID string
}

func NewCombatLogRepo(db *DB, serverID string) *CombatLogRepo {
	return &CombatLogRepo{db: db, serverID: serverID}
}

// WriteHits inserts a batch of hits in a single transaction.
func (r *CombatLogRepo) WriteHits(ctx context.Context, entries []HitEntry) error {
	if len(entries) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, e := range entries {
		b.Queue(`INSERT INTO combat_hits (server_id, frame, victim, attacker, attack, pos_x, pos_y, pos_z)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.serverID, e.Frame, e.Victim, e.Attacker, e.Attack, e.X, e.Y, e.Z)
	}
	if err := r.db.batchTx(ctx, b); err != nil {
		return fmt.Errorf("write hits: %w", err)
	}
	return nil
}

// WritePresence inserts a batch of join/leave records in a single transaction.
func (r *CombatLogRepo) WritePresence(ctx context.Context, entries []PresenceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, e := range entries {
		b.Queue(`INSERT INTO arena_presence (server_id, slot, session_id, name, bot, joined)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			r.serverID, e.Slot, int64(e.SessionID), e.Name, e.Bot, e.Joined)
	}
	if err := r.db.batchTx(ctx, b); err != nil {
		return fmt.Errorf("write presence: %w", err)
	}
	return nil
}

// RecentHits returns the newest hits for this server, newest first.
func (r *CombatLogRepo) RecentHits(ctx context.Context, limit int) ([]HitEntry, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT frame, victim, attacker, attack, pos_x, pos_y, pos_z, created_at
		 FROM combat_hits WHERE server_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		r.serverID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent hits: %w", err)
	}
	defer rows.Close()

	var out []HitEntry
	for rows.Next() {
		var e HitEntry
		var victim, attacker int16
		if err := rows.Scan(&e.Frame, &victim, &attacker, &e.Attack, &e.X, &e.Y, &e.Z, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("recent hits scan: %w", err)
		}
		e.Victim, e.Attacker = int(victim), int(attacker)
		out = append(out, e)
	}
	return out, rows.Err()
}
