package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// OccurrenceLockRepository claims recurring occurrences for exclusive
// processing via atomic unique-inserts.
type OccurrenceLockRepository struct {
	db *sqlx.DB
}

// NewOccurrenceLockRepository creates a new lock repository.
func NewOccurrenceLockRepository(db *sqlx.DB) *OccurrenceLockRepository {
	return &OccurrenceLockRepository{db: db}
}

// Acquire attempts to claim the (routine, slot, occurrence) key. False means
// another actor already processed this exact occurrence; the caller must
// skip, not retry. Locks are never released on success: the TTL is only a
// leak guard, and next week's occurrence has a different key.
func (r *OccurrenceLockRepository) Acquire(ctx context.Context, routineID string, slotPosition int, occurrenceAt time.Time, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	const query = `INSERT INTO occurrence_locks (routine_id, slot_position, occurrence_at, locked_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (routine_id, slot_position, occurrence_at) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, routineID, slotPosition, occurrenceAt, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("acquire occurrence lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire occurrence lock affected rows: %w", err)
	}
	return affected == 1, nil
}

// SweepExpired removes locks past their TTL. Run at the top of each tick.
func (r *OccurrenceLockRepository) SweepExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM occurrence_locks WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks affected rows: %w", err)
	}
	return removed, nil
}
