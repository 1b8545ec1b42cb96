package models

import "time"

// OccurrenceLock is a short-lived mutual-exclusion record guaranteeing
// at-most-once materialization of one recurring occurrence. The primary key
// (routine_id, slot_position, occurrence_at) makes acquisition an atomic
// unique-insert; the TTL only guards against rows leaked by crashes.
type OccurrenceLock struct {
	RoutineID    string    `db:"routine_id" json:"routine_id"`
	SlotPosition int       `db:"slot_position" json:"slot_position"`
	OccurrenceAt time.Time `db:"occurrence_at" json:"occurrence_at"`
	LockedAt     time.Time `db:"locked_at" json:"locked_at"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
}
