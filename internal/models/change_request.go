package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ChangeKind tags the two change-request payload shapes.
type ChangeKind string

const (
	ChangeKindOneOff ChangeKind = "oneoff"
	ChangeKindWeekly ChangeKind = "weekly"
)

// WeeklyOp is the slot operation carried by a weekly change request.
type WeeklyOp string

const (
	WeeklyOpAdd    WeeklyOp = "add"
	WeeklyOpUpdate WeeklyOp = "update"
	WeeklyOpRemove WeeklyOp = "remove"
)

// ChangeRequestStatus is derived from the response sets, never set directly:
// any rejection wins, otherwise empty pending means accepted.
type ChangeRequestStatus string

const (
	ChangeRequestStatusPending  ChangeRequestStatus = "pending"
	ChangeRequestStatusAccepted ChangeRequestStatus = "accepted"
	ChangeRequestStatusRejected ChangeRequestStatus = "rejected"
)

// SlotKey identifies an existing slot within a routine by weekday+time.
type SlotKey struct {
	Weekday int `json:"weekday"`
	Hour    int `json:"hour"`
	Minute  int `json:"minute"`
}

// SlotSpec carries new slot values for add/update operations.
type SlotSpec struct {
	Weekday         int `json:"weekday"`
	Hour            int `json:"hour"`
	Minute          int `json:"minute"`
	DurationMinutes int `json:"duration_minutes"`
}

// WeeklyChange is the payload of a weekly-recurrence edit.
// Target is required for update/remove; New for add/update.
type WeeklyChange struct {
	Op     WeeklyOp  `json:"op"`
	Target *SlotKey  `json:"target,omitempty"`
	New    *SlotSpec `json:"new,omitempty"`
}

// OneOffChange is the payload of an ad-hoc reschedule proposal on a schedule.
type OneOffChange struct {
	ProposedStart   time.Time `json:"proposed_start"`
	DurationMinutes int       `json:"duration_minutes"`
}

// ChangeRequest is the shared envelope for both workflows: a scope of
// students each responding once, with a tagged payload.
//
// Invariant: PendingBy, AcceptedBy and RejectedBy are pairwise disjoint and
// their union equals StudentIDs.
type ChangeRequest struct {
	ID         string              `db:"id" json:"id"`
	Kind       ChangeKind          `db:"kind" json:"kind"`
	RoutineID  *string             `db:"routine_id" json:"routine_id,omitempty"`
	ScheduleID *string             `db:"schedule_id" json:"schedule_id,omitempty"`
	CreatedBy  string              `db:"created_by" json:"created_by"`
	StudentIDs pq.StringArray      `db:"student_ids" json:"student_ids"`
	PendingBy  pq.StringArray      `db:"pending_by" json:"pending_by"`
	AcceptedBy pq.StringArray      `db:"accepted_by" json:"accepted_by"`
	RejectedBy pq.StringArray      `db:"rejected_by" json:"rejected_by"`
	Status     ChangeRequestStatus `db:"status" json:"status"`
	Payload    []byte              `db:"payload" json:"-"`
	CreatedAt  time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time           `db:"updated_at" json:"updated_at"`

	Weekly *WeeklyChange `db:"-" json:"weekly,omitempty"`
	OneOff *OneOffChange `db:"-" json:"oneoff,omitempty"`
}

// DeriveStatus recomputes the aggregate status from the response sets.
func (c *ChangeRequest) DeriveStatus() ChangeRequestStatus {
	if len(c.RejectedBy) > 0 {
		return ChangeRequestStatusRejected
	}
	if len(c.PendingBy) == 0 {
		return ChangeRequestStatusAccepted
	}
	return ChangeRequestStatusPending
}

// EncodePayload serialises the tagged payload into the Payload column.
func (c *ChangeRequest) EncodePayload() error {
	switch c.Kind {
	case ChangeKindWeekly:
		if c.Weekly == nil {
			return fmt.Errorf("weekly change request missing payload")
		}
		raw, err := json.Marshal(c.Weekly)
		if err != nil {
			return fmt.Errorf("encode weekly payload: %w", err)
		}
		c.Payload = raw
	case ChangeKindOneOff:
		if c.OneOff == nil {
			return fmt.Errorf("oneoff change request missing payload")
		}
		raw, err := json.Marshal(c.OneOff)
		if err != nil {
			return fmt.Errorf("encode oneoff payload: %w", err)
		}
		c.Payload = raw
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
	return nil
}

// DecodePayload populates the tagged payload from the Payload column.
func (c *ChangeRequest) DecodePayload() error {
	switch c.Kind {
	case ChangeKindWeekly:
		var w WeeklyChange
		if err := json.Unmarshal(c.Payload, &w); err != nil {
			return fmt.Errorf("decode weekly payload: %w", err)
		}
		c.Weekly = &w
	case ChangeKindOneOff:
		var o OneOffChange
		if err := json.Unmarshal(c.Payload, &o); err != nil {
			return fmt.Errorf("decode oneoff payload: %w", err)
		}
		c.OneOff = &o
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
	return nil
}
