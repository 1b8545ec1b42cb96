package models

import "time"

// Course is a teacher's published offering. Owned by the content service;
// the scheduling core reads it for ownership checks and notification text.
type Course struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	Subject   string    `db:"subject" json:"subject"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
