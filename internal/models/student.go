package models

import "time"

// Student represents an enrollable student.
type Student struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	FullName  string    `db:"full_name" json:"full_name"`
	FacultyID string    `db:"faculty_id" json:"faculty_id"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
