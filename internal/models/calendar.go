package models

import "time"

// SubmissionWindow is an administratively configured period during which
// change requests may be submitted. Windows are scoped per term; a request
// is accepted when the current date falls inside any open window.
type SubmissionWindow struct {
	ID        string    `db:"id" json:"id"`
	TermID    string    `db:"term_id" json:"term_id"`
	OpensAt   time.Time `db:"opens_at" json:"opens_at"`
	ClosesAt  time.Time `db:"closes_at" json:"closes_at"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Contains reports whether the instant falls inside the window.
func (w SubmissionWindow) Contains(at time.Time) bool {
	return !at.Before(w.OpensAt) && at.Before(w.ClosesAt)
}
