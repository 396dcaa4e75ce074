package models

import "time"

// Course is a catalog entry groups are sections of. Catalog authoring is
// owned by the curriculum system; this service only reads it.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	FacultyID string    `db:"faculty_id" json:"faculty_id"`
	Credits   int       `db:"credits" json:"credits"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
