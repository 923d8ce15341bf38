package models

import (
	"time"

	"github.com/lib/pq"
)

// Student is an enrolled child as seen by the roster. Owned by the administrative side; read-only here.
type Student struct {
	ID              string         `db:"id" json:"id"`
	FullName        string         `db:"full_name" json:"full_name"`
	School          string         `db:"school" json:"school"`
	Room            string         `db:"room" json:"room"`
	ApprovedPickups pq.StringArray `db:"approved_pickups" json:"approved_pickups"`
	Active          bool           `db:"active" json:"active"`
	Program         string         `db:"program" json:"program"`
	Year            string         `db:"year" json:"year"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}
