package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Status is a student's pickup-lifecycle state for one roster day.
type Status string

const (
	StatusNotPicked Status = "not_picked"
	StatusPicked    Status = "picked"
	StatusArrived   Status = "arrived"
	StatusChecked   Status = "checked"
	StatusSkipped   Status = "skipped"
)

// Statuses lists every status in progress order.
var Statuses = []Status{StatusNotPicked, StatusPicked, StatusArrived, StatusChecked, StatusSkipped}

// Valid returns true when the status is a supported value.
func (s Status) Valid() bool {
	switch s {
	case StatusNotPicked, StatusPicked, StatusArrived, StatusChecked, StatusSkipped:
		return true
	default:
		return false
	}
}

// OrDefault maps the empty status to not_picked; a missing row means the student has not been picked.
func (s Status) OrDefault() Status {
	if s == "" {
		return StatusNotPicked
	}
	return s
}

// RosterStatusEntry is the single current-status row per (roster_date, student_id).
type RosterStatusEntry struct {
	RosterDate    string    `db:"roster_date" json:"roster_date"`
	StudentID     string    `db:"student_id" json:"student_id"`
	CurrentStatus Status    `db:"current_status" json:"current_status"`
	LastUpdate    time.Time `db:"last_update" json:"last_update"`
}

// LogEntry is one append-only transition record.
type LogEntry struct {
	ID         int64     `db:"id" json:"id"`
	RosterDate string    `db:"roster_date" json:"roster_date"`
	StudentID  string    `db:"student_id" json:"student_id"`
	Action     Status    `db:"action" json:"action"`
	At         time.Time `db:"at" json:"at"`
	Meta       LogMeta   `db:"meta" json:"meta"`
}

// LogMeta is the metadata carried with every transition.
type LogMeta struct {
	PrevStatus   Status     `json:"prev_status,omitempty"`
	PrevTime     *time.Time `json:"prev_time,omitempty"`
	PickupPerson string     `json:"pickup_person,omitempty"`
	Override     string     `json:"override,omitempty"`
	PickupTime   string     `json:"pickup_time,omitempty"`
	Source       string     `json:"source,omitempty"`
}

// Value stores the meta as JSONB.
func (m LogMeta) Value() (driver.Value, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal log meta: %w", err)
	}
	return payload, nil
}

// Scan reads JSONB meta.
func (m *LogMeta) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = LogMeta{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported log meta type %T", src)
	}
	if len(raw) == 0 {
		*m = LogMeta{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// ChangeEventType is the row operation reported by the change feed.
type ChangeEventType string

const (
	ChangeInsert ChangeEventType = "insert"
	ChangeUpdate ChangeEventType = "update"
	ChangeDelete ChangeEventType = "delete"
)

// ChangeEvent is one row-level change on roster_status.
type ChangeEvent struct {
	EventType     ChangeEventType `json:"event_type"`
	RosterDate    string          `json:"roster_date"`
	StudentID     string          `json:"student_id"`
	CurrentStatus Status          `json:"current_status"`
	LastUpdate    time.Time       `json:"last_update"`
}

// RosterRow is the per-student view shown to operators.
type RosterRow struct {
	Student    Student    `json:"student"`
	Status     Status     `json:"status"`
	DisplayAt  *time.Time `json:"display_at,omitempty"`
	PickedOnce bool       `json:"picked_once"`
}

// RosterSnapshot is the whole day as one client currently sees it.
type RosterSnapshot struct {
	RosterDate string      `json:"roster_date"`
	Rows       []RosterRow `json:"rows"`
	SyncedAt   *time.Time  `json:"synced_at,omitempty"`
}

// RosterChange is pushed to websocket clients after a local state change.
type RosterChange struct {
	RosterDate string     `json:"roster_date"`
	StudentID  string     `json:"student_id"`
	Status     Status     `json:"status"`
	DisplayAt  *time.Time `json:"display_at,omitempty"`
	PickedOnce bool       `json:"picked_once"`
	Origin     string     `json:"origin"`
}
