// Package roster holds one day's in-memory roster as a client sees it.
package roster

import (
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

// State is the status map and display-time map for a single roster date.
// It is not safe for concurrent use; the owning session mutates it from one goroutine.
type State struct {
	date       string
	students   map[string]models.Student
	order      []string
	status     map[string]models.Status
	displayAt  map[string]time.Time
	observed   map[string]models.Status
	pickedOnce map[string]struct{}
	syncedAt   time.Time
}

// New creates the state for date with the given active students.
func New(date string, students []models.Student) *State {
	s := &State{
		date:       date,
		status:     make(map[string]models.Status),
		displayAt:  make(map[string]time.Time),
		observed:   make(map[string]models.Status),
		pickedOnce: make(map[string]struct{}),
	}
	s.SetStudents(students)
	return s
}

// Date returns the roster_date key.
func (s *State) Date() string {
	return s.date
}

// SetStudents replaces the student list, ordered by name.
func (s *State) SetStudents(students []models.Student) {
	s.students = make(map[string]models.Student, len(students))
	s.order = s.order[:0]
	for _, st := range students {
		s.students[st.ID] = st
		s.order = append(s.order, st.ID)
	}
	sort.SliceStable(s.order, func(i, j int) bool {
		return strings.ToLower(s.students[s.order[i]].FullName) < strings.ToLower(s.students[s.order[j]].FullName)
	})
}

// Student looks up a student on today's roster.
func (s *State) Student(id string) (models.Student, bool) {
	st, ok := s.students[id]
	return st, ok
}

// Status returns the cached status, not_picked when nothing is recorded.
func (s *State) Status(id string) models.Status {
	return s.status[id].OrDefault()
}

// SetStatus records the current status. Moving to not_picked forgets the picked-once mark.
func (s *State) SetStatus(id string, status models.Status) {
	s.status[id] = status
	switch status {
	case models.StatusPicked:
		s.pickedOnce[id] = struct{}{}
	case models.StatusNotPicked:
		delete(s.pickedOnce, id)
	}
}

// DisplayAt returns the time shown next to the student's status.
func (s *State) DisplayAt(id string) (time.Time, bool) {
	t, ok := s.displayAt[id]
	return t, ok
}

// SetDisplayAt records the time shown next to the status.
func (s *State) SetDisplayAt(id string, at time.Time) {
	s.displayAt[id] = at.UTC()
}

// Observed returns the last status the sync layer saw for id.
func (s *State) Observed(id string) (models.Status, bool) {
	st, ok := s.observed[id]
	return st, ok
}

// Observe records status as the last one seen for id.
func (s *State) Observe(id string, status models.Status) {
	s.observed[id] = status
}

// ObservedIDs lists every student with an observed status.
func (s *State) ObservedIDs() []string {
	ids := make([]string, 0, len(s.observed))
	for id := range s.observed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PickedOnce reports whether the student was picked at least once today and not reset since.
func (s *State) PickedOnce(id string) bool {
	_, ok := s.pickedOnce[id]
	return ok
}

// MarkPickedOnce sets the picked-once flag without touching status.
func (s *State) MarkPickedOnce(id string) {
	s.pickedOnce[id] = struct{}{}
}

// ResetPickedOnce replaces the picked-once set. Students currently at not_picked are left out
// and students currently at picked are always kept.
func (s *State) ResetPickedOnce(ids []string) {
	s.pickedOnce = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if s.Status(id) != models.StatusNotPicked {
			s.pickedOnce[id] = struct{}{}
		}
	}
	for id, st := range s.status {
		if st == models.StatusPicked {
			s.pickedOnce[id] = struct{}{}
		}
	}
}

// MarkSynced records the time of the last full resync.
func (s *State) MarkSynced(at time.Time) {
	s.syncedAt = at.UTC()
}

// Row renders one student's view.
func (s *State) Row(id string) models.RosterRow {
	row := models.RosterRow{
		Student:    s.students[id],
		Status:     s.Status(id),
		PickedOnce: s.PickedOnce(id),
	}
	if row.Student.ID == "" {
		row.Student.ID = id
	}
	if at, ok := s.displayAt[id]; ok {
		at := at
		row.DisplayAt = &at
	}
	return row
}

// Change renders the websocket payload for one student.
func (s *State) Change(id, origin string) models.RosterChange {
	row := s.Row(id)
	return models.RosterChange{
		RosterDate: s.date,
		StudentID:  id,
		Status:     row.Status,
		DisplayAt:  row.DisplayAt,
		PickedOnce: row.PickedOnce,
		Origin:     origin,
	}
}

// Snapshot renders the whole day in roster order.
func (s *State) Snapshot() models.RosterSnapshot {
	snap := models.RosterSnapshot{RosterDate: s.date, Rows: make([]models.RosterRow, 0, len(s.order))}
	for _, id := range s.order {
		snap.Rows = append(snap.Rows, s.Row(id))
	}
	if !s.syncedAt.IsZero() {
		at := s.syncedAt
		snap.SyncedAt = &at
	}
	return snap
}
