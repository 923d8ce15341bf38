package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/pickup-roster-api/internal/models"
	"github.com/noah-isme/pickup-roster-api/internal/realtime"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type rosterStoreStub struct {
	mu    sync.Mutex
	clock *testClock

	students []models.Student
	rows     map[string]models.RosterStatusEntry
	log      []models.LogEntry

	procErr     error
	upsertErr   error
	appendErr   error
	listErr     error
	historyErr  error
	countErr    error
	prepareErr  error
	prepareRows int

	procCalls     int
	upsertCalls   int
	appendCalls   int
	earliestCalls int
	listCalls     int
	countCalls    int
	prepareCalls  int
}

func newRosterStoreStub(clock *testClock, students ...models.Student) *rosterStoreStub {
	return &rosterStoreStub{clock: clock, students: students, rows: make(map[string]models.RosterStatusEntry)}
}

func rowKey(date, id string) string {
	return date + "/" + id
}

func (s *rosterStoreStub) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procCalls + s.upsertCalls + s.appendCalls
}

func (s *rosterStoreStub) ListActive(ctx context.Context) ([]models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Student, len(s.students))
	copy(out, s.students)
	return out, nil
}

func (s *rosterStoreStub) ListByDate(ctx context.Context, rosterDate string) ([]models.RosterStatusEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.RosterStatusEntry
	for _, row := range s.rows {
		if row.RosterDate == rosterDate {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *rosterStoreStub) CountByDate(ctx context.Context, rosterDate string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	if s.countErr != nil {
		return 0, s.countErr
	}
	total := 0
	for _, row := range s.rows {
		if row.RosterDate == rosterDate {
			total++
		}
	}
	return total, nil
}

func (s *rosterStoreStub) Upsert(ctx context.Context, entry *models.RosterStatusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.rows[rowKey(entry.RosterDate, entry.StudentID)] = *entry
	return nil
}

func (s *rosterStoreStub) Append(ctx context.Context, entry *models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCalls++
	if s.appendErr != nil {
		return s.appendErr
	}
	entry.ID = int64(len(s.log) + 1)
	s.log = append(s.log, *entry)
	return nil
}

func (s *rosterStoreStub) EarliestAt(ctx context.Context, rosterDate, studentID string, action models.Status) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.earliestCalls++
	var earliest *time.Time
	for _, entry := range s.log {
		if entry.RosterDate != rosterDate || entry.StudentID != studentID || entry.Action != action {
			continue
		}
		if earliest == nil || entry.At.Before(*earliest) {
			at := entry.At
			earliest = &at
		}
	}
	return earliest, nil
}

func (s *rosterStoreStub) ListForStudent(ctx context.Context, rosterDate, studentID string) ([]models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	var out []models.LogEntry
	for _, entry := range s.log {
		if entry.RosterDate == rosterDate && entry.StudentID == studentID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *rosterStoreStub) PickedSinceReset(ctx context.Context, rosterDate string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pickedSinceReset(s.log, rosterDate), nil
}

// pickedSinceReset keeps students whose last picked entry follows their last not_picked entry.
func pickedSinceReset(log []models.LogEntry, rosterDate string) []string {
	lastPicked := make(map[string]int64)
	lastReset := make(map[string]int64)
	for _, entry := range log {
		if entry.RosterDate != rosterDate {
			continue
		}
		switch entry.Action {
		case models.StatusPicked:
			lastPicked[entry.StudentID] = entry.ID
		case models.StatusNotPicked:
			lastReset[entry.StudentID] = entry.ID
		}
	}
	var ids []string
	for id, at := range lastPicked {
		if at > lastReset[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SetStatus mimics set_roster_status: one upsert plus one log row stamped with the store clock.
func (s *rosterStoreStub) SetStatus(ctx context.Context, rosterDate, studentID string, status models.Status, meta models.LogMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procCalls++
	if s.procErr != nil {
		return s.procErr
	}
	if status == models.StatusChecked && meta.PickupPerson == "" {
		return errors.New("pickup_person required")
	}
	at := s.clock.Now().UTC()
	s.rows[rowKey(rosterDate, studentID)] = models.RosterStatusEntry{RosterDate: rosterDate, StudentID: studentID, CurrentStatus: status, LastUpdate: at}
	s.log = append(s.log, models.LogEntry{ID: int64(len(s.log) + 1), RosterDate: rosterDate, StudentID: studentID, Action: status, At: at, Meta: meta})
	return nil
}

func (s *rosterStoreStub) PrepareDay(ctx context.Context, rosterDate string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepareCalls++
	if s.prepareErr != nil {
		return 0, s.prepareErr
	}
	return s.prepareRows, nil
}

func (s *rosterStoreStub) logFor(studentID string) []models.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LogEntry
	for _, entry := range s.log {
		if entry.StudentID == studentID {
			out = append(out, entry)
		}
	}
	return out
}

func (s *rosterStoreStub) putRow(row models.RosterStatusEntry) {
	s.mu.Lock()
	s.rows[rowKey(row.RosterDate, row.StudentID)] = row
	s.mu.Unlock()
}

func (s *rosterStoreStub) deleteRow(date, id string) {
	s.mu.Lock()
	delete(s.rows, rowKey(date, id))
	s.mu.Unlock()
}

func (s *rosterStoreStub) calls() (list, count, prepare int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls, s.countCalls, s.prepareCalls
}

type skipPolicyStub struct {
	eligible map[string]bool
}

func (p skipPolicyStub) CanSkip(student models.Student) bool {
	return student.Active && p.eligible[student.ID]
}

type notifierStub struct {
	mu      sync.Mutex
	changes []models.RosterChange
}

func (n *notifierStub) Broadcast(change models.RosterChange) {
	n.mu.Lock()
	n.changes = append(n.changes, change)
	n.mu.Unlock()
}

func (n *notifierStub) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changes)
}

func (n *notifierStub) last() models.RosterChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.changes[len(n.changes)-1]
}

type subscriptionStub struct {
	messages  chan realtime.Message
	closeErr  error
	closeOnce sync.Once
	closed    chan struct{}
}

func newSubscriptionStub() *subscriptionStub {
	return &subscriptionStub{messages: make(chan realtime.Message, 8), closed: make(chan struct{})}
}

func (s *subscriptionStub) Messages() <-chan realtime.Message {
	return s.messages
}

func (s *subscriptionStub) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return s.closeErr
}

type feedStub struct {
	mu    sync.Mutex
	subs  []*subscriptionStub
	dates []string
	err   error
}

func (f *feedStub) Subscribe(ctx context.Context, rosterDate string) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := newSubscriptionStub()
	f.subs = append(f.subs, sub)
	f.dates = append(f.dates, rosterDate)
	return sub, nil
}

func (f *feedStub) sub(i int) *subscriptionStub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func (f *feedStub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type markerStoreStub struct {
	mu      sync.Mutex
	values  map[string]interface{}
	getErr  error
	setErr  error
	sets    int
	deleted []string
}

func newMarkerStoreStub() *markerStoreStub {
	return &markerStoreStub{values: make(map[string]interface{})}
}

func (m *markerStoreStub) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return false, m.getErr
	}
	_, ok := m.values[key]
	return ok, nil
}

func (m *markerStoreStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

func (m *markerStoreStub) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *markerStoreStub) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}
