package cli

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/pickup-roster-api/internal/civil"
	"github.com/noah-isme/pickup-roster-api/internal/models"
	"github.com/noah-isme/pickup-roster-api/internal/policy"
	"github.com/noah-isme/pickup-roster-api/internal/service"
)

type memStore struct {
	mu         sync.Mutex
	students   []models.Student
	rows       map[string]models.RosterStatusEntry
	logs       []models.LogEntry
	prepared   int
	procErr    error
	procWrites int
}

func newMemStore(students ...models.Student) *memStore {
	return &memStore{students: students, rows: map[string]models.RosterStatusEntry{}}
}

func (m *memStore) ListActive(ctx context.Context) ([]models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Student(nil), m.students...), nil
}

func (m *memStore) ListByDate(ctx context.Context, rosterDate string) ([]models.RosterStatusEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RosterStatusEntry
	for _, row := range m.rows {
		if row.RosterDate == rosterDate {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memStore) CountByDate(ctx context.Context, rosterDate string) (int, error) {
	rows, _ := m.ListByDate(ctx, rosterDate)
	return len(rows), nil
}

func (m *memStore) Upsert(ctx context.Context, entry *models.RosterStatusEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[entry.RosterDate+"/"+entry.StudentID] = *entry
	return nil
}

func (m *memStore) Append(ctx context.Context, entry *models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *memStore) EarliestAt(ctx context.Context, rosterDate, studentID string, action models.Status) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.logs {
		if entry.RosterDate == rosterDate && entry.StudentID == studentID && entry.Action == action {
			at := entry.At
			return &at, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListForStudent(ctx context.Context, rosterDate, studentID string) ([]models.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LogEntry
	for _, entry := range m.logs {
		if entry.RosterDate == rosterDate && entry.StudentID == studentID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memStore) PickedSinceReset(ctx context.Context, rosterDate string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[string]models.Status)
	for _, entry := range m.logs {
		if entry.RosterDate != rosterDate {
			continue
		}
		if entry.Action == models.StatusPicked || entry.Action == models.StatusNotPicked {
			latest[entry.StudentID] = entry.Action
		}
	}
	var ids []string
	for id, action := range latest {
		if action == models.StatusPicked {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) SetStatus(ctx context.Context, rosterDate, studentID string, status models.Status, meta models.LogMeta) error {
	if m.procErr != nil {
		return m.procErr
	}
	m.mu.Lock()
	m.procWrites++
	m.mu.Unlock()
	now := time.Now().UTC()
	if err := m.Upsert(ctx, &models.RosterStatusEntry{RosterDate: rosterDate, StudentID: studentID, CurrentStatus: status, LastUpdate: now}); err != nil {
		return err
	}
	return m.Append(ctx, &models.LogEntry{RosterDate: rosterDate, StudentID: studentID, Action: status, At: now, Meta: meta})
}

func (m *memStore) PrepareDay(ctx context.Context, rosterDate string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, s := range m.students {
		if s.Program == "bus" {
			m.rows[rosterDate+"/"+s.ID] = models.RosterStatusEntry{RosterDate: rosterDate, StudentID: s.ID, CurrentStatus: models.StatusSkipped, LastUpdate: time.Now().UTC()}
			created++
		}
	}
	m.prepared++
	return created, nil
}

func (m *memStore) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.procWrites + len(m.logs)
}

// afternoon is 15:00 in New York on 2026-10-19.
var afternoon = time.Date(2026, time.October, 19, 19, 0, 0, 0, time.UTC)

func newTestBackend(t *testing.T, store *memStore) *Backend {
	loc, err := civil.LoadZone("")
	require.NoError(t, err)
	return &Backend{
		Logger:   zap.NewNop(),
		Location: loc,
		Store: service.RosterStore{
			Students:   store,
			Statuses:   store,
			Logs:       store,
			Procedures: store,
		},
		Policy:   policy.New(nil, nil),
		Preparer: service.NewRosterPreparer(nil, store, store, "test-device", 0, nil, nil),
		Migrate: func(ctx context.Context) (int, error) {
			return 3, nil
		},
		now: func() time.Time { return afternoon },
	}
}

func staticOpener(b *Backend) Opener {
	return func(ctx context.Context) (*Backend, error) {
		return b, nil
	}
}

func failingOpener(ctx context.Context) (*Backend, error) {
	return nil, errors.New("connection refused")
}
