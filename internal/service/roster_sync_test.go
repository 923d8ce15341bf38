package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

type syncFixture struct {
	*engineFixture
	sync     *RosterSync
	notifier *notifierStub
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	f := newEngineFixture(t, nil)
	notifier := &notifierStub{}
	s := NewRosterSync(f.state, f.store, f.store, f.store, notifier, NewMetricsService(), zap.NewNop())
	s.now = f.clock.Now
	return &syncFixture{engineFixture: f, sync: s, notifier: notifier}
}

func (f *syncFixture) event(kind models.ChangeEventType, st models.Status, at time.Time) models.ChangeEvent {
	return models.ChangeEvent{EventType: kind, RosterDate: testRosterDate, StudentID: testStudent.ID, CurrentStatus: st, LastUpdate: at}
}

func TestRosterSyncSameStatusKeepsRestoredUndoTime(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	_, err := f.setAt(t, 7, 5, StatusRequest{Status: models.StatusPicked})
	require.NoError(t, err)
	_, err = f.setAt(t, 7, 40, StatusRequest{Status: models.StatusArrived})
	require.NoError(t, err)
	_, err = f.setAt(t, 15, 10, StatusRequest{Status: models.StatusChecked, PickupPerson: "Jane Doe"})
	require.NoError(t, err)
	_, err = f.setAt(t, 15, 20, StatusRequest{Status: models.StatusArrived})
	require.NoError(t, err)

	// echo of the undo write carries last_update 15:20
	changed := f.sync.Merge(ctx, f.event(models.ChangeUpdate, models.StatusArrived, localAt(t, f.loc, 15, 20)), OriginFeed)
	assert.False(t, changed)
	at, _ := f.state.DisplayAt(testStudent.ID)
	assert.Equal(t, localAt(t, f.loc, 7, 40), at)
	assert.Equal(t, 0, f.notifier.count())

	// applying it again is still a no-op
	assert.False(t, f.sync.Merge(ctx, f.event(models.ChangeUpdate, models.StatusArrived, localAt(t, f.loc, 15, 21)), OriginFeed))
}

func TestRosterSyncForwardTrustsServerTime(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	serverAt := localAt(t, f.loc, 7, 3)
	changed := f.sync.Merge(ctx, f.event(models.ChangeInsert, models.StatusPicked, serverAt), OriginFeed)
	assert.True(t, changed)
	assert.Equal(t, models.StatusPicked, f.state.Status(testStudent.ID))
	at, _ := f.state.DisplayAt(testStudent.ID)
	assert.Equal(t, serverAt, at)
	assert.True(t, f.state.PickedOnce(testStudent.ID))
	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, OriginFeed, f.notifier.last().Origin)

	arrivedAt := localAt(t, f.loc, 7, 41)
	f.sync.Merge(ctx, f.event(models.ChangeUpdate, models.StatusArrived, arrivedAt), OriginFeed)
	at, _ = f.state.DisplayAt(testStudent.ID)
	assert.Equal(t, arrivedAt, at)
}

func TestRosterSyncBackwardUsesEarliestLogEntry(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// another client did picked 07:05, arrived 07:40, then undid to picked at 09:00
	f.clock.Set(localAt(t, f.loc, 7, 5))
	require.NoError(t, f.store.SetStatus(ctx, testRosterDate, testStudent.ID, models.StatusPicked, models.LogMeta{}))
	f.sync.Merge(ctx, f.event(models.ChangeInsert, models.StatusPicked, localAt(t, f.loc, 7, 5)), OriginFeed)
	f.clock.Set(localAt(t, f.loc, 7, 40))
	require.NoError(t, f.store.SetStatus(ctx, testRosterDate, testStudent.ID, models.StatusArrived, models.LogMeta{}))
	f.sync.Merge(ctx, f.event(models.ChangeUpdate, models.StatusArrived, localAt(t, f.loc, 7, 40)), OriginFeed)
	f.clock.Set(localAt(t, f.loc, 9, 0))
	require.NoError(t, f.store.SetStatus(ctx, testRosterDate, testStudent.ID, models.StatusPicked, models.LogMeta{}))

	changed := f.sync.Merge(ctx, f.event(models.ChangeUpdate, models.StatusPicked, localAt(t, f.loc, 9, 0)), OriginFeed)
	assert.True(t, changed)
	at, _ := f.state.DisplayAt(testStudent.ID)
	assert.Equal(t, localAt(t, f.loc, 7, 5), at)
}

func TestRosterSyncDeleteMergesAsNotPicked(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	f.sync.Merge(ctx, f.event(models.ChangeInsert, models.StatusPicked, localAt(t, f.loc, 7, 5)), OriginFeed)
	require.True(t, f.state.PickedOnce(testStudent.ID))

	f.clock.Set(localAt(t, f.loc, 8, 0))
	f.sync.Merge(ctx, models.ChangeEvent{EventType: models.ChangeDelete, RosterDate: testRosterDate, StudentID: testStudent.ID}, OriginFeed)
	assert.Equal(t, models.StatusNotPicked, f.state.Status(testStudent.ID))
	assert.False(t, f.state.PickedOnce(testStudent.ID))
	observed, _ := f.state.Observed(testStudent.ID)
	assert.Equal(t, models.StatusNotPicked, observed)
}

func TestRosterSyncIgnoresOtherDaysAndUnknownStatuses(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	ev := f.event(models.ChangeInsert, models.StatusPicked, localAt(t, f.loc, 7, 5))
	ev.RosterDate = "2026-10-18"
	assert.False(t, f.sync.Merge(ctx, ev, OriginFeed))
	assert.False(t, f.sync.Merge(ctx, f.event(models.ChangeUpdate, models.Status("teleported"), time.Time{}), OriginFeed))
	_, seen := f.state.Observed(testStudent.ID)
	assert.False(t, seen)
}

func TestRosterSyncResync(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	other := models.Student{ID: "s-2", FullName: "Alex Chen", Active: true}
	f.store.students = append(f.store.students, other)

	f.sync.Merge(ctx, models.ChangeEvent{EventType: models.ChangeInsert, RosterDate: testRosterDate, StudentID: other.ID, CurrentStatus: models.StatusPicked, LastUpdate: localAt(t, f.loc, 7, 0)}, OriginFeed)

	f.clock.Set(localAt(t, f.loc, 7, 5))
	require.NoError(t, f.store.SetStatus(ctx, testRosterDate, testStudent.ID, models.StatusPicked, models.LogMeta{}))
	f.clock.Set(localAt(t, f.loc, 7, 40))
	require.NoError(t, f.store.SetStatus(ctx, testRosterDate, testStudent.ID, models.StatusArrived, models.LogMeta{}))

	f.clock.Set(localAt(t, f.loc, 8, 0))
	require.NoError(t, f.sync.Resync(ctx, ResyncPoll))

	_, ok := f.state.Student(other.ID)
	assert.True(t, ok)
	assert.Equal(t, models.StatusArrived, f.state.Status(testStudent.ID))
	at, _ := f.state.DisplayAt(testStudent.ID)
	assert.Equal(t, localAt(t, f.loc, 7, 40), at)
	assert.True(t, f.state.PickedOnce(testStudent.ID))

	// s-2 was observed through the feed but has no row: it reads as not_picked
	assert.Equal(t, models.StatusNotPicked, f.state.Status(other.ID))
	assert.False(t, f.state.PickedOnce(other.ID))

	snap := f.state.Snapshot()
	require.NotNil(t, snap.SyncedAt)
	assert.Equal(t, localAt(t, f.loc, 8, 0), *snap.SyncedAt)

	// a second resync with nothing new changes nothing
	before := f.notifier.count()
	require.NoError(t, f.sync.Resync(ctx, ResyncPoll))
	assert.Equal(t, before, f.notifier.count())
}

func TestRosterSyncResyncError(t *testing.T) {
	f := newSyncFixture(t)
	f.store.listErr = errors.New("timeout")

	err := f.sync.Resync(context.Background(), ResyncManual)
	require.Error(t, err)
	assert.Nil(t, f.state.Snapshot().SyncedAt)
	assert.Equal(t, uint64(1), f.sync.metrics.Snapshot().Resyncs)
}

func TestRosterSyncResyncHonoursResetBeforeSkip(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	_, err := f.setAt(t, 7, 5, StatusRequest{Status: models.StatusPicked})
	require.NoError(t, err)
	_, err = f.setAt(t, 7, 10, StatusRequest{Status: models.StatusNotPicked})
	require.NoError(t, err)
	_, err = f.setAt(t, 7, 15, StatusRequest{Status: models.StatusSkipped})
	require.NoError(t, err)
	assert.False(t, f.state.PickedOnce(testStudent.ID))

	f.clock.Set(localAt(t, f.loc, 8, 0))
	require.NoError(t, f.sync.Resync(ctx, ResyncPoll))
	assert.Equal(t, models.StatusSkipped, f.state.Status(testStudent.ID))
	assert.False(t, f.state.PickedOnce(testStudent.ID))

	// picked again after the reset counts once more
	_, err = f.setAt(t, 8, 5, StatusRequest{Status: models.StatusNotPicked})
	require.NoError(t, err)
	_, err = f.setAt(t, 8, 10, StatusRequest{Status: models.StatusPicked})
	require.NoError(t, err)
	_, err = f.setAt(t, 8, 20, StatusRequest{Status: models.StatusArrived})
	require.NoError(t, err)
	require.NoError(t, f.sync.Resync(ctx, ResyncPoll))
	assert.True(t, f.state.PickedOnce(testStudent.ID))
}

func TestRosterSyncResyncDropsStalePickedOnce(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	// a mark the log cannot back up is dropped
	f.state.SetStatus(testStudent.ID, models.StatusArrived)
	f.state.MarkPickedOnce(testStudent.ID)
	f.store.putRow(models.RosterStatusEntry{RosterDate: testRosterDate, StudentID: testStudent.ID, CurrentStatus: models.StatusArrived, LastUpdate: localAt(t, f.loc, 7, 0)})

	require.NoError(t, f.sync.Resync(ctx, ResyncManual))
	assert.False(t, f.state.PickedOnce(testStudent.ID))
}
