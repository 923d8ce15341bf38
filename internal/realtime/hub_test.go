package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/pickup-roster-api/internal/models"
)

func TestHubStreamsSnapshotThenChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	snapshot := &models.RosterSnapshot{RosterDate: "2026-10-19", Rows: []models.RosterRow{{Student: models.Student{ID: "s-1"}, Status: models.StatusNotPicked}}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, func(ctx context.Context) (*models.RosterSnapshot, error) {
			return snapshot, nil
		})
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var first Envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	require.NotNil(t, first.Roster)
	assert.Equal(t, "2026-10-19", first.Roster.RosterDate)

	require.Eventually(t, func() bool {
		n, err := hub.Clients(context.Background())
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond)

	hub.Broadcast(models.RosterChange{RosterDate: "2026-10-19", StudentID: "s-1", Status: models.StatusPicked, Origin: "local"})

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var next Envelope
	require.NoError(t, json.Unmarshal(raw, &next))
	assert.Equal(t, "change", next.Type)
	require.NotNil(t, next.Change)
	assert.Equal(t, models.StatusPicked, next.Change.Status)
}

func TestHubBroadcastWithoutRunDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			hub.Broadcast(models.RosterChange{StudentID: "s-1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked")
	}
}

func TestHubClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	_, err := hub.Clients(context.Background())
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestHubDeliversChangeRacingTheSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, func(ctx context.Context) (*models.RosterSnapshot, error) {
			// a write lands while the snapshot is being rendered
			hub.Broadcast(models.RosterChange{RosterDate: "2026-10-19", StudentID: "s-1", Status: models.StatusArrived, Origin: "feed"})
			return &models.RosterSnapshot{RosterDate: "2026-10-19"}, nil
		})
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	types := map[string]int{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 2; i++ {
		var frame Envelope
		require.NoError(t, conn.ReadJSON(&frame))
		types[frame.Type]++
	}
	assert.Equal(t, map[string]int{"snapshot": 1, "change": 1}, types)
}

func TestHubSnapshotFailureClosesClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	served := make(chan error, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served <- hub.Serve(w, r, func(ctx context.Context) (*models.RosterSnapshot, error) {
			return nil, errors.New("session closed")
		})
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case err := <-served:
		assert.EqualError(t, err, "session closed")
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
	n, err := hub.Clients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
