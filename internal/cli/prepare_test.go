package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareRunsOncePerDay(t *testing.T) {
	store := newMemStore(rosterStudents()...)
	backend := newTestBackend(t, store)

	out, err := execute(t, staticOpener(backend), "prepare")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19: applied (1 skipped)\n", out)

	out, err = execute(t, staticOpener(backend), "prepare", "--force")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19: rows_present\n", out)
	assert.Equal(t, 1, store.prepared)
}

func TestPrepareExplicitDate(t *testing.T) {
	store := newMemStore(rosterStudents()...)
	backend := newTestBackend(t, store)

	out, err := execute(t, staticOpener(backend), "prepare", "--date", "2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-20: applied (1 skipped)\n", out)

	_, err = execute(t, staticOpener(backend), "prepare", "--date", "tomorrow")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
