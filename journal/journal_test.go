package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: create a journal with a controllable clock
func createTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err, "should open journal")
	t.Cleanup(func() { store.Close() })

	clock := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	return store, &clock
}

// TestOpen_ExistingDatabase verifies runs survive reopening the database.
func TestOpen_ExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	store1, err := Open(path)
	require.NoError(t, err)
	run, err := store1.StartRun("crawl", 10)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := Open(path)
	require.NoError(t, err)
	defer store2.Close()

	got, err := store2.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "crawl", got.Action)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 10, got.Target)
	assert.Nil(t, got.FinishedAt)
}

// TestRunLifecycle verifies a run with issues is recorded and finished.
func TestRunLifecycle(t *testing.T) {
	store, clock := createTestStore(t)

	run, err := store.StartRun("all", 5)
	require.NoError(t, err)

	err = store.RecordIssues(run.RunID, []Issue{
		{Platform: "itch.io", URL: "https://itch.io/games/html5", Kind: "fetch", Message: "HTTP error: 503"},
		{Platform: "GameJolt", Kind: "no-pattern", Message: "no item pattern found"},
	})
	require.NoError(t, err)

	*clock = clock.Add(90 * time.Second)
	err = store.FinishRun(run.RunID, Outcome{Added: 3, PerPlatform: map[string]int{"itch.io": 3}})
	require.NoError(t, err)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, 3, got.Added)
	assert.Equal(t, 2, got.IssueCount)
	assert.Equal(t, map[string]int{"itch.io": 3}, got.PerPlatform)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(time.Date(2024, 3, 9, 12, 1, 30, 0, time.UTC)))
	assert.Nil(t, got.Error)

	issues, err := store.ListIssues(run.RunID)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "itch.io", issues[0].Platform)
	assert.Equal(t, "https://itch.io/games/html5", issues[0].URL)
	assert.Equal(t, "no-pattern", issues[1].Kind)
	assert.Empty(t, issues[1].URL)
}

// TestFinishRun_Failed verifies an outcome error marks the run failed.
func TestFinishRun_Failed(t *testing.T) {
	store, _ := createTestStore(t)

	run, err := store.StartRun("clean", 0)
	require.NoError(t, err)
	require.NoError(t, store.FinishRun(run.RunID, Outcome{Err: errors.New("failed to write catalog")}))

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "failed to write catalog", *got.Error)
}

// TestUnknownRun verifies operations on a missing run fail with
// ErrRunNotFound.
func TestUnknownRun(t *testing.T) {
	store, _ := createTestStore(t)
	missing := uuid.New()

	_, err := store.GetRun(missing)
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = store.FinishRun(missing, Outcome{})
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = store.RecordIssues(missing, []Issue{{Platform: "x", Kind: "fetch", Message: "m"}})
	assert.ErrorIs(t, err, ErrRunNotFound)

	assert.NoError(t, store.RecordIssues(missing, nil))
}

// TestListRuns verifies ordering, filtering and pagination.
func TestListRuns(t *testing.T) {
	store, clock := createTestStore(t)

	var ids []uuid.UUID
	for _, action := range []string{"crawl", "clean", "crawl", "all"} {
		run, err := store.StartRun(action, 1)
		require.NoError(t, err)
		ids = append(ids, run.RunID)
		*clock = clock.Add(time.Minute)
	}

	runs, err := store.ListRuns(RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 4)
	assert.Equal(t, ids[3], runs[0].RunID)
	assert.Equal(t, ids[0], runs[3].RunID)

	runs, err = store.ListRuns(RunFilter{Action: "crawl"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].RunID)

	runs, err = store.ListRuns(RunFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[1], runs[1].RunID)

	runs, err = store.ListRuns(RunFilter{Offset: 3})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ids[0], runs[0].RunID)
}
