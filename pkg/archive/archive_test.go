package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lipish/openrunner/pkg/run"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "runs.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id, user string, created time.Time) run.Run {
	return run.Run{
		ID:        id,
		UserID:    user,
		SessionID: "sess",
		AgentType: "mock",
		Status:    run.StatusCompleted,
		Input:     "hello",
		Output:    "hi there",
		CreatedAt: created,
		UpdatedAt: created.Add(time.Second),
	}
}

func TestArchiveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 10, 0, 0, 123, time.UTC)

	want := sampleRun("run_000000000001", "alice", created)
	failed := sampleRun("run_000000000002", "alice", created)
	failed.Status = run.StatusFailed
	failed.Output = ""
	failed.Error = "boom"

	require.NoError(t, s.Archive(ctx, []run.Run{want, failed}))

	got, err := s.Get(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = s.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "run_nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := sampleRun("run_000000000001", "alice", time.Now().UTC())

	require.NoError(t, s.Archive(ctx, []run.Run{r}))
	r.Output = "second"
	require.NoError(t, s.Archive(ctx, []run.Run{r}))

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Output)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestArchiveEmptyIsNoop(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Archive(context.Background(), nil))
}

func TestListByUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Archive(ctx, []run.Run{
		sampleRun("run_a", "alice", base),
		sampleRun("run_b", "alice", base.Add(time.Hour)),
		sampleRun("run_c", "bob", base),
	}))

	runs, err := s.ListByUser(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_b", runs[0].ID, "newest first")
	assert.Equal(t, "run_a", runs[1].ID)

	runs, err = s.ListByUser(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	runs, err = s.ListByUser(ctx, "carol", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now }
	require.NoError(t, s.Archive(ctx, []run.Run{sampleRun("run_old", "u", now)}))
	s.now = func() time.Time { return now.Add(48 * time.Hour) }
	require.NoError(t, s.Archive(ctx, []run.Run{sampleRun("run_new", "u", now)}))

	removed, err := s.Prune(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.Get(ctx, "run_old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "run_new")
	assert.NoError(t, err)
}

func TestJanitorArchivesIntoStore(t *testing.T) {
	s := openTestStore(t)
	reg := run.NewRegistry()

	id := reg.Create("alice", "", "hello")
	reg.Start(id, "mock")
	reg.AppendOutput(id, "done")
	reg.UpdateStatus(id, run.StatusCompleted)

	j, err := run.NewJanitor(reg, run.JanitorConfig{MaxAge: time.Nanosecond, Archiver: s})
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	n, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "done", got.Output)
	assert.Equal(t, run.StatusCompleted, got.Status)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("", zerolog.Nop())
	assert.Error(t, err)
}
