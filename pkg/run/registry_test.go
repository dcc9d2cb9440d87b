package run

import (
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunID(t *testing.T) {
	re := regexp.MustCompile(`^run_[0-9a-f]{12}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewRunID()
		assert.Regexp(t, re, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry()
	id := r.Create("user-1", "sess-1", "hello")

	run, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "user-1", run.UserID)
	assert.Equal(t, "sess-1", run.SessionID)
	assert.Equal(t, StatusPending, run.Status)
	assert.Equal(t, "hello", run.Input)
	assert.Empty(t, run.Output)
	assert.False(t, run.CreatedAt.IsZero())
	assert.Equal(t, run.CreatedAt, run.UpdatedAt)

	_, ok = r.Get("run_missing")
	assert.False(t, ok)
}

func TestRegistryGetIsIdempotent(t *testing.T) {
	r := NewRegistry()
	id := r.Create("u", "", "in")
	r.Start(id, "mock")
	r.AppendOutput(id, "partial")

	first, _ := r.Get(id)
	second, _ := r.Get(id)
	assert.Equal(t, first, second)

	first.Output = "mutated"
	third, _ := r.Get(id)
	assert.Equal(t, "partial", third.Output)
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	id := r.Create("u", "", "in")

	assert.True(t, r.Start(id, "mock"))
	assert.False(t, r.Start(id, "mock"), "start only from pending")

	assert.True(t, r.AppendOutput(id, "he"))
	assert.True(t, r.AppendOutput(id, "llo"))
	assert.True(t, r.UpdateStatus(id, StatusCompleted))

	run, _ := r.Get(id)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "hello", run.Output)
	assert.Equal(t, "mock", run.AgentType)

	// Terminal records are final.
	assert.False(t, r.AppendOutput(id, "!"))
	assert.False(t, r.UpdateStatus(id, StatusRunning))
	assert.False(t, r.SetError(id, "late"))

	after, _ := r.Get(id)
	assert.Equal(t, run, after)
}

func TestRegistrySetErrorFails(t *testing.T) {
	r := NewRegistry()
	id := r.Create("u", "", "in")
	r.Start(id, "mock")

	assert.True(t, r.SetError(id, "boom"))
	run, _ := r.Get(id)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "boom", run.Error)

	assert.False(t, r.SetError("run_missing", "x"))
}

func TestRegistrySubscriberReplacement(t *testing.T) {
	r := NewRegistry()
	id := r.Create("u", "", "in")

	first := NewSubscriber(1)
	prev, ok := r.SetSubscriber(id, first)
	require.True(t, ok)
	assert.Nil(t, prev)

	second := NewSubscriber(1)
	prev, ok = r.SetSubscriber(id, second)
	require.True(t, ok)
	assert.Same(t, first, prev)
	assert.Same(t, second, r.Subscriber(id))

	r.ClearSubscriber(id, first)
	assert.Same(t, second, r.Subscriber(id))
	r.ClearSubscriber(id, second)
	assert.Nil(t, r.Subscriber(id))

	_, ok = r.SetSubscriber("run_missing", first)
	assert.False(t, ok)
}

func TestRegistryCleanupExpired(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	oldDone := r.Create("u", "", "a")
	r.Start(oldDone, "mock")
	r.UpdateStatus(oldDone, StatusCompleted)

	oldRunning := r.Create("u", "", "b")
	r.Start(oldRunning, "mock")

	sub := NewSubscriber(1)
	r.SetSubscriber(oldDone, sub)

	now = now.Add(2 * time.Hour)
	fresh := r.Create("u", "", "c")
	r.Start(fresh, "mock")
	r.SetError(fresh, "boom")

	evicted := r.CleanupExpired(time.Hour)
	require.Len(t, evicted, 1)
	assert.Equal(t, oldDone, evicted[0].ID)
	assert.Equal(t, StatusCompleted, evicted[0].Status)

	_, ok := r.Get(oldDone)
	assert.False(t, ok)
	_, ok = r.Get(oldRunning)
	assert.True(t, ok, "non-terminal runs are never evicted")
	_, ok = r.Get(fresh)
	assert.True(t, ok)
	assert.Equal(t, 2, r.Len())

	select {
	case <-sub.Done():
	default:
		t.Fatal("subscriber of evicted run should be closed")
	}
}

func TestRegistryListByUserAndRemove(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	a := r.Create("alice", "", "1")
	b := r.Create("alice", "", "2")
	r.Create("bob", "", "3")

	runs := r.ListByUser("alice")
	require.Len(t, runs, 2)
	assert.Equal(t, a, runs[0].ID)
	assert.Equal(t, b, runs[1].ID)
	assert.Empty(t, r.ListByUser("carol"))

	removed, ok := r.Remove(a)
	require.True(t, ok)
	assert.Equal(t, "1", removed.Input)
	_, ok = r.Remove(a)
	assert.False(t, ok)
	assert.Len(t, r.ListByUser("alice"), 1)
}

func TestRegistryConcurrentAppends(t *testing.T) {
	r := NewRegistry()
	ids := make([]string, 8)
	for i := range ids {
		ids[i] = r.Create("u", "", fmt.Sprint(i))
		r.Start(ids[i], "mock")
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.AppendOutput(id, "x")
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		run, _ := r.Get(id)
		assert.Len(t, run.Output, 100)
	}
}
