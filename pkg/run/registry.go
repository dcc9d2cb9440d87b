package run

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type record struct {
	run    Run
	output strings.Builder
	sub    *Subscriber
}

func (rec *record) snapshot() Run {
	r := rec.run
	r.Output = rec.output.String()
	return r
}

type shard struct {
	mu   sync.RWMutex
	runs map[string]*record
}

// Registry is the in-memory store of run records. Every method is atomic for
// a single run; nothing is atomic across runs.
type Registry struct {
	shards [shardCount]*shard
	now    func() time.Time
}

func NewRegistry() *Registry {
	r := &Registry{now: time.Now}
	for i := range r.shards {
		r.shards[i] = &shard{runs: make(map[string]*record)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	return r.shards[xxhash.Sum64String(id)%shardCount]
}

// Create stores a new pending run and returns its id.
func (r *Registry) Create(userID, sessionID, input string) string {
	now := r.now().UTC()
	id := NewRunID()
	rec := &record{run: Run{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Status:    StatusPending,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	s := r.shardFor(id)
	s.mu.Lock()
	s.runs[id] = rec
	s.mu.Unlock()
	return id
}

// Get returns a snapshot of the run.
func (r *Registry) Get(id string) (Run, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return rec.snapshot(), true
}

// mutate applies fn to a non-terminal record. It reports false when the run
// does not exist, is already terminal, or fn declines.
func (r *Registry) mutate(id string, fn func(rec *record) bool) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok || rec.run.Status.IsTerminal() {
		return false
	}
	if !fn(rec) {
		return false
	}
	rec.run.UpdatedAt = r.now().UTC()
	return true
}

// UpdateStatus sets the status of a non-terminal run.
func (r *Registry) UpdateStatus(id string, status Status) bool {
	return r.mutate(id, func(rec *record) bool {
		rec.run.Status = status
		return true
	})
}

// Start moves a pending run to running and records the agent type driving it.
func (r *Registry) Start(id, agentType string) bool {
	return r.mutate(id, func(rec *record) bool {
		if rec.run.Status != StatusPending {
			return false
		}
		rec.run.Status = StatusRunning
		rec.run.AgentType = agentType
		return true
	})
}

func (r *Registry) AppendOutput(id, content string) bool {
	return r.mutate(id, func(rec *record) bool {
		rec.output.WriteString(content)
		return true
	})
}

// SetError records msg and marks the run failed.
func (r *Registry) SetError(id, msg string) bool {
	return r.mutate(id, func(rec *record) bool {
		rec.run.Error = msg
		rec.run.Status = StatusFailed
		return true
	})
}

// SetSubscriber installs sub as the run's only subscriber and returns the one
// it replaced, if any.
func (r *Registry) SetSubscriber(id string, sub *Subscriber) (*Subscriber, bool) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	prev := rec.sub
	rec.sub = sub
	return prev, true
}

// Subscriber returns the run's current subscriber, or nil.
func (r *Registry) Subscriber(id string) *Subscriber {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.runs[id]; ok {
		return rec.sub
	}
	return nil
}

// ClearSubscriber detaches sub if it is still the run's subscriber.
func (r *Registry) ClearSubscriber(id string, sub *Subscriber) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.runs[id]; ok && rec.sub == sub {
		rec.sub = nil
	}
}

// Remove deletes the run regardless of status.
func (r *Registry) Remove(id string) (Run, bool) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	delete(s.runs, id)
	if rec.sub != nil {
		rec.sub.Close()
	}
	return rec.snapshot(), true
}

// ListByUser returns snapshots of the user's runs, oldest first.
func (r *Registry) ListByUser(userID string) []Run {
	var runs []Run
	for _, s := range r.shards {
		s.mu.RLock()
		for _, rec := range s.runs {
			if rec.run.UserID == userID {
				runs = append(runs, rec.snapshot())
			}
		}
		s.mu.RUnlock()
	}
	slices.SortFunc(runs, func(a, b Run) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return runs
}

func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.runs)
		s.mu.RUnlock()
	}
	return n
}

// CleanupExpired evicts terminal runs not updated for longer than maxAge and
// returns their final snapshots.
func (r *Registry) CleanupExpired(maxAge time.Duration) []Run {
	cutoff := r.now().UTC().Add(-maxAge)

	var evicted []Run
	for _, s := range r.shards {
		s.mu.Lock()
		for id, rec := range s.runs {
			if !rec.run.Status.IsTerminal() || !rec.run.UpdatedAt.Before(cutoff) {
				continue
			}
			evicted = append(evicted, rec.snapshot())
			if rec.sub != nil {
				rec.sub.Close()
			}
			delete(s.runs, id)
		}
		s.mu.Unlock()
	}
	return evicted
}
