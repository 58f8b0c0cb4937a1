package job

import (
	"context"
	"sync"
	"time"

	"github.com/animastudio/render-api/internal/model"
)

// record pairs the public job projection with the internal cancel handle.
// The handle is never serialized and never leaves the store.
type record struct {
	job    model.RenderJob
	cancel context.CancelFunc
}

// Store is the in-memory job registry. Every read returns a deep copy so
// pollers never observe a record mid-mutation; every mutation happens under
// the registry lock and refreshes updatedAt.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*record
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*record),
	}
}

// InsertIfIdle inserts the job only when no other job is queued or running.
// The scan and the insert happen under one lock so single-flight admission
// holds under concurrent Create calls.
func (s *Store) InsertIfIdle(j model.RenderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.jobs {
		if rec.job.Status.Active() {
			return &Error{Code: CodeRenderInProgress, Message: "A render is already in progress."}
		}
	}

	s.jobs[j.ID] = &record{job: j}
	return nil
}

// Get returns a copy of the job, or false when absent.
func (s *Store) Get(id string) (*model.RenderJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return cloneJob(&rec.job), true
}

// Update applies fn to the job under the registry lock. fn reports whether it
// mutated anything; updatedAt is refreshed only then. Returns a copy of the
// (possibly updated) job, or false when absent.
func (s *Store) Update(id string, fn func(*model.RenderJob) bool) (*model.RenderJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	if fn(&rec.job) {
		rec.job.UpdatedAt = time.Now()
	}
	return cloneJob(&rec.job), true
}

// SetCancelFunc stores the cooperative cancellation handle for a job.
func (s *Store) SetCancelFunc(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.jobs[id]; ok {
		rec.cancel = cancel
	}
}

// TakeCancelFunc returns the stored cancel handle, clearing it, so cancel is
// requested at most once per handle.
func (s *Store) TakeCancelFunc(id string) context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return nil
	}
	cancel := rec.cancel
	rec.cancel = nil
	return cancel
}

// EvictExpired removes terminal jobs whose age exceeds ttl, measured from
// finishedAt (updatedAt when finishedAt is absent). Non-terminal jobs are
// never inspected. Returns the number of evicted jobs.
func (s *Store) EvictExpired(ttl time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, rec := range s.jobs {
		if !rec.job.Status.Terminal() {
			continue
		}
		ref := rec.job.UpdatedAt
		if rec.job.FinishedAt != nil {
			ref = *rec.job.FinishedAt
		}
		if now.Sub(ref) > ttl {
			delete(s.jobs, id)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of registered jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func cloneJob(j *model.RenderJob) *model.RenderJob {
	out := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return &out
}
