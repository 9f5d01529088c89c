// Package store is the single source of truth for tracked import jobs. State is
// only changed by dispatching actions through a pure reducer; consumers read
// snapshots and derived queries.
package store

import (
	"maps"
	"sort"
	"sync"

	"invctl/internal/model"
	"invctl/internal/realtime"
)

// State is the store's full contents: every known job keyed by id, the job the
// UI currently focuses on, and the hub connection state.
type State struct {
	Jobs        map[string]model.ImportJob
	ActiveJobID string
	Connection  realtime.ConnState
}

// Action is the closed set of state transitions the store accepts.
type Action interface {
	isAction()
}

// AddJob inserts a job and marks it active.
type AddJob struct {
	Job model.ImportJob
}

// UpdateJob merges the non-nil patch fields into an existing job. Updates for
// an unknown id are dropped: late events for a dismissed job must not
// resurrect it.
type UpdateJob struct {
	JobID string
	Patch Patch
}

// RemoveJob deletes a job; if it was active the active pointer is cleared.
type RemoveJob struct {
	JobID string
}

// SetActiveJob changes UI focus without touching job data. An empty id clears
// the pointer.
type SetActiveJob struct {
	JobID string
}

// SetConnection records the transport channel's state for display.
type SetConnection struct {
	State realtime.ConnState
}

func (AddJob) isAction()        {}
func (UpdateJob) isAction()     {}
func (RemoveJob) isAction()     {}
func (SetActiveJob) isAction()  {}
func (SetConnection) isAction() {}

// Patch holds the updatable job fields; nil pointers leave the field alone.
type Patch struct {
	Status          *model.ImportJobStatus
	Progress        *int
	ProgressMessage *string
	Report          *model.PreviewReport
	Summary         *model.ImportSummary
	Error           *string
}

// reduce produces the next state from the previous state plus one action. The
// previous state is never mutated.
func reduce(s State, a Action) State {
	switch act := a.(type) {
	case AddJob:
		next := cloneState(s)
		next.Jobs[act.Job.JobID] = act.Job
		next.ActiveJobID = act.Job.JobID
		return next
	case UpdateJob:
		job, ok := s.Jobs[act.JobID]
		if !ok {
			return s
		}
		if act.Patch.Status != nil {
			job.Status = *act.Patch.Status
		}
		if act.Patch.Progress != nil {
			job.Progress = *act.Patch.Progress
		}
		if act.Patch.ProgressMessage != nil {
			job.ProgressMessage = *act.Patch.ProgressMessage
		}
		if act.Patch.Report != nil {
			job.Report = act.Patch.Report
		}
		if act.Patch.Summary != nil {
			job.Summary = act.Patch.Summary
		}
		if act.Patch.Error != nil {
			job.Error = *act.Patch.Error
		}
		next := cloneState(s)
		next.Jobs[act.JobID] = job
		return next
	case RemoveJob:
		if _, ok := s.Jobs[act.JobID]; !ok {
			return s
		}
		next := cloneState(s)
		delete(next.Jobs, act.JobID)
		if next.ActiveJobID == act.JobID {
			next.ActiveJobID = ""
		}
		return next
	case SetActiveJob:
		next := cloneState(s)
		next.ActiveJobID = act.JobID
		return next
	case SetConnection:
		next := cloneState(s)
		next.Connection = act.State
		return next
	default:
		return s
	}
}

func cloneState(s State) State {
	return State{
		Jobs:        maps.Clone(s.Jobs),
		ActiveJobID: s.ActiveJobID,
		Connection:  s.Connection,
	}
}

// Store guards the state and fans out change notifications. It is constructed
// by the application root and passed to consumers; there is no package-level
// instance.
type Store struct {
	mu     sync.RWMutex
	state  State
	nextID int
	subs   map[int]func()
}

// New returns an empty store with the connection marked disconnected.
func New() *Store {
	return &Store{
		state: State{
			Jobs:       make(map[string]model.ImportJob),
			Connection: realtime.StateDisconnected,
		},
		subs: make(map[int]func()),
	}
}

// Dispatch applies an action through the reducer and notifies subscribers.
// Each dispatch is a single synchronous reducer application; two dispatches
// never interleave mid-update.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	s.state = reduce(s.state, a)
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Subscribe registers a change callback and returns its unsubscribe function.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Snapshot returns a copy of the current state; mutating it does not affect
// the store.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

// Job returns the job for an id.
func (s *Store) Job(id string) (model.ImportJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.state.Jobs[id]
	return job, ok
}

// ActiveJob returns the job currently focused by the UI.
func (s *Store) ActiveJob() (model.ImportJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.ActiveJobID == "" {
		return model.ImportJob{}, false
	}
	job, ok := s.state.Jobs[s.state.ActiveJobID]
	return job, ok
}

// ActiveJobs returns every non-terminal job, oldest first. Computed on read so
// it can never drift from the job records.
func (s *Store) ActiveJobs() []model.ImportJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []model.ImportJob
	for _, job := range s.state.Jobs {
		if !job.Status.Terminal() {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].JobID < jobs[j].JobID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// HasActiveImports reports whether any tracked job is still in flight.
func (s *Store) HasActiveImports() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.state.Jobs {
		if !job.Status.Terminal() {
			return true
		}
	}
	return false
}

// Connection returns the recorded transport state.
func (s *Store) Connection() realtime.ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Connection
}
