package orchestration

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// runState is the live, in-memory bookkeeping for one run submitted through
// Manager.Submit. Once the run finishes it also holds the terminal
// RunResult, and it stays registered with the Manager after that.
type runState struct {
	mu       sync.Mutex
	runID    string
	userID   string
	done     bool
	result   RunResult
	err      error
	events   []Event
	subs     map[chan Event]struct{}
}

func newRunState(runID, userID string) *runState {
	return &runState{runID: runID, userID: userID, subs: make(map[chan Event]struct{})}
}

func (s *runState) publish(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	subs := make([]chan Event, 0, len(s.subs))
	for ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// slow subscriber: drop rather than block the run.
		}
	}
}

// subscribe returns a buffered channel of future events plus a snapshot of
// events already published, so a WebSocket client attaching mid-run can
// replay history before switching to live forwarding without missing or
// duplicating an event. If the run has already finished, the channel is
// returned already closed.
func (s *runState) subscribe() (chan Event, []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, 64)
	if s.done {
		close(ch)
	} else {
		s.subs[ch] = struct{}{}
	}
	snapshot := make([]Event, len(s.events))
	copy(snapshot, s.events)
	return ch, snapshot
}

func (s *runState) unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; !ok {
		return
	}
	delete(s.subs, ch)
	close(ch)
}

func (s *runState) finish(result RunResult, err error) {
	s.mu.Lock()
	s.done = true
	s.result = result
	s.err = err
	subs := make([]chan Event, 0, len(s.subs))
	for ch := range s.subs {
		subs = append(subs, ch)
	}
	s.subs = make(map[chan Event]struct{})
	s.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

func (s *runState) snapshot() (RunResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.done, s.err
}

// Manager runs synthesis requests asynchronously and keeps track of their
// state for later polling and WebSocket attachment. A Manager holds runs
// in memory only; on process restart, in-flight run status is lost, but
// each run's artifact directory on disk survives.
type Manager struct {
	orchestrator *Orchestrator
	mu           sync.RWMutex
	runs         map[string]*runState
	order        []string
}

// NewManager wraps orch with an in-memory run registry.
func NewManager(orch *Orchestrator) *Manager {
	return &Manager{orchestrator: orch, runs: make(map[string]*runState)}
}

// Submit assigns req a run ID (unless the caller already set one), starts
// it asynchronously, and returns the run ID immediately without waiting
// for the run to finish.
func (m *Manager) Submit(ctx context.Context, userID string, req Request) (string, error) {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	runID := req.RunID
	state := newRunState(runID, userID)

	m.mu.Lock()
	m.runs[runID] = state
	m.order = append(m.order, runID)
	m.mu.Unlock()

	go func() {
		bgCtx := detachDeadline(ctx)
		result, err := m.orchestrator.Run(bgCtx, req, state.publish)
		if err != nil {
			log.Printf("WARN: run %s finished with error: %v", runID, err)
		}
		state.finish(result, err)
	}()

	return runID, nil
}

// Status reports whether runID is known, whether it has finished, and its
// result if so.
func (m *Manager) Status(runID string) (result RunResult, done bool, found bool) {
	m.mu.RLock()
	state, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return RunResult{}, false, false
	}
	r, d, _ := state.snapshot()
	return r, d, true
}

// Subscribe attaches to runID's progress stream, returning already-emitted
// events and a channel of future ones. The returned unsubscribe func must
// be called when the caller is done listening.
func (m *Manager) Subscribe(runID string) (events []Event, ch chan Event, unsubscribe func(), found bool) {
	m.mu.RLock()
	state, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, nil, false
	}
	ch, snapshot := state.subscribe()
	return snapshot, ch, func() { state.unsubscribe(ch) }, true
}

// ListForUser returns the run IDs submitted by userID, in submission order.
// It's the in-memory fallback ListRuns uses when no Postgres pool is wired,
// and is what keeps that endpoint from leaking other callers' run IDs.
func (m *Manager) ListForUser(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.order))
	for _, runID := range m.order {
		if state, ok := m.runs[runID]; ok && state.userID == userID {
			out = append(out, runID)
		}
	}
	return out
}

// detachDeadline strips cancellation and deadline from the parent request
// context while keeping its values, so an HTTP handler returning 202
// doesn't cancel the run its request kicked off when the request itself
// completes.
func detachDeadline(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}
