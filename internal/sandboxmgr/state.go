// Package sandboxmgr implements the Sandbox Manager: a per-project VM
// lifecycle state machine, file restoration, and command execution surface
// fronting a pluggable VMProvider (Firecracker in production, an in-memory
// fake in tests).
package sandboxmgr

import "time"

// State is one node of the sandbox lifecycle state machine.
type State string

const (
	StateIdle     State = "idle"
	StateCreating State = "creating"
	StateActive   State = "active"
	StatePaused   State = "paused"
	StateExpired  State = "expired"
	StateError    State = "error"
)

// Event drives a state transition.
type Event string

const (
	EventCreate  Event = "CREATE"
	EventCreated Event = "CREATED"
	EventError   Event = "ERROR"
	EventPause   Event = "PAUSE"
	EventExpire  Event = "EXPIRE"
	EventCleanup Event = "CLEANUP"
	EventResume  Event = "RESUME"
	EventRetry   Event = "RETRY"
)

// MaxRetries is the cap on automatic error-recovery attempts before the
// machine refuses RETRY and requires CLEANUP.
const MaxRetries = 3

// transitions is the legal-transition table. Any (state,
// event) pair absent from this map is rejected without side effects.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventCreate: StateCreating,
	},
	StateCreating: {
		EventCreated: StateActive,
		EventError:   StateError,
	},
	StateActive: {
		EventPause:   StatePaused,
		EventExpire:  StateExpired,
		EventError:   StateError,
		EventCleanup: StateIdle,
	},
	StatePaused: {
		EventResume:  StateActive,
		EventExpire:  StateExpired,
		EventCleanup: StateIdle,
	},
	StateExpired: {
		EventCreate:  StateCreating,
		EventCleanup: StateIdle,
	},
	StateError: {
		// RETRY is conditionally legal (retryCount < MaxRetries); handled in
		// Record.apply rather than the static table since it needs counter
		// state.
		EventRetry:   StateCreating,
		EventCleanup: StateIdle,
	},
}

// next returns the destination state for (from, event), or ("", false) if
// the transition is illegal.
func next(from State, event Event) (State, bool) {
	byEvent, ok := transitions[from]
	if !ok {
		return "", false
	}
	to, ok := byEvent[event]
	return to, ok
}

// Record is the Sandbox Manager's per-project state, held in memory only;
// the Context Store owns the durable ProjectContext and only ever sees the
// SandboxID via ContextPatch.
type Record struct {
	ProjectID    string
	State        State
	SandboxID    string
	SandboxURL   string
	Err          string
	RetryCount   int
	CreatedAt    time.Time
	PausedAt     time.Time
	LastActivity time.Time
}

// apply runs event against r, mutating it in place on success. Returns
// ErrIllegalTransition (including the RETRY-past-cap case) on rejection.
func (r *Record) apply(event Event) error {
	if event == EventRetry && r.State == StateError && r.RetryCount >= MaxRetries {
		return &Error{Kind: kindStateConflict, Op: "apply", Cause: ErrRetryCapExceeded}
	}

	to, ok := next(r.State, event)
	if !ok {
		return &Error{Kind: kindStateConflict, Op: "apply", Cause: ErrIllegalTransition}
	}

	switch event {
	case EventRetry:
		r.RetryCount++
	case EventCreated:
		r.RetryCount = 0
	case EventCleanup:
		r.SandboxID = ""
		r.SandboxURL = ""
		r.Err = ""
		r.RetryCount = 0
		r.PausedAt = time.Time{}
	case EventPause:
		r.PausedAt = time.Now()
	}

	r.State = to
	r.LastActivity = time.Now()
	return nil
}
