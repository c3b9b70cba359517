package sandboxmgr

import (
	"context"
	"time"
)

// ExecResult is the outcome of a single command run inside a sandbox.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
	TimedOut   bool
}

// VMHandle is an opaque, provider-owned reference to a running sandbox VM.
// The Sandbox Manager never inspects it beyond passing it back to the
// provider that issued it.
type VMHandle interface {
	ID() string
	URL() string
}

// BackgroundHandle identifies one backgrounded process started inside a VM.
type BackgroundHandle interface {
	Purpose() string
}

// VMProvider is the pluggable backend the Sandbox Manager drives. The
// Firecracker backend (internal/sandboxmgr/firecracker) and the in-memory
// fakeProvider (used by tests and the "fake" backend config) both implement
// it.
type VMProvider interface {
	// Create provisions a new VM, optionally from a named template, and
	// returns its handle once it is reachable.
	Create(ctx context.Context, projectID, templateID string) (VMHandle, error)

	// Connect re-attaches to a previously created VM by sandbox id. Returns
	// ErrVMExpired if the provider knows the VM no longer exists.
	Connect(ctx context.Context, sandboxID string) (VMHandle, error)

	// Probe performs a liveness check with the given deadline.
	Probe(ctx context.Context, handle VMHandle) error

	// WriteFiles writes the given relative-path -> content set into the VM,
	// creating directories as needed.
	WriteFiles(ctx context.Context, handle VMHandle, files map[string]string) error

	// Exec runs command with the given working directory and timeout.
	Exec(ctx context.Context, handle VMHandle, command, cwd string, timeout time.Duration) (ExecResult, error)

	// StartBackground starts command detached and returns a handle used to
	// kill it later.
	StartBackground(ctx context.Context, handle VMHandle, command, workingDir, purpose string) (BackgroundHandle, error)

	// KillBackground terminates a previously started background process.
	KillBackground(ctx context.Context, handle VMHandle, bg BackgroundHandle) error

	// Destroy releases the VM and all its resources.
	Destroy(ctx context.Context, handle VMHandle) error
}

// PauseResumer is implemented by providers that can suspend a VM in place
// and bring it back without losing memory or disk state. The Manager checks
// for it on PAUSE; providers without it simply keep the VM running while
// the record sits in paused.
type PauseResumer interface {
	Pause(ctx context.Context, handle VMHandle) error
	Resume(ctx context.Context, handle VMHandle) error
}

// ErrVMExpired is returned by VMProvider.Connect when the target VM is gone.
var ErrVMExpired = vmExpiredError{}

type vmExpiredError struct{}

func (vmExpiredError) Error() string { return "sandboxmgr: vm no longer exists" }
