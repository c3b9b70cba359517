package sandboxmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeProvider is an in-memory VMProvider for tests and the "fake" backend
// config. It never shells out; Exec/StartBackground just echo back
// deterministic results so orchestrator and tool-registry tests can run
// without a host kernel.
type FakeProvider struct {
	mu      sync.Mutex
	vms     map[string]*fakeVM
	expired map[string]bool

	// ExecFunc, when set, overrides the canned Exec behavior.
	ExecFunc func(command string) ExecResult
}

type fakeVM struct {
	id     string
	url    string
	alive  bool
	paused bool
	files  map[string]string
	bgJobs map[string]*fakeBackgroundHandle
}

func (v *fakeVM) ID() string  { return v.id }
func (v *fakeVM) URL() string { return v.url }

type fakeBackgroundHandle struct {
	purpose string
	killed  bool
}

func (h *fakeBackgroundHandle) Purpose() string { return h.purpose }

// NewFakeProvider returns a ready-to-use FakeProvider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		vms:     make(map[string]*fakeVM),
		expired: make(map[string]bool),
	}
}

// Expire marks sandboxID as gone; the next Connect returns ErrVMExpired.
func (p *FakeProvider) Expire(sandboxID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired[sandboxID] = true
	if vm, ok := p.vms[sandboxID]; ok {
		vm.alive = false
	}
}

func (p *FakeProvider) Create(ctx context.Context, projectID, templateID string) (VMHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.NewString()
	vm := &fakeVM{
		id:     id,
		url:    fmt.Sprintf("https://%s.sandbox.local", id),
		alive:  true,
		files:  make(map[string]string),
		bgJobs: make(map[string]*fakeBackgroundHandle),
	}
	p.vms[id] = vm
	return vm, nil
}

func (p *FakeProvider) Connect(ctx context.Context, sandboxID string) (VMHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.expired[sandboxID] {
		return nil, ErrVMExpired
	}
	vm, ok := p.vms[sandboxID]
	if !ok || !vm.alive {
		return nil, ErrVMExpired
	}
	vm.paused = false
	return vm, nil
}

func (p *FakeProvider) Probe(ctx context.Context, handle VMHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	vm, ok := p.vms[handle.ID()]
	if !ok || !vm.alive {
		return ErrVMExpired
	}
	return nil
}

func (p *FakeProvider) WriteFiles(ctx context.Context, handle VMHandle, files map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	vm, ok := p.vms[handle.ID()]
	if !ok {
		return ErrVMExpired
	}
	for path, content := range files {
		vm.files[path] = content
	}
	return nil
}

func (p *FakeProvider) Exec(ctx context.Context, handle VMHandle, command, cwd string, timeout time.Duration) (ExecResult, error) {
	if p.ExecFunc != nil {
		return p.ExecFunc(command), nil
	}
	select {
	case <-ctx.Done():
		return ExecResult{TimedOut: true, ExitCode: -1}, ctx.Err()
	default:
	}
	return ExecResult{
		Stdout:     fmt.Sprintf("ran: %s\n", command),
		ExitCode:   0,
		DurationMs: 1,
	}, nil
}

func (p *FakeProvider) StartBackground(ctx context.Context, handle VMHandle, command, workingDir, purpose string) (BackgroundHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	vm, ok := p.vms[handle.ID()]
	if !ok {
		return nil, ErrVMExpired
	}
	h := &fakeBackgroundHandle{purpose: purpose}
	vm.bgJobs[purpose] = h
	return h, nil
}

func (p *FakeProvider) KillBackground(ctx context.Context, handle VMHandle, bg BackgroundHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	vm, ok := p.vms[handle.ID()]
	if !ok {
		return ErrVMExpired
	}
	if h, ok := vm.bgJobs[bg.Purpose()]; ok {
		h.killed = true
		delete(vm.bgJobs, bg.Purpose())
	}
	return nil
}

func (p *FakeProvider) Pause(ctx context.Context, handle VMHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	vm, ok := p.vms[handle.ID()]
	if !ok || !vm.alive {
		return ErrVMExpired
	}
	vm.paused = true
	return nil
}

func (p *FakeProvider) Resume(ctx context.Context, handle VMHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	vm, ok := p.vms[handle.ID()]
	if !ok || !vm.alive {
		return ErrVMExpired
	}
	vm.paused = false
	return nil
}

func (p *FakeProvider) Destroy(ctx context.Context, handle VMHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.vms, handle.ID())
	return nil
}
