//go:build linux

// Package firecracker is the production sandboxmgr.VMProvider: one
// Firecracker microVM per project, booted from a copy-on-write clone of a
// base rootfs (or a pre-built template image when one is configured), with
// all guest I/O going through the vsock guest agent.
//
// The Sandbox Manager owns pooling policy, idle-expiry, and retry counts at
// the project level, so this package deliberately has no pool of its own:
// a handle maps one-to-one onto a running (or paused) VM.
package firecracker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forgekit/agentcore/internal/config"
	"github.com/forgekit/agentcore/internal/sandboxmgr"
)

// Provider is a sandboxmgr.VMProvider backed by real Firecracker microVMs.
type Provider struct {
	kernelPath   string
	rootfsPath   string
	templatePath string
	limits       config.ResourceLimits

	mu  sync.Mutex
	vms map[string]*vmEntry
}

type vmEntry struct {
	vm    *microVM
	bgSeq int
}

// handle is the opaque VMHandle sandboxmgr holds between calls. URL is
// synthetic: nothing outside this package dials it directly, devserver's
// host-URL rewriting only needs a parseable hostname.
type handle struct {
	id  string
	url string
}

func (h *handle) ID() string  { return h.id }
func (h *handle) URL() string { return h.url }

// backgroundHandle names a detached process by the pid captured when it was
// launched. The guest agent protocol has no background-process verb, so
// StartBackground/KillBackground fake one with nohup and a pid echo.
type backgroundHandle struct {
	purpose string
	pid     string
}

func (b *backgroundHandle) Purpose() string { return b.purpose }

// NewProvider returns a Provider that boots microVMs from the configured
// kernel and rootfs images.
func NewProvider(cfg config.SandboxConfig) *Provider {
	return &Provider{
		kernelPath: cfg.KernelImagePath,
		rootfsPath: cfg.RootfsPath,
		limits:     cfg.Limits,
		vms:        make(map[string]*vmEntry),
	}
}

func (p *Provider) Create(ctx context.Context, projectID, templateID string) (sandboxmgr.VMHandle, error) {
	cfg := machineConfig{
		ID:           "sbx-" + projectID,
		KernelPath:   p.kernelPath,
		RootfsPath:   p.rootfsPath,
		TemplatePath: templateID,
		VCPUs:        p.limits.VCPUCount,
		MemMiB:       p.limits.MemSizeMib,
	}
	if cfg.VCPUs <= 0 {
		cfg.VCPUs = 1
	}
	if cfg.MemMiB <= 0 {
		cfg.MemMiB = 512
	}

	vm, err := newMicroVM(cfg)
	if err != nil {
		return nil, fmt.Errorf("firecracker: create vm: %w", err)
	}
	if err := vm.boot(ctx); err != nil {
		return nil, fmt.Errorf("firecracker: boot vm: %w", err)
	}

	p.mu.Lock()
	p.vms[cfg.ID] = &vmEntry{vm: vm}
	p.mu.Unlock()

	return &handle{id: cfg.ID, url: "vsock://" + cfg.ID}, nil
}

// Connect re-attaches to a VM this process still tracks, resuming it if it
// was paused in place. A VM from a previous process is gone: the overlay
// lived in its run directory, so the only honest answer is ErrVMExpired and
// a fresh Create plus file restoration by the manager.
func (p *Provider) Connect(ctx context.Context, sandboxID string) (sandboxmgr.VMHandle, error) {
	p.mu.Lock()
	entry, ok := p.vms[sandboxID]
	p.mu.Unlock()
	if !ok {
		return nil, sandboxmgr.ErrVMExpired
	}
	switch entry.vm.currentState() {
	case vmRunning:
	case vmPaused:
		if err := entry.vm.resume(ctx); err != nil {
			return nil, fmt.Errorf("firecracker: resume on connect: %w", err)
		}
	default:
		return nil, sandboxmgr.ErrVMExpired
	}
	return &handle{id: sandboxID, url: "vsock://" + sandboxID}, nil
}

func (p *Provider) Probe(ctx context.Context, h sandboxmgr.VMHandle) error {
	_, guest, err := p.lookup(h)
	if err != nil {
		return err
	}
	return guest.health(ctx)
}

func (p *Provider) WriteFiles(ctx context.Context, h sandboxmgr.VMHandle, files map[string]string) error {
	_, guest, err := p.lookup(h)
	if err != nil {
		return err
	}
	return guest.writeFiles(ctx, files, guestProjectDir)
}

func (p *Provider) Exec(ctx context.Context, h sandboxmgr.VMHandle, command, cwd string, timeout time.Duration) (sandboxmgr.ExecResult, error) {
	_, guest, err := p.lookup(h)
	if err != nil {
		return sandboxmgr.ExecResult{}, err
	}

	resp, err := guest.exec(ctx, command, cwd, timeout)
	if err != nil {
		return sandboxmgr.ExecResult{TimedOut: ctx.Err() != nil}, fmt.Errorf("firecracker: exec: %w", err)
	}

	return sandboxmgr.ExecResult{
		Stdout:     resp.Stdout,
		Stderr:     resp.Stderr,
		ExitCode:   resp.ExitCode,
		DurationMs: resp.DurationMs,
		TimedOut:   resp.TimedOut,
	}, nil
}

func (p *Provider) StartBackground(ctx context.Context, h sandboxmgr.VMHandle, command, workingDir, purpose string) (sandboxmgr.BackgroundHandle, error) {
	entry, guest, err := p.lookup(h)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	entry.bgSeq++
	tag := fmt.Sprintf("forgekit-bg-%d", entry.bgSeq)
	p.mu.Unlock()

	detached := fmt.Sprintf("nohup sh -c %q >/tmp/%s.log 2>&1 & echo %s:$!", command, tag, tag)
	resp, err := guest.exec(ctx, detached, workingDir, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("firecracker: start background: %w", err)
	}
	pid := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(resp.Stdout), tag+":"))

	return &backgroundHandle{purpose: purpose, pid: pid}, nil
}

func (p *Provider) KillBackground(ctx context.Context, h sandboxmgr.VMHandle, bg sandboxmgr.BackgroundHandle) error {
	_, guest, err := p.lookup(h)
	if err != nil {
		return err
	}
	b, ok := bg.(*backgroundHandle)
	if !ok || b.pid == "" {
		return nil
	}
	_, err = guest.exec(ctx, "kill "+b.pid, "", 5*time.Second)
	return err
}

// Pause suspends the VM in place, keeping its memory and overlay so Resume
// (or Connect) picks up exactly where it left off.
func (p *Provider) Pause(ctx context.Context, h sandboxmgr.VMHandle) error {
	entry, ok := p.entry(h.ID())
	if !ok {
		return sandboxmgr.ErrVMExpired
	}
	return entry.vm.pause(ctx)
}

// Resume restarts a paused VM.
func (p *Provider) Resume(ctx context.Context, h sandboxmgr.VMHandle) error {
	entry, ok := p.entry(h.ID())
	if !ok {
		return sandboxmgr.ErrVMExpired
	}
	return entry.vm.resume(ctx)
}

func (p *Provider) Destroy(ctx context.Context, h sandboxmgr.VMHandle) error {
	p.mu.Lock()
	entry, ok := p.vms[h.ID()]
	if ok {
		delete(p.vms, h.ID())
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return entry.vm.shutdown(ctx)
}

func (p *Provider) entry(id string) (*vmEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.vms[id]
	return entry, ok
}

func (p *Provider) lookup(h sandboxmgr.VMHandle) (*vmEntry, *guestConn, error) {
	entry, ok := p.entry(h.ID())
	if !ok {
		return nil, nil, sandboxmgr.ErrVMExpired
	}
	guest := entry.vm.guestConn()
	if guest == nil {
		return nil, nil, fmt.Errorf("firecracker: vm %s has no guest connection yet", h.ID())
	}
	return entry, guest, nil
}
