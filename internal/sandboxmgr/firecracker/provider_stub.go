//go:build !linux

// Package firecracker provides the Firecracker-backed VMProvider. Firecracker
// only runs on Linux (it needs KVM); on other platforms NewProvider returns a
// Provider whose methods all fail with ErrNotSupported.
package firecracker

import (
	"context"
	"errors"
	"time"

	"github.com/forgekit/agentcore/internal/config"
	"github.com/forgekit/agentcore/internal/sandboxmgr"
)

// ErrNotSupported is returned by every Provider method on non-Linux builds.
var ErrNotSupported = errors.New("firecracker is only supported on Linux")

// Provider is a no-op stand-in for the Linux build's real adapter.
type Provider struct{}

// NewProvider returns a Provider that rejects every call with ErrNotSupported.
func NewProvider(cfg config.SandboxConfig) *Provider { return &Provider{} }

func (p *Provider) Create(ctx context.Context, projectID, templateID string) (sandboxmgr.VMHandle, error) {
	return nil, ErrNotSupported
}

func (p *Provider) Connect(ctx context.Context, sandboxID string) (sandboxmgr.VMHandle, error) {
	return nil, ErrNotSupported
}

func (p *Provider) Probe(ctx context.Context, h sandboxmgr.VMHandle) error { return ErrNotSupported }

func (p *Provider) WriteFiles(ctx context.Context, h sandboxmgr.VMHandle, files map[string]string) error {
	return ErrNotSupported
}

func (p *Provider) Exec(ctx context.Context, h sandboxmgr.VMHandle, command, cwd string, timeout time.Duration) (sandboxmgr.ExecResult, error) {
	return sandboxmgr.ExecResult{}, ErrNotSupported
}

func (p *Provider) StartBackground(ctx context.Context, h sandboxmgr.VMHandle, command, workingDir, purpose string) (sandboxmgr.BackgroundHandle, error) {
	return nil, ErrNotSupported
}

func (p *Provider) KillBackground(ctx context.Context, h sandboxmgr.VMHandle, bg sandboxmgr.BackgroundHandle) error {
	return ErrNotSupported
}

func (p *Provider) Pause(ctx context.Context, h sandboxmgr.VMHandle) error { return ErrNotSupported }

func (p *Provider) Resume(ctx context.Context, h sandboxmgr.VMHandle) error { return ErrNotSupported }

func (p *Provider) Destroy(ctx context.Context, h sandboxmgr.VMHandle) error { return ErrNotSupported }
