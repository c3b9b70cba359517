//go:build linux

package firecracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	fcsdk "github.com/firecracker-microvm/firecracker-go-sdk"
	fcmodels "github.com/firecracker-microvm/firecracker-go-sdk/client/models"
)

type vmState int

const (
	vmCreating vmState = iota
	vmRunning
	vmPaused
	vmStopped
	vmFailed
)

func (s vmState) String() string {
	switch s {
	case vmCreating:
		return "creating"
	case vmRunning:
		return "running"
	case vmPaused:
		return "paused"
	case vmStopped:
		return "stopped"
	case vmFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const defaultBootArgs = "console=ttyS0 reboot=k panic=1 pci=off"

// machineConfig holds everything needed to boot one project's microVM.
type machineConfig struct {
	ID         string
	KernelPath string
	// RootfsPath is the base image every project VM clones from. When
	// TemplatePath names a pre-built template image, it is cloned instead
	// to shorten cold start.
	RootfsPath   string
	TemplatePath string
	VCPUs        int64
	MemMiB       int64
}

// microVM owns one Firecracker process and its copy-on-write rootfs clone.
// Each project gets its own microVM; there is no cross-project sharing, so
// the clone doubles as the project's persistent disk for the VM's lifetime.
type microVM struct {
	cfg    machineConfig
	runDir string

	mu      sync.RWMutex
	state   vmState
	machine *fcsdk.Machine
	guest   *guestConn
	cleanup []func() error
}

// newMicroVM prepares the per-VM run directory and rootfs clone. The VM is
// not booted until boot is called.
func newMicroVM(cfg machineConfig) (*microVM, error) {
	if cfg.KernelPath == "" {
		return nil, errors.New("firecracker: kernel path is required")
	}
	if cfg.RootfsPath == "" && cfg.TemplatePath == "" {
		return nil, errors.New("firecracker: rootfs path is required")
	}

	runDir := filepath.Join(os.TempDir(), "forgekit-vm", cfg.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("firecracker: create run dir: %w", err)
	}

	vm := &microVM{
		cfg:    cfg,
		runDir: runDir,
		state:  vmCreating,
	}
	vm.cleanup = append(vm.cleanup, func() error { return os.RemoveAll(runDir) })

	if err := vm.cloneRootfs(); err != nil {
		_ = os.RemoveAll(runDir)
		return nil, err
	}
	return vm, nil
}

func (vm *microVM) apiSocketPath() string   { return filepath.Join(vm.runDir, "api.sock") }
func (vm *microVM) vsockSocketPath() string { return filepath.Join(vm.runDir, "vsock.sock") }
func (vm *microVM) overlayPath() string     { return filepath.Join(vm.runDir, "rootfs.img") }

// cloneRootfs copies the base (or template) image into the run directory,
// preferring a reflink clone so cold starts don't pay a full image copy on
// filesystems that support it.
func (vm *microVM) cloneRootfs() error {
	src := vm.cfg.RootfsPath
	if vm.cfg.TemplatePath != "" {
		src = vm.cfg.TemplatePath
	}
	if err := cloneImage(src, vm.overlayPath()); err != nil {
		return fmt.Errorf("firecracker: clone rootfs: %w", err)
	}
	return nil
}

// boot starts the Firecracker process and waits for the VMM to come up.
func (vm *microVM) boot(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state == vmRunning {
		return nil
	}

	bin, err := exec.LookPath("firecracker")
	if err != nil {
		vm.state = vmFailed
		return fmt.Errorf("firecracker binary not found: %w", err)
	}

	fcCfg := fcsdk.Config{
		SocketPath:      vm.apiSocketPath(),
		LogPath:         filepath.Join(vm.runDir, "vm.log"),
		LogLevel:        "Warning",
		KernelImagePath: vm.cfg.KernelPath,
		KernelArgs:      defaultBootArgs,
		Drives: []fcmodels.Drive{{
			DriveID:      fcsdk.String("rootfs"),
			PathOnHost:   fcsdk.String(vm.overlayPath()),
			IsRootDevice: fcsdk.Bool(true),
			IsReadOnly:   fcsdk.Bool(false),
		}},
		MachineCfg: fcmodels.MachineConfiguration{
			VcpuCount:  fcsdk.Int64(vm.cfg.VCPUs),
			MemSizeMib: fcsdk.Int64(vm.cfg.MemMiB),
			Smt:        fcsdk.Bool(false),
		},
		VsockDevices: []fcsdk.VsockDevice{{
			Path: vm.vsockSocketPath(),
			CID:  guestCID,
		}},
	}

	cmd := fcsdk.VMCommandBuilder{}.
		WithBin(bin).
		WithSocketPath(vm.apiSocketPath()).
		Build(ctx)

	machine, err := fcsdk.NewMachine(ctx, fcCfg, fcsdk.WithProcessRunner(cmd))
	if err != nil {
		vm.state = vmFailed
		return fmt.Errorf("firecracker: configure machine: %w", err)
	}
	if err := machine.Start(ctx); err != nil {
		vm.state = vmFailed
		return fmt.Errorf("firecracker: start machine: %w", err)
	}

	vm.machine = machine
	vm.guest = newGuestConn(vm.vsockSocketPath(), guestAgentPort)
	vm.state = vmRunning
	return nil
}

func (vm *microVM) pause(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.state != vmRunning {
		return fmt.Errorf("firecracker: cannot pause vm in state %s", vm.state)
	}
	if err := vm.machine.PauseVM(ctx); err != nil {
		return fmt.Errorf("firecracker: pause vm: %w", err)
	}
	vm.state = vmPaused
	return nil
}

func (vm *microVM) resume(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.state == vmRunning {
		return nil
	}
	if vm.state != vmPaused {
		return fmt.Errorf("firecracker: cannot resume vm in state %s", vm.state)
	}
	if err := vm.machine.ResumeVM(ctx); err != nil {
		return fmt.Errorf("firecracker: resume vm: %w", err)
	}
	vm.state = vmRunning
	return nil
}

// shutdown asks the guest agent to exit, stops the VMM, and removes the run
// directory (overlay included). Idempotent.
func (vm *microVM) shutdown(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state == vmStopped {
		return nil
	}

	var errs []error
	if vm.guest != nil {
		vm.guest.shutdown(ctx)
		if err := vm.guest.close(); err != nil {
			errs = append(errs, fmt.Errorf("close guest conn: %w", err))
		}
		vm.guest = nil
	}
	if vm.machine != nil {
		if err := vm.machine.StopVMM(); err != nil {
			errs = append(errs, fmt.Errorf("stop vmm: %w", err))
		}
		vm.machine = nil
	}
	for _, fn := range vm.cleanup {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	vm.state = vmStopped

	if len(errs) > 0 {
		return fmt.Errorf("firecracker: shutdown: %v", errs)
	}
	return nil
}

func (vm *microVM) currentState() vmState {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.state
}

func (vm *microVM) guestConn() *guestConn {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.guest
}

// cloneImage copies src to dst, attempting a reflink (FICLONE) first and
// falling back to a sparse byte copy on filesystems without reflink support.
func cloneImage(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if reflink(in, out) == nil {
		return nil
	}

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := out.Truncate(info.Size()); err != nil {
		return err
	}
	return sparseCopy(in, out)
}

func reflink(src, dst *os.File) error {
	const ficlone = 0x40049409
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, dst.Fd(), ficlone, src.Fd())
	if errno != 0 {
		return errno
	}
	return nil
}

// sparseCopy copies src into dst, seeking over all-zero blocks so the copy
// stays as sparse as the source image.
func sparseCopy(src, dst *os.File) error {
	buf := make([]byte, 1<<20)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if isZero(buf[:n]) {
				if _, serr := dst.Seek(int64(n), io.SeekCurrent); serr != nil {
					return serr
				}
			} else if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
