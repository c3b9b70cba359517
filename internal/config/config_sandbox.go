package config

import "time"

// SandboxConfig configures the Sandbox Manager's VM pool and lifecycle policy.
type SandboxConfig struct {
	// Backend selects the VM provider: "firecracker" or "fake" (tests).
	Backend string `yaml:"backend"`

	PoolSize    int           `yaml:"pool_size"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	BootTimeout time.Duration `yaml:"boot_timeout"`
	ExecTimeout time.Duration `yaml:"exec_timeout"`

	Limits ResourceLimits `yaml:"limits"`

	// ExpiryInterval controls how often the cron sweep checks for sandboxes
	// past MaxIdleTime.
	ExpiryInterval time.Duration `yaml:"expiry_interval"`

	// MaxRetries is the cap on automatic error-recovery attempts before a
	// sandbox is marked errored permanently.
	MaxRetries int `yaml:"max_retries"`

	// KernelImagePath and RootfsPath locate the Firecracker boot assets.
	KernelImagePath string `yaml:"kernel_image_path"`
	RootfsPath      string `yaml:"rootfs_path"`
}

// ResourceLimits caps CPU/memory granted to a sandbox VM.
type ResourceLimits struct {
	VCPUCount  int64 `yaml:"vcpu_count"`
	MemSizeMib int64 `yaml:"mem_size_mib"`
}

func applySandboxDefaults(cfg *SandboxConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "fake"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 4
	}
	if cfg.MaxIdleTime == 0 {
		cfg.MaxIdleTime = 30 * time.Minute
	}
	if cfg.BootTimeout == 0 {
		cfg.BootTimeout = 15 * time.Second
	}
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = 2 * time.Minute
	}
	if cfg.ExpiryInterval == 0 {
		cfg.ExpiryInterval = time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Limits.VCPUCount == 0 {
		cfg.Limits.VCPUCount = 2
	}
	if cfg.Limits.MemSizeMib == 0 {
		cfg.Limits.MemSizeMib = 1024
	}
}

// DevServerConfig configures the dev server supervisor's port scan and status cache.
type DevServerConfig struct {
	PortRangeStart int           `yaml:"port_range_start"`
	PortRangeEnd   int           `yaml:"port_range_end"`
	StatusCacheTTL time.Duration `yaml:"status_cache_ttl"`
	StartTimeout   time.Duration `yaml:"start_timeout"`
	LogTailLines   int           `yaml:"log_tail_lines"`
}

func applyDevServerDefaults(cfg *DevServerConfig) {
	if cfg.PortRangeStart == 0 {
		cfg.PortRangeStart = 3000
	}
	if cfg.PortRangeEnd == 0 {
		cfg.PortRangeEnd = 3005
	}
	if cfg.StatusCacheTTL == 0 {
		cfg.StatusCacheTTL = 1500 * time.Millisecond
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if cfg.LogTailLines == 0 {
		cfg.LogTailLines = 200
	}
}
