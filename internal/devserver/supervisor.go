package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/forgekit/agentcore/internal/config"
	"github.com/forgekit/agentcore/internal/contextstore"
	"github.com/forgekit/agentcore/internal/sandboxmgr"
	"github.com/forgekit/agentcore/pkg/models"
)

// devLogPath is where the supervisor redirects the dev server's stdout and
// stderr inside the sandbox, relative to the project's working directory.
const devLogPath = ".forgekit/dev-server.log"

// StartResult is the outcome of a successful Start call.
type StartResult struct {
	Port int    `json:"port"`
	URL  string `json:"url"`
}

// StartOptions tunes a single Start call.
type StartOptions struct {
	// ForceRestart skips the already-running short-circuit and restarts the
	// dev server even if a healthy one is already serving.
	ForceRestart bool
}

// Supervisor is the Dev-Server Supervisor: it starts, probes, and stops a
// project's development server inside its sandbox. Start calls for the same
// project dedupe through a singleflight.Group the same way
// sandboxmgr.Manager dedupes sandbox creation, so two tool calls racing to
// start the same project's server share one start attempt.
type Supervisor struct {
	manager *sandboxmgr.Manager
	store   contextstore.Store
	cfg     config.DevServerConfig
	cache   *statusCache
	group   singleflight.Group
	logger  *slog.Logger
}

// NewSupervisor returns a ready-to-use Supervisor.
func NewSupervisor(manager *sandboxmgr.Manager, store contextstore.Store, cfg config.DevServerConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		manager: manager,
		store:   store,
		cfg:     cfg,
		cache:   newStatusCache(cfg.StatusCacheTTL),
		logger:  logger,
	}
}

func (s *Supervisor) candidatePorts() []int {
	ports := make([]int, 0, s.cfg.PortRangeEnd-s.cfg.PortRangeStart+1)
	for p := s.cfg.PortRangeStart; p <= s.cfg.PortRangeEnd; p++ {
		ports = append(ports, p)
	}
	return ports
}

// Status returns the cached status if still fresh, otherwise probes the
// sandbox's candidate ports and tails the dev server log.
func (s *Supervisor) Status(ctx context.Context, projectID string) (StatusResult, error) {
	if cached, ok := s.cache.get(projectID); ok {
		return cached, nil
	}
	result := s.probeStatus(ctx, projectID)
	s.cache.set(projectID, result)
	return result, nil
}

func (s *Supervisor) probeStatus(ctx context.Context, projectID string) StatusResult {
	result := StatusResult{LastChecked: time.Now()}
	if port, ok := s.scanPorts(ctx, projectID, s.candidatePorts()); ok {
		result.IsRunning = true
		result.Port = port
		result.URL = s.hostURL(projectID, port)
	}
	if errs, _ := s.classifiedLog(ctx, projectID, s.cfg.LogTailLines); len(errs) > 0 {
		result.Errors = errs
	}
	return result
}

// scanPorts probes every candidate port in parallel and returns the lowest
// port that answered, cancelling the rest once any response has landed past
// the collection window.
func (s *Supervisor) scanPorts(ctx context.Context, projectID string, ports []int) (int, bool) {
	if len(ports) == 0 {
		return 0, false
	}
	type probeResult struct {
		port int
		ok   bool
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	results := make(chan probeResult, len(ports))
	for _, port := range ports {
		port := port
		go func() {
			results <- probeResult{port: port, ok: s.probePort(probeCtx, projectID, port)}
		}()
	}

	best := 0
	found := false
	for i := 0; i < len(ports); i++ {
		r := <-results
		if r.ok && (!found || r.port < best) {
			best, found = r.port, true
		}
	}
	return best, found
}

// probePort checks whether projectID's sandbox has something listening on
// port, using a plain bash /dev/tcp probe so it works without curl or nc
// being installed in the sandbox image.
func (s *Supervisor) probePort(ctx context.Context, projectID string, port int) bool {
	cmd := fmt.Sprintf(`(exec 3<>/dev/tcp/127.0.0.1/%d) 2>/dev/null && echo FORGEKIT_OPEN || echo FORGEKIT_CLOSED`, port)
	result, err := s.manager.Exec(ctx, projectID, cmd, "", 2*time.Second)
	if err != nil {
		return false
	}
	return strings.Contains(result.Stdout, "FORGEKIT_OPEN")
}

func (s *Supervisor) rawLogLines(ctx context.Context, projectID string, n int) ([]string, error) {
	cmd := fmt.Sprintf("tail -n %d %s 2>/dev/null", n, devLogPath)
	result, err := s.manager.Exec(ctx, projectID, cmd, "", 5*time.Second)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimRight(result.Stdout, "\n")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

func (s *Supervisor) classifiedLog(ctx context.Context, projectID string, n int) (errs, warnings []string) {
	lines, err := s.rawLogLines(ctx, projectID, n)
	if err != nil {
		return nil, nil
	}
	return classifyLines(lines)
}

// hostURL builds the externally reachable URL for port inside projectID's
// sandbox, derived from the sandbox's own base URL.
func (s *Supervisor) hostURL(projectID string, port int) string {
	base := s.manager.Snapshot(projectID).SandboxURL
	if base == "" {
		return fmt.Sprintf("http://localhost:%d", port)
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Sprintf("%s:%d", base, port)
	}
	u.Host = fmt.Sprintf("%s:%d", u.Hostname(), port)
	return u.String()
}

// Start ensures a dev server is running for projectID, returning the port it
// bound. Concurrent Start calls for the same project share one attempt.
func (s *Supervisor) Start(ctx context.Context, projectID string, opts StartOptions) (StartResult, error) {
	v, err, _ := s.group.Do(projectID, func() (interface{}, error) {
		return s.startLocked(ctx, projectID, opts)
	})
	if err != nil {
		return StartResult{}, err
	}
	return v.(StartResult), nil
}

func (s *Supervisor) startLocked(ctx context.Context, projectID string, opts StartOptions) (StartResult, error) {
	if !opts.ForceRestart {
		if status, err := s.Status(ctx, projectID); err == nil && status.IsRunning {
			return StartResult{Port: status.Port, URL: status.URL}, nil
		}
	}

	s.stopLocked(ctx, projectID)
	s.cache.invalidate(projectID)

	snapshot, err := s.store.Get(ctx, projectID)
	if err != nil {
		return StartResult{}, err
	}
	_, _, devCmd := sandboxmgr.DetectPackageManager(snapshot.Files)

	truncate := fmt.Sprintf("mkdir -p $(dirname %s) && : > %s", devLogPath, devLogPath)
	if _, err := s.manager.Exec(ctx, projectID, truncate, "", 10*time.Second); err != nil {
		return StartResult{}, err
	}

	runCmd := fmt.Sprintf("%s > %s 2>&1", devCmd, devLogPath)
	if _, err := s.manager.StartBackground(ctx, projectID, runCmd, "", "dev"); err != nil {
		return StartResult{}, err
	}

	deadline := time.Now().Add(s.cfg.StartTimeout)
	for {
		if port, ok := s.scanPorts(ctx, projectID, s.candidatePorts()); ok {
			return s.markReady(projectID, port), nil
		}
		if lines, err := s.rawLogLines(ctx, projectID, s.cfg.LogTailLines); err == nil {
			if port, ok := extractListeningPort(lines); ok && s.probePort(ctx, projectID, port) {
				return s.markReady(projectID, port), nil
			}
		}
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return StartResult{}, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	// The timeout payload carries the raw log tail, not just error-shaped
	// lines: a hung server often produces only informational output.
	msg := fmt.Sprintf("dev server did not become ready within %s", s.cfg.StartTimeout)
	if lines, err := s.rawLogLines(ctx, projectID, 30); err == nil && len(lines) > 0 {
		msg += "; last log lines:\n" + strings.Join(lines, "\n")
	}
	return StartResult{}, models.NewError(models.KindTimeout, msg, nil)
}

func (s *Supervisor) markReady(projectID string, port int) StartResult {
	result := StartResult{Port: port, URL: s.hostURL(projectID, port)}
	s.cache.set(projectID, StatusResult{IsRunning: true, Port: port, URL: result.URL, LastChecked: time.Now()})
	return result
}

// Stop kills the project's dev server process and any listeners left on its
// candidate ports. Safe to call when nothing is running.
func (s *Supervisor) Stop(ctx context.Context, projectID string) error {
	s.stopLocked(ctx, projectID)
	s.cache.invalidate(projectID)
	return nil
}

func (s *Supervisor) stopLocked(ctx context.Context, projectID string) {
	if _, err := s.manager.KillBackground(ctx, projectID, "dev"); err != nil {
		s.logger.Warn("devserver: failed to kill background process", "project_id", projectID, "error", err)
	}
	for _, port := range s.candidatePorts() {
		cmd := fmt.Sprintf("fuser -k %d/tcp 2>/dev/null || true", port)
		if _, err := s.manager.Exec(ctx, projectID, cmd, "", 5*time.Second); err != nil {
			s.logger.Warn("devserver: failed to clear port listener", "project_id", projectID, "port", port, "error", err)
		}
	}
}
