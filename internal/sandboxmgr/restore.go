package sandboxmgr

import (
	"context"

	"github.com/forgekit/agentcore/pkg/models"
)

// packageManager identifies the install and dev-run commands for a detected
// lockfile.
type packageManager struct {
	name    string
	install string
	run     string
}

var (
	pmBun  = packageManager{name: "bun", install: "bun install", run: "bun run dev"}
	pmPnpm = packageManager{name: "pnpm", install: "pnpm install", run: "pnpm run dev"}
	pmNpm  = packageManager{name: "npm", install: "npm install", run: "npm run dev"}
)

// DetectPackageManager is the exported form of detectPackageManager. The
// Dev-Server Supervisor uses it to pick the command that starts a project's
// dev server without duplicating the lockfile-priority rule.
func DetectPackageManager(files map[string]models.FileEntry) (name, install, run string) {
	pm := detectPackageManager(files)
	return pm.name, pm.install, pm.run
}

// detectPackageManager inspects the restored file set's lockfiles and
// returns the package manager to install with. bun.lock takes priority
// over pnpm-lock.yaml, which takes priority over the npm fallback.
func detectPackageManager(files map[string]models.FileEntry) packageManager {
	if _, ok := files["bun.lock"]; ok {
		return pmBun
	}
	if _, ok := files["pnpm-lock.yaml"]; ok {
		return pmPnpm
	}
	return pmNpm
}

// restoreFiles writes every tracked file into the VM and installs
// dependencies using the detected package manager. It is idempotent:
// writing byte-identical content is a no-op as far as the provider and the
// dependency step are concerned, since WriteFiles always overwrites with
// the same bytes and the install command is safe to re-run.
func (m *Manager) restoreFiles(ctx context.Context, handle VMHandle, projectID string, files map[string]models.FileEntry) error {
	if len(files) == 0 {
		return nil
	}

	content := make(map[string]string, len(files))
	for path, entry := range files {
		content[path] = entry.Content
	}

	if err := m.provider.WriteFiles(ctx, handle, content); err != nil {
		return wrapErr("restoreFiles", models.KindProviderUnavailable, err)
	}

	pm := detectPackageManager(files)
	if _, err := m.provider.Exec(ctx, handle, pm.install, m.projectDir(projectID), m.cfg.ExecTimeout); err != nil {
		return wrapErr("restoreFiles:install", models.KindProviderUnavailable, err)
	}

	return nil
}

// projectDir is the default cwd for exec/restore within a project's sandbox.
func (m *Manager) projectDir(projectID string) string {
	return "/workspace/" + projectID
}

// ProjectDir is the exported form of projectDir, used by callers outside the
// package (the Dev-Server Supervisor, project tools) that need the same
// default working directory the Manager uses internally.
func (m *Manager) ProjectDir(projectID string) string {
	return m.projectDir(projectID)
}
