package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// VenvDirName is the sibling directory holding the workspace's ephemeral
// virtualenv. It is excluded
// from `git clean` so it survives refreshes.
const VenvDirName = ".venv-mcp"

const venvReadyMarker = ".mcp_ready"

// VenvEnv is the set of environment variables pointing into a ready
// virtualenv, suitable for prepending to a subprocess's env.
type VenvEnv struct {
	Path       string
	PythonBin  string
	EnvEntries []string
}

// VenvStatus reports whether a workspace's virtualenv exists and is ready.
type VenvStatus struct {
	Exists bool `json:"exists"`
	Ready  bool `json:"ready"`
}

func venvDir(repoDir string) string    { return filepath.Join(repoDir, VenvDirName) }
func venvMarker(repoDir string) string { return filepath.Join(venvDir(repoDir), venvReadyMarker) }

// QueryVenv reports the current virtualenv status for repoDir.
func QueryVenv(repoDir string) VenvStatus {
	dir := venvDir(repoDir)
	if _, err := os.Stat(dir); err != nil {
		return VenvStatus{}
	}
	_, err := os.Stat(venvMarker(repoDir))
	return VenvStatus{Exists: true, Ready: err == nil}
}

// PrepareVenv implements _prepare_temp_virtualenv: if the
// ready marker exists, return env vars pointing into it; else create via
// `python -m venv`, bootstrap pip if missing, and write the marker.
func PrepareVenv(ctx context.Context, repoDir string) (*VenvEnv, error) {
	dir := venvDir(repoDir)
	bin := filepath.Join(dir, "bin")

	if st := QueryVenv(repoDir); st.Ready {
		return venvEnvFor(dir, bin), nil
	}

	if _, err := Run(ctx, "python3", []string{"-m", "venv", dir}, RunOptions{Dir: repoDir, Timeout: 120 * time.Second}); err != nil {
		return nil, fmt.Errorf("failed to create virtualenv: %w", err)
	}

	pip := filepath.Join(bin, "pip")
	if _, err := os.Stat(pip); err != nil {
		if _, err := Run(ctx, filepath.Join(bin, "python3"), []string{"-m", "ensurepip", "--upgrade"}, RunOptions{Dir: repoDir}); err != nil {
			return nil, fmt.Errorf("failed to bootstrap pip: %w", err)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(venvMarker(repoDir), []byte("ready\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write venv ready marker: %w", err)
	}

	return venvEnvFor(dir, bin), nil
}

func venvEnvFor(dir, bin string) *VenvEnv {
	return &VenvEnv{
		Path:      dir,
		PythonBin: filepath.Join(bin, "python3"),
		EnvEntries: []string{
			"VIRTUAL_ENV=" + dir,
			"PATH=" + bin + ":" + os.Getenv("PATH"),
		},
	}
}

// StopVenv implements _stop_workspace_virtualenv: deletes the virtualenv
// directory independently of the repo checkout.
func StopVenv(repoDir string) error {
	return os.RemoveAll(venvDir(repoDir))
}
