// Package workspace implements the per-(repo, ref) on-disk git mirror
// engine: concurrency-safe clone/refresh, branch re-keying, self-healing,
// patch application, and the atomic multi-operation editor.
package workspace

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ghmcp/errs"
)

// Engine owns every workspace directory under Root. It exclusively
// performs filesystem mutation within that root.
type Engine struct {
	Root  string
	Token func() (string, bool)

	locksMu sync.Mutex
	locks   map[string]*refCountedMutex
}

// refCountedMutex is a mutex that tracks how many callers currently hold
// a reference to it, so Engine can garbage collect entries for
// (repo, ref) pairs nobody is using.
type refCountedMutex struct {
	mu       sync.Mutex
	refCount int
}

// NewEngine builds an Engine rooted at root. tokenFn resolves the current
// GitHub credential (or ok=false for anonymous/public access); it is
// re-read on every git invocation rather than captured once.
func NewEngine(root string, tokenFn func() (string, bool)) *Engine {
	return &Engine{Root: root, Token: tokenFn, locks: make(map[string]*refCountedMutex)}
}

func (e *Engine) lockKey(fullName, effectiveRef string) string {
	return fullName + "@" + effectiveRef
}

// withRepoLock serializes all git mutation against a single (repo, ref)
// workspace directory semaphore
// of 1).
func (e *Engine) withRepoLock(fullName, effectiveRef string, fn func() error) error {
	key := e.lockKey(fullName, effectiveRef)

	e.locksMu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &refCountedMutex{}
		e.locks[key] = l
	}
	l.refCount++
	e.locksMu.Unlock()

	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		e.locksMu.Lock()
		l.refCount--
		if l.refCount == 0 {
			delete(e.locks, key)
		}
		e.locksMu.Unlock()
	}()

	return fn()
}

// Dir returns the on-disk path for (fullName, effectiveRef), without
// guaranteeing it exists.
func (e *Engine) Dir(fullName, effectiveRef string) string {
	return DirFor(e.Root, fullName, effectiveRef)
}

func (e *Engine) hasGit(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info != nil
}

func (e *Engine) token() string {
	if e.Token == nil {
		return ""
	}
	tok, ok := e.Token()
	if !ok {
		return ""
	}
	return tok
}

// CloneOptions configures CloneRepo.
type CloneOptions struct {
	PreserveChanges bool
}

// CloneRepo clones if absent and refreshes if present, honoring the
// preserve_changes branch-switch semantics. Returns the absolute
// workspace path.
func (e *Engine) CloneRepo(ctx context.Context, fullName, ref string, opts CloneOptions) (string, error) {
	if err := ValidateRef(ref, false); err != nil {
		return "", err
	}
	effectiveRef := NormalizeRef(ref)
	dir := e.Dir(fullName, effectiveRef)

	var result string
	err := e.withRepoLock(fullName, effectiveRef, func() error {
		var innerErr error
		result, innerErr = e.cloneLocked(ctx, fullName, effectiveRef, dir, opts)
		return innerErr
	})
	return result, err
}

func (e *Engine) cloneLocked(ctx context.Context, fullName, effectiveRef, dir string, opts CloneOptions) (string, error) {
	if e.hasGit(dir) {
		if err := e.ensureOriginMatches(ctx, dir, fullName); err != nil {
			return "", err
		}
		if _, err := RunGitWithRetry(ctx, []string{"fetch", "origin", "--prune"}, GitRetryOptions{
			Dir: dir, Token: e.token(), NoAuthOnFetchAuthFailure: true,
		}); err != nil {
			return "", err
		}

		if !opts.PreserveChanges {
			if _, err := RunGitWithRetry(ctx, []string{"reset", "--hard", "origin/" + effectiveRef}, GitRetryOptions{Dir: dir, Token: e.token()}); err != nil {
				return "", err
			}
			if _, err := Run(ctx, "git", []string{"clean", "-fdx", "--exclude", VenvDirName}, RunOptions{Dir: dir}); err != nil {
				return "", err
			}
			return dir, nil
		}

		current, err := e.currentBranch(ctx, dir)
		if err != nil {
			return "", err
		}
		if current != effectiveRef {
			dirty, err := e.hasLocalChanges(ctx, dir)
			if err != nil {
				return "", err
			}
			if dirty {
				return "", &errs.ConflictError{
					Msg:  fmt.Sprintf("workspace is on branch %q with local changes; requested ref %q", current, effectiveRef),
					Code: "WRONG_BRANCH_DIRTY",
				}
			}
			if _, err := Run(ctx, "git", []string{"checkout", effectiveRef}, RunOptions{Dir: dir}); err != nil {
				if _, err2 := Run(ctx, "git", []string{"checkout", "-B", effectiveRef}, RunOptions{Dir: dir}); err2 != nil {
					return "", fmt.Errorf("checkout %s failed: %w", effectiveRef, err2)
				}
			}
		}
		return dir, nil
	}

	// Absent: shallow clone into a temp dir, then atomically move.
	tmpDir, err := os.MkdirTemp(filepath.Dir(dir), ".clone-*")
	if err != nil {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return "", err
		}
		tmpDir, err = os.MkdirTemp(filepath.Dir(dir), ".clone-*")
		if err != nil {
			return "", err
		}
	}
	defer os.RemoveAll(tmpDir)

	url := fmt.Sprintf("https://github.com/%s.git", fullName)
	if _, err := RunGitWithRetry(ctx, []string{"clone", "--depth", "1", "--branch", effectiveRef, url, tmpDir}, GitRetryOptions{
		Token: e.token(), NoAuthOnFetchAuthFailure: true,
	}); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(tmpDir, dir); err != nil {
		return "", fmt.Errorf("failed to move cloned repo into place: %w", err)
	}
	return dir, nil
}

func (e *Engine) ensureOriginMatches(ctx context.Context, dir, fullName string) error {
	res, err := Run(ctx, "git", []string{"remote", "get-url", "origin"}, RunOptions{Dir: dir})
	if err != nil {
		return err
	}
	want := fmt.Sprintf("https://github.com/%s.git", fullName)
	got := trimNewline(res.Stdout)
	if got == want {
		return nil
	}
	_, err = Run(ctx, "git", []string{"remote", "set-url", "origin", want}, RunOptions{Dir: dir})
	return err
}

func (e *Engine) currentBranch(ctx context.Context, dir string) (string, error) {
	res, err := Run(ctx, "git", []string{"rev-parse", "--abbrev-ref", "HEAD"}, RunOptions{Dir: dir})
	if err != nil {
		return "", err
	}
	return trimNewline(res.Stdout), nil
}

func (e *Engine) hasLocalChanges(ctx context.Context, dir string) (bool, error) {
	res, err := Run(ctx, "git", []string{"status", "--porcelain"}, RunOptions{Dir: dir})
	if err != nil {
		return false, err
	}
	return trimNewline(res.Stdout) != "", nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// CreateBranch implements workspace_create_branch: checkout
// -b from baseRef's workspace, then move the working tree to the
// new-branch-keyed directory so uncommitted edits are not orphaned.
func (e *Engine) CreateBranch(ctx context.Context, fullName, baseRef, newBranch string) (string, error) {
	if err := ValidateRef(newBranch, true); err != nil {
		return "", err
	}
	baseEffective := NormalizeRef(baseRef)
	newEffective := NormalizeRef(newBranch)

	baseDir := e.Dir(fullName, baseEffective)
	newDir := e.Dir(fullName, newEffective)

	if _, err := os.Stat(newDir); err == nil {
		return "", &errs.ConflictError{Msg: fmt.Sprintf("workspace for branch %q already exists", newEffective), Code: "BRANCH_WORKSPACE_EXISTS"}
	}

	var result string
	err := e.withRepoLock(fullName, baseEffective, func() error {
		if !e.hasGit(baseDir) {
			return &errs.NotFoundError{Msg: fmt.Sprintf("no workspace for %s@%s; clone it first", fullName, baseEffective)}
		}
		if _, err := Run(ctx, "git", []string{"checkout", "-b", newEffective}, RunOptions{Dir: baseDir}); err != nil {
			return fmt.Errorf("checkout -b %s failed: %w", newEffective, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	err = e.withRepoLock(fullName, newEffective, func() error {
		if err := os.MkdirAll(filepath.Dir(newDir), 0o755); err != nil {
			return err
		}
		if err := os.Rename(baseDir, newDir); err != nil {
			return fmt.Errorf("failed to move workspace to new branch dir: %w", err)
		}
		result = newDir
		return nil
	})
	return result, err
}

// SelfHealResult is the snapshot returned by SelfHealBranch.
type SelfHealResult struct {
	Diagnosis    string   `json:"diagnosis"`
	Healed       bool     `json:"healed"`
	NewBranch    string   `json:"new_branch,omitempty"`
	HeadOneline  string   `json:"head_oneline,omitempty"`
	FileCount    int      `json:"file_count,omitempty"`
	TopEntries   []string `json:"top_entries,omitempty"`
}

// SelfHealOptions configures SelfHealBranch.
type SelfHealOptions struct {
	AllowHeal          bool
	DeleteRemoteBranch bool
}

// SelfHealBranch implements workspace_self_heal_branch:
// diagnose wrong-branch / in-progress-merge / conflicts / detached HEAD,
// and if mangled and permitted, delete the local dir, optionally delete
// the remote branch, reset the base workspace, create a fresh branch
// (slug + random suffix), and return a snapshot.
func (e *Engine) SelfHealBranch(ctx context.Context, fullName, ref string, opts SelfHealOptions) (*SelfHealResult, error) {
	effectiveRef := NormalizeRef(ref)
	dir := e.Dir(fullName, effectiveRef)

	var result *SelfHealResult
	err := e.withRepoLock(fullName, effectiveRef, func() error {
		diagnosis := e.diagnose(ctx, dir, effectiveRef)
		result = &SelfHealResult{Diagnosis: diagnosis}
		if diagnosis == "healthy" {
			return nil
		}
		if !opts.AllowHeal {
			return nil
		}

		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove mangled workspace: %w", err)
		}

		if opts.DeleteRemoteBranch {
			baseDir := e.Dir(fullName, "main")
			if e.hasGit(baseDir) {
				_, _ = RunGitWithRetry(ctx, []string{"push", "origin", "--delete", effectiveRef}, GitRetryOptions{Dir: baseDir, Token: e.token()})
			}
		}

		baseDir := e.Dir(fullName, "main")
		if !e.hasGit(baseDir) {
			if _, err := e.cloneLocked(ctx, fullName, "main", baseDir, CloneOptions{}); err != nil {
				return fmt.Errorf("failed to (re)clone base workspace: %w", err)
			}
		} else if _, err := e.cloneLocked(ctx, fullName, "main", baseDir, CloneOptions{}); err != nil {
			return fmt.Errorf("failed to reset base workspace: %w", err)
		}

		newBranch := fmt.Sprintf("%s-heal-%04x", slug(effectiveRef), rand.Intn(0x10000))
		newDir, err := e.CreateBranch(ctx, fullName, "main", newBranch)
		if err != nil {
			return fmt.Errorf("failed to create fresh branch after self-heal: %w", err)
		}

		result.Healed = true
		result.NewBranch = newBranch

		headRes, err := Run(ctx, "git", []string{"log", "-1", "--oneline"}, RunOptions{Dir: newDir})
		if err == nil {
			result.HeadOneline = trimNewline(headRes.Stdout)
		}
		entries, _ := os.ReadDir(newDir)
		result.FileCount = len(entries)
		for i, ent := range entries {
			if i >= 20 {
				break
			}
			result.TopEntries = append(result.TopEntries, ent.Name())
		}
		return nil
	})
	return result, err
}

func (e *Engine) diagnose(ctx context.Context, dir, effectiveRef string) string {
	if !e.hasGit(dir) {
		return "missing"
	}
	if _, err := os.Stat(filepath.Join(dir, ".git", "MERGE_HEAD")); err == nil {
		return "merge_in_progress"
	}
	if _, err := os.Stat(filepath.Join(dir, ".git", "rebase-merge")); err == nil {
		return "rebase_in_progress"
	}
	if _, err := os.Stat(filepath.Join(dir, ".git", "rebase-apply")); err == nil {
		return "rebase_in_progress"
	}
	statusRes, err := Run(ctx, "git", []string{"status", "--porcelain"}, RunOptions{Dir: dir})
	if err == nil {
		for _, line := range splitLines(statusRes.Stdout) {
			if len(line) >= 2 && (line[0] == 'U' || line[1] == 'U') {
				return "conflicted"
			}
		}
	}
	branchRes, err := Run(ctx, "git", []string{"symbolic-ref", "-q", "HEAD"}, RunOptions{Dir: dir})
	if err != nil || branchRes.ExitCode != 0 {
		return "detached_head"
	}
	current, _ := e.currentBranch(ctx, dir)
	if current != effectiveRef {
		return "wrong_branch"
	}
	return "healthy"
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func slug(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == '/' || r == '_' || r == ' ':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "ws"
	}
	return string(out)
}

// deadlineOr returns a context with at most d remaining if d > 0.
func deadlineOr(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
