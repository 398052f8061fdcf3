package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ghmcp/errs"
	"ghmcp/ghcontent"
	"ghmcp/registry"
	"ghmcp/sideeffect"
	"ghmcp/workspace"
)

func registerCommit(reg *registry.Registry, deps *Deps) {
	reg.Register(&registry.Tool{
		Name:        "commit_workspace_files",
		Description: "Stage, commit, and push a set of paths from a workspace checkout using the configured git author/committer identity.",
		SideEffect:  sideeffect.RemoteMutation,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name": schemaProp("string", "owner/repo"),
				"ref":       schemaProp("string", "branch to commit on"),
				"paths":     {Type: "array", Description: "paths (relative to repo root) to stage", Items: &registry.Property{Type: "string"}},
				"message":   schemaProp("string", "commit message"),
			},
			Required: []string{"full_name", "paths", "message"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			message, err := requireString(args, "message")
			if err != nil {
				return nil, err
			}
			paths := optStringSlice(args, "paths")
			if len(paths) == 0 {
				return nil, fmt.Errorf("paths must be a non-empty array")
			}
			ref := optString(args, "ref", "")

			dir, err := deps.cloneOrGet(ctx, fullName, ref, true)
			if err != nil {
				return nil, err
			}
			return commitAndPush(ctx, deps, dir, deps.effectiveRef(fullName, ref), paths, message)
		},
	})

	reg.Register(&registry.Tool{
		Name:        "apply_patch_and_commit",
		Description: "Apply a patch to a single file's current contents and commit the result directly via the GitHub Contents API (no local clone).",
		SideEffect:  sideeffect.RemoteMutation,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name": schemaProp("string", "owner/repo"),
				"path":      schemaProp("string", "file path relative to the repo root"),
				"branch":    schemaProp("string", "branch to commit on"),
				"patch":     schemaProp("string", "unified diff or rangeless patch touching path"),
				"message":   schemaProp("string", "commit message; auto-generated from the action when omitted"),
			},
			Required: []string{"full_name", "path", "patch"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			path, err := requireString(args, "path")
			if err != nil {
				return nil, err
			}
			patch, err := requireString(args, "patch")
			if err != nil {
				return nil, err
			}
			branch := deps.effectiveRef(fullName, optString(args, "branch", ""))

			owner, repo, err := splitFullName(fullName)
			if err != nil {
				return nil, err
			}

			return applyPatchAndCommitContentsAPI(ctx, deps, owner, repo, path, branch, patch, optString(args, "message", ""))
		},
	})
}

// applyPatchAndCommitContentsAPI implements scenario S2: preflight-fetch the
// current blob (sha_before=null when absent), apply the patch against it in
// a scratch directory, commit the result via the Contents API with that sha
// as the precondition, and verify the commit landed.
func applyPatchAndCommitContentsAPI(ctx context.Context, deps *Deps, owner, repo, path, branch, patch, message string) (map[string]any, error) {
	shaBefore, original, existed, err := fetchCurrentContentsAPIFile(ctx, deps, owner, repo, path, branch)
	if err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp("", "ghmcp-patch-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	target := filepath.Join(scratch, filepath.FromSlash(path))
	if existed {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("preparing scratch file: %w", err)
		}
		if err := os.WriteFile(target, original, 0o644); err != nil {
			return nil, fmt.Errorf("writing scratch file: %w", err)
		}
	}

	applyRes, err := workspace.ApplyPatch(ctx, scratch, patch)
	if err != nil {
		return nil, err
	}

	patched, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("reading patched content for %s: %w", path, err)
	}

	action := "update"
	if !existed {
		action = "create"
	}
	if message == "" {
		verb := "Create"
		if action == "update" {
			verb = "Update"
		}
		message = fmt.Sprintf("%s %s via patch", verb, path)
	}

	commitRes, err := ghcontent.PerformGitHubCommit(ctx, deps.Pool, deps.Config, owner, repo, branch, path, message, patched, shaBefore)
	if err != nil {
		return nil, err
	}

	verified, _ := ghcontent.VerifyFileOnBranch(ctx, deps.Pool, owner, repo, branch, path)

	var shaBeforeOut any
	if shaBefore != "" {
		shaBeforeOut = shaBefore
	}

	return map[string]any{
		"status":       "committed",
		"path":         path,
		"branch":       branch,
		"action":       action,
		"commit_sha":   commitRes.CommitSHA,
		"patch_status": applyRes.Status,
		"verification": map[string]any{
			"sha_before": shaBeforeOut,
			"sha_after":  commitRes.ContentSHA,
			"verified":   verified,
		},
	}, nil
}

// fetchCurrentContentsAPIFile resolves path@branch's current sha/content via
// the Contents API. A 404 is not an error here: it means the patch is
// creating a new file, so shaBefore is "" (serialized as null) and existed
// is false.
func fetchCurrentContentsAPIFile(ctx context.Context, deps *Deps, owner, repo, path, branch string) (sha string, content []byte, existed bool, err error) {
	dec, err := ghcontent.DecodeGitHubContent(ctx, deps.Pool, owner, repo, path, branch)
	if err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return "", nil, false, nil
		}
		return "", nil, false, err
	}
	if dec.LargeFile {
		return "", nil, false, fmt.Errorf("%s: %s", path, dec.Message)
	}
	return dec.SHA, []byte(dec.Content), true, nil
}

func commitAndPush(ctx context.Context, deps *Deps, dir, effectiveRef string, paths []string, message string) (map[string]any, error) {
	addArgs := append([]string{"add", "--"}, paths...)
	if _, err := workspace.Run(ctx, "git", addArgs, workspace.RunOptions{Dir: dir}); err != nil {
		return nil, fmt.Errorf("git add failed: %w", err)
	}

	commitEnv := commitIdentityEnv(deps)
	commitArgs := []string{"commit", "-m", message}
	res, err := workspace.Run(ctx, "git", commitArgs, workspace.RunOptions{Dir: dir, Env: commitEnv})
	if err != nil {
		return nil, fmt.Errorf("git commit failed: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("git commit failed: %s", res.Stderr)
	}

	if _, err := workspace.RunGitWithRetry(ctx, []string{"push", "origin", "HEAD:refs/heads/" + effectiveRef}, workspace.GitRetryOptions{
		Dir: dir, Token: tokenOf(deps),
	}); err != nil {
		return nil, err
	}

	shaRes, _ := workspace.Run(ctx, "git", []string{"rev-parse", "HEAD"}, workspace.RunOptions{Dir: dir})
	return map[string]any{
		"status": "pushed",
		"ref":    effectiveRef,
		"sha":    trimmed(shaRes),
		"paths":  paths,
	}, nil
}

func commitIdentityEnv(deps *Deps) []string {
	return appendEnv(
		"GIT_AUTHOR_NAME="+deps.Config.GitAuthorName,
		"GIT_AUTHOR_EMAIL="+deps.Config.GitAuthorEmail,
		"GIT_COMMITTER_NAME="+deps.Config.GitCommitterName,
		"GIT_COMMITTER_EMAIL="+deps.Config.GitCommitterEmail,
	)
}

func tokenOf(deps *Deps) string {
	if deps.Engine.Token == nil {
		return ""
	}
	tok, ok := deps.Engine.Token()
	if !ok {
		return ""
	}
	return tok
}

func trimmed(res *workspace.RunResult) string {
	if res == nil {
		return ""
	}
	s := res.Stdout
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
