package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"ghmcp/registry"
	"ghmcp/sideeffect"
	"ghmcp/workspace"
)

func registerGitOps(reg *registry.Registry, deps *Deps) {
	reg.Register(&registry.Tool{
		Name:        "ensure_workspace_clone",
		Description: "Clone a repo@ref workspace if absent, or refresh it if present.",
		SideEffect:  sideeffect.LocalMutation,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name":        schemaProp("string", "owner/repo"),
				"ref":              schemaProp("string", "branch, tag, or commit-ish"),
				"preserve_changes": {Type: "boolean", Description: "keep uncommitted changes instead of hard-resetting"},
			},
			Required: []string{"full_name"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			ref := optString(args, "ref", "")
			preserve := optBool(args, "preserve_changes", false)

			dir, err := deps.cloneOrGet(ctx, fullName, ref, preserve)
			if err != nil {
				return nil, err
			}
			return map[string]any{"workspace_dir": dir, "effective_ref": deps.effectiveRef(fullName, ref)}, nil
		},
	})

	reg.Register(&registry.Tool{
		Name:        "workspace_create_branch",
		Description: "Create a new branch in the local workspace mirror from a base ref, re-keying the workspace directory.",
		SideEffect:  sideeffect.LocalMutation,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name":  schemaProp("string", "owner/repo"),
				"base_ref":   schemaProp("string", "branch to branch from"),
				"new_branch": schemaProp("string", "name of the branch to create"),
			},
			Required: []string{"full_name", "new_branch"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			newBranch, err := requireString(args, "new_branch")
			if err != nil {
				return nil, err
			}
			baseRef := optString(args, "base_ref", "main")

			if _, err := deps.cloneOrGet(ctx, fullName, baseRef, true); err != nil {
				return nil, err
			}
			dir, err := deps.Engine.CreateBranch(ctx, fullName, baseRef, newBranch)
			if err != nil {
				return nil, err
			}
			return map[string]any{"workspace_dir": dir, "branch": newBranch}, nil
		},
	})

	reg.Register(&registry.Tool{
		Name:        "workspace_delete_branch",
		Description: "Delete a workspace's local mirror directory for a branch.",
		SideEffect:  sideeffect.LocalMutation,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name": schemaProp("string", "owner/repo"),
				"branch":    schemaProp("string", "branch whose local workspace should be removed"),
			},
			Required: []string{"full_name", "branch"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			branch, err := requireString(args, "branch")
			if err != nil {
				return nil, err
			}
			dir := deps.Engine.Dir(fullName, workspace.NormalizeRef(branch))
			if err := removeAllWorkspaceDir(dir); err != nil {
				return nil, err
			}
			return map[string]any{"status": "deleted", "workspace_dir": dir}, nil
		},
	})

	reg.Register(&registry.Tool{
		Name:        "workspace_self_heal_branch",
		Description: "Diagnose a workspace's git state (wrong branch, conflicted, detached HEAD, mid-merge) and optionally heal it onto a fresh branch.",
		SideEffect:  sideeffect.LocalMutation,
		WriteActionResolver: func(args map[string]any) bool {
			return optBool(args, "allow_heal", false)
		},
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name":            schemaProp("string", "owner/repo"),
				"ref":                  schemaProp("string", "branch to diagnose"),
				"allow_heal":           {Type: "boolean", Description: "actually perform the heal, not just diagnose"},
				"delete_remote_branch": {Type: "boolean", Description: "also delete the remote branch when healing"},
			},
			Required: []string{"full_name", "ref"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			ref, err := requireString(args, "ref")
			if err != nil {
				return nil, err
			}
			result, err := deps.Engine.SelfHealBranch(ctx, fullName, ref, workspace.SelfHealOptions{
				AllowHeal:          optBool(args, "allow_heal", false),
				DeleteRemoteBranch: optBool(args, "delete_remote_branch", false),
			})
			if err != nil {
				return nil, err
			}
			return result, nil
		},
	})

	reg.Register(&registry.Tool{
		Name:        "workspace_sync_snapshot",
		Description: "Report ahead/behind counts and dirty status for a workspace relative to its remote branch.",
		SideEffect:  sideeffect.ReadOnly,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name": schemaProp("string", "owner/repo"),
				"ref":       schemaProp("string", "branch to inspect"),
			},
			Required: []string{"full_name"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			ref := optString(args, "ref", "")
			dir, err := deps.cloneOrGet(ctx, fullName, ref, true)
			if err != nil {
				return nil, err
			}
			return syncSnapshot(ctx, dir, deps.effectiveRef(fullName, ref))
		},
	})
}

func syncSnapshot(ctx context.Context, dir, effectiveRef string) (map[string]any, error) {
	statusRes, err := workspace.Run(ctx, "git", []string{"status", "--porcelain"}, workspace.RunOptions{Dir: dir})
	if err != nil {
		return nil, err
	}
	dirty := statusRes.Stdout != ""

	aheadBehind, err := workspace.Run(ctx, "git", []string{"rev-list", "--left-right", "--count", "origin/" + effectiveRef + "...HEAD"}, workspace.RunOptions{Dir: dir})
	behind, ahead := 0, 0
	if err == nil && aheadBehind.ExitCode == 0 {
		fmt.Sscanf(strings.TrimSpace(aheadBehind.Stdout), "%d\t%d", &behind, &ahead)
	}

	return map[string]any{
		"dirty":  dirty,
		"ahead":  ahead,
		"behind": behind,
	}, nil
}

func removeAllWorkspaceDir(dir string) error {
	return os.RemoveAll(dir)
}
