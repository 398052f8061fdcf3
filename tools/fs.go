package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"ghmcp/registry"
	"ghmcp/sideeffect"
	"ghmcp/workspace"
)

func registerFS(reg *registry.Registry, deps *Deps) {
	reg.Register(&registry.Tool{
		Name:        "get_workspace_file_contents",
		Description: "Read a file's contents from a workspace checkout.",
		SideEffect:  sideeffect.ReadOnly,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name": schemaProp("string", "owner/repo"),
				"path":      schemaProp("string", "file path relative to the repo root"),
				"ref":       schemaProp("string", "branch, tag, or commit-ish"),
			},
			Required: []string{"full_name", "path"},
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
			ref := optString(args, "ref", "")

			dir, err := deps.cloneOrGet(ctx, fullName, ref, true)
			if err != nil {
				return nil, err
			}
			target, err := workspace.SafeJoin(dir, path)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(target)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
			return map[string]any{"path": path, "content": string(data), "size": len(data)}, nil
		},
	})

	reg.Register(&registry.Tool{
		Name:        "set_workspace_file_contents",
		Description: "Overwrite (or create) a file in a workspace checkout.",
		SideEffect:  sideeffect.LocalMutation,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name": schemaProp("string", "owner/repo"),
				"path":      schemaProp("string", "file path relative to the repo root"),
				"ref":       schemaProp("string", "branch to operate on"),
				"content":   schemaProp("string", "new file contents"),
				"create_parents": {Type: "boolean", Description: "create missing parent directories"},
			},
			Required: []string{"full_name", "path", "content"},
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
			content := optString(args, "content", "")
			ref := optString(args, "ref", "")
			createParents := optBool(args, "create_parents", false)

			dir, err := deps.cloneOrGet(ctx, fullName, ref, true)
			if err != nil {
				return nil, err
			}
			outcome, err := workspace.ApplyWorkspaceOperations(dir, []workspace.Operation{
				{Op: workspace.OpWrite, Path: path, Content: content, CreateParents: createParents},
			}, workspace.ApplyOptions{CreateParents: createParents})
			if err != nil {
				return nil, err
			}
			return outcome, nil
		},
	})

	reg.Register(&registry.Tool{
		Name:        "apply_patch",
		Description: "Apply a unified or rangeless diff against a workspace checkout.",
		SideEffect:  sideeffect.LocalMutation,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name": schemaProp("string", "owner/repo"),
				"ref":       schemaProp("string", "branch to operate on"),
				"patch":     schemaProp("string", "unified diff or rangeless bare-@@ patch"),
			},
			Required: []string{"full_name", "patch"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			patch, err := requireString(args, "patch")
			if err != nil {
				return nil, err
			}
			ref := optString(args, "ref", "")

			dir, err := deps.cloneOrGet(ctx, fullName, ref, true)
			if err != nil {
				return nil, err
			}
			res, err := workspace.ApplyPatch(ctx, dir, patch)
			if err != nil {
				return nil, err
			}
			return res, nil
		},
	})

	reg.Register(&registry.Tool{
		Name:        "list_workspace_files",
		Description: "Walk a workspace checkout's directory tree, honoring ignore-glob patterns.",
		SideEffect:  sideeffect.ReadOnly,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name": schemaProp("string", "owner/repo"),
				"ref":       schemaProp("string", "branch, tag, or commit-ish"),
				"subpath":   schemaProp("string", "subdirectory to walk; defaults to repo root"),
				"ignore_globs": {Type: "array", Description: "glob patterns to exclude", Items: &registry.Property{Type: "string"}},
			},
			Required: []string{"full_name"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			ref := optString(args, "ref", "")
			subpath := optString(args, "subpath", "")
			ignores := optStringSlice(args, "ignore_globs")

			dir, err := deps.cloneOrGet(ctx, fullName, ref, true)
			if err != nil {
				return nil, err
			}
			root := dir
			if subpath != "" {
				root, err = workspace.SafeJoin(dir, subpath)
				if err != nil {
					return nil, err
				}
			}

			var files []string
			err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
				if walkErr != nil {
					return walkErr
				}
				rel, _ := filepath.Rel(dir, p)
				if d.IsDir() {
					if d.Name() == ".git" || d.Name() == workspace.VenvDirName {
						return filepath.SkipDir
					}
					if matchesAny(rel, ignores) {
						return filepath.SkipDir
					}
					return nil
				}
				if matchesAny(rel, ignores) {
					return nil
				}
				files = append(files, rel)
				return nil
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"files": files, "count": len(files)}, nil
		},
	})

	reg.Register(&registry.Tool{
		Name:        "apply_workspace_operations",
		Description: "Apply a sequence of file operations (write/replace/delete/move/edit-range/apply-patch) atomically, with optional preview and rollback.",
		SideEffect:  sideeffect.LocalMutation,
		WriteActionResolver: func(args map[string]any) bool {
			ops := parseOperations(args)
			preview := optBool(args, "preview_only", false)
			return workspace.ResolveWriteAction(preview, ops)
		},
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name":         schemaProp("string", "owner/repo"),
				"ref":               schemaProp("string", "branch to operate on"),
				"operations":        {Type: "array", Description: "tagged operation list", Items: &registry.Property{Type: "object"}},
				"preview_only":      {Type: "boolean", Description: "simulate against an in-memory overlay without touching disk"},
				"fail_fast":         {Type: "boolean", Description: "stop at the first failing operation"},
				"rollback_on_error": {Type: "boolean", Description: "restore pre-state on any failure"},
				"create_parents":    {Type: "boolean", Description: "create missing parent directories for write ops"},
			},
			Required: []string{"full_name", "operations"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			ref := optString(args, "ref", "")
			ops := parseOperations(args)
			opts := workspace.ApplyOptions{
				PreviewOnly:     optBool(args, "preview_only", false),
				FailFast:        optBool(args, "fail_fast", false),
				RollbackOnError: optBool(args, "rollback_on_error", false),
				CreateParents:   optBool(args, "create_parents", false),
			}

			dir, err := deps.cloneOrGet(ctx, fullName, ref, true)
			if err != nil {
				return nil, err
			}
			outcome, err := workspace.ApplyWorkspaceOperations(dir, ops, opts)
			if err != nil {
				return nil, err
			}
			return outcome, nil
		},
	})
}

func matchesAny(rel string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(g, filepath.Base(rel)); ok {
			return true
		}
		if strings.Contains(rel, g) {
			return true
		}
	}
	return false
}

func parseOperations(args map[string]any) []workspace.Operation {
	raw, ok := args["operations"].([]any)
	if !ok {
		return nil
	}
	ops := make([]workspace.Operation, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		op := workspace.Operation{
			Path:          optString(m, "path", ""),
			Src:           optString(m, "src", ""),
			Dst:           optString(m, "dst", ""),
			Content:       optString(m, "content", ""),
			Old:           optString(m, "old", ""),
			New:           optString(m, "new", ""),
			StartLine:     optInt(m, "start_line", 0),
			EndLine:       optInt(m, "end_line", 0),
			Text:          optString(m, "text", ""),
			Word:          optString(m, "word", ""),
			Start:         optInt(m, "start", 0),
			End:           optInt(m, "end", 0),
			Patch:         optString(m, "patch", ""),
			CreateParents: optBool(m, "create_parents", false),
		}
		rawOp := optString(m, "op", optString(m, "operation", ""))
		ops = append(ops, workspace.NormalizeOp(op, rawOp))
	}
	return ops
}
