package tools

import (
	"context"
	"fmt"

	"ghmcp/registry"
	"ghmcp/sideeffect"
	"ghmcp/workspace"
)

// batchItem is one entry of run_workspace_operations_batch's input list.
type batchItem struct {
	FullName string
	Ref      string
	Ops      []workspace.Operation
	Opts     workspace.ApplyOptions
}

func registerBatch(reg *registry.Registry, deps *Deps) {
	reg.Register(&registry.Tool{
		Name:        "run_workspace_operations_batch",
		Description: "Apply a list of apply_workspace_operations-shaped batches across multiple repos/refs in one call, collecting a per-repo result.",
		SideEffect:  sideeffect.LocalMutation,
		WriteActionResolver: func(args map[string]any) bool {
			for _, item := range parseBatchItems(args) {
				if workspace.ResolveWriteAction(item.Opts.PreviewOnly, item.Ops) {
					return true
				}
			}
			return false
		},
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"batches": {Type: "array", Description: "list of {full_name, ref, operations, preview_only, fail_fast, rollback_on_error}", Items: &registry.Property{Type: "object"}},
			},
			Required: []string{"batches"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			items := parseBatchItems(args)
			if len(items) == 0 {
				return nil, fmt.Errorf("batches must be a non-empty array")
			}

			results := make([]map[string]any, 0, len(items))
			for _, item := range items {
				dir, err := deps.cloneOrGet(ctx, item.FullName, item.Ref, true)
				if err != nil {
					results = append(results, map[string]any{
						"full_name": item.FullName, "ref": item.Ref, "status": "error", "error": err.Error(),
					})
					continue
				}
				outcome, err := workspace.ApplyWorkspaceOperations(dir, item.Ops, item.Opts)
				if err != nil {
					results = append(results, map[string]any{
						"full_name": item.FullName, "ref": item.Ref, "status": "error", "error": err.Error(),
					})
					continue
				}
				results = append(results, map[string]any{
					"full_name": item.FullName, "ref": item.Ref, "status": "ok", "outcome": outcome,
				})
			}
			return map[string]any{"results": results}, nil
		},
	})
}

func parseBatchItems(args map[string]any) []batchItem {
	raw, ok := args["batches"].([]any)
	if !ok {
		return nil
	}
	items := make([]batchItem, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, batchItem{
			FullName: optString(m, "full_name", ""),
			Ref:      optString(m, "ref", ""),
			Ops:      parseOperations(m),
			Opts: workspace.ApplyOptions{
				PreviewOnly:     optBool(m, "preview_only", false),
				FailFast:        optBool(m, "fail_fast", false),
				RollbackOnError: optBool(m, "rollback_on_error", false),
				CreateParents:   optBool(m, "create_parents", false),
			},
		})
	}
	return items
}
