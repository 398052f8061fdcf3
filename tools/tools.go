// Package tools implements the workspace tool surface: thin
// wrappers over the workspace engine and GitHub client that the registry
// dispatches by name. RegisterAll adds every tool group to a
// *registry.Registry; none of them touch transport concerns.
package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/google/go-github/v55/github"

	"ghmcp/ghcore"
	"ghmcp/registry"
	"ghmcp/workspace"
)

// Deps bundles the shared runtime objects every tool handler closes over.
type Deps struct {
	Engine *workspace.Engine
	Pool   *ghcore.Pool
	Config *ghcore.Config
}

// RegisterAll wires every tool surface into reg.
func RegisterAll(reg *registry.Registry, deps *Deps) {
	registerFS(reg, deps)
	registerGitOps(reg, deps)
	registerCommit(reg, deps)
	registerPR(reg, deps)
	registerBatch(reg, deps)
	registerExec(reg, deps)
	registerContent(reg, deps)
}

// effectiveRef applies the controller-repo override
// before resolving a workspace directory.
func (d *Deps) effectiveRef(fullName, ref string) string {
	return workspace.EffectiveRefForRepo(fullName, ref, d.Config.ControllerRepo, d.Config.ControllerDefaultBranch)
}

func (d *Deps) cloneOrGet(ctx context.Context, fullName, ref string, preserveChanges bool) (string, error) {
	effective := d.effectiveRef(fullName, ref)
	return d.Engine.CloneRepo(ctx, fullName, effective, workspace.CloneOptions{PreserveChanges: preserveChanges})
}

func splitFullName(fullName string) (owner, repo string, err error) {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("full_name must be in owner/repo form, got %q", fullName)
}

// requireString extracts a required string argument.
func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func optString(args map[string]any, key, def string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func optBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func optInt(args map[string]any, key string, def int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

func optStringSlice(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// schemaProp is a tiny builder to keep tool registration terse.
func schemaProp(typ, desc string) *registry.Property {
	return &registry.Property{Type: typ, Description: desc}
}

func ghClient(deps *Deps) *github.Client { return deps.Pool.Client() }

func encodeBase64(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

// appendEnv layers extra key=value entries on top of the current process
// environment, for subprocess invocations that need an identity override
// (e.g. git author/committer) without losing PATH etc.
func appendEnv(extra ...string) []string {
	return append(os.Environ(), extra...)
}
