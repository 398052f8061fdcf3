// Package sideeffect holds the single authoritative side-effect
// classification for every tool and the runtime write-approval gate that
// enforces it at dispatch.
package sideeffect

import (
	"sync/atomic"

	"ghmcp/errs"
)

// Class is the enum assigned to every registered tool.
type Class string

const (
	ReadOnly       Class = "READ_ONLY"
	LocalMutation  Class = "LOCAL_MUTATION"
	RemoteMutation Class = "REMOTE_MUTATION"
)

// WriteAction reports the derived boolean: true iff the class is
// REMOTE_MUTATION.
func (c Class) WriteAction() bool { return c == RemoteMutation }

// Table is the static, single-source-of-truth map of tool name to
// side-effect class. It is populated by registry.Register at process
// startup and is never mutated after that.
type Table struct {
	classes map[string]Class
}

// NewTable builds an empty table; callers add entries via Set during tool
// registration.
func NewTable() *Table {
	return &Table{classes: make(map[string]Class)}
}

// Set records tool's class. Re-registering the same tool name with a
// different class is a programming error and panics, since the table is
// meant to be written once at startup.
func (t *Table) Set(tool string, class Class) {
	if existing, ok := t.classes[tool]; ok && existing != class {
		panic("sideeffect: tool " + tool + " already registered with class " + string(existing))
	}
	t.classes[tool] = class
}

// Get returns the class for tool and whether it is registered.
func (t *Table) Get(tool string) (Class, bool) {
	c, ok := t.classes[tool]
	return c, ok
}

// Gate is the runtime write-approval flag plus auto-approve policy.
type Gate struct {
	allowed      atomic.Bool
	autoApproved atomic.Bool
}

// NewGate builds a gate. autoApproved mirrors the env toggle
// GITHUB_MCP_WRITE_ALLOWED read once at startup; when
// true the catalog reports write_auto_approved=true for every tool and
// the flag starts pre-authorized.
func NewGate(autoApproved bool) *Gate {
	g := &Gate{}
	g.autoApproved.Store(autoApproved)
	if autoApproved {
		g.allowed.Store(true)
	}
	return g
}

// Authorize sets the process-wide write-allowed flag. It never
// retroactively aborts an in-flight call.
func (g *Gate) Authorize(approved bool) {
	g.allowed.Store(approved)
}

// Allowed reports the current value of the write-allowed flag.
func (g *Gate) Allowed() bool { return g.allowed.Load() }

// AutoApproved reports whether the gate was started in auto-approve mode.
func (g *Gate) AutoApproved() bool { return g.autoApproved.Load() }

// EnsureWriteAllowed implements the gate rule:
//   - READ_ONLY: never gated.
//   - REMOTE_MUTATION: always gated by the write-allowed flag.
//   - LOCAL_MUTATION: gated by the write-allowed flag unless auto-approved.
//
// tool and ref are carried into the resulting error for diagnostics only.
func (g *Gate) EnsureWriteAllowed(class Class, tool, ref string) error {
	switch class {
	case ReadOnly:
		return nil
	case RemoteMutation:
		if !g.Allowed() {
			return &errs.WriteApprovalRequiredError{Tool: tool, Ref: ref}
		}
		return nil
	case LocalMutation:
		if g.AutoApproved() || g.Allowed() {
			return nil
		}
		return &errs.WriteApprovalRequiredError{Tool: tool, Ref: ref}
	default:
		return nil
	}
}

// WriteActionResolver may downgrade a nominally write tool (e.g.
// preview_only=true on the multi-op editor). It must never upgrade a
// tool's static classification: a resolver returning true for a
// READ_ONLY-classified tool is ignored.
type WriteActionResolver func(args map[string]any) bool

// AlwaysWrite returns the default resolver: the tool is write iff its
// static class says so.
func AlwaysWrite(write bool) WriteActionResolver {
	return func(map[string]any) bool { return write }
}

// EffectiveWrite applies resolver against the tool's static class,
// honoring the invariant that REMOTE_MUTATION cannot be downgraded below
// its static class except via a resolver explicitly returning false, and
// that no class can be upgraded by a resolver.
func EffectiveWrite(staticClass Class, resolver WriteActionResolver, args map[string]any) bool {
	static := staticClass.WriteAction()
	if resolver == nil {
		return static
	}
	resolved := resolver(args)
	if resolved && !static {
		// A resolver may never upgrade a tool past its static class.
		return static
	}
	return resolved
}
