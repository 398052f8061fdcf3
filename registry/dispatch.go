package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"ghmcp/errs"
	"ghmcp/reqctx"
	"ghmcp/sideeffect"
)

// NormalizeArgs accepts a mapping unchanged; a single JSON string is
// parsed iff it decodes to an object; nil yields an empty map; anything
// else is an error.
// Idempotent: NormalizeArgs(NormalizeArgs(x)) == NormalizeArgs(x).
func NormalizeArgs(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case nil:
		return map[string]any{}, nil
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, fmt.Errorf("invalid JSON string args: %w", err)
		}
		obj, ok := decoded.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("JSON string args must decode to an object, got %T", decoded)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("args must be a mapping or JSON object string, got %T", raw)
	}
}

// ValidateArgs checks args against schema, collecting every violation
// rather than stopping at the first.
func ValidateArgs(schema *Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	var fields []errs.FieldError

	for _, req := range schema.Required {
		if _, ok := args[req]; !ok {
			fields = append(fields, errs.FieldError{Field: req, Message: "required field missing"})
		}
	}

	for name, val := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			continue // unknown properties are tolerated, not rejected
		}
		if val == nil {
			if prop.Nullable {
				continue
			}
			fields = append(fields, errs.FieldError{Field: name, Message: "must not be null"})
			continue
		}
		if msg := checkType(prop, val); msg != "" {
			fields = append(fields, errs.FieldError{Field: name, Message: msg})
		}
		if len(prop.Enum) > 0 {
			if s, ok := val.(string); ok && !containsStr(prop.Enum, s) {
				fields = append(fields, errs.FieldError{Field: name, Message: fmt.Sprintf("must be one of %v", prop.Enum)})
			}
		}
	}

	if len(fields) > 0 {
		return &errs.ValidationError{Fields: fields}
	}
	return nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func checkType(prop *Property, val any) string {
	switch prop.Type {
	case "string":
		if _, ok := val.(string); !ok {
			return "must be a string"
		}
	case "integer":
		switch val.(type) {
		case float64, int, int64:
		default:
			return "must be an integer"
		}
	case "number":
		switch val.(type) {
		case float64, int, int64:
		default:
			return "must be a number"
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return "must be a boolean"
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return "must be an array"
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return "must be an object"
		}
	}
	return ""
}

// Dispatch runs the full pipeline: resolve tool, normalize args, validate
// schema, apply the write gate, execute under concurrency control with
// logging/metrics, and normalize any error into an envelope.
// On success it returns the handler's raw result (never an *errs.Envelope);
// on failure it returns (*errs.Envelope, nil) so callers can serialize the
// envelope directly without a type switch on error.
func (r *Registry) Dispatch(ctx context.Context, toolName string, rawArgs any, logger Logger) (any, *errs.Envelope) {
	if logger == nil {
		logger = NoopLogger{}
	}

	tool, ok := r.Get(toolName)
	if !ok {
		return nil, &errs.Envelope{
			Status: "error", OK: false,
			Error:       fmt.Sprintf("unknown tool %q", toolName),
			ErrorDetail: errs.Detail{Category: errs.NotFound},
		}
	}

	args, err := NormalizeArgs(rawArgs)
	if err != nil {
		return nil, errs.Build(err)
	}

	if err := ValidateArgs(tool.InputSchema, args); err != nil {
		return nil, errs.WithArgDebug(errs.Build(err), args)
	}

	isWrite := ResolveEffectiveWrite(tool, args)
	gateClass := tool.SideEffect
	if tool.WriteActionResolver != nil && !tool.WriteActionResolver(args) {
		gateClass = sideeffect.ReadOnly
	}
	if err := r.Gate.EnsureWriteAllowed(gateClass, tool.Name, stringArg(args, "ref")); err != nil {
		return nil, errs.WithArgDebug(errs.Build(err), args)
	}

	callID := AssignCallID()
	logger.Log(Event{Type: "tool_call_start", ToolName: tool.Name, CallID: callID, ArgKeys: sortedKeys(args),
		Repo: stringArg(args, "full_name"), Path: stringArg(args, "path"), Ref: stringArg(args, "ref")})

	start := time.Now()

	release, acquireErr := r.acquire(ctx, tool, args)
	if acquireErr != nil {
		env := errs.WithArgDebug(errs.Build(acquireErr), args)
		logger.Log(Event{Type: "tool_call_error", ToolName: tool.Name, CallID: callID, DurationMs: time.Since(start).Milliseconds()})
		return nil, env
	}
	defer release()

	result, handlerErr := tool.Handler(ctx, args)
	duration := time.Since(start).Milliseconds()

	if handlerErr != nil {
		if ctx.Err() == context.Canceled {
			r.Metrics.recordCall(tool.Name, false, isWrite, duration)
			logger.Log(Event{Type: "tool_call_cancelled", ToolName: tool.Name, CallID: callID, DurationMs: duration})
			return nil, errs.Cancelled()
		}
		r.Metrics.recordCall(tool.Name, true, isWrite, duration)
		logger.Log(Event{Type: "tool_call_error", ToolName: tool.Name, CallID: callID, DurationMs: duration, Status: "error"})
		return nil, errs.WithArgDebug(errs.Build(handlerErr), args)
	}

	r.Metrics.recordCall(tool.Name, false, isWrite, duration)
	logger.Log(Event{Type: "tool_call_success", ToolName: tool.Name, CallID: callID, DurationMs: duration, Status: "ok", WriteAction: isWrite})

	return stripInternalFields(result), nil
}

// ResolveEffectiveWrite applies the tool's write-action resolver against
// its static class.
func ResolveEffectiveWrite(tool *Tool, args map[string]any) bool {
	return sideeffect.EffectiveWrite(tool.SideEffect, tool.WriteActionResolver, args)
}

// acquire serializes workspace-mutating tools per (full_name, ref) and
// otherwise bounds overall concurrency via the shared semaphore.
func (r *Registry) acquire(ctx context.Context, tool *Tool, args map[string]any) (func(), error) {
	fullName := stringArg(args, "full_name")
	ref := stringArg(args, "ref")
	if fullName != "" && tool.SideEffect != "READ_ONLY" {
		unlock := r.WorkspaceLocks.Lock(fullName + "@" + ref)
		return unlock, nil
	}

	select {
	case r.Semaphore <- struct{}{}:
		return func() { <-r.Semaphore }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stripInternalFields removes keys prefixed "__log_" from a handler's
// result before it is returned to the caller; all other keys are kept. Only
// applies to map[string]any results; other result shapes pass through
// unchanged.
func stripInternalFields(result any) any {
	m, ok := result.(map[string]any)
	if !ok {
		return result
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if len(k) >= 6 && k[:6] == "__log_" {
			continue
		}
		out[k] = v
	}
	return out
}

// ReqFromContext exposes reqctx.FromContext for handlers that want the
// current request context without importing reqctx directly.
func ReqFromContext(ctx context.Context) *reqctx.Context { return reqctx.FromContext(ctx) }
