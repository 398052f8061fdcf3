// Package errs defines the structured error envelope returned by every
// tool surface, the closed set of error categories, and the inference
// function that maps internal errors onto that envelope.
package errs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ghmcp/redact"
)

// Category is the closed set of error categories a tool envelope may carry.
type Category string

const (
	Validation            Category = "validation"
	NotFound              Category = "not_found"
	Auth                   Category = "auth"
	Permission             Category = "permission"
	WriteApprovalRequired  Category = "write_approval_required"
	RateLimited            Category = "rate_limited"
	Timeout                Category = "timeout"
	Conflict               Category = "conflict"
	Upstream               Category = "upstream"
	Internal               Category = "internal"
	CategoryCancelled      Category = "cancelled"
	Patch                  Category = "patch"
)

// retryableByDefault reports the default retryability for a category, absent an
// explicit override from the originating error.
func (c Category) retryableByDefault() bool {
	switch c {
	case RateLimited, Timeout, Upstream:
		return true
	default:
		return false
	}
}

// Detail is the error_detail object nested in an Envelope.
type Detail struct {
	Category  Category       `json:"category"`
	Code      string         `json:"code,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Debug     any            `json:"debug,omitempty"`
	Trace     string         `json:"trace,omitempty"`
}

// Envelope is the single normalized shape every tool returns on failure.
type Envelope struct {
	Status         string         `json:"status"`
	OK             bool           `json:"ok"`
	Error          string         `json:"error"`
	ErrorDetail    Detail         `json:"error_detail"`
	Context        map[string]any `json:"context,omitempty"`
	Path           string         `json:"path,omitempty"`
	ToolSurface    string         `json:"tool_surface,omitempty"`
	RoutingHint    string         `json:"routing_hint,omitempty"`
	Request        map[string]any `json:"request,omitempty"`
	ToolDescriptor string         `json:"tool_descriptor,omitempty"`
}

// Categorized is implemented by errors that know their own category/code,
// which always wins over inference.
type Categorized interface {
	error
	Category() Category
	Code() string
}

// Retryable is implemented by errors that explicitly assert retryability.
type Retryable interface {
	Retryable() bool
}

// ---- typed errors ----

// GitHubAuthError indicates a missing or rejected GitHub credential.
type GitHubAuthError struct {
	Msg    string
	EnvVar string
}

func (e *GitHubAuthError) Error() string {
	if e.EnvVar != "" {
		return fmt.Sprintf("%s (checked %s)", e.Msg, e.EnvVar)
	}
	return e.Msg
}

// GitHubRateLimitError signals a 403/429 rate-limit response.
type GitHubRateLimitError struct {
	Msg        string
	RetryAfter time.Duration
}

func (e *GitHubRateLimitError) Error() string { return e.Msg }

// GitHubAPIError wraps any other non-2xx GitHub response. Category/Code may
// be pre-set by the caller, in which case they win over inference.
type GitHubAPIError struct {
	Msg            string
	StatusCode     int
	BodyPreview    string
	CategoryHint   Category
	CodeHint       string
}

func (e *GitHubAPIError) Error() string { return e.Msg }

// WriteApprovalRequiredError is raised by the write gate.
type WriteApprovalRequiredError struct {
	Tool string
	Ref  string
}

func (e *WriteApprovalRequiredError) Error() string {
	return fmt.Sprintf("write approval required for tool %q", e.Tool)
}

// FieldError names a single invalid input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every violating field instead of stopping at
// the first one.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NotFoundError models a resolvable missing path/resource.
type NotFoundError struct {
	MissingPath string
	Errno       string
	Msg         string
}

func (e *NotFoundError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("not found: %s", e.MissingPath)
}

// PatchError models a failure from the patch engine.
type PatchError struct {
	Msg  string
	Code string
	Cat  Category
}

func (e *PatchError) Error() string { return e.Msg }

// ConflictError models a precondition/version conflict (e.g. patch does
// not apply, sha mismatch, branch already exists).
type ConflictError struct {
	Msg  string
	Code string
}

func (e *ConflictError) Error() string { return e.Msg }

// ---- inference ----

// secretBearingMin is the floor on truncation applied by the sanitizer;
// kept here so inference and redaction agree on the minimum useful length.
const secretBearingMin = 200

// debugPolicy controls whether full argument values are ever attached to
// an error envelope. By default only arg_keys is included; Configure is
// called once at startup from ghcore.Config, and the zero value
// (opt-out, 200-char floor) is safe if a binary never calls it.
var debugPolicy = struct {
	includeArgs   bool
	truncateChars int
}{truncateChars: 200}

// Configure sets the process-wide debug-args policy. Call once at
// startup with the resolved env-driven flags.
func Configure(includeArgs bool, truncateChars int) {
	debugPolicy.includeArgs = includeArgs
	if truncateChars > 0 {
		debugPolicy.truncateChars = truncateChars
	}
}

// Build converts any error into a normalized Envelope. It never panics
// and never leaks a raw secret: the message and every inferred detail
// are redacted and length-capped before leaving the process.
func Build(err error) *Envelope {
	if err == nil {
		return nil
	}

	env := &Envelope{Status: "error", OK: false, Error: sanitizeString(err.Error())}
	cat, code, retryable, details := infer(err)
	env.ErrorDetail = Detail{Category: cat, Code: code, Retryable: retryable, Details: sanitizeDetails(details)}
	return env
}

// WithArgDebug attaches the dispatcher's argument debug info to an error
// envelope: the sorted argument key list always, and the full (redacted,
// truncated) argument map only when the opt-in policy flag is set. It is
// a no-op on a nil envelope so call sites can chain it unconditionally
// after errs.Build.
func WithArgDebug(env *Envelope, args map[string]any) *Envelope {
	if env == nil {
		return nil
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	debug := map[string]any{"arg_keys": keys}
	if debugPolicy.includeArgs {
		debug["args"] = sanitizeDetails(map[string]any{"args": args})["args"]
	}
	env.ErrorDetail.Debug = debug
	return env
}

func sanitizeString(s string) string {
	return redact.Truncate(redact.String(s), debugPolicy.truncateChars)
}

func sanitizeDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	sanitized, _ := redact.Value(details).(map[string]any)
	for k, v := range sanitized {
		if s, ok := v.(string); ok {
			sanitized[k] = sanitizeString(s)
		}
	}
	return sanitized
}

// Cancelled builds the special-cased cancellation envelope.
func Cancelled() *Envelope {
	return &Envelope{
		Status:      "cancelled",
		OK:          false,
		Error:       "request cancelled",
		ErrorDetail: Detail{Category: CategoryCancelled},
	}
}

func infer(err error) (Category, string, bool, map[string]any) {
	// Explicit classification always wins.
	var c Categorized
	if errors.As(err, &c) {
		retryable := c.Category().retryableByDefault()
		if r, ok := err.(Retryable); ok {
			retryable = r.Retryable()
		}
		return c.Category(), c.Code(), retryable, nil
	}

	var authErr *GitHubAuthError
	if errors.As(err, &authErr) {
		return Auth, "", false, nil
	}

	var rlErr *GitHubRateLimitError
	if errors.As(err, &rlErr) {
		details := map[string]any{}
		if rlErr.RetryAfter > 0 {
			details["retry_after_seconds"] = rlErr.RetryAfter.Seconds()
		}
		return RateLimited, "", true, details
	}

	var nfErr *NotFoundError
	if errors.As(err, &nfErr) {
		details := map[string]any{}
		if nfErr.MissingPath != "" {
			details["missing_path"] = nfErr.MissingPath
		}
		if nfErr.Errno != "" {
			details["errno"] = nfErr.Errno
		}
		return NotFound, "FILE_NOT_FOUND", false, details
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		fields := make([]map[string]string, 0, len(valErr.Fields))
		for _, f := range valErr.Fields {
			fields = append(fields, map[string]string{"field": f.Field, "message": f.Message})
		}
		return Validation, "", false, map[string]any{"fields": fields}
	}

	var patchErr *PatchError
	if errors.As(err, &patchErr) {
		cat := patchErr.Cat
		if cat == "" {
			cat = Patch
		}
		return cat, patchErr.Code, false, nil
	}

	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return Conflict, conflictErr.Code, false, nil
	}

	var apiErr *GitHubAPIError
	if errors.As(err, &apiErr) {
		if apiErr.CategoryHint != "" {
			return apiErr.CategoryHint, apiErr.CodeHint, apiErr.CategoryHint.retryableByDefault(), map[string]any{"status_code": apiErr.StatusCode}
		}
		return categorizeStatusCode(apiErr)
	}

	if errors.Is(err, context.Canceled) {
		return CategoryCancelled, "", false, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout, "", true, nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "malformed patch"), strings.Contains(msg, "rangeless"):
		return Patch, "PATCH_MALFORMED", false, nil
	case strings.Contains(msg, "patch does not apply"), strings.Contains(msg, "does not apply"):
		return Conflict, "PATCH_DOES_NOT_APPLY", false, nil
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"), strings.Contains(msg, "deadline exceeded"):
		return Timeout, "", true, nil
	case strings.Contains(msg, "permission denied"):
		return Permission, "", false, nil
	case strings.Contains(msg, "authentication failed"), strings.Contains(msg, "bad credentials"):
		return Auth, "", false, nil
	}

	return Internal, "", false, nil
}

func categorizeStatusCode(apiErr *GitHubAPIError) (Category, string, bool, map[string]any) {
	details := map[string]any{"status_code": apiErr.StatusCode}
	if apiErr.BodyPreview != "" {
		details["body_preview"] = apiErr.BodyPreview
	}
	switch {
	case apiErr.StatusCode == 429,
		apiErr.StatusCode == 403 && strings.Contains(strings.ToLower(apiErr.BodyPreview), "rate limit"):
		return RateLimited, "", true, details
	case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
		return Auth, "", false, details
	case apiErr.StatusCode >= 500:
		return Upstream, "", true, details
	case apiErr.StatusCode == 404:
		return NotFound, "", false, details
	case apiErr.StatusCode >= 400:
		return Validation, "", false, details
	}
	return Internal, "", false, details
}

// Category/Code implementations so GitHubAuthError etc. can optionally be
// asserted as Categorized by callers that already know the mapping.
func (e *WriteApprovalRequiredError) Category() Category { return WriteApprovalRequired }
func (e *WriteApprovalRequiredError) Code() string       { return "WRITE_APPROVAL_REQUIRED" }
