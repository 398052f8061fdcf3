// Package reqctx establishes per-request context (request id, idempotency
// key, session/assistant metadata) and the process-stable server anchor
// used by clients to detect a server restart.
package reqctx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
)

type ctxKey struct{}

// Context carries the per-invocation metadata established by the
// transport-boundary middleware before dispatch reaches the registry.
type Context struct {
	RequestID      string
	IdempotencyKey string
	SessionID      string

	AssistantConversationID string
	AssistantID              string
	AssistantProjectID        string

	ServerAnchor string
}

// anchor is generated once per process at package init and never changes,
// satisfying "process-stable opaque string".
var anchor = newAnchor()

func newAnchor() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "anchor-fallback"
	}
	return hex.EncodeToString(b[:])
}

// Anchor returns the process-stable server anchor.
func Anchor() string { return anchor }

// NewRequestID generates a fresh 32-hex request id.
func NewRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "00000000000000000000000000000000"
	}
	return hex.EncodeToString(b[:])
}

// FromHeaders builds a Context from an incoming HTTP request's headers and
// query string, applying this precedence:
//   - request_id: X-Request-Id header or freshly generated.
//   - idempotency_key: Idempotency-Key/X-Idempotency-Key header wins over
//     idempotency_key/dedupe_key query parameter.
//   - session_id: header or query.
func FromHeaders(h http.Header, query map[string][]string) *Context {
	rc := &Context{ServerAnchor: anchor}

	rc.RequestID = firstNonEmpty(h.Get("X-Request-Id"))
	if rc.RequestID == "" {
		rc.RequestID = NewRequestID()
	}

	rc.IdempotencyKey = firstNonEmpty(
		h.Get("Idempotency-Key"),
		h.Get("X-Idempotency-Key"),
		queryFirst(query, "idempotency_key"),
		queryFirst(query, "dedupe_key"),
	)

	rc.SessionID = firstNonEmpty(h.Get("X-Session-Id"), queryFirst(query, "session_id"))

	rc.AssistantConversationID = h.Get("X-OpenAI-Conversation-Id")
	rc.AssistantID = h.Get("X-OpenAI-Assistant-Id")
	rc.AssistantProjectID = h.Get("X-OpenAI-Project-Id")

	return rc
}

func queryFirst(q map[string][]string, key string) string {
	if q == nil {
		return ""
	}
	if vs, ok := q[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

// WithContext attaches rc to ctx for propagation through the dispatch
// pipeline.
func WithContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext retrieves the Context previously attached by WithContext. It
// returns a zero-value Context (with the process anchor filled in) if none
// was attached, so handlers never need a nil check.
func FromContext(ctx context.Context) *Context {
	if rc, ok := ctx.Value(ctxKey{}).(*Context); ok && rc != nil {
		return rc
	}
	return &Context{ServerAnchor: anchor}
}

// AnchorAssertion is the result of a /session/assert check.
type AnchorAssertion struct {
	Match   bool   `json:"match"`
	Current string `json:"current_anchor"`
}

// AssertAnchor compares a client-supplied anchor against the process
// anchor.
func AssertAnchor(clientAnchor string) AnchorAssertion {
	return AnchorAssertion{Match: clientAnchor == anchor, Current: anchor}
}

// idempotencyStore is a tiny in-memory dedupe cache keyed by idempotency
// key, scoped to the process lifetime: a best-effort single-process guard
// so a retried request with the same Idempotency-Key does not double-execute
// a remote mutation within one process's lifetime.
type idempotencyStore struct {
	mu   sync.Mutex
	seen map[string]any
}

var idem = &idempotencyStore{seen: make(map[string]any)}

// SeenIdempotencyKey returns the result cached for key, if any, and whether
// one was cached. It does not record anything; RecordIdempotencyResult does.
func SeenIdempotencyKey(key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	idem.mu.Lock()
	defer idem.mu.Unlock()
	v, ok := idem.seen[key]
	return v, ok
}

// RecordIdempotencyResult caches result under key for later replay.
func RecordIdempotencyResult(key string, result any) {
	if key == "" {
		return
	}
	idem.mu.Lock()
	defer idem.mu.Unlock()
	idem.seen[key] = result
}
