package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ghmcp/errs"
	"ghmcp/ghcore"
	"ghmcp/registry"
	"ghmcp/reqctx"
)

// RegistryServer is the thin HTTP transport adapter for the tool-registry
// core: it maps transport frames onto registry.Dispatch and
// the introspection helpers, and carries the health/catalog/session
// surface. It is the only transport in this repository.
type RegistryServer struct {
	Reg    *registry.Registry
	Config *ghcore.Config
	Logger registry.Logger

	startedAt time.Time

	mu          sync.Mutex
	invocations map[string]*invocation
	oneshotDone bool
}

type invocation struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Status    string         `json:"status"` // pending|running|done|error|cancelled
	Result    any            `json:"result,omitempty"`
	Error     *errs.Envelope `json:"error,omitempty"`
	cancel    func()
	createdAt time.Time
}

// NewRegistryServer builds the HTTP handler around an already-populated
// registry.
func NewRegistryServer(reg *registry.Registry, cfg *ghcore.Config, logger registry.Logger) *RegistryServer {
	if logger == nil {
		logger = registry.NoopLogger{}
	}
	return &RegistryServer{
		Reg:         reg,
		Config:      cfg,
		Logger:      logger,
		startedAt:   time.Now(),
		invocations: make(map[string]*invocation),
	}
}

// Handler returns the fully wrapped http.Handler (trusted-host check,
// caching policy, routing).
func (s *RegistryServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/tools", s.handleTools)
	mux.HandleFunc("/tools/", s.handleToolByName)
	mux.HandleFunc("/tool_invocations", s.handleCreateInvocation)
	mux.HandleFunc("/tool_invocations/", s.handleInvocationByID)
	mux.HandleFunc("/resources", s.handleResources)
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/session/ping", s.handleSessionPing)
	mux.HandleFunc("/session/anchor", s.handleSessionAnchor)
	mux.HandleFunc("/session/assert", s.handleSessionAssert)

	return trustedHostMiddleware(s.Config, cachingMiddleware(mux))
}

// cachingMiddleware applies the Cache-Control policy: /static/* is
// immutable+long-lived, everything else (including HTML) is no-store,
// since this server has no long-lived cacheable HTML surface.
func cachingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/static/") {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// trustedHostMiddleware rejects requests whose Host header does not match
// one of ALLOWED_HOSTS, RENDER_EXTERNAL_HOSTNAME, or the host portion of
// RENDER_EXTERNAL_URL. An empty allow-list (typical for local
// CLI use) disables the check entirely.
func trustedHostMiddleware(cfg *ghcore.Config, next http.Handler) http.Handler {
	allowed := trustedHostSet(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(allowed) > 0 {
			host := r.Host
			if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
				host = host[:idx]
			}
			if !allowed[host] {
				http.Error(w, "host not allowed", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func trustedHostSet(cfg *ghcore.Config) map[string]bool {
	out := make(map[string]bool)
	if cfg == nil {
		return out
	}
	for _, h := range cfg.AllowedHosts {
		out[h] = true
	}
	if cfg.RenderExternalHostname != "" {
		out[cfg.RenderExternalHostname] = true
	}
	if cfg.RenderExternalURL != "" {
		if u, err := url.Parse(cfg.RenderExternalURL); err == nil && u.Hostname() != "" {
			out[u.Hostname()] = true
		}
	}
	return out
}

func (s *RegistryServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.Config != nil && s.Config.HealthzOneshot {
		s.mu.Lock()
		already := s.oneshotDone
		s.oneshotDone = true
		s.mu.Unlock()
		if already && r.URL.Query().Get("verbose") != "1" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	_, tokenPresent := ghcore.OptionalToken()
	status := "ok"
	if !tokenPresent {
		status = "warning"
	}

	metrics := make(map[string]registry.ToolMetricsSnapshot)
	for _, t := range s.Reg.List() {
		metrics[t.Name] = s.Reg.Metrics.Snapshot(t.Name)
	}

	controller := ""
	if s.Config != nil {
		controller = s.Config.ControllerRepo
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":              status,
		"github_token_present": tokenPresent,
		"uptime_seconds":      int(time.Since(s.startedAt).Seconds()),
		"controller":          controller,
		"metrics":             metrics,
	})
}

func (s *RegistryServer) handleTools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := registry.ListToolsOptions{
		OnlyWrite:         q.Get("only_write") == "1",
		OnlyRead:          q.Get("only_read") == "1",
		NamePrefix:        q.Get("name_prefix"),
		IncludeParameters: q.Get("include_parameters") == "1",
		Compact:           q.Get("compact") == "1",
	}
	list := s.Reg.ListTools(opts)
	if q.Get("all") == "1" {
		list = s.Reg.ListAllActions(opts)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": list})
}

func (s *RegistryServer) handleToolByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/tools/")
	if name == "" {
		http.NotFound(w, r)
		return
	}
	desc, err := s.Reg.DescribeTool(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errs.Build(err))
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *RegistryServer) handleResources(w http.ResponseWriter, r *http.Request) {
	var out []map[string]any
	for _, t := range s.Reg.ListTools(registry.ListToolsOptions{}) {
		out = append(out, map[string]any{
			"uri":  "tools/" + t.Name,
			"name": t.Name,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": out})
}

type createInvocationRequest struct {
	Tool string `json:"tool"`
	Args any    `json:"args"`
}

func (s *RegistryServer) handleCreateInvocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createInvocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errs.Build(err))
		return
	}

	rc := reqctx.FromHeaders(r.Header, r.URL.Query())
	if cached, seen := reqctx.SeenIdempotencyKey(rc.IdempotencyKey); seen {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	ctx, cancel := contextFromRequest(r, rc)
	inv := &invocation{ID: registry.AssignCallID(), Tool: req.Tool, Status: "running", cancel: cancel, createdAt: time.Now()}
	s.mu.Lock()
	s.invocations[inv.ID] = inv
	s.mu.Unlock()

	go func() {
		result, envErr := s.Reg.Dispatch(ctx, req.Tool, req.Args, s.Logger)
		s.mu.Lock()
		defer s.mu.Unlock()
		if envErr != nil {
			inv.Status = "error"
			inv.Error = envErr
		} else {
			inv.Status = "done"
			inv.Result = result
			reqctx.RecordIdempotencyResult(rc.IdempotencyKey, result)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"id": inv.ID, "status": "pending"})
}

func (s *RegistryServer) handleInvocationByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tool_invocations/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	inv, ok := s.invocations[id]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	if action == "cancel" && r.Method == http.MethodPost {
		s.mu.Lock()
		if inv.cancel != nil && (inv.Status == "pending" || inv.Status == "running") {
			inv.cancel()
			inv.Status = "cancelled"
			inv.Error = errs.Cancelled()
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, inv)
		return
	}

	writeJSON(w, http.StatusOK, inv)
}

func (s *RegistryServer) handleSessionPing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "anchor": reqctx.Anchor()})
}

func (s *RegistryServer) handleSessionAnchor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"anchor": reqctx.Anchor()})
}

func (s *RegistryServer) handleSessionAssert(w http.ResponseWriter, r *http.Request) {
	client := r.URL.Query().Get("anchor")
	result := reqctx.AssertAnchor(client)
	status := http.StatusOK
	if !result.Match {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// jsonRPCRequest is the decoded shape of one JSON-RPC request on /mcp;
// replies are written with the Response type from types.go.
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// handleMCP implements a minimal streamable-HTTP MCP transport: a single
// POST endpoint accepting JSON-RPC requests for tools/list, tools/call,
// resources/list, and resources/read.
func (s *RegistryServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"protocol": "mcp", "transport": "streamable-http"})
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, rpcErr(nil, CodeParseError, "parse error", nil))
		return
	}

	switch req.Method {
	case "tools/list":
		writeJSON(w, http.StatusOK, ok(req.ID, map[string]any{"tools": s.Reg.ListTools(registry.ListToolsOptions{IncludeParameters: true})}))

	case "tools/call":
		var params struct {
			Name      string `json:"name"`
			Arguments any    `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, http.StatusOK, errInvalidParams(req.ID, err.Error()))
			return
		}
		rc := reqctx.FromHeaders(r.Header, r.URL.Query())
		ctx := reqctx.WithContext(r.Context(), rc)
		result, envErr := s.Reg.Dispatch(ctx, params.Name, params.Arguments, s.Logger)
		if envErr != nil {
			writeJSON(w, http.StatusOK, ok(req.ID, envErr))
			return
		}
		writeJSON(w, http.StatusOK, ok(req.ID, result))

	case "resources/list":
		var out []map[string]any
		for _, t := range s.Reg.ListTools(registry.ListToolsOptions{}) {
			out = append(out, map[string]any{"uri": "tools/" + t.Name, "name": t.Name})
		}
		writeJSON(w, http.StatusOK, ok(req.ID, map[string]any{"resources": out}))

	case "resources/read":
		var params struct {
			URI string `json:"uri"`
		}
		_ = json.Unmarshal(req.Params, &params)
		name := strings.TrimPrefix(params.URI, "tools/")
		desc, err := s.Reg.DescribeTool(name)
		if err != nil {
			writeJSON(w, http.StatusOK, errInvalidParams(req.ID, err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, ok(req.ID, desc))

	default:
		writeJSON(w, http.StatusOK, errMethodNotFound(req.ID, req.Method))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", reqctx.NewRequestID())
	w.Header().Set("X-Server-Anchor", reqctx.Anchor())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func contextFromRequest(r *http.Request, rc *reqctx.Context) (context.Context, func()) {
	ctx := reqctx.WithContext(context.Background(), rc)
	return context.WithCancel(ctx)
}
