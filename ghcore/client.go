package ghcore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"

	"ghmcp/errs"
)

// GitHubMetrics is the process-wide counters table for the HTTP client.
type GitHubMetrics struct {
	RequestsTotal        atomic.Int64
	ErrorsTotal          atomic.Int64
	RateLimitEventsTotal atomic.Int64
	TimeoutsTotal        atomic.Int64
	LatencyMsSum         atomic.Int64
}

// Snapshot is a point-in-time, read-only copy of GitHubMetrics.
type Snapshot struct {
	RequestsTotal        int64
	ErrorsTotal          int64
	RateLimitEventsTotal int64
	TimeoutsTotal        int64
	LatencyMsSum         int64
}

func (m *GitHubMetrics) Snapshot() Snapshot {
	return Snapshot{
		RequestsTotal:        m.RequestsTotal.Load(),
		ErrorsTotal:          m.ErrorsTotal.Load(),
		RateLimitEventsTotal: m.RateLimitEventsTotal.Load(),
		TimeoutsTotal:        m.TimeoutsTotal.Load(),
		LatencyMsSum:         m.LatencyMsSum.Load(),
	}
}

// generation identifies one "async runtime" instantiation of the client
// pool. Go has no first-class runtime identity the way an asyncio event
// loop does; a generation counter is the closest analogue and gives tests
// that rebuild the pool a clean slate without poisoning process state.
type generation struct {
	id      int64
	api     *github.Client
	raw     *http.Client
	ext     *http.Client
	sem     *semaphore.Weighted
	metrics *GitHubMetrics
}

// Pool is the runtime-scoped holder for the three pooled client instances:
// GitHub API, arbitrary external URLs, and raw-content streaming. It is
// reference-counted only in the loose sense that a new
// generation is created on Reset; old generations are simply dropped.
type Pool struct {
	mu      sync.Mutex
	cfg     *Config
	current *generation
	nextID  atomic.Int64
}

// NewPool constructs an empty pool bound to cfg. The first call to any
// client-acquiring method lazily builds generation 1.
func NewPool(cfg *Config) *Pool {
	return &Pool{cfg: cfg}
}

// Reset discards the current generation (closing idle connections) and
// causes the next acquisition to build a fresh one. Call this whenever the
// caller detects the previous generation belongs to a defunct runtime.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.raw.CloseIdleConnections()
		p.current.ext.CloseIdleConnections()
	}
	p.current = nil
}

func (p *Pool) ensure() *generation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		return p.current
	}
	g := &generation{
		id:      p.nextID.Add(1),
		metrics: &GitHubMetrics{},
		sem:     semaphore.NewWeighted(int64(maxInt(1, p.cfg.MaxConcurrency))),
	}
	transport := &http.Transport{
		MaxConnsPerHost:     p.cfg.MaxConnections,
		MaxIdleConnsPerHost: p.cfg.MaxKeepalive,
	}
	g.raw = &http.Client{Transport: transport, Timeout: p.cfg.HTTPTimeout}
	g.ext = &http.Client{Transport: transport, Timeout: p.cfg.HTTPTimeout}

	appConfigured := p.cfg.GitHubAppID != 0 && p.cfg.GitHubInstallationID != 0 && p.cfg.GitHubAppPrivateKey != ""
	if appConfigured {
		if c, err := AppClient(p.cfg.GitHubAppID, p.cfg.GitHubInstallationID, []byte(p.cfg.GitHubAppPrivateKey), transport); err == nil {
			g.api = c
		}
	}
	if g.api == nil {
		tokenSource := &lazyTokenSource{}
		oauthClient := oauth2.NewClient(context.Background(), tokenSource)
		oauthClient.Timeout = p.cfg.RequestTimeout
		if t, ok := oauthClient.Transport.(*oauth2.Transport); ok {
			t.Base = transport
		}
		g.api = github.NewClient(oauthClient)
	}
	if p.cfg.GitHubAPIBaseURL != "" && p.cfg.GitHubAPIBaseURL != "https://api.github.com" {
		if c, err := g.api.WithEnterpriseURLs(p.cfg.GitHubAPIBaseURL, p.cfg.GitHubAPIBaseURL); err == nil {
			g.api = c
		}
	}
	p.current = g
	return g
}

// lazyTokenSource re-reads the token env on every request so rotated
// credentials take effect without rebuilding the client.
type lazyTokenSource struct{}

func (lazyTokenSource) Token() (*oauth2.Token, error) {
	tok, ok := OptionalToken()
	if !ok {
		// Public endpoints only: return an empty token so requests proceed
		// unauthenticated rather than failing client construction.
		return &oauth2.Token{}, nil
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Client returns the pooled GitHub API client for the current generation.
func (p *Pool) Client() *github.Client { return p.ensure().api }

// AppClient builds a GitHub App installation client, bypassing the PAT
// token source. Constructed fresh (App transports are cheap and carry
// their own JWT cache) rather than folded into the generation.
func AppClient(appID, installationID int64, privateKey []byte, base http.RoundTripper) (*github.Client, error) {
	if base == nil {
		base = http.DefaultTransport
	}
	tr, err := ghinstallation.New(base, appID, installationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create github app transport: %w", err)
	}
	return github.NewClient(&http.Client{Transport: tr}), nil
}

// RawClient returns the pooled client used for raw-content streaming
// (large-file excerpts).
func (p *Pool) RawClient() *http.Client { return p.ensure().raw }

// ExternalClient returns the pooled client used for arbitrary external
// URLs (sandbox/http(s) content loads).
func (p *Pool) ExternalClient() *http.Client { return p.ensure().ext }

// Metrics returns the metrics table for the current generation.
func (p *Pool) Metrics() *GitHubMetrics { return p.ensure().metrics }

// Acquire blocks until a concurrency slot is free for the current
// generation's semaphore. Callers must call the returned release func.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	g := p.ensure()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

// Do executes req under the concurrency semaphore, records metrics, and
// maps the response status code onto the errs taxonomy.
func (p *Pool) Do(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	release, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	g := p.ensure()
	start := time.Now()
	resp, err := client.Do(req.WithContext(ctx))
	elapsed := time.Since(start)
	g.metrics.RequestsTotal.Add(1)
	g.metrics.LatencyMsSum.Add(elapsed.Milliseconds())

	if err != nil {
		g.metrics.ErrorsTotal.Add(1)
		if ctx.Err() == context.DeadlineExceeded || isTimeoutErr(err) {
			g.metrics.TimeoutsTotal.Add(1)
			return nil, &errs.GitHubAPIError{Msg: fmt.Sprintf("request timed out: %v", err), CategoryHint: errs.Timeout}
		}
		return nil, err
	}

	if mapped := mapStatus(resp); mapped != nil {
		g.metrics.ErrorsTotal.Add(1)
		if mapped.CategoryHint == errs.RateLimited {
			g.metrics.RateLimitEventsTotal.Add(1)
		}
		resp.Body.Close()
		return resp, mapped
	}
	return resp, nil
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// mapStatus maps a response status code onto the errs taxonomy.
// It returns nil for 2xx responses.
func mapStatus(resp *http.Response) *errs.GitHubAPIError {
	body := readPreview(resp)
	switch {
	case resp.StatusCode == 401:
		return &errs.GitHubAPIError{Msg: "github authentication failed", StatusCode: 401, BodyPreview: body, CategoryHint: errs.Auth}
	case resp.StatusCode == 403 && hasRateLimitHeaders(resp):
		return &errs.GitHubAPIError{Msg: "github rate limit exceeded", StatusCode: 403, BodyPreview: body, CategoryHint: errs.RateLimited}
	case resp.StatusCode == 429:
		return &errs.GitHubAPIError{Msg: "github secondary rate limit", StatusCode: 429, BodyPreview: body, CategoryHint: errs.RateLimited}
	case resp.StatusCode >= 400:
		return &errs.GitHubAPIError{Msg: fmt.Sprintf("github api error: %d", resp.StatusCode), StatusCode: resp.StatusCode, BodyPreview: body}
	}
	return nil
}

func hasRateLimitHeaders(resp *http.Response) bool {
	if v := resp.Header.Get("X-RateLimit-Remaining"); v == "0" {
		return true
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			return true
		}
	}
	return false
}

func readPreview(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	const cap = 2048
	body, _ := io.ReadAll(io.LimitReader(resp.Body, cap))
	return string(body)
}
