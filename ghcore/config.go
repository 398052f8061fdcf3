// Package ghcore holds the env-driven configuration and pooled GitHub HTTP
// client that back the MCP tool registry core. Config reads only the
// environment, once per process; there is no reload API and no on-disk
// config file.
package ghcore

import (
	"os"
	"strconv"
	"strings"
	"time"

	"ghmcp/errs"
)

// Config is the registry core's env-resolved configuration snapshot.
type Config struct {
	GitHubAPIBaseURL string

	RequestTimeout time.Duration
	HTTPTimeout    time.Duration
	MaxConnections int
	MaxKeepalive   int
	MaxConcurrency int

	WorkspaceBaseDir string

	ControllerRepo          string
	ControllerDefaultBranch string

	WriteAllowed bool

	GitAuthorName     string
	GitAuthorEmail    string
	GitCommitterName  string
	GitCommitterEmail string

	ToolStdoutMaxChars int
	ToolStderrMaxChars int

	RateLimitRetryMaxAttempts     int
	RateLimitRetryBaseDelay       time.Duration
	RateLimitRetryMaxWait         time.Duration

	HealthzOneshot bool

	ErrorDebugTruncateChars int
	ErrorDebugArgs          bool

	RenderAPIKey    string
	RenderOwnerID   string
	RenderServiceID string

	AllowedHosts           []string
	RenderExternalHostname string
	RenderExternalURL      string

	SandboxContentBaseURL string

	GitHubAppID          int64
	GitHubInstallationID int64
	GitHubAppPrivateKey  string
}

// Load resolves Config entirely from the environment. It is intended to be
// called once at process startup; there is no reload API by design.
func Load() *Config {
	return &Config{
		GitHubAPIBaseURL: envOr("GITHUB_API_BASE_URL", "https://api.github.com"),

		RequestTimeout: envDurationSeconds("GITHUB_REQUEST_TIMEOUT_SECONDS", 30*time.Second),
		HTTPTimeout:    envDurationSeconds("HTTPX_TIMEOUT", 60*time.Second),
		MaxConnections: envInt("HTTPX_MAX_CONNECTIONS", 100),
		MaxKeepalive:   envInt("HTTPX_MAX_KEEPALIVE", 20),
		MaxConcurrency: envInt("MAX_CONCURRENCY", 16),

		WorkspaceBaseDir: envOr("WORKSPACE_BASE_DIR", defaultWorkspaceBase()),

		ControllerRepo:          os.Getenv("GITHUB_MCP_CONTROLLER_REPO"),
		ControllerDefaultBranch: os.Getenv("GITHUB_MCP_CONTROLLER_BRANCH"),

		WriteAllowed: envBool("GITHUB_MCP_WRITE_ALLOWED", false),

		GitAuthorName:     envOr("GIT_AUTHOR_NAME", "ghmcp-bot"),
		GitAuthorEmail:    envOr("GIT_AUTHOR_EMAIL", "ghmcp-bot@users.noreply.github.com"),
		GitCommitterName:  envOr("GIT_COMMITTER_NAME", envOr("GIT_AUTHOR_NAME", "ghmcp-bot")),
		GitCommitterEmail: envOr("GIT_COMMITTER_EMAIL", envOr("GIT_AUTHOR_EMAIL", "ghmcp-bot@users.noreply.github.com")),

		ToolStdoutMaxChars: envInt("TOOL_STDOUT_MAX_CHARS", 20000),
		ToolStderrMaxChars: envInt("TOOL_STDERR_MAX_CHARS", 20000),

		RateLimitRetryMaxAttempts: envInt("GITHUB_RATE_LIMIT_RETRY_MAX_ATTEMPTS", 5),
		RateLimitRetryBaseDelay:   envDurationSeconds("GITHUB_RATE_LIMIT_RETRY_BASE_DELAY_SECONDS", 1*time.Second),
		RateLimitRetryMaxWait:     envDurationSeconds("GITHUB_RATE_LIMIT_RETRY_MAX_WAIT_SECONDS", 60*time.Second),

		HealthzOneshot: envBool("HEALTHZ_ONESHOT", false),

		ErrorDebugTruncateChars: envInt("ADAPTIV_MCP_ERROR_DEBUG_TRUNCATE_CHARS", 200),
		ErrorDebugArgs:          envBool("ADAPTIV_MCP_ERROR_DEBUG_ARGS", false),

		RenderAPIKey:    os.Getenv("RENDER_API_KEY"),
		RenderOwnerID:   os.Getenv("RENDER_OWNER_ID"),
		RenderServiceID: os.Getenv("RENDER_SERVICE_ID"),

		AllowedHosts:           envList("ALLOWED_HOSTS"),
		RenderExternalHostname: os.Getenv("RENDER_EXTERNAL_HOSTNAME"),
		RenderExternalURL:      os.Getenv("RENDER_EXTERNAL_URL"),

		SandboxContentBaseURL: os.Getenv("SANDBOX_CONTENT_BASE_URL"),

		GitHubAppID:          int64(envInt("GITHUB_APP_ID", 0)),
		GitHubInstallationID: int64(envInt("GITHUB_APP_INSTALLATION_ID", 0)),
		GitHubAppPrivateKey:  os.Getenv("GITHUB_APP_PRIVATE_KEY"),
	}
}

// envList parses a comma-separated env var into a trimmed, non-empty list.
func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultWorkspaceBase() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home + "/.cache/ghmcp/workspaces"
	}
	return "/tmp/ghmcp/workspaces"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func envDurationSeconds(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return time.Duration(n * float64(time.Second))
}

// tokenEnvVars is the ordered fallback list consulted by Token.
var tokenEnvVars = []string{"GITHUB_TOKEN", "GITHUB_PAT"}

// Token resolves the GitHub credential from the ordered env fallback
// list, trimming whitespace; empty-after-trim counts as absent. It fails
// with errs.GitHubAuthError when no usable token is found.
func Token() (string, error) {
	tok, ok := OptionalToken()
	if !ok {
		return "", &errs.GitHubAuthError{
			Msg:    "no GitHub credential configured",
			EnvVar: strings.Join(tokenEnvVars, ", "),
		}
	}
	return tok, nil
}

// OptionalToken mirrors Token but returns ok=false instead of erroring
// when no credential is configured (public-endpoint callers).
func OptionalToken() (string, bool) {
	for _, key := range tokenEnvVars {
		v := strings.TrimSpace(os.Getenv(key))
		if v != "" {
			return v, true
		}
	}
	return "", false
}
