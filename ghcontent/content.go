// Package ghcontent implements the GitHub Contents-API helpers shared by
// the write tools: base64 decode, commit, SHA resolution, branch
// verification, and the multi-scheme body loader.
package ghcontent

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/go-github/v55/github"

	"ghmcp/errs"
	"ghmcp/ghcore"
)

// largeFileCapBytes is the inline-content size above which DecodeGitHubContent
// directs the caller to the excerpt reader instead.
const largeFileCapBytes = 1 << 20 // 1 MiB

// DecodedContent is the result of DecodeGitHubContent.
type DecodedContent struct {
	Content   string `json:"content,omitempty"`
	SHA       string `json:"sha"`
	Size      int    `json:"size"`
	LargeFile bool   `json:"large_file,omitempty"`
	Message   string `json:"message,omitempty"`
}

// DecodeGitHubContent fetches the Contents API for path@ref and decodes the
// base64 payload. If the file exceeds largeFileCapBytes, or GitHub omitted
// inline content (which it does for large files regardless of the
// requested size), it returns a large_file sentinel instead of erroring.
func DecodeGitHubContent(ctx context.Context, pool *ghcore.Pool, owner, repo, path, ref string) (*DecodedContent, error) {
	client := pool.Client()
	fc, _, _, err := client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, wrapGitHubErr(err, path)
	}
	if fc == nil {
		return nil, &errs.NotFoundError{MissingPath: path, Msg: fmt.Sprintf("%s is not a file (directory or missing)", path)}
	}

	size := fc.GetSize()
	if size > largeFileCapBytes || fc.Content == nil || *fc.Content == "" {
		return &DecodedContent{
			SHA: fc.GetSHA(), Size: size, LargeFile: true,
			Message: fmt.Sprintf("%s is %d bytes; use the excerpt reader instead of inline content", path, size),
		}, nil
	}

	decoded, err := fc.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding base64 content for %s: %w", path, err)
	}

	return &DecodedContent{Content: decoded, SHA: fc.GetSHA(), Size: size}, nil
}

// CommitResult is the stripped-down response of PerformGitHubCommit: the
// raw Contents API response carries megabyte-scale inline content/encoding
// fields that callers never need.
type CommitResult struct {
	CommitSHA string `json:"commit_sha"`
	ContentSHA string `json:"content_sha"`
	Path      string `json:"path"`
	HTMLURL   string `json:"html_url,omitempty"`
}

// PerformGitHubCommit PUTs to the Contents API, creating or updating path on
// branch. sha must be set (the current blob SHA) when updating an existing
// file; leave empty to create.
func PerformGitHubCommit(ctx context.Context, pool *ghcore.Pool, cfg *ghcore.Config, owner, repo, branch, path, message string, body []byte, sha string) (*CommitResult, error) {
	client := pool.Client()
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: body,
		Branch:  github.String(branch),
		Author: &github.CommitAuthor{
			Name:  github.String(cfg.GitAuthorName),
			Email: github.String(cfg.GitAuthorEmail),
		},
		Committer: &github.CommitAuthor{
			Name:  github.String(cfg.GitCommitterName),
			Email: github.String(cfg.GitCommitterEmail),
		},
	}
	var resp *github.RepositoryContentResponse
	var err error
	if sha != "" {
		opts.SHA = github.String(sha)
		resp, _, err = client.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	} else {
		resp, _, err = client.Repositories.CreateFile(ctx, owner, repo, path, opts)
	}
	if err != nil {
		return nil, wrapGitHubErr(err, path)
	}

	out := &CommitResult{Path: path}
	if resp.Commit.SHA != nil {
		out.CommitSHA = *resp.Commit.SHA
	}
	if resp.Content != nil {
		if resp.Content.SHA != nil {
			out.ContentSHA = *resp.Content.SHA
		}
		if resp.Content.HTMLURL != nil {
			out.HTMLURL = *resp.Content.HTMLURL
		}
	}
	return out, nil
}

// ResolveFileSHA fetches just the current blob SHA for path@ref, used by
// write wrappers that must supply sha on update.
func ResolveFileSHA(ctx context.Context, pool *ghcore.Pool, owner, repo, path, ref string) (string, error) {
	client := pool.Client()
	fc, _, _, err := client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", wrapGitHubErr(err, path)
	}
	if fc == nil {
		return "", &errs.NotFoundError{MissingPath: path}
	}
	return fc.GetSHA(), nil
}

// VerifyFileOnBranch confirms path exists on branch after a commit, guarding
// against eventual-consistency surprises on the Contents API.
func VerifyFileOnBranch(ctx context.Context, pool *ghcore.Pool, owner, repo, branch, path string) (bool, error) {
	client := pool.Client()
	_, _, resp, err := client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return false, nil
		}
		return false, wrapGitHubErr(err, path)
	}
	return true, nil
}

// blockedIPChecks is the SSRF block-list: loopback, RFC1918 private
// ranges, and link-local.
var blockedIPChecks = []func(net.IP) bool{
	net.IP.IsLoopback,
	net.IP.IsLinkLocalUnicast,
	net.IP.IsLinkLocalMulticast,
	func(ip net.IP) bool {
		_, block, _ := net.ParseCIDR("10.0.0.0/8")
		return block.Contains(ip)
	},
	func(ip net.IP) bool {
		_, block, _ := net.ParseCIDR("172.16.0.0/12")
		return block.Contains(ip)
	},
	func(ip net.IP) bool {
		_, block, _ := net.ParseCIDR("192.168.0.0/16")
		return block.Contains(ip)
	},
}

func isBlockedHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable host: let the HTTP client surface the DNS error
		// rather than silently blocking.
		return false
	}
	for _, ip := range ips {
		for _, check := range blockedIPChecks {
			if check(ip) {
				return true
			}
		}
	}
	return false
}

// LoadBodyFromContentURL resolves a reference by scheme:
//   - "github:owner/repo:path[@ref]"  -> Contents API raw bytes
//   - "sandbox:<path>"                -> local read, optional remote rewrite
//   - absolute local path             -> local read
//   - "http(s)://..."                 -> external GET, SSRF block-list enforced
func LoadBodyFromContentURL(ctx context.Context, pool *ghcore.Pool, ref string, sandboxBaseURL string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "github:"):
		return loadFromGitHubScheme(ctx, pool, strings.TrimPrefix(ref, "github:"))
	case strings.HasPrefix(ref, "sandbox:"):
		return loadFromSandbox(ctx, pool, strings.TrimPrefix(ref, "sandbox:"), sandboxBaseURL)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return loadFromHTTP(ctx, pool, ref)
	case strings.HasPrefix(ref, "/"):
		return os.ReadFile(ref)
	default:
		return nil, fmt.Errorf("unrecognized content reference scheme: %q", ref)
	}
}

func loadFromGitHubScheme(ctx context.Context, pool *ghcore.Pool, rest string) ([]byte, error) {
	// owner/repo:path[@ref]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return nil, fmt.Errorf("malformed github: reference, expected owner/repo:path")
	}
	ownerRepo, pathAndRef := rest[:colon], rest[colon+1:]
	parts := strings.SplitN(ownerRepo, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed github: reference, expected owner/repo:path")
	}
	owner, repo := parts[0], parts[1]

	path, ghRef := pathAndRef, ""
	if at := strings.LastIndexByte(pathAndRef, '@'); at >= 0 {
		path, ghRef = pathAndRef[:at], pathAndRef[at+1:]
	}

	dec, err := DecodeGitHubContent(ctx, pool, owner, repo, path, ghRef)
	if err != nil {
		return nil, err
	}
	if dec.LargeFile {
		return nil, fmt.Errorf("%s: %s", path, dec.Message)
	}
	return []byte(dec.Content), nil
}

func loadFromSandbox(ctx context.Context, pool *ghcore.Pool, path, sandboxBaseURL string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}
	if sandboxBaseURL == "" {
		return nil, fmt.Errorf("sandbox path %s not found locally and SANDBOX_CONTENT_BASE_URL is not configured", path)
	}
	target := strings.TrimRight(sandboxBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	return loadFromHTTP(ctx, pool, target)
}

func loadFromHTTP(ctx context.Context, pool *ghcore.Pool, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	host := u.Hostname()
	if isBlockedHost(host) {
		return nil, fmt.Errorf("refusing to fetch %q: target host resolves to a blocked local/private address", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := pool.Do(ctx, pool.ExternalClient(), req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func wrapGitHubErr(err error, path string) error {
	if ghErr, ok := err.(*github.ErrorResponse); ok && ghErr.Response != nil {
		if ghErr.Response.StatusCode == 404 {
			return &errs.NotFoundError{MissingPath: path, Msg: fmt.Sprintf("%s not found", path)}
		}
		return &errs.GitHubAPIError{Msg: ghErr.Message, StatusCode: ghErr.Response.StatusCode}
	}
	return err
}
