package ghcontent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/go-github/v55/github"

	"ghmcp/ghcore"
)

// ExcerptRequest mirrors the GetFileExcerpt argument set.
type ExcerptRequest struct {
	FullName      string
	Path          string
	Ref           string
	StartByte     *int64
	MaxBytes      int64
	TailBytes     *int64
	AsText        bool
	MaxTextChars  int
	NumberedLines bool
}

// ExcerptResult is the response shape of GetFileExcerpt.
type ExcerptResult struct {
	Bytes         []byte `json:"-"`
	Text          string `json:"text,omitempty"`
	Truncated     bool   `json:"truncated"`
	ContentRange  string `json:"content_range,omitempty"`
	AcceptRanges  string `json:"accept_ranges,omitempty"`
	ETag          string `json:"etag,omitempty"`
	ContentLength string `json:"content_length,omitempty"`
	TotalSize     int    `json:"total_size,omitempty"`
	SHA           string `json:"sha,omitempty"`
}

// GetFileExcerpt streams a byte range of path@ref via the raw-content media
// type, honoring start_byte/tail_bytes/max_bytes and optionally decoding to
// text with a numbered-line view.
func GetFileExcerpt(ctx context.Context, pool *ghcore.Pool, req ExcerptRequest) (*ExcerptResult, error) {
	if req.StartByte != nil && req.TailBytes != nil {
		return nil, fmt.Errorf("start_byte and tail_bytes are mutually exclusive")
	}
	if req.MaxBytes <= 0 {
		req.MaxBytes = 64 * 1024
	}

	owner, repo, err := splitFullName(req.FullName)
	if err != nil {
		return nil, err
	}

	meta, err := ResolveFileSHA(ctx, pool, owner, repo, req.Path, req.Ref)
	if err != nil {
		return nil, err
	}

	rangeHeader := buildRangeHeader(req.StartByte, req.TailBytes, req.MaxBytes)

	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", pool.Client().BaseURL.String(), owner, repo, req.Path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(url, "/"), nil)
	if err != nil {
		return nil, err
	}
	if req.Ref != "" {
		q := httpReq.URL.Query()
		q.Set("ref", req.Ref)
		httpReq.URL.RawQuery = q.Encode()
	}
	httpReq.Header.Set("Accept", "application/vnd.github.raw")
	if rangeHeader != "" {
		httpReq.Header.Set("Range", rangeHeader)
	}
	if tok, ok := ghcore.OptionalToken(); ok {
		httpReq.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := pool.Do(ctx, pool.RawClient(), httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, req.MaxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading excerpt body: %w", err)
	}
	truncated := int64(len(data)) > req.MaxBytes
	if truncated {
		data = data[:req.MaxBytes]
	}

	result := &ExcerptResult{
		Bytes:         data,
		Truncated:     truncated,
		ContentRange:  resp.Header.Get("Content-Range"),
		AcceptRanges:  resp.Header.Get("Accept-Ranges"),
		ETag:          resp.Header.Get("ETag"),
		ContentLength: resp.Header.Get("Content-Length"),
		SHA:           meta,
	}

	if fc, err := fileMetadata(ctx, pool, owner, repo, req.Path, req.Ref); err == nil && fc != nil {
		result.TotalSize = fc.GetSize()
	}

	if req.AsText {
		text := decodeUTF8Lossy(data)
		if req.MaxTextChars > 0 && utf8.RuneCountInString(text) > req.MaxTextChars {
			runes := []rune(text)
			text = string(runes[:req.MaxTextChars])
			result.Truncated = true
		}
		if req.NumberedLines {
			text = numberLines(text)
		}
		result.Text = text
	}

	return result, nil
}

func splitFullName(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("full_name must be in owner/repo form, got %q", fullName)
	}
	return parts[0], parts[1], nil
}

// buildRangeHeader builds an HTTP Range header value:
// bytes=<start>-<start+max-1>, bytes=-<tail> (capped by max), or open-ended.
func buildRangeHeader(startByte, tailBytes *int64, maxBytes int64) string {
	switch {
	case startByte != nil:
		return fmt.Sprintf("bytes=%d-%d", *startByte, *startByte+maxBytes-1)
	case tailBytes != nil:
		tail := *tailBytes
		if tail > maxBytes {
			tail = maxBytes
		}
		return fmt.Sprintf("bytes=-%d", tail)
	default:
		return ""
	}
}

func decodeUTF8Lossy(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	var b strings.Builder
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

func numberLines(text string) string {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	width := len(strconv.Itoa(len(lines)))
	for i, line := range lines {
		fmt.Fprintf(&b, "%*d\t%s\n", width, i+1, line)
	}
	return b.String()
}

// fileMetadata is a cheap JSON-endpoint fetch used alongside the raw stream
// to surface total file size.
func fileMetadata(ctx context.Context, pool *ghcore.Pool, owner, repo, path, ref string) (*github.RepositoryContent, error) {
	fc, _, _, err := pool.Client().Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, wrapGitHubErr(err, path)
	}
	return fc, nil
}
