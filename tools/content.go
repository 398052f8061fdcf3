package tools

import (
	"context"

	"ghmcp/ghcontent"
	"ghmcp/registry"
	"ghmcp/sideeffect"
)

// registerContent wires the GitHub Content Helpers and the
// large-file excerpt reader in as read-only tools.
func registerContent(reg *registry.Registry, deps *Deps) {
	reg.Register(&registry.Tool{
		Name:        "decode_github_content",
		Description: "Fetch and base64-decode a file from the GitHub Contents API, directing callers to get_file_excerpt for large files.",
		SideEffect:  sideeffect.ReadOnly,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name": schemaProp("string", "owner/repo"),
				"path":      schemaProp("string", "file path relative to the repo root"),
				"ref":       schemaProp("string", "branch, tag, or commit-ish"),
			},
			Required: []string{"full_name", "path"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			path, err := requireString(args, "path")
			if err != nil {
				return nil, err
			}
			ref := optString(args, "ref", "")

			owner, repo, err := splitFullName(fullName)
			if err != nil {
				return nil, err
			}
			return ghcontent.DecodeGitHubContent(ctx, deps.Pool, owner, repo, path, ref)
		},
	})

	reg.Register(&registry.Tool{
		Name:        "get_file_excerpt",
		Description: "Stream a byte range of a file's raw content, with optional text decoding and numbered-line view (for files too large to inline).",
		SideEffect:  sideeffect.ReadOnly,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"full_name":       schemaProp("string", "owner/repo"),
				"path":            schemaProp("string", "file path relative to the repo root"),
				"ref":             schemaProp("string", "branch, tag, or commit-ish"),
				"start_byte":      {Type: "integer", Description: "offset to start streaming from; mutually exclusive with tail_bytes"},
				"max_bytes":       {Type: "integer", Description: "maximum bytes to read (default 64KiB)"},
				"tail_bytes":      {Type: "integer", Description: "read only the last N bytes; mutually exclusive with start_byte"},
				"as_text":         {Type: "boolean", Description: "decode the excerpt as UTF-8 text"},
				"max_text_chars":  {Type: "integer", Description: "cap the decoded text to this many characters"},
				"numbered_lines":  {Type: "boolean", Description: "prefix each decoded line with its line number"},
			},
			Required: []string{"full_name", "path"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			fullName, err := requireString(args, "full_name")
			if err != nil {
				return nil, err
			}
			path, err := requireString(args, "path")
			if err != nil {
				return nil, err
			}
			req := ghcontent.ExcerptRequest{
				FullName:      fullName,
				Path:          path,
				Ref:           optString(args, "ref", ""),
				MaxBytes:      int64(optInt(args, "max_bytes", 64*1024)),
				AsText:        optBool(args, "as_text", false),
				MaxTextChars:  optInt(args, "max_text_chars", 0),
				NumberedLines: optBool(args, "numbered_lines", false),
			}
			if v, ok := args["start_byte"]; ok {
				if n := toInt64(v); n != nil {
					req.StartByte = n
				}
			}
			if v, ok := args["tail_bytes"]; ok {
				if n := toInt64(v); n != nil {
					req.TailBytes = n
				}
			}

			res, err := ghcontent.GetFileExcerpt(ctx, deps.Pool, req)
			if err != nil {
				return nil, err
			}
			out := map[string]any{
				"truncated":      res.Truncated,
				"content_range":  res.ContentRange,
				"accept_ranges":  res.AcceptRanges,
				"etag":           res.ETag,
				"content_length": res.ContentLength,
				"total_size":     res.TotalSize,
				"sha":            res.SHA,
				"size":           len(res.Bytes),
			}
			if req.AsText {
				out["text"] = res.Text
			} else {
				out["content_base64"] = encodeBase64(res.Bytes)
			}
			return out, nil
		},
	})

	reg.Register(&registry.Tool{
		Name:        "load_content_from_url",
		Description: "Load a body from a github:, sandbox:, http(s):, or absolute local path reference.",
		SideEffect:  sideeffect.ReadOnly,
		InputSchema: &registry.Schema{
			Type: "object",
			Properties: map[string]*registry.Property{
				"url": schemaProp("string", "github:owner/repo:path[@ref], sandbox:<path>, http(s)://..., or an absolute local path"),
			},
			Required: []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			url, err := requireString(args, "url")
			if err != nil {
				return nil, err
			}
			data, err := ghcontent.LoadBodyFromContentURL(ctx, deps.Pool, url, deps.Config.SandboxContentBaseURL)
			if err != nil {
				return nil, err
			}
			return map[string]any{"content_base64": encodeBase64(data), "size": len(data)}, nil
		},
	})
}

func toInt64(v any) *int64 {
	switch n := v.(type) {
	case float64:
		i := int64(n)
		return &i
	case int:
		i := int64(n)
		return &i
	case int64:
		return &n
	}
	return nil
}
