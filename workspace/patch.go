package workspace

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"ghmcp/errs"
)

// writeTempPatch writes patch to a uniquely named temp file inside dir so
// git apply can read it without a shell pipe, returning its path.
func writeTempPatch(dir, patch string) (string, error) {
	f, err := os.CreateTemp(dir, ".patch-*.diff")
	if err != nil {
		return "", fmt.Errorf("failed to create temp patch file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(patch); err != nil {
		return "", fmt.Errorf("failed to write temp patch file: %w", err)
	}
	return f.Name(), nil
}

func removeTempPatch(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

// rangedHunkHeader matches a standard unified-diff hunk header with
// explicit line ranges: "@@ -a,b +c,d @@".
var rangedHunkHeader = regexp.MustCompile(`^@@ -\d+(,\d+)? \+\d+(,\d+)? @@`)

// bareHunkHeader matches the "rangeless" variant: a bare "@@" marker with
// no line-range numbers.
var bareHunkHeader = regexp.MustCompile(`^@@\s*@@`)

var fenceLine = regexp.MustCompile("^```[a-zA-Z]*\\s*$")

// PreprocessPatch strips leading/trailing code fences and blank lines
// before the first diff marker, strips trailing decorative fences/braces,
// and unescapes literal "\n" sequences.
func PreprocessPatch(patch string) string {
	s := patch
	if strings.Contains(s, `\n`) && !strings.Contains(s, "\n") {
		s = strings.ReplaceAll(s, `\r\n`, "\n")
		s = strings.ReplaceAll(s, `\n`, "\n")
		s = strings.ReplaceAll(s, `\t`, "\t")
	}

	lines := strings.Split(s, "\n")

	start := 0
	for start < len(lines) {
		line := strings.TrimSpace(lines[start])
		if line == "" || fenceLine.MatchString(line) {
			start++
			continue
		}
		break
	}

	end := len(lines)
	for end > start {
		line := strings.TrimSpace(lines[end-1])
		if line == "" || fenceLine.MatchString(line) || line == "}" || line == "```" {
			end--
			continue
		}
		break
	}

	return strings.Join(lines[start:end], "\n") + "\n"
}

// sniff classifies a preprocessed patch as ranged, rangeless, or empty.
func sniff(patch string) string {
	trimmed := strings.TrimSpace(patch)
	if trimmed == "" {
		return "empty"
	}
	for _, line := range strings.Split(trimmed, "\n") {
		if rangedHunkHeader.MatchString(line) {
			return "ranged"
		}
		if bareHunkHeader.MatchString(strings.TrimSpace(line)) {
			return "rangeless"
		}
	}
	return "ranged"
}

// ApplyResult is the outcome of applying a patch against a workspace.
type ApplyResult struct {
	Status string   `json:"status"`
	Files  []string `json:"files,omitempty"`
}

// ApplyPatch preprocesses the input, sniffs its dialect, and applies it
// with git-apply for the standard dialect or the custom rangeless parser
// otherwise.
func ApplyPatch(ctx context.Context, repoDir, rawPatch string) (*ApplyResult, error) {
	patch := PreprocessPatch(rawPatch)
	switch sniff(patch) {
	case "empty":
		return nil, &errs.PatchError{Msg: "empty patch", Code: "PATCH_EMPTY", Cat: errs.Validation}
	case "rangeless":
		return applyRangeless(repoDir, patch)
	default:
		return applyRangedGitApply(ctx, repoDir, patch)
	}
}

func applyRangedGitApply(ctx context.Context, repoDir, patch string) (*ApplyResult, error) {
	files, err := writeTempPatch(repoDir, patch)
	if err != nil {
		return nil, err
	}
	defer removeTempPatch(files)

	res, err := Run(ctx, "git", []string{"apply", "--whitespace=nowarn", files}, RunOptions{Dir: repoDir})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		preview := numberedPreview(patch)
		lower := strings.ToLower(res.Stderr)
		switch {
		case strings.Contains(lower, "does not apply") || strings.Contains(lower, "patch failed"):
			return nil, &errs.ConflictError{
				Msg:  fmt.Sprintf("patch does not apply: %s\n\n%s", strings.TrimSpace(res.Stderr), preview),
				Code: "PATCH_DOES_NOT_APPLY",
			}
		case strings.Contains(lower, "malformed") || strings.Contains(lower, "corrupt"):
			return nil, &errs.PatchError{Msg: fmt.Sprintf("malformed patch: %s\n\n%s", strings.TrimSpace(res.Stderr), preview), Code: "PATCH_MALFORMED"}
		default:
			return nil, &errs.PatchError{Msg: fmt.Sprintf("git apply failed: %s\n\n%s", strings.TrimSpace(res.Stderr), preview), Code: "PATCH_APPLY_FAILED"}
		}
	}

	files2 := parseGitApplyFileList(patch)
	return &ApplyResult{Status: "applied", Files: files2}, nil
}

func numberedPreview(patch string) string {
	var b strings.Builder
	for i, line := range strings.Split(patch, "\n") {
		fmt.Fprintf(&b, "%4d| %s\n", i+1, line)
	}
	return b.String()
}

var diffGitLine = regexp.MustCompile(`^diff --git a/(.+) b/(.+)$`)

func parseGitApplyFileList(patch string) []string {
	var out []string
	for _, line := range strings.Split(patch, "\n") {
		if m := diffGitLine.FindStringSubmatch(line); m != nil {
			out = append(out, m[2])
		}
	}
	return out
}
