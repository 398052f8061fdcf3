package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"ghmcp/errs"
)

// rangelessHunk is a sequence of context/add/delete lines with no
// numeric range header, located against the current file contents by its
// context anchor.
type rangelessHunk struct {
	lines []rangelessLine
}

type rangelessLine struct {
	kind byte // ' ', '-', '+'
	text string
}

// rangelessFileOp describes one file's worth of changes parsed from a
// `diff --git a/<A> b/<B>` block.
type rangelessFileOp struct {
	path   string // A side (or B, for create)
	moveTo string // non-empty when A != B
	create bool
	hunks  []rangelessHunk
}

var diffGitHeader = regexp.MustCompile(`^diff --git a/(.+) b/(.+)$`)

// parseRangeless splits a rangeless patch into per-file operations.
func parseRangeless(patch string) ([]rangelessFileOp, error) {
	lines := strings.Split(patch, "\n")
	var ops []rangelessFileOp
	var cur *rangelessFileOp
	var curHunk *rangelessHunk

	flushHunk := func() {
		if cur != nil && curHunk != nil {
			cur.hunks = append(cur.hunks, *curHunk)
			curHunk = nil
		}
	}
	flushFile := func() {
		flushHunk()
		if cur != nil {
			ops = append(ops, *cur)
			cur = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if m := diffGitHeader.FindStringSubmatch(line); m != nil {
			flushFile()
			a, b := m[1], m[2]
			op := rangelessFileOp{path: a}
			if a == "/dev/null" {
				op.path = b
				op.create = true
			} else if a != b {
				op.moveTo = b
			}
			cur = &op
			continue
		}
		if cur == nil {
			continue // preamble (---/+++/index lines before the first recognized hunk)
		}
		trimmed := strings.TrimSpace(line)
		if bareHunkHeader.MatchString(trimmed) || rangedHunkHeader.MatchString(line) {
			flushHunk()
			curHunk = &rangelessHunk{}
			continue
		}
		if strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "index ") {
			continue
		}
		if line == "" {
			if curHunk == nil {
				continue
			}
			return nil, &errs.PatchError{
				Msg:  fmt.Sprintf("malformed rangeless patch: blank line without +/-/space prefix at line %d", i+1),
				Code: "PATCH_MALFORMED",
			}
		}
		if curHunk == nil {
			continue
		}
		kind := line[0]
		if kind != ' ' && kind != '-' && kind != '+' {
			return nil, &errs.PatchError{
				Msg:  fmt.Sprintf("malformed rangeless patch at line %d: expected ' ', '-', or '+' prefix", i+1),
				Code: "PATCH_MALFORMED",
			}
		}
		curHunk.lines = append(curHunk.lines, rangelessLine{kind: kind, text: line[1:]})
	}
	flushFile()

	if len(ops) == 0 {
		return nil, &errs.PatchError{Msg: "no recognizable diff --git blocks found", Code: "PATCH_MALFORMED"}
	}
	return ops, nil
}

// applyRangeless parses and applies a rangeless patch against repoDir,
// applying each file's hunks sequentially against its current contents by
// locating the hunk's context anchor (first match wins).
func applyRangeless(repoDir, patch string) (*ApplyResult, error) {
	ops, err := parseRangeless(patch)
	if err != nil {
		return nil, err
	}

	var touched []string
	for fileIdx, op := range ops {
		target, err := SafeJoin(repoDir, op.path)
		if err != nil {
			return nil, err
		}

		var original string
		if !op.create {
			data, err := os.ReadFile(target)
			if err != nil {
				return nil, &errs.NotFoundError{MissingPath: op.path, Msg: fmt.Sprintf("cannot patch %s: %v", op.path, err)}
			}
			original = string(data)
		}

		updated := original
		for hunkIdx, hunk := range op.hunks {
			next, err := applyHunkToText(updated, hunk)
			if err != nil {
				return nil, &errs.PatchError{
					Msg:  fmt.Sprintf("file %s, hunk %d: %v", op.path, hunkIdx+1, err),
					Code: "PATCH_DOES_NOT_APPLY",
					Cat:  errs.Conflict,
				}
			}
			updated = next
		}
		_ = fileIdx

		destRel := op.path
		if op.moveTo != "" {
			destRel = op.moveTo
		}
		destPath, err := SafeJoin(repoDir, destRel)
		if err != nil {
			return nil, err
		}

		if err := atomicWriteFile(destPath, []byte(updated), filePermOrDefault(target)); err != nil {
			return nil, err
		}
		if op.moveTo != "" {
			_ = os.Remove(target)
		}
		touched = append(touched, destRel)
	}

	return &ApplyResult{Status: "applied", Files: touched}, nil
}

func filePermOrDefault(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}

// applyHunkToText locates the hunk's context+delete anchor in text and
// replaces it with the context+add lines. On ambiguity the first match
// wins.
func applyHunkToText(text string, hunk rangelessHunk) (string, error) {
	var anchorLines []string
	var replacementLines []string
	for _, l := range hunk.lines {
		switch l.kind {
		case ' ':
			anchorLines = append(anchorLines, l.text)
			replacementLines = append(replacementLines, l.text)
		case '-':
			anchorLines = append(anchorLines, l.text)
		case '+':
			replacementLines = append(replacementLines, l.text)
		}
	}

	if len(anchorLines) == 0 {
		// Pure addition with no context: append at EOF if text is empty,
		// otherwise insert at the start.
		addition := strings.Join(replacementLines, "\n")
		if addition != "" {
			addition += "\n"
		}
		return addition + text, nil
	}

	anchor := strings.Join(anchorLines, "\n")
	replacement := strings.Join(replacementLines, "\n")

	idx := strings.Index(text, anchor)
	if idx < 0 {
		return "", fmt.Errorf("context anchor not found")
	}
	return text[:idx] + replacement + text[idx+len(anchor):], nil
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync()
		dirF.Close()
	}
	return nil
}
