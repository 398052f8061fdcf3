package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ghmcp/errs"
)

// OpKind enumerates the multi-op editor's operation tags.
type OpKind string

const (
	OpWrite       OpKind = "write"
	OpReplaceText OpKind = "replace_text"
	OpEditRange   OpKind = "edit_range"
	OpDeleteLines OpKind = "delete_lines"
	OpDeleteWord  OpKind = "delete_word"
	OpDeleteChars OpKind = "delete_chars"
	OpDelete      OpKind = "delete"
	OpMove        OpKind = "move"
	OpMkdir       OpKind = "mkdir"
	OpApplyPatch  OpKind = "apply_patch"
	OpReadSections OpKind = "read_sections"
)

// aliasTable normalizes operation-name aliases.
var aliasTable = map[string]OpKind{
	"rm":    OpDelete,
	"mv":    OpMove,
	"mkdirp": OpMkdir,
}

// Operation is one tagged entry in a multi-op editor request.
type Operation struct {
	Op OpKind `json:"op"`

	Path string `json:"path,omitempty"`
	Src  string `json:"src,omitempty"`
	Dst  string `json:"dst,omitempty"`

	Content string `json:"content,omitempty"`
	Old     string `json:"old,omitempty"`
	New     string `json:"new,omitempty"`

	StartLine int `json:"start_line,omitempty"`
	EndLine   int `json:"end_line,omitempty"`
	Text      string `json:"text,omitempty"`

	Word  string `json:"word,omitempty"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`

	Patch string `json:"patch,omitempty"`

	CreateParents bool `json:"create_parents,omitempty"`
}

// NormalizeOp applies the alias table and the "mkdirp" -> "mkdir"+parents
// alias to rawOp; callers pick rawOp from "op" or "operation" themselves.
func NormalizeOp(op Operation, rawOp string) Operation {
	key := strings.ToLower(strings.TrimSpace(rawOp))
	if canon, ok := aliasTable[key]; ok {
		op.Op = canon
		if key == "mkdirp" {
			op.CreateParents = true
		}
		return op
	}
	op.Op = OpKind(key)
	return op
}

// OpResult is the per-operation outcome recorded by ApplyWorkspaceOperations.
type OpResult struct {
	Op      OpKind `json:"op"`
	Path    string `json:"path,omitempty"`
	Status  string `json:"status"` // ok | error | noop
	Message string `json:"message,omitempty"`
}

// ApplyOptions configures ApplyWorkspaceOperations.
type ApplyOptions struct {
	PreviewOnly     bool
	FailFast        bool
	RollbackOnError bool
	CreateParents   bool
}

// ApplyOutcome is the full result of applying a list of operations.
type ApplyOutcome struct {
	Results   []OpResult `json:"results"`
	WriteOp   bool       `json:"write_action"`
	RolledBack bool      `json:"rolled_back,omitempty"`
}

// fileSnapshot captures a file's prior bytes/permissions (absent = did
// not exist) so RollbackOnError can restore it.
type fileSnapshot struct {
	existed bool
	data    []byte
	mode    os.FileMode
}

// ResolveWriteAction implements the write-action resolver: preview_only,
// or every op being read_sections, classifies read-only; otherwise write.
func ResolveWriteAction(preview bool, ops []Operation) bool {
	if preview {
		return false
	}
	for _, op := range ops {
		if op.Op != OpReadSections {
			return true
		}
	}
	return false
}

// ApplyWorkspaceOperations executes ops sequentially against repoDir,
// honoring preview_only (in-memory overlay, filesystem untouched),
// rollback_on_error (restore pre-state snapshot on failure), and
// fail_fast.
func ApplyWorkspaceOperations(repoDir string, ops []Operation, opts ApplyOptions) (*ApplyOutcome, error) {
	outcome := &ApplyOutcome{WriteOp: ResolveWriteAction(opts.PreviewOnly, ops)}

	overlay := newOverlay(repoDir, opts.PreviewOnly)
	snapshots := make(map[string]*fileSnapshot)
	var createdPaths []string

	snapshot := func(path string) {
		if !opts.RollbackOnError || opts.PreviewOnly {
			return
		}
		if _, ok := snapshots[path]; ok {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			snapshots[path] = &fileSnapshot{existed: false}
			return
		}
		info, _ := os.Stat(path)
		mode := os.FileMode(0o644)
		if info != nil {
			mode = info.Mode().Perm()
		}
		snapshots[path] = &fileSnapshot{existed: true, data: data, mode: mode}
	}

	rollback := func() {
		for path, snap := range snapshots {
			if snap.existed {
				_ = atomicWriteFile(path, snap.data, snap.mode)
			} else {
				_ = os.Remove(path)
			}
		}
		for _, p := range createdPaths {
			if _, ok := snapshots[p]; !ok {
				_ = os.Remove(p)
			}
		}
	}

	for _, op := range ops {
		for _, p := range opTargetPaths(repoDir, op) {
			snapshot(p)
		}
		res, newlyCreated, _, err := applyOneOp(repoDir, overlay, op, opts, snapshot)
		if newlyCreated != "" {
			createdPaths = append(createdPaths, newlyCreated)
		}
		if err != nil {
			res = OpResult{Op: op.Op, Path: op.Path, Status: "error", Message: err.Error()}
			outcome.Results = append(outcome.Results, res)
			if opts.RollbackOnError && !opts.PreviewOnly {
				rollback()
				outcome.RolledBack = true
			}
			if opts.FailFast || opts.RollbackOnError {
				return outcome, nil
			}
			continue
		}
		outcome.Results = append(outcome.Results, res)
	}

	return outcome, nil
}

// opTargetPaths resolves the filesystem paths an operation will touch, so
// the caller can snapshot pre-mutation state before applyOneOp runs.
// Resolution errors are ignored here; applyOneOp will surface them properly.
func opTargetPaths(repoDir string, op Operation) []string {
	var paths []string
	add := func(rel string) {
		if rel == "" {
			return
		}
		if p, err := SafeJoin(repoDir, rel); err == nil {
			paths = append(paths, p)
		}
	}
	switch op.Op {
	case OpMove:
		add(op.Src)
		add(op.Dst)
	default:
		add(op.Path)
	}
	return paths
}

type overlay struct {
	repoDir string
	preview bool
	files   map[string][]byte
	deleted map[string]bool
}

func newOverlay(repoDir string, preview bool) *overlay {
	return &overlay{repoDir: repoDir, preview: preview, files: map[string][]byte{}, deleted: map[string]bool{}}
}

func (o *overlay) read(path string) ([]byte, error) {
	if o.preview {
		if o.deleted[path] {
			return nil, os.ErrNotExist
		}
		if data, ok := o.files[path]; ok {
			return data, nil
		}
	}
	return os.ReadFile(path)
}

func (o *overlay) write(path string, data []byte, mode os.FileMode) error {
	if o.preview {
		o.files[path] = data
		delete(o.deleted, path)
		return nil
	}
	return atomicWriteFile(path, data, mode)
}

func (o *overlay) remove(path string) error {
	if o.preview {
		o.deleted[path] = true
		delete(o.files, path)
		return nil
	}
	return os.Remove(path)
}

func (o *overlay) exists(path string) bool {
	if o.preview {
		if o.deleted[path] {
			return false
		}
		if _, ok := o.files[path]; ok {
			return true
		}
	}
	_, err := os.Stat(path)
	return err == nil
}

func applyOneOp(repoDir string, ov *overlay, op Operation, opts ApplyOptions, snapshot func(string)) (OpResult, string, []string, error) {
	switch op.Op {
	case OpMkdir:
		target, err := SafeJoin(repoDir, op.Path)
		if err != nil {
			return OpResult{}, "", nil, err
		}
		if ov.preview {
			return OpResult{Op: op.Op, Path: op.Path, Status: "ok"}, "", nil, nil
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return OpResult{}, "", nil, err
		}
		return OpResult{Op: op.Op, Path: op.Path, Status: "ok"}, "", nil, nil

	case OpWrite:
		target, err := SafeJoin(repoDir, op.Path)
		if err != nil {
			return OpResult{}, "", nil, err
		}
		existed := ov.exists(target)
		mode := os.FileMode(0o644)
		if existed {
			if info, err := os.Stat(target); err == nil {
				mode = info.Mode().Perm()
			}
		}
		if (opts.CreateParents || op.CreateParents) && !ov.preview {
			_ = os.MkdirAll(filepath.Dir(target), 0o755)
		}
		if err := ov.write(target, []byte(op.Content), mode); err != nil {
			return OpResult{}, "", nil, err
		}
		created := ""
		if !existed {
			created = target
		}
		return OpResult{Op: op.Op, Path: op.Path, Status: "ok"}, created, []string{target}, nil

	case OpReplaceText:
		target, err := SafeJoin(repoDir, op.Path)
		if err != nil {
			return OpResult{}, "", nil, err
		}
		data, err := ov.read(target)
		if err != nil {
			return OpResult{}, "", nil, &errs.NotFoundError{MissingPath: op.Path}
		}
		text := string(data)
		if !strings.Contains(text, op.Old) {
			return OpResult{Op: op.Op, Path: op.Path, Status: "noop", Message: "old text not found"}, "", []string{target}, nil
		}
		updated := strings.Replace(text, op.Old, op.New, 1)
		if err := ov.write(target, []byte(updated), filePermOrDefault(target)); err != nil {
			return OpResult{}, "", nil, err
		}
		return OpResult{Op: op.Op, Path: op.Path, Status: "ok"}, "", []string{target}, nil

	case OpEditRange:
		target, err := SafeJoin(repoDir, op.Path)
		if err != nil {
			return OpResult{}, "", nil, err
		}
		data, err := ov.read(target)
		if err != nil {
			return OpResult{}, "", nil, &errs.NotFoundError{MissingPath: op.Path}
		}
		lines := splitKeepEmpty(string(data))
		if op.StartLine < 1 || op.EndLine < op.StartLine || op.EndLine > len(lines)+1 {
			return OpResult{}, "", nil, &errs.ValidationError{Fields: []errs.FieldError{{Field: "start_line/end_line", Message: "out of range"}}}
		}
		newLines := append([]string{}, lines[:op.StartLine-1]...)
		if op.Text != "" {
			newLines = append(newLines, splitKeepEmpty(op.Text)...)
		}
		if op.EndLine-1 < len(lines) {
			newLines = append(newLines, lines[op.EndLine-1:]...)
		}
		updated := strings.Join(newLines, "\n") + "\n"
		if err := ov.write(target, []byte(updated), filePermOrDefault(target)); err != nil {
			return OpResult{}, "", nil, err
		}
		return OpResult{Op: op.Op, Path: op.Path, Status: "ok"}, "", []string{target}, nil

	case OpDeleteLines:
		return applyOneOp(repoDir, ov, Operation{
			Op: OpEditRange, Path: op.Path, StartLine: op.StartLine, EndLine: op.EndLine, Text: "",
		}, opts, snapshot)

	case OpDeleteWord:
		target, err := SafeJoin(repoDir, op.Path)
		if err != nil {
			return OpResult{}, "", nil, err
		}
		data, err := ov.read(target)
		if err != nil {
			return OpResult{}, "", nil, &errs.NotFoundError{MissingPath: op.Path}
		}
		updated := strings.Replace(string(data), op.Word, "", 1)
		if err := ov.write(target, []byte(updated), filePermOrDefault(target)); err != nil {
			return OpResult{}, "", nil, err
		}
		return OpResult{Op: op.Op, Path: op.Path, Status: "ok"}, "", []string{target}, nil

	case OpDeleteChars:
		target, err := SafeJoin(repoDir, op.Path)
		if err != nil {
			return OpResult{}, "", nil, err
		}
		data, err := ov.read(target)
		if err != nil {
			return OpResult{}, "", nil, &errs.NotFoundError{MissingPath: op.Path}
		}
		text := string(data)
		if op.Start < 0 || op.End > len(text) || op.Start > op.End {
			return OpResult{}, "", nil, &errs.ValidationError{Fields: []errs.FieldError{{Field: "start/end", Message: "out of range"}}}
		}
		updated := text[:op.Start] + text[op.End:]
		if err := ov.write(target, []byte(updated), filePermOrDefault(target)); err != nil {
			return OpResult{}, "", nil, err
		}
		return OpResult{Op: op.Op, Path: op.Path, Status: "ok"}, "", []string{target}, nil

	case OpDelete:
		target, err := SafeJoin(repoDir, op.Path)
		if err != nil {
			return OpResult{}, "", nil, err
		}
		if !ov.exists(target) {
			return OpResult{Op: op.Op, Path: op.Path, Status: "noop"}, "", []string{target}, nil
		}
		if err := ov.remove(target); err != nil {
			return OpResult{}, "", nil, err
		}
		return OpResult{Op: op.Op, Path: op.Path, Status: "ok"}, "", []string{target}, nil

	case OpMove:
		srcPath, err := SafeJoin(repoDir, op.Src)
		if err != nil {
			return OpResult{}, "", nil, err
		}
		dstPath, err := SafeJoin(repoDir, op.Dst)
		if err != nil {
			return OpResult{}, "", nil, err
		}
		data, err := ov.read(srcPath)
		if err != nil {
			return OpResult{}, "", nil, &errs.NotFoundError{MissingPath: op.Src}
		}
		if err := ov.write(dstPath, data, filePermOrDefault(srcPath)); err != nil {
			return OpResult{}, "", nil, err
		}
		if err := ov.remove(srcPath); err != nil {
			return OpResult{}, "", nil, err
		}
		return OpResult{Op: op.Op, Path: op.Dst, Status: "ok"}, dstPath, []string{srcPath, dstPath}, nil

	case OpApplyPatch:
		if ov.preview {
			return OpResult{Op: op.Op, Status: "ok", Message: "preview: patch not applied to disk"}, "", nil, nil
		}
		res, err := ApplyPatch(context.Background(), repoDir, op.Patch)
		if err != nil {
			return OpResult{}, "", nil, err
		}
		return OpResult{Op: op.Op, Status: "ok", Message: strings.Join(res.Files, ",")}, "", nil, nil

	case OpReadSections:
		target, err := SafeJoin(repoDir, op.Path)
		if err != nil {
			return OpResult{}, "", nil, err
		}
		data, err := ov.read(target)
		if err != nil {
			return OpResult{}, "", nil, &errs.NotFoundError{MissingPath: op.Path}
		}
		lines := splitKeepEmpty(string(data))
		start, end := op.StartLine, op.EndLine
		if start < 1 {
			start = 1
		}
		if end == 0 || end > len(lines) {
			end = len(lines)
		}
		var section string
		if start <= end && start <= len(lines) {
			section = strings.Join(lines[start-1:end], "\n")
		}
		return OpResult{Op: op.Op, Path: op.Path, Status: "ok", Message: section}, "", nil, nil

	default:
		return OpResult{}, "", nil, fmt.Errorf("unknown operation %q", op.Op)
	}
}
