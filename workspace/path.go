package workspace

import (
	"path/filepath"
	"strings"

	"ghmcp/errs"
)

// repoDirName turns "owner/repo" into the on-disk segment "owner__repo".
func repoDirName(fullName string) string {
	return strings.ReplaceAll(fullName, "/", "__")
}

// refDirName escapes ref slashes for the on-disk segment.
func refDirName(ref string) string {
	return strings.ReplaceAll(ref, "/", "__")
}

// DirFor returns the workspace directory for (fullName, effectiveRef)
// under root: root/<owner__repo>/<ref_with_slashes_escaped>.
func DirFor(root, fullName, effectiveRef string) string {
	return filepath.Join(root, repoDirName(fullName), refDirName(effectiveRef))
}

// SafeJoin applies these rules:
//   - empty / whitespace / "/" -> repo root.
//   - separators normalized; ":" rejected (Windows drive disambiguation).
//   - absolute paths outside the repo root rejected.
//   - ".." segments are clamped to the repo root rather than erroring,
//     except when the clamped result would still need to escape root.
func SafeJoin(repoDir, rel string) (string, error) {
	trimmed := strings.TrimSpace(rel)
	if trimmed == "" || trimmed == "/" {
		return repoDir, nil
	}
	if strings.ContainsRune(trimmed, ':') {
		return "", &errs.ValidationError{Fields: []errs.FieldError{{Field: "path", Message: "contains ':'"}}}
	}

	normalized := filepath.ToSlash(trimmed)
	if filepath.IsAbs(normalized) {
		// An absolute path is accepted only when it already lies inside the
		// repo root; it is then re-expressed relative to that root.
		cleanAbs := filepath.Clean(normalized)
		cleanRepo := filepath.Clean(repoDir)
		if cleanAbs != cleanRepo && !strings.HasPrefix(cleanAbs, cleanRepo+string(filepath.Separator)) {
			return "", &errs.ValidationError{Fields: []errs.FieldError{{Field: "path", Message: "absolute path outside repository root"}}}
		}
		normalized = filepath.ToSlash(strings.TrimPrefix(cleanAbs, cleanRepo))
	}

	// Clamp by walking segments and never allowing the accumulated depth
	// to go negative relative to repoDir.
	segments := strings.Split(normalized, "/")
	depth := 0
	var kept []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if depth > 0 {
				depth--
				kept = kept[:len(kept)-1]
			}
			// else: clamp (silently drop the escaping "..").
		default:
			depth++
			kept = append(kept, seg)
		}
	}

	joined := filepath.Join(append([]string{repoDir}, kept...)...)
	cleanRoot := filepath.Clean(repoDir)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", &errs.ValidationError{Fields: []errs.FieldError{{Field: "path", Message: "escapes repository root"}}}
	}
	return joined, nil
}
