package manifest

import (
	"fmt"
	"path/filepath"
	"strings"
)

// NormalizePath cleans an externally supplied relative file path. Backslashes
// are folded to forward slashes first so Windows-built manifests normalize
// the same way everywhere. Absolute paths, drive-letter prefixes, empty
// segments and "."/".." segments are all rejected.
func NormalizePath(p string) (string, error) {
	raw := strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	if raw == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(raw, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidPath, p)
	}
	if len(raw) >= 2 && raw[1] == ':' {
		return "", fmt.Errorf("%w: drive-letter path %q", ErrInvalidPath, p)
	}
	parts := strings.Split(raw, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return strings.Join(parts, "/"), nil
}

// SafeJoin resolves a normalized relative path under root and verifies the
// result stays inside root. Used on the server before serving stored files
// and on the client before writing reconstructed ones.
func SafeJoin(root, rel string) (string, error) {
	norm, err := NormalizePath(rel)
	if err != nil {
		return "", err
	}
	target := filepath.Join(root, filepath.FromSlash(norm))
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	if absTarget != absRoot && !strings.HasPrefix(absTarget, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes root", ErrInvalidPath, rel)
	}
	return target, nil
}
