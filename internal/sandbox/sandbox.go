// Package sandbox contains the containment rules every file the installer
// writes must pass: resolved destinations must stay inside the project
// root, and a resource may never install to a path reserved for version
// control, no matter what a source's metadata or a manifest [target]
// override says. agpmerr.PathEscapesSandbox and agpmerr.ReservedPathTarget
// carry the same contributor/path detail the installer's other tagged
// errors do, so a caller walking errors.As gets one consistent shape
// whether a write failed on containment or on a plain I/O error.
package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/agpm-dev/agpm/internal/agpmerr"
)

// reservedSegments names the path components no install target may
// fall under, regardless of how deeply a resource's metadata or a
// manifest [target] override tries to nest it.
var reservedSegments = []string{".git"}

// ValidatePath checks if targetPath is safely within projectRoot and
// outside every reserved directory. It resolves symlinks, normalizes
// paths, and verifies containment. Returns the resolved absolute path or
// an error.
func ValidatePath(projectRoot, targetPath string) (string, error) {
	if reserved, ok := firstReservedSegment(targetPath); ok {
		return "", &agpmerr.ReservedPathTarget{Path: targetPath, Reserved: reserved}
	}

	// Resolve the project root to its real path.
	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", &agpmerr.IoFailure{Op: "resolving project root", Path: projectRoot, Err: err}
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", &agpmerr.IoFailure{Op: "resolving project root symlinks", Path: absRoot, Err: err}
	}

	// Build the candidate path.
	candidate := filepath.Join(realRoot, targetPath)
	candidate = filepath.Clean(candidate)

	// Resolve symlinks in the candidate path.
	// The path may not exist yet, so resolve as much as we can.
	resolved, err := resolveExistingPath(candidate)
	if err != nil {
		return "", &agpmerr.IoFailure{Op: "resolving target path", Path: candidate, Err: err}
	}

	// Ensure the resolved path is within the project root.
	// Add trailing separator to avoid prefix matching "projectroot2" for "projectroot".
	rootPrefix := realRoot + string(filepath.Separator)
	if resolved != realRoot && !strings.HasPrefix(resolved, rootPrefix) {
		return "", &agpmerr.PathEscapesSandbox{Path: targetPath, Resolved: resolved, ProjectRoot: realRoot}
	}

	return resolved, nil
}

// firstReservedSegment reports whether any component of targetPath
// matches a reserved directory name.
func firstReservedSegment(targetPath string) (string, bool) {
	cleaned := filepath.ToSlash(filepath.Clean(targetPath))
	for _, part := range strings.Split(cleaned, "/") {
		for _, reserved := range reservedSegments {
			if strings.EqualFold(part, reserved) {
				return reserved, true
			}
		}
	}
	return "", false
}

// resolveExistingPath resolves symlinks for the longest existing prefix of the path,
// then appends the non-existing suffix. This handles paths that don't fully exist yet.
func resolveExistingPath(path string) (string, error) {
	// Try resolving the full path first.
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}

	// Walk up to find the longest existing prefix.
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	if dir == path {
		// We've reached the root without finding anything.
		return path, nil
	}

	resolvedDir, err := resolveExistingPath(dir)
	if err != nil {
		return "", err
	}

	return filepath.Join(resolvedDir, base), nil
}

// SafeWrite atomically writes content to a path within the project root.
// dir is derived from the already-validated resolved path, so creating
// it can't itself reopen an escape: containment and the reserved-path
// check both already ran inside ValidatePath above.
func SafeWrite(projectRoot, relPath string, content []byte, perm os.FileMode) error {
	resolved, err := ValidatePath(projectRoot, relPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &agpmerr.IoFailure{Op: "creating directory", Path: dir, Err: err}
	}

	// Write to temp file in the same directory (ensures same filesystem for rename).
	tmp, err := os.CreateTemp(dir, ".agpm-*.tmp")
	if err != nil {
		return &agpmerr.IoFailure{Op: "creating temp file", Path: dir, Err: err}
	}
	tmpPath := tmp.Name()

	// Clean up temp file on any failure.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return &agpmerr.IoFailure{Op: "writing temp file", Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &agpmerr.IoFailure{Op: "syncing temp file", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &agpmerr.IoFailure{Op: "closing temp file", Path: tmpPath, Err: err}
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		return &agpmerr.IoFailure{Op: "setting permissions on", Path: tmpPath, Err: err}
	}

	// Atomic rename.
	if err := os.Rename(tmpPath, resolved); err != nil {
		return &agpmerr.IoFailure{Op: "renaming temp file to", Path: resolved, Err: err}
	}

	success = true
	return nil
}

// SafeRemove removes a file within the project root sandbox.
func SafeRemove(projectRoot, relPath string) error {
	resolved, err := ValidatePath(projectRoot, relPath)
	if err != nil {
		return err
	}
	return os.Remove(resolved)
}

// SafeMkdirAll creates directories within the sandbox.
func SafeMkdirAll(projectRoot, relPath string, perm os.FileMode) error {
	resolved, err := ValidatePath(projectRoot, relPath)
	if err != nil {
		return err
	}
	return os.MkdirAll(resolved, perm)
}
