package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/agpm-dev/agpm/internal/agpmerr"
)

func TestValidatePathWithinRoot(t *testing.T) {
	root := t.TempDir()

	resolved, err := ValidatePath(root, "subdir/file.txt")
	if err != nil {
		t.Fatalf("ValidatePath: %v", err)
	}

	realRoot, _ := filepath.EvalSymlinks(root)
	expected := filepath.Join(realRoot, "subdir/file.txt")
	if resolved != expected {
		t.Errorf("got %q, want %q", resolved, expected)
	}
}

func TestValidatePathRootItself(t *testing.T) {
	root := t.TempDir()
	resolved, err := ValidatePath(root, ".")
	if err != nil {
		t.Fatalf("ValidatePath for root itself: %v", err)
	}

	realRoot, _ := filepath.EvalSymlinks(root)
	if resolved != realRoot {
		t.Errorf("got %q, want %q", resolved, realRoot)
	}
}

func TestValidatePathRejectsDotDot(t *testing.T) {
	root := t.TempDir()

	_, err := ValidatePath(root, "../escape.txt")
	var escape *agpmerr.PathEscapesSandbox
	if !errors.As(err, &escape) {
		t.Fatalf("expected *agpmerr.PathEscapesSandbox, got %T: %v", err, err)
	}
}

func TestValidatePathRejectsDeeplyNestedDotDot(t *testing.T) {
	root := t.TempDir()

	_, err := ValidatePath(root, "a/b/c/../../../../escape.txt")
	var escape *agpmerr.PathEscapesSandbox
	if !errors.As(err, &escape) {
		t.Fatalf("expected *agpmerr.PathEscapesSandbox, got %T: %v", err, err)
	}
}

func TestValidatePathRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not reliable on Windows")
	}

	root := t.TempDir()
	outsideDir := t.TempDir()

	symlink := filepath.Join(root, "escape-link")
	if err := os.Symlink(outsideDir, symlink); err != nil {
		t.Fatalf("creating symlink: %v", err)
	}

	_, err := ValidatePath(root, "escape-link/file.txt")
	var escape *agpmerr.PathEscapesSandbox
	if !errors.As(err, &escape) {
		t.Fatalf("expected *agpmerr.PathEscapesSandbox, got %T: %v", err, err)
	}
}

func TestValidatePathAllowsInternalSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not reliable on Windows")
	}

	root := t.TempDir()
	realDir := filepath.Join(root, "real")
	if err := os.MkdirAll(realDir, 0755); err != nil {
		t.Fatal(err)
	}
	symlink := filepath.Join(root, "link")
	if err := os.Symlink(realDir, symlink); err != nil {
		t.Fatal(err)
	}

	resolved, err := ValidatePath(root, "link/file.txt")
	if err != nil {
		t.Fatalf("ValidatePath should allow internal symlinks: %v", err)
	}

	realRoot, _ := filepath.EvalSymlinks(root)
	expected := filepath.Join(realRoot, "real", "file.txt")
	if resolved != expected {
		t.Errorf("got %q, want %q", resolved, expected)
	}
}

func TestValidatePathRejectsGitDirectory(t *testing.T) {
	root := t.TempDir()

	_, err := ValidatePath(root, ".git/hooks/pre-commit")
	var reserved *agpmerr.ReservedPathTarget
	if !errors.As(err, &reserved) {
		t.Fatalf("expected *agpmerr.ReservedPathTarget, got %T: %v", err, err)
	}
	if reserved.Reserved != ".git" {
		t.Errorf("Reserved = %q, want \".git\"", reserved.Reserved)
	}
}

func TestValidatePathRejectsGitDirectoryNested(t *testing.T) {
	root := t.TempDir()

	// A source-provided subdir or [target] override could put .git
	// anywhere in the install path, not just at the front.
	_, err := ValidatePath(root, "custom/.git/config")
	var reserved *agpmerr.ReservedPathTarget
	if !errors.As(err, &reserved) {
		t.Fatalf("expected *agpmerr.ReservedPathTarget, got %T: %v", err, err)
	}
}

func TestValidatePathRejectsGitDirectoryCaseInsensitive(t *testing.T) {
	root := t.TempDir()

	_, err := ValidatePath(root, ".GIT/config")
	var reserved *agpmerr.ReservedPathTarget
	if !errors.As(err, &reserved) {
		t.Fatalf("expected *agpmerr.ReservedPathTarget, got %T: %v", err, err)
	}
}

func TestSafeWriteCreatesFile(t *testing.T) {
	root := t.TempDir()
	content := []byte("hello world")

	if err := SafeWrite(root, "subdir/test.txt", content, 0644); err != nil {
		t.Fatalf("SafeWrite: %v", err)
	}

	realRoot, _ := filepath.EvalSymlinks(root)
	written, err := os.ReadFile(filepath.Join(realRoot, "subdir/test.txt"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(written) != "hello world" {
		t.Errorf("content = %q, want %q", string(written), "hello world")
	}
}

func TestSafeWriteOverwritesExisting(t *testing.T) {
	root := t.TempDir()

	if err := SafeWrite(root, "file.txt", []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := SafeWrite(root, "file.txt", []byte("updated"), 0644); err != nil {
		t.Fatal(err)
	}

	realRoot, _ := filepath.EvalSymlinks(root)
	data, _ := os.ReadFile(filepath.Join(realRoot, "file.txt"))
	if string(data) != "updated" {
		t.Errorf("content = %q, want %q", string(data), "updated")
	}
}

func TestSafeWriteRejectsEscape(t *testing.T) {
	root := t.TempDir()
	err := SafeWrite(root, "../escape.txt", []byte("bad"), 0644)
	var escape *agpmerr.PathEscapesSandbox
	if !errors.As(err, &escape) {
		t.Fatalf("expected *agpmerr.PathEscapesSandbox, got %T: %v", err, err)
	}
}

func TestSafeWriteRejectsReservedPath(t *testing.T) {
	root := t.TempDir()
	err := SafeWrite(root, ".git/hooks/pre-commit", []byte("bad"), 0644)
	var reserved *agpmerr.ReservedPathTarget
	if !errors.As(err, &reserved) {
		t.Fatalf("expected *agpmerr.ReservedPathTarget, got %T: %v", err, err)
	}
	if _, statErr := os.Stat(filepath.Join(root, ".git")); !os.IsNotExist(statErr) {
		t.Error(".git should never have been created by a rejected write")
	}
}

func TestSafeWritePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission test not reliable on Windows")
	}

	root := t.TempDir()
	content := []byte("test content")

	if err := SafeWrite(root, "test.txt", content, 0600); err != nil {
		t.Fatalf("SafeWrite: %v", err)
	}

	realRoot, _ := filepath.EvalSymlinks(root)
	info, err := os.Stat(filepath.Join(realRoot, "test.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected permission 0600, got %04o", perm)
	}
}

func TestSafeWriteDeepNested(t *testing.T) {
	root := t.TempDir()
	content := []byte("deep content")

	if err := SafeWrite(root, "a/b/c/d/e/file.txt", content, 0644); err != nil {
		t.Fatalf("SafeWrite deep nested: %v", err)
	}

	realRoot, _ := filepath.EvalSymlinks(root)
	data, err := os.ReadFile(filepath.Join(realRoot, "a/b/c/d/e/file.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "deep content" {
		t.Errorf("content = %q, want %q", string(data), "deep content")
	}
}

func TestSafeRemove(t *testing.T) {
	root := t.TempDir()

	if err := SafeWrite(root, "to-delete.txt", []byte("bye"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := SafeRemove(root, "to-delete.txt"); err != nil {
		t.Fatalf("SafeRemove: %v", err)
	}

	realRoot, _ := filepath.EvalSymlinks(root)
	if _, err := os.Stat(filepath.Join(realRoot, "to-delete.txt")); !os.IsNotExist(err) {
		t.Error("file should be removed")
	}
}

func TestSafeRemoveRejectsEscape(t *testing.T) {
	root := t.TempDir()
	err := SafeRemove(root, "../escape.txt")
	var escape *agpmerr.PathEscapesSandbox
	if !errors.As(err, &escape) {
		t.Fatalf("expected *agpmerr.PathEscapesSandbox, got %T: %v", err, err)
	}
}

func TestSafeRemoveNonexistent(t *testing.T) {
	root := t.TempDir()
	err := SafeRemove(root, "nonexistent.txt")
	if err == nil {
		t.Fatal("expected error removing nonexistent file")
	}
}

func TestSafeMkdirAll(t *testing.T) {
	root := t.TempDir()

	if err := SafeMkdirAll(root, "a/b/c", 0755); err != nil {
		t.Fatalf("SafeMkdirAll: %v", err)
	}

	realRoot, _ := filepath.EvalSymlinks(root)
	info, err := os.Stat(filepath.Join(realRoot, "a/b/c"))
	if err != nil {
		t.Fatalf("directory should exist: %v", err)
	}
	if !info.IsDir() {
		t.Error("should be a directory")
	}
}

func TestSafeMkdirAllExisting(t *testing.T) {
	root := t.TempDir()

	if err := SafeMkdirAll(root, "already/exists", 0755); err != nil {
		t.Fatalf("first SafeMkdirAll: %v", err)
	}
	if err := SafeMkdirAll(root, "already/exists", 0755); err != nil {
		t.Fatalf("second SafeMkdirAll: %v", err)
	}
}

func TestSafeMkdirAllRejectsEscape(t *testing.T) {
	root := t.TempDir()
	err := SafeMkdirAll(root, "../escape", 0755)
	var escape *agpmerr.PathEscapesSandbox
	if !errors.As(err, &escape) {
		t.Fatalf("expected *agpmerr.PathEscapesSandbox, got %T: %v", err, err)
	}
}

func TestResolveExistingPathFullyExists(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(filePath, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	resolved, err := resolveExistingPath(filePath)
	if err != nil {
		t.Fatalf("resolveExistingPath: %v", err)
	}

	realDir, _ := filepath.EvalSymlinks(dir)
	expected := filepath.Join(realDir, "existing.txt")
	if resolved != expected {
		t.Errorf("got %q, want %q", resolved, expected)
	}
}

func TestResolveExistingPathDeeplyNonexistent(t *testing.T) {
	dir := t.TempDir()
	deep := filepath.Join(dir, "a", "b", "c", "file.txt")

	resolved, err := resolveExistingPath(deep)
	if err != nil {
		t.Fatalf("resolveExistingPath: %v", err)
	}

	realDir, _ := filepath.EvalSymlinks(dir)
	expected := filepath.Join(realDir, "a", "b", "c", "file.txt")
	if resolved != expected {
		t.Errorf("got %q, want %q", resolved, expected)
	}
}
