// Package agpmerr defines the tagged error kinds surfaced by the resolver
// and installer core. Each kind is a concrete type carrying the context a
// user needs to act on it; callers use errors.As to branch on kind rather
// than matching error strings.
package agpmerr

import (
	"fmt"
	"strings"
)

// ManifestInvalid wraps one or more manifest validation failures.
type ManifestInvalid struct {
	Path   string
	Errors []string
}

func (e *ManifestInvalid) Error() string {
	return fmt.Sprintf("manifest %s invalid:\n  - %s", e.Path, strings.Join(e.Errors, "\n  - "))
}

// UnknownSource is returned when a dependency or patch references a source
// name not declared in [sources].
type UnknownSource struct {
	Name string
}

func (e *UnknownSource) Error() string {
	return fmt.Sprintf("unknown source '%s'", e.Name)
}

// UnknownPatchAlias is returned when a [patch.<kind>.<name>] table does not
// correspond to a declared dependency.
type UnknownPatchAlias struct {
	Kind string
	Name string
}

func (e *UnknownPatchAlias) Error() string {
	return fmt.Sprintf("patch target '%s.%s' does not match any declared dependency", e.Kind, e.Name)
}

// PatchFieldConflict is returned when the project and private patch layers
// set the same field for the same (kind, name).
type PatchFieldConflict struct {
	Kind  string
	Name  string
	Field string
}

func (e *PatchFieldConflict) Error() string {
	return fmt.Sprintf("patch field conflict for %s '%s': field '%s' is set by both the project and private overlay", e.Kind, e.Name, e.Field)
}

// InvalidPatchField is returned when a [patch.<kind>.<name>] table key
// contains a character the dot-path field representation can't carry
// without becoming ambiguous with a nesting separator.
type InvalidPatchField struct {
	Kind  string
	Name  string
	Field string
}

func (e *InvalidPatchField) Error() string {
	return fmt.Sprintf("patch field '%s' for %s '%s' contains a '.', '*', or '?' character, which dot-path field names cannot carry", e.Field, e.Kind, e.Name)
}

// GitFetchFailed wraps a failed fetch against a remote.
type GitFetchFailed struct {
	URL string
	Err error
}

func (e *GitFetchFailed) Error() string { return fmt.Sprintf("fetching %s: %s", e.URL, e.Err) }
func (e *GitFetchFailed) Unwrap() error { return e.Err }

// GitRefNotFound is returned when a ref cannot be resolved to a commit.
type GitRefNotFound struct {
	URL string
	Ref string
}

func (e *GitRefNotFound) Error() string {
	return fmt.Sprintf("ref '%s' not found in %s", e.Ref, e.URL)
}

// GitWorktreeFailed wraps a failed worktree creation.
type GitWorktreeFailed struct {
	URL    string
	Commit string
	Err    error
}

func (e *GitWorktreeFailed) Error() string {
	return fmt.Sprintf("creating worktree for %s@%s: %s", e.URL, e.Commit, e.Err)
}
func (e *GitWorktreeFailed) Unwrap() error { return e.Err }

// UnsatisfiableConstraint is returned when no candidate satisfies a
// version spec.
type UnsatisfiableConstraint struct {
	Spec       string
	Candidates []string
}

func (e *UnsatisfiableConstraint) Error() string {
	return fmt.Sprintf("no candidate satisfies '%s' (candidates: %s)", e.Spec, strings.Join(e.Candidates, ", "))
}

// IncompatibleVersions is returned when two constraints on the same
// resource cannot be unified.
type IncompatibleVersions struct {
	Kind        string
	Path        string
	Requirers   []RequirerConstraint
}

// RequirerConstraint records one contributor to a version conflict.
type RequirerConstraint struct {
	RequiredBy string
	Spec       string
}

func (e *IncompatibleVersions) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "incompatible version constraints for %s '%s':\n", e.Kind, e.Path)
	for _, r := range e.Requirers {
		fmt.Fprintf(&b, "  - %s requires %s\n", r.RequiredBy, r.Spec)
	}
	return strings.TrimRight(b.String(), "\n")
}

// CyclicDependency is returned when the resolver detects a cycle.
type CyclicDependency struct {
	Path []string
}

func (e *CyclicDependency) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Path, " -> "))
}

// TemplateRenderFailed wraps a template execution error.
type TemplateRenderFailed struct {
	Path string
	Err  error
}

func (e *TemplateRenderFailed) Error() string {
	return fmt.Sprintf("rendering template in %s: %s", e.Path, e.Err)
}
func (e *TemplateRenderFailed) Unwrap() error { return e.Err }

// UndefinedVariable is returned when a template references an unknown
// variable without a default filter.
type UndefinedVariable struct {
	Name string
}

func (e *UndefinedVariable) Error() string {
	return fmt.Sprintf("undefined template variable '%s'", e.Name)
}

// ContentFilterForbidden is returned when the content filter is asked to
// read outside the project root or a disallowed suffix.
type ContentFilterForbidden struct {
	Path   string
	Reason string
}

func (e *ContentFilterForbidden) Error() string {
	return fmt.Sprintf("content filter forbidden for '%s': %s", e.Path, e.Reason)
}

// ContentFilterTooLarge is returned when the content filter target exceeds
// the size limit.
type ContentFilterTooLarge struct {
	Path string
	Size int64
	Max  int64
}

func (e *ContentFilterTooLarge) Error() string {
	return fmt.Sprintf("content filter target '%s' is %d bytes, exceeds max %d", e.Path, e.Size, e.Max)
}

// DuplicateInstallLocation is returned when two resolved nodes would
// install to the same path.
type DuplicateInstallLocation struct {
	Path string
	A    string
	B    string
}

func (e *DuplicateInstallLocation) Error() string {
	return fmt.Sprintf("duplicate install location '%s': claimed by both '%s' and '%s'", e.Path, e.A, e.B)
}

// MergeEntryConflict is returned when two artifacts contribute the same
// entry name to a merge target.
type MergeEntryConflict struct {
	Target string
	Entry  string
	A      string
	B      string
}

func (e *MergeEntryConflict) Error() string {
	return fmt.Sprintf("merge target '%s': entry '%s' contributed by both '%s' and '%s'", e.Target, e.Entry, e.A, e.B)
}

// ChecksumMismatch is returned when installed content does not hash to
// the value recorded in the lockfile.
type ChecksumMismatch struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch for '%s': expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// LockfileStale is returned in frozen mode when resolution would change
// the lockfile.
type LockfileStale struct {
	Reasons []string
}

func (e *LockfileStale) Error() string {
	return fmt.Sprintf("lockfile is stale:\n  - %s", strings.Join(e.Reasons, "\n  - "))
}

// Offline is returned when a network operation is attempted while offline
// mode is selected.
type Offline struct {
	URL string
}

func (e *Offline) Error() string {
	return fmt.Sprintf("offline mode: cannot reach %s", e.URL)
}

// IoFailure wraps an underlying filesystem error with the operation that
// triggered it.
type IoFailure struct {
	Op   string
	Path string
	Err  error
}

func (e *IoFailure) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Err)
}
func (e *IoFailure) Unwrap() error { return e.Err }

// PathEscapesSandbox is returned when an install target resolves outside
// the project root, whether through ".." segments or a symlink.
type PathEscapesSandbox struct {
	Path        string
	Resolved    string
	ProjectRoot string
}

func (e *PathEscapesSandbox) Error() string {
	return fmt.Sprintf("path '%s' resolves to '%s' which is outside the project root '%s'", e.Path, e.Resolved, e.ProjectRoot)
}

// ReservedPathTarget is returned when a resource's install location falls
// under a path segment reserved for version control (".git").
type ReservedPathTarget struct {
	Path     string
	Reserved string
}

func (e *ReservedPathTarget) Error() string {
	return fmt.Sprintf("install path '%s' falls under the reserved '%s' directory", e.Path, e.Reserved)
}
