package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/agpm-dev/agpm/pkg/agpm"
)

// newClient builds an agpm.Client from the command's persistent flags.
func newClient() (*agpm.Client, error) {
	return agpm.New(agpm.Options{
		ManifestPath:        manifestPath,
		PrivateManifestPath: privatePath,
		LockfilePath:        lockfilePath,
		CacheDir:            cacheDir,
		Offline:             offline,
	})
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Printf("  "+format+"\n", args...)
	}
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

// reportResult prints the written/skipped/error summary every install-like
// subcommand shares.
func reportResult(result *agpm.InstallResult) {
	if result == nil {
		return
	}
	for _, f := range result.Written {
		info("  %-12s %s", f.Action, f.Path)
	}
	for _, f := range result.Skipped {
		detail("%-12s %s", f.Action, f.Path)
	}
	for _, e := range result.Errors {
		errorf("%s: %s", e.Artifact, e.Err)
	}
	info("")
	info("%d written, %d unchanged, %d error(s).", len(result.Written), len(result.Skipped), len(result.Errors))
}

// exitCodeFor maps a tagged agpmerr kind to a process exit code.
func exitCodeFor(err error) int {
	var manifestInvalid *agpmerr.ManifestInvalid
	var unknownSource *agpmerr.UnknownSource
	var unknownAlias *agpmerr.UnknownPatchAlias
	var patchConflict *agpmerr.PatchFieldConflict
	if errors.As(err, &manifestInvalid) || errors.As(err, &unknownSource) ||
		errors.As(err, &unknownAlias) || errors.As(err, &patchConflict) {
		return 3
	}

	var unsatisfiable *agpmerr.UnsatisfiableConstraint
	var incompatible *agpmerr.IncompatibleVersions
	var cyclic *agpmerr.CyclicDependency
	var duplicateLoc *agpmerr.DuplicateInstallLocation
	var mergeConflict *agpmerr.MergeEntryConflict
	if errors.As(err, &unsatisfiable) || errors.As(err, &incompatible) ||
		errors.As(err, &cyclic) || errors.As(err, &duplicateLoc) || errors.As(err, &mergeConflict) {
		return 4
	}

	var gitFetch *agpmerr.GitFetchFailed
	var gitRef *agpmerr.GitRefNotFound
	var gitWorktree *agpmerr.GitWorktreeFailed
	var offlineErr *agpmerr.Offline
	if errors.As(err, &gitFetch) || errors.As(err, &gitRef) || errors.As(err, &gitWorktree) || errors.As(err, &offlineErr) {
		return 5
	}

	var stale *agpmerr.LockfileStale
	var checksum *agpmerr.ChecksumMismatch
	if errors.As(err, &stale) || errors.As(err, &checksum) {
		return 6
	}

	return 1
}
