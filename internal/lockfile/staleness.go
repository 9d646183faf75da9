package lockfile

import (
	"fmt"
	"sort"

	"github.com/agpm-dev/agpm/internal/agpmerr"
)

// ExpectedEntry is the minimal shape CheckFrozen needs from a freshly
// re-resolved artifact, decoupled from internal/resolver to avoid an
// import cycle.
type ExpectedEntry struct {
	Kind        string
	Name        string
	Source      string
	Path        string
	InstalledAt string
	Checksum    string
	SourceURL   string
}

// CheckFrozen enforces frozen-mode rules:
//  1. every manifest dependency appears in the lockfile with a matching
//     path and applicable selectors (approximated here as: every expected
//     entry has a matching lockfile entry by (kind, source, name, path));
//  2. every lockfile entry's checksum matches the recomputed checksum;
//  3. source URLs match;
//  4. no duplicate installation locations.
//
// Returns *agpmerr.LockfileStale on any violation, nil if the lockfile is
// current.
func CheckFrozen(lf *Lockfile, expected []ExpectedEntry, sourceURLs map[string]string) error {
	var reasons []string

	lockedByKey := make(map[string]Entry)
	for kind, section := range lf.KindSections() {
		for _, e := range *section {
			lockedByKey[kind+"|"+e.Source+"|"+e.Name+"|"+e.Path] = e
		}
	}

	installedAt := make(map[string]string)
	for kind, section := range lf.KindSections() {
		for _, e := range *section {
			if prev, ok := installedAt[e.InstalledAt]; ok && e.InstalledAt != "" {
				reasons = append(reasons, fmt.Sprintf("duplicate install location '%s' (%s vs %s/%s)", e.InstalledAt, prev, kind, e.Name))
			} else if e.InstalledAt != "" {
				installedAt[e.InstalledAt] = kind + "/" + e.Name
			}
		}
	}

	for _, exp := range expected {
		key := exp.Kind + "|" + exp.Source + "|" + exp.Name + "|" + exp.Path
		locked, ok := lockedByKey[key]
		if !ok {
			reasons = append(reasons, fmt.Sprintf("%s '%s' (%s) is not present in the lockfile", exp.Kind, exp.Name, exp.Path))
			continue
		}
		if locked.Checksum != exp.Checksum {
			reasons = append(reasons, fmt.Sprintf("checksum mismatch for %s '%s': locked %s, recomputed %s", exp.Kind, exp.Name, locked.Checksum, exp.Checksum))
		}
	}

	lockedSourceURL := make(map[string]string)
	for _, src := range lf.Sources {
		lockedSourceURL[src.Name] = src.URL
	}
	for name, url := range sourceURLs {
		if locked, ok := lockedSourceURL[name]; ok && locked != url {
			reasons = append(reasons, fmt.Sprintf("source '%s' URL changed: locked %s, manifest %s", name, locked, url))
		}
	}

	if len(reasons) == 0 {
		return nil
	}
	sort.Strings(reasons)
	return &agpmerr.LockfileStale{Reasons: reasons}
}
