// Package version parses and compares the version specifiers a dependency
// may carry — exact tags, caret/tilde/comparator ranges, the latest/*
// literals, branch names, and commit SHAs — and selects the best match
// from a candidate tag set.
package version

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/agpm-dev/agpm/internal/agpmerr"
)

// Kind identifies which syntax a VersionSpec was parsed from.
type Kind int

const (
	KindExact Kind = iota
	KindCaret
	KindTilde
	KindRange
	KindLatest
	KindBranch
	KindSHA
)

var shaPattern = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// Spec is a parsed version specifier. Exactly one of the Kind-specific
// fields is meaningful for a given Kind.
type Spec struct {
	Raw        string
	Kind       Kind
	constraint *semver.Constraints
}

func (s Spec) String() string { return s.Raw }

// Parse parses one of the recognized version specifier syntaxes. It does
// not distinguish "branch" from "unspecified default main" — callers
// that need the default literal pass "main" explicitly.
func Parse(raw string) (Spec, error) {
	trimmed := strings.TrimSpace(raw)
	switch trimmed {
	case "", "latest", "*":
		return Spec{Raw: trimmed, Kind: KindLatest}, nil
	}

	if shaPattern.MatchString(strings.ToLower(trimmed)) {
		return Spec{Raw: trimmed, Kind: KindSHA}, nil
	}

	switch {
	case strings.HasPrefix(trimmed, "^"):
		c, err := semver.NewConstraint(trimmed)
		if err != nil {
			return Spec{}, fmt.Errorf("parsing caret range %q: %w", trimmed, err)
		}
		return Spec{Raw: trimmed, Kind: KindCaret, constraint: c}, nil
	case strings.HasPrefix(trimmed, "~"):
		c, err := semver.NewConstraint(trimmed)
		if err != nil {
			return Spec{}, fmt.Errorf("parsing tilde range %q: %w", trimmed, err)
		}
		return Spec{Raw: trimmed, Kind: KindTilde, constraint: c}, nil
	case strings.ContainsAny(trimmed, "<>=,"):
		c, err := semver.NewConstraint(trimmed)
		if err != nil {
			return Spec{}, fmt.Errorf("parsing comparator range %q: %w", trimmed, err)
		}
		return Spec{Raw: trimmed, Kind: KindRange, constraint: c}, nil
	}

	if _, err := semver.NewVersion(trimmed); err == nil {
		c, cerr := semver.NewConstraint("=" + strings.TrimPrefix(trimmed, "v"))
		if cerr != nil {
			return Spec{}, fmt.Errorf("parsing exact version %q: %w", trimmed, cerr)
		}
		return Spec{Raw: trimmed, Kind: KindExact, constraint: c}, nil
	}

	// Not a SemVer-shaped string: treat as a branch name.
	return Spec{Raw: trimmed, Kind: KindBranch}, nil
}

// IsTagBased reports whether selection for this spec must consult the tag
// set (exact/caret/tilde/range/latest) as opposed to resolving directly
// via the source index (branch/SHA).
func (s Spec) IsTagBased() bool {
	return s.Kind != KindBranch && s.Kind != KindSHA
}

// Select returns the highest tag in candidates satisfying spec, breaking
// ties between equally-satisfying tags in favor of the lexicographically
// greatest original string. latest/* select the highest stable tag,
// falling back to the highest prerelease tag if no stable tag exists.
func Select(spec Spec, candidates []string) (string, error) {
	if !spec.IsTagBased() {
		return "", fmt.Errorf("version.Select called on non-tag-based spec %q", spec.Raw)
	}

	var parsedCandidates []parsedTag
	for _, c := range candidates {
		v, err := semver.NewVersion(c)
		if err != nil {
			continue // not a valid semver tag; ignore
		}
		parsedCandidates = append(parsedCandidates, parsedTag{raw: c, ver: v})
	}

	var matches []parsedTag
	for _, p := range parsedCandidates {
		if spec.Kind == KindLatest {
			matches = append(matches, p)
			continue
		}
		if spec.constraint.Check(p.ver) {
			matches = append(matches, p)
		}
	}

	if spec.Kind == KindLatest {
		stable := filterStable(matches)
		if len(stable) > 0 {
			matches = stable
		}
	}

	if len(matches) == 0 {
		return "", &agpmerr.UnsatisfiableConstraint{Spec: spec.Raw, Candidates: candidates}
	}

	sort.Slice(matches, func(i, j int) bool {
		cmp := matches[i].ver.Compare(matches[j].ver)
		if cmp != 0 {
			return cmp < 0
		}
		return matches[i].raw < matches[j].raw
	})
	best := matches[len(matches)-1]

	// Tie-break among candidates equal to the winning version.
	var tied []string
	for _, m := range matches {
		if m.ver.Equal(best.ver) {
			tied = append(tied, m.raw)
		}
	}
	sort.Strings(tied)
	return tied[len(tied)-1], nil
}

// parsedTag pairs a candidate tag's original string with its parsed
// semver value, preserved for tie-breaking once sorting needs the raw
// form back.
type parsedTag struct {
	raw string
	ver *semver.Version
}

func filterStable(in []parsedTag) []parsedTag {
	var out []parsedTag
	for _, p := range in {
		if p.ver.Prerelease() == "" {
			out = append(out, p)
		}
	}
	return out
}

// Unify combines two constraints over the same artifact: if both are
// ranges, intersect and pick the greatest tag in both; if one is an
// exact SHA and the other a range, the SHA wins only when it resolves to
// a tag within the range's resolved tag set.
//
// candidateCommits maps each candidate tag to the commit it resolves to,
// used only when one side is a SHA.
func Unify(a, b Spec, candidates []string, candidateCommits map[string]string) (string, error) {
	if a.Kind == KindSHA && b.Kind == KindSHA {
		if a.Raw == b.Raw {
			return a.Raw, nil
		}
		return "", fmt.Errorf("incompatible commit pins: %s vs %s", a.Raw, b.Raw)
	}

	if a.Kind == KindBranch && b.Kind == KindBranch {
		if a.Raw == b.Raw {
			return a.Raw, nil
		}
		return "", fmt.Errorf("incompatible branch pins: %s vs %s", a.Raw, b.Raw)
	}

	if a.Kind == KindSHA || b.Kind == KindSHA {
		sha, rng := a, b
		if b.Kind == KindSHA {
			sha, rng = b, a
		}
		if !rng.IsTagBased() {
			return "", fmt.Errorf("incompatible specs: %s vs %s", a.Raw, b.Raw)
		}
		for tag, commit := range candidateCommits {
			if commit == sha.Raw {
				matched, err := Select(rng, []string{tag})
				if err == nil && matched == tag {
					return sha.Raw, nil
				}
			}
		}
		return "", fmt.Errorf("commit %s does not satisfy range %s", sha.Raw, rng.Raw)
	}

	if !a.IsTagBased() || !b.IsTagBased() {
		return "", fmt.Errorf("incompatible specs: %s vs %s", a.Raw, b.Raw)
	}

	combined := combineConstraintString(a, b)
	combinedSpec, err := Parse(combined)
	if err != nil {
		return "", fmt.Errorf("combining %s and %s: %w", a.Raw, b.Raw, err)
	}
	return Select(combinedSpec, candidates)
}

func combineConstraintString(a, b Spec) string {
	if a.Kind == KindLatest {
		return b.Raw
	}
	if b.Kind == KindLatest {
		return a.Raw
	}
	return a.Raw + "," + b.Raw
}

// ConflictDetector accumulates every claim seen for one (kind, path) pair
// so that an IncompatibleVersions error reports every contributing
// requirer rather than just the two that happened to collide first.
type ConflictDetector struct {
	kind, path string
	claims     []agpmerr.RequirerConstraint
}

// NewConflictDetector starts tracking claims for one (kind, path) pair.
func NewConflictDetector(kind, path string) *ConflictDetector {
	return &ConflictDetector{kind: kind, path: path}
}

// Add records one requirer's constraint on the tracked resource.
func (d *ConflictDetector) Add(requiredBy, spec string) {
	d.claims = append(d.claims, agpmerr.RequirerConstraint{RequiredBy: requiredBy, Spec: spec})
}

// Err builds the IncompatibleVersions error carrying every claim
// recorded so far.
func (d *ConflictDetector) Err() *agpmerr.IncompatibleVersions {
	return &agpmerr.IncompatibleVersions{
		Kind:      d.kind,
		Path:      d.path,
		Requirers: append([]agpmerr.RequirerConstraint(nil), d.claims...),
	}
}
