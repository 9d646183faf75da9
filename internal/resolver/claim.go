package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/sourceindex"
	"github.com/agpm-dev/agpm/internal/toolbinding"
	"github.com/agpm-dev/agpm/internal/version"
)

// Claim is one request for a (source, kind, path) artifact, either
// declared directly in the manifest or discovered transitively from
// another artifact's metadata.
type Claim struct {
	Source     string
	Kind       toolbinding.ResourceKind
	Path       string // literal relative path, or a glob pattern
	Pattern    bool
	Selector   string // raw version spec string; "" means "latest"
	RequiredBy string // manifest dependency name, or the parent NodeKey.String()
	Tool       string // tool override/inheritance candidate, "" if none
	Target     string
	Filename   string
	Command    string
	Args       []string
	Name       string // manifest-declared name; empty for transitive claims (derived from path)
}

func (c Claim) groupKey() string {
	return c.Source + "|" + string(c.Kind) + "|" + c.Path
}

// group is the unified state for every claim sharing a groupKey.
type group struct {
	source  string
	kind    toolbinding.ResourceKind
	path    string
	pattern bool
	claims  []Claim
	commit  string // resolved commit, "" for local sources
	isLocal bool
}

func groupClaims(claims []Claim) map[string]*group {
	groups := make(map[string]*group)
	for _, c := range claims {
		key := c.groupKey()
		g, ok := groups[key]
		if !ok {
			g = &group{source: c.Source, kind: c.Kind, path: c.Path, pattern: c.Pattern}
			groups[key] = g
		}
		g.claims = append(g.claims, c)
	}
	return groups
}

// pinGroups resolves each group's commit by unifying every claim's
// selector. Local-source groups are marked isLocal and never consult
// Git.
func pinGroups(ctx context.Context, idx *sourceindex.Index, cache *gitcache.Cache, groups map[string]*group) error {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		g := groups[key]
		src, err := idx.For(g.source)
		if err != nil {
			return err
		}
		if src.IsLocal() {
			g.isLocal = true
			continue
		}

		commit, err := pinOne(ctx, cache, src.URL, g.kind, g.path, g.claims)
		if err != nil {
			return err
		}
		g.commit = commit
	}
	return nil
}

// pinOne unifies every claim's selector for one artifact and resolves
// the winning tag or ref to a concrete commit.
func pinOne(ctx context.Context, cache *gitcache.Cache, url string, kind toolbinding.ResourceKind, path string, claims []Claim) (string, error) {
	if err := cache.EnsureBare(ctx, url); err != nil {
		return "", err
	}

	specs := make([]version.Spec, len(claims))
	for i, c := range claims {
		sel := c.Selector
		if sel == "" {
			sel = "latest"
		}
		s, err := version.Parse(sel)
		if err != nil {
			return "", fmt.Errorf("parsing version selector '%s' for %s '%s': %w", sel, kind, path, err)
		}
		specs[i] = s
	}

	needsTags := false
	for _, s := range specs {
		if s.IsTagBased() {
			needsTags = true
			break
		}
	}

	var tags []string
	candidateCommits := map[string]string{}
	if needsTags {
		var err error
		tags, err = cache.ListTags(ctx, url)
		if err != nil {
			return "", err
		}
		for _, tag := range tags {
			commit, cerr := cache.CommitForTag(ctx, url, tag)
			if cerr == nil {
				candidateCommits[tag] = commit
			}
		}
	}

	detector := version.NewConflictDetector(string(kind), path)
	for i, c := range claims {
		detector.Add(c.RequiredBy, specs[i].Raw)
	}

	acc := specs[0]
	for i := 1; i < len(specs); i++ {
		unified, err := version.Unify(acc, specs[i], tags, candidateCommits)
		if err != nil {
			return "", detector.Err()
		}
		next, perr := version.Parse(unified)
		if perr != nil {
			return "", fmt.Errorf("re-parsing unified selector '%s': %w", unified, perr)
		}
		acc = next
	}

	if !acc.IsTagBased() {
		ref := acc.Raw
		return cache.ResolveRef(ctx, url, ref)
	}

	winner, err := version.Select(acc, tags)
	if err != nil {
		var unsat *agpmerr.UnsatisfiableConstraint
		if errors.As(err, &unsat) {
			return "", unsat
		}
		return "", err
	}
	return cache.ResolveRef(ctx, url, winner)
}
