package resolver

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/metadata"
	"github.com/agpm-dev/agpm/internal/sourceindex"
	"github.com/agpm-dev/agpm/internal/tmpl"
	"github.com/agpm-dev/agpm/internal/toolbinding"
)

// maxFixedPointIterations bounds the dependency-discovery refinement
// loop. Termination is guaranteed by a pigeonhole argument (commit
// assignments are drawn from a finite tag set per artifact); this is a
// defensive backstop, not the actual termination proof.
const maxFixedPointIterations = 50

// Resolver ties together the source index, Git cache, tool bindings, and
// template engine to run dependency resolution end to end.
type Resolver struct {
	Manifest *manifest.Manifest
	Index    *sourceindex.Index
	Cache    *gitcache.Cache
	Tools    *toolbinding.Table

	// ProjectRoot is the base directory for local sources whose path is
	// relative.
	ProjectRoot string
}

// Plan is the resolver's final output: the dependency graph plus the
// topologically-sorted installation schedule the installer drives.
type Plan struct {
	Graph  *Graph
	Layers [][]NodeKey
}

// Resolve seeds claims from the manifest, discovers transitive
// dependencies to a fixed point, detects cycles, computes a
// topologically layered install schedule, and assigns install locations.
func (r *Resolver) Resolve(ctx context.Context) (*Plan, error) {
	r.applyManifestToolConfig()

	claims, err := r.seed()
	if err != nil {
		return nil, err
	}

	var graph *Graph
	var prevCommits map[string]string
	for iter := 0; iter < maxFixedPointIterations; iter++ {
		groups := groupClaims(claims)
		if err := pinGroups(ctx, r.Index, r.Cache, groups); err != nil {
			return nil, err
		}

		commits := make(map[string]string, len(groups))
		for key, g := range groups {
			commits[key] = g.commit
		}

		g, newClaims, err := r.buildPass(ctx, groups)
		if err != nil {
			return nil, err
		}
		graph = g

		merged, grew := mergeClaims(claims, newClaims)
		if !grew && sameCommits(prevCommits, commits) {
			break
		}
		claims = merged
		prevCommits = commits
	}

	if cyc := graph.DetectCycle(); cyc != nil {
		return nil, cycleErr(cyc)
	}

	layers, err := graph.TopoLayers()
	if err != nil {
		return nil, err
	}

	if err := r.place(graph); err != nil {
		return nil, err
	}

	return &Plan{Graph: graph, Layers: layers}, nil
}

// applyManifestToolConfig layers the manifest's [default-tools] and
// [tools.<name>] tables over the built-in toolbinding.Table, the same
// "tools are data" extension point the table ships with.
func (r *Resolver) applyManifestToolConfig() {
	for kindName, toolName := range r.Manifest.DefaultTools {
		r.Tools.SetDefaultTool(toolbinding.ResourceKind(kindName), toolName)
	}

	names := make([]string, 0, len(r.Manifest.Tools))
	for name := range r.Manifest.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := r.Manifest.Tools[name]
		perKind := make(map[toolbinding.ResourceKind]toolbinding.InstallMode, len(def.Resources))
		for kindName, rule := range def.Resources {
			if rule.MergeTarget != "" {
				perKind[toolbinding.ResourceKind(kindName)] = toolbinding.InstallMode{
					Kind:       toolbinding.ModeMerge,
					TargetFile: rule.MergeTarget,
				}
				continue
			}
			perKind[toolbinding.ResourceKind(kindName)] = toolbinding.InstallMode{
				Kind:   toolbinding.ModeFile,
				Subdir: rule.Path,
			}
		}
		r.Tools.Register(toolbinding.Binding{ToolName: name, BaseDir: def.Path, PerKind: perKind})
	}
}

// seed turns every manifest dependency into one claim; pattern
// expansion is deferred to buildPass.
func (r *Resolver) seed() ([]Claim, error) {
	var claims []Claim
	for kindName, table := range r.Manifest.KindTables() {
		names := append([]string(nil), table.Order...)
		sort.Strings(names)
		for _, name := range names {
			dep := table.Deps[name]
			source := dep.Source
			depPath := dep.Path
			if source == "" {
				source = localLiteralSourceName(name)
				if _, err := r.Index.For(source); err != nil {
					r.Index.RegisterLocalLiteral(source, ".")
				}
				depPath = cleanRelPath(depPath)
			}
			selector, err := dep.EffectiveSelector()
			if err != nil {
				return nil, err
			}
			claims = append(claims, Claim{
				Source:     source,
				Kind:       toolbinding.ResourceKind(kindName),
				Path:       depPath,
				Pattern:    dep.IsPattern(),
				Selector:   selector,
				RequiredBy: fmt.Sprintf("manifest:%s.%s", kindName, name),
				Tool:       dep.Tool,
				Target:     dep.Target,
				Filename:   dep.Filename,
				Command:    dep.Command,
				Args:       dep.Args,
				Name:       name,
			})
		}
	}
	return claims, nil
}

// localLiteralSourceName synthesizes a private source-index entry name
// for a manifest dependency written as a bare local-path string (no
// declared [sources] entry at all), one per dependency name so two such
// dependencies never collide.
func localLiteralSourceName(depName string) string {
	return "local-literal:" + depName
}

// cleanRelPath strips a leading "./" and normalizes separators so the
// result is a valid io/fs path (fs.FS forbids a "." or ".." path
// element and a leading "/").
func cleanRelPath(p string) string {
	p = filepath.ToSlash(p)
	p = filepath.Clean(p) // collapses "./x" to "x"
	return filepath.ToSlash(p)
}

// buildPass implements Phases R3 (expansion) and R4 (transitive
// discovery) for the current group set, returning the graph built so far
// plus every newly discovered claim for the next fixed-point iteration.
func (r *Resolver) buildPass(ctx context.Context, groups map[string]*group) (*Graph, []Claim, error) {
	graph := NewGraph()
	var discovered []Claim

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		g := groups[key]
		src, err := r.Index.For(g.source)
		if err != nil {
			return nil, nil, err
		}

		var treeDir string
		var release func()
		if g.isLocal {
			treeDir = src.Path
			if !filepath.IsAbs(treeDir) {
				treeDir = filepath.Join(r.ProjectRoot, src.Path)
			}
		} else {
			treeDir, release, err = r.Cache.Worktree(ctx, src.URL, g.commit)
			if err != nil {
				return nil, nil, err
			}
		}

		if g.pattern {
			matches, err := expandPattern(treeDir, g.kind, g.path)
			if release != nil {
				release()
			}
			if err != nil {
				return nil, nil, fmt.Errorf("expanding pattern '%s': %w", g.path, err)
			}
			for _, m := range matches {
				sel := g.commit
				if g.isLocal {
					sel = "" // local sources carry no commit selector
				}
				discovered = append(discovered, Claim{
					Source:     g.source,
					Kind:       g.kind,
					Path:       m,
					Selector:   sel,
					RequiredBy: requiredByOf(g.claims),
					Tool:       toolOf(g.claims),
					Target:     targetOf(g.claims),
				})
			}
			continue
		}

		artifact, childClaims, err := r.buildNode(treeDir, src, g)
		if release != nil {
			release()
		}
		if err != nil {
			return nil, nil, err
		}
		graph.AddNode(artifact)
		for _, cc := range childClaims {
			discovered = append(discovered, cc)
		}
	}

	// Second pass: now that every literal-group node exists, wire edges
	// from each node to the NodeKey its declared children resolved to
	// in this same pass is not yet knowable (children may not have a
	// node yet); edges are instead recorded by buildNode's childClaims
	// using the eventual groupKey, and materialized once all nodes from
	// every iteration are known. Since buildPass is called once per
	// fixed-point iteration and always rebuilds the full node set, the
	// final iteration's graph already has every node; we attach edges
	// for parent/child pairs that are both present in THIS graph.
	nodeByGroupKey := make(map[string]NodeKey, len(graph.Nodes))
	for key, a := range graph.Nodes {
		nodeByGroupKey[a.Source+"|"+string(a.Kind)+"|"+a.RelativePath] = key
	}
	for _, a := range graph.Nodes {
		for _, childKey := range a.pendingChildren {
			if to, ok := nodeByGroupKey[childKey]; ok {
				_ = graph.AddEdge(a.Key, to)
			}
		}
	}

	return graph, discovered, nil
}

// buildNode reads one literal (non-pattern) artifact's content, computes
// its NodeKey, and extracts its declared transitive dependencies,
// template-expanding each child path before it becomes a Claim for the
// next fixed-point iteration.
func (r *Resolver) buildNode(treeDir string, src sourceindex.ResolvedSource, g *group) (*Artifact, []Claim, error) {
	key := NodeKey{Source: g.source, Kind: g.kind, RelativePath: g.path, ResolvedCommit: g.commit}

	var claim Claim
	for _, c := range g.claims {
		if c.Name != "" {
			claim = c
			break
		}
	}
	if claim.Name == "" && len(g.claims) > 0 {
		claim = g.claims[0]
	}

	a := &Artifact{
		Key:            key,
		Name:           artifactName(claim, g.path),
		Kind:           g.kind,
		Source:         g.source,
		SourceURL:      src.URL,
		SourcePath:     src.Path,
		ResolvedCommit: g.commit,
		RelativePath:   g.path,
		VersionSpec:    requiredSelectorOf(g.claims),
		Command:        claim.Command,
		Args:           claim.Args,
		Tool:           toolOf(g.claims),
		TargetOverride: targetOf(g.claims),
		FilenameOverride: filenameOf(g.claims),
	}

	fsys := os.DirFS(treeDir)

	if g.kind == toolbinding.KindSkill {
		skillDir := filepath.Dir(g.path)
		if skillDir == "." {
			skillDir = ""
		}
		res, err := metadata.ExtractSkillDir(fsys, skillDir)
		if err != nil {
			return nil, nil, &agpmerr.IoFailure{Op: "reading skill directory", Path: g.path, Err: err}
		}
		a.IsSkill = true
		a.SkillFiles = res.Files
		a.ContentTemplating = res.ContentTemplating
		children, err := r.expandChildren(a, res.ExtractResult)
		if err != nil {
			return nil, nil, err
		}
		a.pendingChildren = childGroupKeys(a, res.ExtractResult)
		return a, children, nil
	}

	content, err := fs.ReadFile(fsys, g.path)
	if err != nil {
		return nil, nil, &agpmerr.IoFailure{Op: "reading", Path: g.path, Err: err}
	}

	var ext metadata.ExtractResult
	switch filepath.Ext(g.path) {
	case ".md":
		ext = metadata.ExtractMarkdown(content)
	case ".json":
		ext = metadata.ExtractJSON(content)
	}
	a.ContentTemplating = ext.ContentTemplating
	children, err := r.expandChildren(a, ext)
	if err != nil {
		return nil, nil, err
	}
	a.pendingChildren = childGroupKeys(a, ext)
	return a, children, nil
}

// expandChildren applies path templating and version/tool inheritance
// for one artifact's declared dependencies.
func (r *Resolver) expandChildren(parent *Artifact, ext metadata.ExtractResult) ([]Claim, error) {
	var out []Claim
	vars := tmpl.Vars{"agpm.project": anyMap(r.Manifest.Project)}
	for _, dep := range ext.Dependencies {
		depPath := dep.Path
		if !ext.PathTemplatingOff {
			rendered, err := tmpl.RenderPath(dep.Path, vars)
			if err != nil {
				return nil, err
			}
			depPath = rendered
		}
		selector := dep.Version
		if selector == "" {
			selector = parent.VersionSpec // inherit parent's unparsed spec
		}
		tool := dep.Tool
		if tool == "" {
			tool = parent.Tool
		}
		out = append(out, Claim{
			Source:     parent.Source,
			Kind:       toolbinding.ResourceKind(dep.Kind),
			Path:       depPath,
			Selector:   selector,
			RequiredBy: parent.Key.String(),
			Tool:       tool,
		})
	}
	return out, nil
}

func childGroupKeys(parent *Artifact, ext metadata.ExtractResult) []string {
	var out []string
	for _, dep := range ext.Dependencies {
		out = append(out, parent.Source+"|"+dep.Kind+"|"+dep.Path)
	}
	return out
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func artifactName(c Claim, path string) string {
	if c.Name != "" {
		return c.Name
	}
	return filepath.Base(path)
}

func requiredByOf(claims []Claim) string {
	if len(claims) == 0 {
		return ""
	}
	return claims[0].RequiredBy
}

func toolOf(claims []Claim) string {
	for _, c := range claims {
		if c.Tool != "" {
			return c.Tool
		}
	}
	return ""
}

func targetOf(claims []Claim) string {
	for _, c := range claims {
		if c.Target != "" {
			return c.Target
		}
	}
	return ""
}

func filenameOf(claims []Claim) string {
	for _, c := range claims {
		if c.Filename != "" {
			return c.Filename
		}
	}
	return ""
}

func requiredSelectorOf(claims []Claim) string {
	if len(claims) == 0 {
		return ""
	}
	return claims[0].Selector
}

// mergeClaims appends newClaims not already present (by value) in
// existing, returning the merged slice and whether it actually grew.
func mergeClaims(existing, newClaims []Claim) ([]Claim, bool) {
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[claimIdentity(c)] = true
	}
	merged := append([]Claim(nil), existing...)
	grew := false
	for _, c := range newClaims {
		id := claimIdentity(c)
		if seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, c)
		grew = true
	}
	return merged, grew
}

func claimIdentity(c Claim) string {
	return c.groupKey() + "|" + c.Selector + "|" + c.RequiredBy
}

func sameCommits(a, b map[string]string) bool {
	if a == nil {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
