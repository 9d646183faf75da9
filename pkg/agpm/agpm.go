// Package agpm is the public Go library API for agpm.
//
// agpm is a Git-based package manager for the files AI coding assistants
// consume (agents, snippets, commands, scripts, hooks, MCP-server
// configs, and skills). This package exposes a Client embedding the
// resolver and installer core in other Go programs.
//
// # Basic usage
//
//	client, err := agpm.New(agpm.Options{ProjectRoot: "/path/to/project"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := client.Install(ctx, agpm.InstallOptions{})
package agpm

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/installer"
	"github.com/agpm-dev/agpm/internal/lockfile"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/resolver"
	"github.com/agpm-dev/agpm/internal/sourceindex"
	"github.com/agpm-dev/agpm/internal/toolbinding"
)

// Type aliases re-export the result types built by the resolver and
// installer so callers never need to import those internal packages
// directly.
type Plan = resolver.Plan
type Artifact = resolver.Artifact
type NodeKey = resolver.NodeKey
type TreeNode = resolver.TreeNode
type InstallResult = installer.Result
type Locked = installer.Locked
type FileAction = installer.FileAction
type ArtifactError = installer.ArtifactError

// Options configures an agpm Client.
type Options struct {
	// ProjectRoot is the directory containing agpm.toml. If empty,
	// defaults to the directory containing ManifestPath.
	ProjectRoot string

	// ManifestPath is the path to agpm.toml. Default: "agpm.toml".
	ManifestPath string

	// PrivateManifestPath is the path to the optional agpm.private.toml
	// overlay. Default: "agpm.private.toml".
	PrivateManifestPath string

	// LockfilePath is the path to agpm.lock. Default: "agpm.lock".
	LockfilePath string

	// CacheDir is the Git cache root. If empty, uses gitcache.DefaultDir().
	CacheDir string

	// Offline disables all network fetches; the Git cache must already
	// hold what resolution needs.
	Offline bool

	// GlobalConfigPath overrides the per-user source config layer. If
	// empty, uses sourceindex.DefaultGlobalConfigPath().
	GlobalConfigPath string
}

// Client is the main entry point for the agpm library. It owns the
// manifest, the Git cache, and the lockfile path for one project.
type Client struct {
	projectRoot  string
	manifestPath string
	privatePath  string
	lockfilePath string
	cache        *gitcache.Cache
	globalConfig string
}

// New creates a Client, initializing (but not yet fetching into) its Git
// cache.
func New(opts Options) (*Client, error) {
	if opts.ManifestPath == "" {
		opts.ManifestPath = "agpm.toml"
	}
	if opts.PrivateManifestPath == "" {
		opts.PrivateManifestPath = "agpm.private.toml"
	}
	if opts.LockfilePath == "" {
		opts.LockfilePath = "agpm.lock"
	}

	root := opts.ProjectRoot
	if root == "" {
		abs, err := filepath.Abs(opts.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("resolving manifest path: %w", err)
		}
		root = filepath.Dir(abs)
	}

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = gitcache.DefaultDir()
	}
	cache, err := gitcache.New(cacheDir, opts.Offline)
	if err != nil {
		return nil, fmt.Errorf("initializing git cache: %w", err)
	}

	globalConfig := opts.GlobalConfigPath
	if globalConfig == "" {
		globalConfig = sourceindex.DefaultGlobalConfigPath()
	}

	return &Client{
		projectRoot:  root,
		manifestPath: opts.ManifestPath,
		privatePath:  opts.PrivateManifestPath,
		lockfilePath: opts.LockfilePath,
		cache:        cache,
		globalConfig: globalConfig,
	}, nil
}

func (c *Client) loadManifests() (*manifest.Manifest, *manifest.Manifest, error) {
	m, err := manifest.Load(c.manifestPath)
	if err != nil {
		return nil, nil, err
	}
	private, err := manifest.LoadOverlay(c.privatePath)
	if err != nil {
		return nil, nil, err
	}
	return m, private, nil
}

// Resolve runs dependency resolution end to end and returns the
// resulting install plan plus the source index it resolved against,
// without installing files or writing the lockfile (the Git cache may
// still be populated).
func (c *Client) Resolve(ctx context.Context) (*Plan, *sourceindex.Index, error) {
	m, _, err := c.loadManifests()
	if err != nil {
		return nil, nil, err
	}

	idx, err := sourceindex.Build(m, c.globalConfig)
	if err != nil {
		return nil, nil, err
	}

	r := &resolver.Resolver{
		Manifest:    m,
		Index:       idx,
		Cache:       c.cache,
		Tools:       toolbinding.NewTable(),
		ProjectRoot: c.projectRoot,
	}
	plan, err := r.Resolve(ctx)
	if err != nil {
		return nil, nil, err
	}
	return plan, idx, nil
}

// InstallOptions configures Install.
type InstallOptions struct {
	// Frozen enforces the lockfile staleness rules: resolution must
	// reproduce the existing lockfile's relevant fields exactly, or the
	// run fails with agpmerr.LockfileStale. The check runs after the
	// artifacts are installed, so on failure the files are already
	// written and only the lockfile is left unchanged.
	Frozen bool
	// DryRun resolves and would-install without writing anything.
	DryRun bool
}

// Install resolves the manifest, installs every resolved artifact, and
// writes the lockfile (unless DryRun). This is the entry point behind
// both the CLI's "install" (Frozen when a lockfile exists) and "update"
// (Frozen: false) subcommands.
func (c *Client) Install(ctx context.Context, opts InstallOptions) (*InstallResult, error) {
	m, private, err := c.loadManifests()
	if err != nil {
		return nil, err
	}
	idx, err := sourceindex.Build(m, c.globalConfig)
	if err != nil {
		return nil, err
	}

	r := &resolver.Resolver{
		Manifest:    m,
		Index:       idx,
		Cache:       c.cache,
		Tools:       toolbinding.NewTable(),
		ProjectRoot: c.projectRoot,
	}
	plan, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	ins := &installer.Installer{
		ProjectRoot: c.projectRoot,
		Cache:       c.cache,
		Manifest:    m,
		Private:     private,
	}

	if opts.DryRun {
		return dryRunResult(plan), nil
	}

	result, locked, err := ins.Install(ctx, plan)
	if err != nil {
		return result, err
	}

	if opts.Frozen {
		existing, lerr := lockfile.Load(c.lockfilePath)
		if lerr != nil {
			return result, lerr
		}
		if ferr := lockfile.CheckFrozen(existing, expectedEntries(locked), sourceURLs(idx)); ferr != nil {
			return result, ferr
		}
	}

	lf := buildLockfile(plan, locked)
	if err := lockfile.Save(c.lockfilePath, lf); err != nil {
		return result, fmt.Errorf("saving lockfile: %w", err)
	}

	if gitignoreEnabled(m) {
		if err := installer.EmitGitignore(c.projectRoot, true, locked); err != nil {
			return result, err
		}
	} else {
		_ = installer.EmitGitignore(c.projectRoot, false, locked)
	}

	return result, nil
}

// Sync re-installs every artifact already pinned in the lockfile without
// re-running resolution: the lockfile is the source of truth and is
// never mutated by this call.
func (c *Client) Sync(ctx context.Context) (*InstallResult, error) {
	m, private, err := c.loadManifests()
	if err != nil {
		return nil, err
	}
	lf, err := lockfile.Load(c.lockfilePath)
	if err != nil {
		return nil, err
	}

	plan, err := planFromLockfile(lf)
	if err != nil {
		return nil, err
	}

	ins := &installer.Installer{
		ProjectRoot: c.projectRoot,
		Cache:       c.cache,
		Manifest:    m,
		Private:     private,
	}
	result, _, err := ins.Install(ctx, plan)
	return result, err
}

func dryRunResult(plan *Plan) *InstallResult {
	result := &InstallResult{}
	for _, layer := range plan.Layers {
		for _, key := range layer {
			a := plan.Graph.Nodes[key]
			result.Written = append(result.Written, FileAction{Path: a.InstalledAt, Action: "would-write"})
		}
	}
	return result
}

func gitignoreEnabled(m *manifest.Manifest) bool {
	v, ok := m.Project["gitignore"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func expectedEntries(locked []Locked) []lockfile.ExpectedEntry {
	out := make([]lockfile.ExpectedEntry, 0, len(locked))
	for _, lk := range locked {
		out = append(out, lockfile.ExpectedEntry{
			Kind:        string(lk.Kind),
			Name:        lk.Name,
			Source:      lk.Source,
			Path:        lk.Path,
			InstalledAt: lk.InstalledAt,
			Checksum:    lk.Checksum,
		})
	}
	return out
}

func sourceURLs(idx *sourceindex.Index) map[string]string {
	out := make(map[string]string)
	for _, name := range idx.Names() {
		src, err := idx.For(name)
		if err != nil || src.IsLocal() {
			continue
		}
		out[name] = src.URL
	}
	return out
}

// buildLockfile assembles the deterministic lockfile document from the
// installer's locked records plus the resolved plan's per-source
// resolved commit per consumed ref.
func buildLockfile(plan *Plan, locked []Locked) *lockfile.Lockfile {
	lf := &lockfile.Lockfile{Version: 1}

	refsBySource := make(map[string]map[string]string)
	urlBySource := make(map[string]string)
	for _, a := range plan.Graph.Nodes {
		if a.SourceURL == "" {
			continue
		}
		urlBySource[a.Source] = a.SourceURL
		refs, ok := refsBySource[a.Source]
		if !ok {
			refs = make(map[string]string)
			refsBySource[a.Source] = refs
		}
		ref := a.VersionSpec
		if ref == "" {
			ref = "latest"
		}
		refs[ref] = a.ResolvedCommit
	}
	for name, url := range urlBySource {
		lf.Sources = append(lf.Sources, lockfile.LockedSource{Name: name, URL: url, ResolvedRefs: refsBySource[name]})
	}

	sections := lf.KindSections()
	for _, lk := range locked {
		section, ok := sections[string(lk.Kind)]
		if !ok {
			continue
		}
		*section = append(*section, lockfile.Entry{
			Name:               lk.Name,
			Source:             lk.Source,
			Path:               lk.Path,
			Version:            lk.Version,
			ResolvedCommit:     lk.ResolvedCommit,
			Checksum:           lk.Checksum,
			InstalledAt:        lk.InstalledAt,
			AppliedPatchFields: lk.AppliedPatchFields,
			Files:              lk.Files,
		})
	}
	return lf
}

// planFromLockfile reconstructs a single-layer install plan directly from
// a saved lockfile's entries, bypassing resolution entirely. It is a
// deliberate simplification of Sync's contract: the lockfile does not
// record dependency edges, only the flattened artifact set, so every
// entry is treated as mutually independent (content templating that
// references another resource's agpm.deps entry from the same run is
// therefore resolved by the installer's "later layer" rule collapsing to
// "same layer, execution order undefined" for a Sync run specifically).
func planFromLockfile(lf *lockfile.Lockfile) (*Plan, error) {
	urlBySource := make(map[string]string)
	for _, src := range lf.Sources {
		urlBySource[src.Name] = src.URL
	}

	graph := resolver.NewGraph()
	var layer []NodeKey
	for kindName, section := range lf.KindSections() {
		kind := toolbinding.ResourceKind(kindName)
		for _, e := range *section {
			key := resolver.NodeKey{Source: e.Source, Kind: kind, RelativePath: e.Path, ResolvedCommit: e.ResolvedCommit}
			a := &Artifact{
				Key:            key,
				Name:           e.Name,
				Kind:           kind,
				Source:         e.Source,
				SourceURL:      urlBySource[e.Source],
				ResolvedCommit: e.ResolvedCommit,
				RelativePath:   e.Path,
				VersionSpec:    e.Version,
				InstalledAt:    e.InstalledAt,
				Checksum:       e.Checksum,
				IsSkill:        len(e.Files) > 0,
				SkillFiles:     e.Files,
			}
			mode, err := modeFromInstalledAt(kind, a.InstalledAt)
			if err != nil {
				return nil, err
			}
			a.Mode = mode
			graph.AddNode(a)
			layer = append(layer, key)
		}
	}
	return &Plan{Graph: graph, Layers: [][]NodeKey{layer}}, nil
}

// modeFromInstalledAt infers a lockfile entry's install mode from its kind
// alone, since Merge-mode entries share a target file rather than a
// unique per-resource path; both modes are distinguishable purely by
// toolbinding.Table's own per-kind defaults.
func modeFromInstalledAt(kind toolbinding.ResourceKind, installedAt string) (toolbinding.InstallMode, error) {
	tools := toolbinding.NewTable()
	_, mode, err := tools.ResolveMode("", kind)
	if err != nil {
		return toolbinding.InstallMode{}, err
	}
	if mode.Kind == toolbinding.ModeMerge {
		mode.TargetFile = installedAt
	}
	return mode, nil
}
