// Package installer executes a resolver.Plan layer-by-layer with a
// bounded worker pool: a scheduler that respects the resolver's
// topological layering, applies the patch engine and opt-in content
// templating per task, and routes Merge-mode artifacts to the
// merge-target writer instead of writing a file directly.
package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/mergewriter"
	"github.com/agpm-dev/agpm/internal/patch"
	"github.com/agpm-dev/agpm/internal/resolver"
	"github.com/agpm-dev/agpm/internal/sandbox"
	"github.com/agpm-dev/agpm/internal/tmpl"
	"github.com/agpm-dev/agpm/internal/toolbinding"
)

// Locked is everything the lockfile codec needs to record about one
// installed artifact, handed back to the caller so this package stays
// independent of internal/lockfile's TOML struct tags.
type Locked struct {
	Kind               toolbinding.ResourceKind
	Name               string
	Source             string
	Path               string
	Version            string
	ResolvedCommit     string
	Checksum           string
	InstalledAt        string
	AppliedPatchFields []string
	Files              []string
}

// Installer executes a resolved Plan against the project tree.
type Installer struct {
	ProjectRoot string
	Cache       *gitcache.Cache
	Manifest    *manifest.Manifest
	Private     *manifest.Manifest // agpm.private.toml overlay, nil if absent

	// MaxConcurrency overrides the global task cap; 0 selects
	// max(10, 2*runtime.NumCPU()).
	MaxConcurrency int

	writer *mergewriter.Writer
}

type depsMap struct {
	mu   sync.Mutex
	data map[string]string
}

func newDepsMap() *depsMap { return &depsMap{data: make(map[string]string)} }

func (d *depsMap) set(name, content string) {
	d.mu.Lock()
	d.data[name] = content
	d.mu.Unlock()
}

func (d *depsMap) snapshot() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.data))
	for k, v := range d.data {
		out[k] = v
	}
	return out
}

type outcome struct {
	artifact *resolver.Artifact
	action   FileAction
	locked   *Locked
	err      error
}

// Install runs plan.Layers in order, fanning each layer out over a bounded
// pool, and returns the run's reporting summary plus the per-artifact
// records the caller folds into the lockfile.
func (ins *Installer) Install(ctx context.Context, plan *resolver.Plan) (*Result, []Locked, error) {
	if plan == nil {
		return nil, nil, fmt.Errorf("installer: nil plan")
	}
	ins.writer = mergewriter.New()
	deps := newDepsMap()
	result := &Result{}
	var locked []Locked

	concurrency := ins.MaxConcurrency
	if concurrency <= 0 {
		concurrency = maxConcurrency()
	}

	for _, layer := range plan.Layers {
		sem := semaphore.NewWeighted(int64(concurrency))
		g, gctx := errgroup.WithContext(ctx)
		results := make([]outcome, len(layer))

		for i, key := range layer {
			i, key := i, key
			a := plan.Graph.Nodes[key]
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					results[i] = outcome{artifact: a, err: err}
					return err
				}
				defer sem.Release(1)
				action, lk, err := ins.runArtifact(gctx, a, deps)
				results[i] = outcome{artifact: a, action: action, locked: lk, err: err}
				return err
			})
		}
		_ = g.Wait()

		sort.Slice(results, func(i, j int) bool {
			ai, aj := results[i].artifact, results[j].artifact
			if ai.Kind != aj.Kind {
				return ai.Kind < aj.Kind
			}
			return ai.Name < aj.Name
		})

		failed := false
		touchedTargets := map[string]bool{}
		for _, o := range results {
			if o.err != nil {
				failed = true
				result.Errors = append(result.Errors, ArtifactError{Artifact: o.artifact.Key.String(), Err: o.err})
				continue
			}
			if o.action.Action == "queued-merge" {
				touchedTargets[o.artifact.InstalledAt] = true
			}
			switch o.action.Action {
			case "unchanged":
				result.Skipped = append(result.Skipped, o.action)
			default:
				result.Written = append(result.Written, o.action)
			}
			if o.locked != nil {
				locked = append(locked, *o.locked)
			}
		}

		if failed {
			return result, locked, fmt.Errorf("installer: layer failed, %d error(s)", len(result.Errors))
		}

		if err := ins.flushMergeTargets(touchedTargets); err != nil {
			return result, locked, err
		}
	}

	return result, locked, nil
}

func maxConcurrency() int {
	n := 2 * runtime.NumCPU()
	if n < 10 {
		n = 10
	}
	return n
}

// runArtifact performs the steps for a single task: acquire the
// worktree, read bytes, apply templating and patches, write (or queue a
// merge), and publish agpm.deps.
func (ins *Installer) runArtifact(ctx context.Context, a *resolver.Artifact, deps *depsMap) (FileAction, *Locked, error) {
	if a.IsSkill {
		return ins.installSkill(ctx, a, deps)
	}

	treeDir, release, err := ins.resolveTreeDir(ctx, a)
	if err != nil {
		return FileAction{}, nil, err
	}
	if release != nil {
		defer release()
	}

	var content []byte
	if a.RelativePath != "" {
		content, err = os.ReadFile(filepath.Join(treeDir, a.RelativePath))
		if err != nil {
			return FileAction{}, nil, &agpmerr.IoFailure{Op: "reading", Path: a.RelativePath, Err: err}
		}
	}

	fields, order, err := ins.combinePatches(a)
	if err != nil {
		return FileAction{}, nil, err
	}
	content, err = applyPatch(content, a.RelativePath, fields, order)
	if err != nil {
		return FileAction{}, nil, err
	}

	if a.ContentTemplating {
		content, err = ins.renderContent(content, a, deps)
		if err != nil {
			return FileAction{}, nil, err
		}
	}

	if a.Mode.Kind == toolbinding.ModeMerge {
		value, err := buildMergeValue(a, content)
		if err != nil {
			return FileAction{}, nil, err
		}
		checksum := canonicalChecksum(value)
		ins.writer.Add(mergewriter.Contribution{
			TargetPath:  a.InstalledAt,
			EntryName:   a.Name,
			EntryField:  mergeEntryField(a.Kind),
			Value:       value,
			Contributor: fmt.Sprintf("%s/%s", a.Kind, a.Name),
		})
		deps.set(a.Name, string(value))
		lk := toLocked(a, checksum, order, nil)
		return FileAction{Path: a.InstalledAt, Action: "queued-merge"}, &lk, nil
	}

	checksum := canonicalChecksum(content)
	action, err := ins.writeFile(a.InstalledAt, content)
	if err != nil {
		return FileAction{}, nil, err
	}
	deps.set(a.Name, string(content))
	lk := toLocked(a, checksum, order, nil)
	return action, &lk, nil
}

func (ins *Installer) installSkill(ctx context.Context, a *resolver.Artifact, deps *depsMap) (FileAction, *Locked, error) {
	treeDir, release, err := ins.resolveTreeDir(ctx, a)
	if err != nil {
		return FileAction{}, nil, err
	}
	if release != nil {
		defer release()
	}

	skillRoot := filepath.Dir(a.RelativePath)
	if skillRoot == "." {
		skillRoot = ""
	}

	fields, order, err := ins.combinePatches(a)
	if err != nil {
		return FileAction{}, nil, err
	}

	var digest []byte
	action := "unchanged"
	for _, rel := range a.SkillFiles {
		content, err := os.ReadFile(filepath.Join(treeDir, skillRoot, rel))
		if err != nil {
			return FileAction{}, nil, &agpmerr.IoFailure{Op: "reading", Path: rel, Err: err}
		}
		if rel == "SKILL.md" {
			content, err = applyPatch(content, rel, fields, order)
			if err != nil {
				return FileAction{}, nil, err
			}
			if a.ContentTemplating {
				content, err = ins.renderContent(content, a, deps)
				if err != nil {
					return FileAction{}, nil, err
				}
				deps.set(a.Name, string(content))
			}
		}
		dest := filepath.ToSlash(filepath.Join(a.InstalledAt, rel))
		fileAction, err := ins.writeFile(dest, content)
		if err != nil {
			return FileAction{}, nil, err
		}
		if fileAction.Action != "unchanged" {
			action = "written"
		}
		digest = append(digest, content...)
		digest = append(digest, []byte(rel)...)
	}

	checksum := canonicalChecksum(digest)
	lk := toLocked(a, checksum, order, a.SkillFiles)
	return FileAction{Path: a.InstalledAt, Action: action}, &lk, nil
}

func (ins *Installer) resolveTreeDir(ctx context.Context, a *resolver.Artifact) (string, func(), error) {
	if a.SourceURL == "" {
		if filepath.IsAbs(a.SourcePath) {
			return a.SourcePath, nil, nil
		}
		return filepath.Join(ins.ProjectRoot, a.SourcePath), nil, nil
	}
	dir, release, err := ins.Cache.Worktree(ctx, a.SourceURL, a.ResolvedCommit)
	if err != nil {
		return "", nil, err
	}
	return dir, release, nil
}

func (ins *Installer) combinePatches(a *resolver.Artifact) (map[string]any, []string, error) {
	project := patchTableFor(ins.Manifest, a.Kind, a.Name)
	private := patchTableFor(ins.Private, a.Kind, a.Name)
	return patch.Combine(string(a.Kind), a.Name, project, private)
}

func patchTableFor(m *manifest.Manifest, kind toolbinding.ResourceKind, name string) patch.Table {
	if m == nil || m.Patch == nil {
		return nil
	}
	byName, ok := m.Patch[string(kind)]
	if !ok {
		return nil
	}
	t, ok := byName[name]
	if !ok {
		return nil
	}
	return patch.Table(t)
}

func applyPatch(content []byte, relPath string, fields map[string]any, order []string) ([]byte, error) {
	if len(order) == 0 {
		return content, nil
	}
	switch filepath.Ext(relPath) {
	case ".md":
		return patch.ApplyToFrontmatter(content, fields, order)
	case ".json":
		return patch.ApplyToJSON(content, fields, order)
	default:
		// No structured document to patch into; the patch table is
		// recorded as applied (it still affects the lockfile) but the
		// bytes pass through unmodified.
		return content, nil
	}
}

func (ins *Installer) renderContent(content []byte, a *resolver.Artifact, deps *depsMap) ([]byte, error) {
	renderer := &tmpl.ContentRenderer{ProjectRoot: ins.ProjectRoot, ReadFile: os.ReadFile}
	vars := tmpl.Vars{
		"agpm.project": projectVars(ins.Manifest),
		"agpm.deps":    deps.snapshot(),
	}
	out, err := renderer.Render(content, vars)
	if err != nil {
		return nil, &agpmerr.TemplateRenderFailed{Path: a.RelativePath, Err: err}
	}
	return out, nil
}

func projectVars(m *manifest.Manifest) map[string]any {
	if m == nil || m.Project == nil {
		return map[string]any{}
	}
	return m.Project
}

// writeFile skips the write entirely when the destination already holds
// identical bytes, still reporting the action so the checksum can be
// recorded.
func (ins *Installer) writeFile(relPath string, content []byte) (FileAction, error) {
	abs := filepath.Join(ins.ProjectRoot, relPath)
	existing, readErr := os.ReadFile(abs)
	if readErr == nil && canonicalChecksum(existing) == canonicalChecksum(content) {
		return FileAction{Path: relPath, Action: "unchanged"}, nil
	}

	if err := sandbox.SafeWrite(ins.ProjectRoot, relPath, content, 0644); err != nil {
		return FileAction{}, err
	}
	action := "written"
	if readErr == nil {
		action = "modified"
	}
	return FileAction{Path: relPath, Action: action}, nil
}

// flushMergeTargets renders and atomically writes every merge target
// touched by the layer that just completed: all queued merges for one
// target execute in one critical section after their producing layer
// completes.
func (ins *Installer) flushMergeTargets(targets map[string]bool) error {
	paths := make([]string, 0, len(targets))
	for t := range targets {
		paths = append(paths, t)
	}
	sort.Strings(paths)

	for _, target := range paths {
		abs := filepath.Join(ins.ProjectRoot, target)
		existing, _ := os.ReadFile(abs)
		merged, err := ins.writer.Render(target, existing)
		if err != nil {
			return err
		}
		if err := sandbox.SafeWrite(ins.ProjectRoot, target, merged, 0644); err != nil {
			return err
		}
	}
	return nil
}

func mergeEntryField(kind toolbinding.ResourceKind) string {
	if kind == toolbinding.KindMCPServer {
		return "mcpServers"
	}
	return "hooks"
}

// buildMergeValue renders one Merge-mode artifact's JSON entry: inline
// command/args for MCP servers declared entirely in the manifest, or the
// resource's own file content when it carries one.
func buildMergeValue(a *resolver.Artifact, content []byte) (json.RawMessage, error) {
	if a.Command != "" {
		obj := map[string]any{"command": a.Command}
		if len(a.Args) > 0 {
			obj["args"] = a.Args
		}
		raw, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("encoding merge entry for '%s': %w", a.Name, err)
		}
		return raw, nil
	}
	if len(content) > 0 {
		if !json.Valid(content) {
			return nil, fmt.Errorf("merge entry '%s' is not valid JSON", a.Name)
		}
		return json.RawMessage(content), nil
	}
	return json.RawMessage("{}"), nil
}

func canonicalChecksum(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

func toLocked(a *resolver.Artifact, checksum string, appliedFields []string, files []string) Locked {
	return Locked{
		Kind:               a.Kind,
		Name:               a.Name,
		Source:             a.Source,
		Path:               a.RelativePath,
		Version:            a.VersionSpec,
		ResolvedCommit:     a.ResolvedCommit,
		Checksum:           checksum,
		InstalledAt:        a.InstalledAt,
		AppliedPatchFields: appliedFields,
		Files:              files,
	}
}
