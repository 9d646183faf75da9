package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/sourceindex"
	"github.com/agpm-dev/agpm/internal/toolbinding"
)

// writeFile is a small helper for laying out a local source tree in a test.
func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestResolver(t *testing.T, m *manifest.Manifest) *Resolver {
	t.Helper()
	idx, err := sourceindex.Build(m, "")
	if err != nil {
		t.Fatalf("sourceindex.Build: %v", err)
	}
	cache, err := gitcache.New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("gitcache.New: %v", err)
	}
	return &Resolver{
		Manifest:    m,
		Index:       idx,
		Cache:       cache,
		Tools:       toolbinding.NewTable(),
		ProjectRoot: t.TempDir(),
	}
}

func TestResolveSingleLocalAgent(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "reviewer.md", "# reviewer\n")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"team": {Path: src}},
		Agents: manifest.DependencyTable{
			Order: []string{"reviewer"},
			Deps: map[string]manifest.Dependency{
				"reviewer": {Source: "team", Path: "reviewer.md"},
			},
		},
	}

	r := newTestResolver(t, m)
	plan, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(plan.Graph.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(plan.Graph.Nodes))
	}
	if len(plan.Layers) != 1 || len(plan.Layers[0]) != 1 {
		t.Fatalf("expected a single layer with one node, got %v", plan.Layers)
	}
	var a *Artifact
	for _, n := range plan.Graph.Nodes {
		a = n
	}
	if a.InstalledAt != ".claude/agents/reviewer.md" {
		t.Errorf("unexpected InstalledAt: %q", a.InstalledAt)
	}
}

func TestResolveTransitiveDependencyProducesTwoLayers(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "reviewer.md", "---\ndependencies:\n  snippet:\n    - path: util.md\n---\n# reviewer\n")
	writeFile(t, src, "util.md", "# util\n")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"team": {Path: src}},
		Agents: manifest.DependencyTable{
			Order: []string{"reviewer"},
			Deps:  map[string]manifest.Dependency{"reviewer": {Source: "team", Path: "reviewer.md"}},
		},
	}

	r := newTestResolver(t, m)
	plan, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(plan.Graph.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(plan.Graph.Nodes))
	}
	if len(plan.Layers) != 2 {
		t.Fatalf("expected 2 layers (snippet before reviewer), got %d: %v", len(plan.Layers), plan.Layers)
	}
	if plan.Layers[0][0].Kind != toolbinding.KindSnippet {
		t.Errorf("expected the snippet in the first layer, got %v", plan.Layers[0])
	}
}

func TestResolveDuplicateInstallLocationErrors(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.md", "# a\n")
	writeFile(t, src, "sub/a.md", "# also a\n")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"team": {Path: src}},
		Agents: manifest.DependencyTable{
			Order: []string{"one", "two"},
			Deps: map[string]manifest.Dependency{
				"one": {Source: "team", Path: "a.md"},
				"two": {Source: "team", Path: "sub/a.md", Filename: "a.md"},
			},
		},
	}

	r := newTestResolver(t, m)
	_, err := r.Resolve(context.Background())
	var dup *agpmerr.DuplicateInstallLocation
	if err == nil {
		t.Fatal("expected a duplicate install location error")
	}
	if !castDuplicate(err, &dup) {
		t.Fatalf("expected *agpmerr.DuplicateInstallLocation, got %T: %v", err, err)
	}
}

func castDuplicate(err error, target **agpmerr.DuplicateInstallLocation) bool {
	e, ok := err.(*agpmerr.DuplicateInstallLocation)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestResolveCyclicDependencyErrors(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.md", "---\ndependencies:\n  agent:\n    - path: b.md\n---\n# a\n")
	writeFile(t, src, "b.md", "---\ndependencies:\n  agent:\n    - path: c.md\n---\n# b\n")
	writeFile(t, src, "c.md", "---\ndependencies:\n  agent:\n    - path: a.md\n---\n# c\n")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"team": {Path: src}},
		Agents: manifest.DependencyTable{
			Order: []string{"a"},
			Deps:  map[string]manifest.Dependency{"a": {Source: "team", Path: "a.md"}},
		},
	}

	r := newTestResolver(t, m)
	_, err := r.Resolve(context.Background())
	var cyclic *agpmerr.CyclicDependency
	if err == nil {
		t.Fatal("expected a cyclic dependency error")
	}
	if !castCyclic(err, &cyclic) {
		t.Fatalf("expected *agpmerr.CyclicDependency, got %T: %v", err, err)
	}
}

func castCyclic(err error, target **agpmerr.CyclicDependency) bool {
	e, ok := err.(*agpmerr.CyclicDependency)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestResolveTargetOverrideWinsOverToolBinding(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "reviewer.md", "# reviewer\n")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"team": {Path: src}},
		Target:  &manifest.TargetLayer{Subdirs: map[string]string{"agent": "custom/agents"}},
		Agents: manifest.DependencyTable{
			Order: []string{"reviewer"},
			Deps:  map[string]manifest.Dependency{"reviewer": {Source: "team", Path: "reviewer.md"}},
		},
	}

	r := newTestResolver(t, m)
	plan, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var a *Artifact
	for _, n := range plan.Graph.Nodes {
		a = n
	}
	if a.InstalledAt != "custom/agents/reviewer.md" {
		t.Errorf("expected the [target] layer subdir to win, got %q", a.InstalledAt)
	}
}
