package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/resolver"
	"github.com/agpm-dev/agpm/internal/toolbinding"
)

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

func singleLayerPlan(a *resolver.Artifact) *resolver.Plan {
	g := resolver.NewGraph()
	g.AddNode(a)
	return &resolver.Plan{Graph: g, Layers: [][]resolver.NodeKey{{a.Key}}}
}

func TestInstallWritesFileArtifact(t *testing.T) {
	projectRoot := t.TempDir()
	writeFile(t, projectRoot, "vendor/reviewer.md", "# reviewer\n")

	a := &resolver.Artifact{
		Key:          resolver.NodeKey{Source: "team", Kind: toolbinding.KindAgent, RelativePath: "reviewer.md"},
		Name:         "reviewer",
		Kind:         toolbinding.KindAgent,
		Source:       "team",
		SourcePath:   "vendor",
		RelativePath: "reviewer.md",
		Mode:         toolbinding.InstallMode{Kind: toolbinding.ModeFile, Subdir: ".claude/agents/"},
		InstalledAt:  ".claude/agents/reviewer.md",
	}

	ins := &Installer{ProjectRoot: projectRoot, Manifest: &manifest.Manifest{}}
	result, locked, err := ins.Install(context.Background(), singleLayerPlan(a))
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(locked) != 1 {
		t.Fatalf("expected 1 locked entry, got %d", len(locked))
	}

	data, err := os.ReadFile(filepath.Join(projectRoot, ".claude/agents/reviewer.md"))
	if err != nil {
		t.Fatalf("expected installed file: %v", err)
	}
	if string(data) != "# reviewer\n" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestInstallIsIdempotentOnUnchangedContent(t *testing.T) {
	projectRoot := t.TempDir()
	writeFile(t, projectRoot, "vendor/reviewer.md", "# reviewer\n")
	writeFile(t, projectRoot, ".claude/agents/reviewer.md", "# reviewer\n")

	a := &resolver.Artifact{
		Key:          resolver.NodeKey{Source: "team", Kind: toolbinding.KindAgent, RelativePath: "reviewer.md"},
		Name:         "reviewer",
		Kind:         toolbinding.KindAgent,
		Source:       "team",
		SourcePath:   "vendor",
		RelativePath: "reviewer.md",
		Mode:         toolbinding.InstallMode{Kind: toolbinding.ModeFile, Subdir: ".claude/agents/"},
		InstalledAt:  ".claude/agents/reviewer.md",
	}

	ins := &Installer{ProjectRoot: projectRoot, Manifest: &manifest.Manifest{}}
	result, _, err := ins.Install(context.Background(), singleLayerPlan(a))
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(result.Skipped) != 1 {
		t.Fatalf("expected the unchanged file to be reported as skipped, got written=%v skipped=%v", result.Written, result.Skipped)
	}
}

func TestInstallMergesMCPServerEntries(t *testing.T) {
	projectRoot := t.TempDir()

	a1 := &resolver.Artifact{
		Key:         resolver.NodeKey{Source: "team", Kind: toolbinding.KindMCPServer, RelativePath: "one"},
		Name:        "one",
		Kind:        toolbinding.KindMCPServer,
		Source:      "team",
		Command:     "node",
		Args:        []string{"one.js"},
		Mode:        toolbinding.InstallMode{Kind: toolbinding.ModeMerge, TargetFile: ".mcp.json"},
		InstalledAt: ".mcp.json",
	}
	a2 := &resolver.Artifact{
		Key:         resolver.NodeKey{Source: "team", Kind: toolbinding.KindMCPServer, RelativePath: "two"},
		Name:        "two",
		Kind:        toolbinding.KindMCPServer,
		Source:      "team",
		Command:     "node",
		Args:        []string{"two.js"},
		Mode:        toolbinding.InstallMode{Kind: toolbinding.ModeMerge, TargetFile: ".mcp.json"},
		InstalledAt: ".mcp.json",
	}

	g := resolver.NewGraph()
	g.AddNode(a1)
	g.AddNode(a2)
	plan := &resolver.Plan{Graph: g, Layers: [][]resolver.NodeKey{{a1.Key, a2.Key}}}

	ins := &Installer{ProjectRoot: projectRoot, Manifest: &manifest.Manifest{}}
	_, locked, err := ins.Install(context.Background(), plan)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(locked) != 2 {
		t.Fatalf("expected 2 locked entries, got %d", len(locked))
	}

	data, err := os.ReadFile(filepath.Join(projectRoot, ".mcp.json"))
	if err != nil {
		t.Fatalf("expected merge target written: %v", err)
	}
	text := string(data)
	if !contains(text, `"one"`) || !contains(text, `"two"`) {
		t.Errorf("expected both entries in merged output, got %s", text)
	}
}

// TestInstallRejectsInstallLocationUnderGit covers an artifact whose
// InstalledAt was pushed under .git, whether by a malicious [target]
// override or a source's own metadata: the write must never reach the
// filesystem, and the failure must surface as the artifact's own error
// rather than aborting the whole layer silently.
func TestInstallRejectsInstallLocationUnderGit(t *testing.T) {
	projectRoot := t.TempDir()
	writeFile(t, projectRoot, "vendor/hook.md", "# hook\n")

	a := &resolver.Artifact{
		Key:          resolver.NodeKey{Source: "team", Kind: toolbinding.KindAgent, RelativePath: "hook.md"},
		Name:         "hook",
		Kind:         toolbinding.KindAgent,
		Source:       "team",
		SourcePath:   "vendor",
		RelativePath: "hook.md",
		Mode:         toolbinding.InstallMode{Kind: toolbinding.ModeFile, Subdir: ".git/hooks/"},
		InstalledAt:  ".git/hooks/hook.md",
	}

	ins := &Installer{ProjectRoot: projectRoot, Manifest: &manifest.Manifest{}}
	result, _, err := ins.Install(context.Background(), singleLayerPlan(a))
	if err == nil {
		t.Fatal("expected Install to report the rejected write")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 artifact error, got %d: %v", len(result.Errors), result.Errors)
	}
	var reserved *agpmerr.ReservedPathTarget
	if !errors.As(result.Errors[0].Err, &reserved) {
		t.Fatalf("expected *agpmerr.ReservedPathTarget, got %T: %v", result.Errors[0].Err, result.Errors[0].Err)
	}
	if _, statErr := os.Stat(filepath.Join(projectRoot, ".git")); !os.IsNotExist(statErr) {
		t.Error(".git should never have been created")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
