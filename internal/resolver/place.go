package resolver

import (
	"path/filepath"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/agpm-dev/agpm/internal/toolbinding"
)

// place assigns every node in graph its install location: resolve the
// installing tool (inheritance per toolbinding.ResolveMode), then layer
// in a subdir override in order — kind default -> tool binding ->
// [target] layer -> per-dependency override, each layer only replacing
// what the previous one set — before computing InstalledAt and checking
// for collisions across File-mode artifacts.
func (r *Resolver) place(graph *Graph) error {
	claimed := make(map[string]string, len(graph.Nodes)) // installed path -> artifact identity

	for _, key := range sortedKeys(graph.Nodes) {
		a := graph.Nodes[key]

		tool, mode, err := r.Tools.ResolveMode(a.Tool, a.Kind)
		if err != nil {
			return err
		}
		a.Tool = tool
		a.Mode = mode

		if mode.Kind == toolbinding.ModeMerge {
			a.InstalledAt = mode.TargetFile
			continue
		}

		subdir := mode.Subdir
		if layer := r.targetLayerSubdir(a.Kind); layer != "" {
			subdir = layer
		}
		if a.TargetOverride != "" {
			subdir = a.TargetOverride
		}

		name := a.FilenameOverride
		if name == "" {
			name = filepath.Base(a.RelativePath)
		}
		if a.IsSkill {
			// A skill installs as a directory, not a single file; its
			// members are written relative to that directory by the
			// installer, so InstalledAt names the directory itself.
			name = a.Name
		}

		installedAt := filepath.ToSlash(filepath.Join(subdir, name))
		a.InstalledAt = installedAt

		if prev, exists := claimed[installedAt]; exists {
			return &agpmerr.DuplicateInstallLocation{Path: installedAt, A: prev, B: a.Key.String()}
		}
		claimed[installedAt] = a.Key.String()
	}
	return nil
}

// targetLayerSubdir returns the manifest's [target] subdir override for
// kind, or "" if none is configured.
func (r *Resolver) targetLayerSubdir(kind toolbinding.ResourceKind) string {
	if r.Manifest == nil || r.Manifest.Target == nil {
		return ""
	}
	return r.Manifest.Target.Subdirs[string(kind)]
}
