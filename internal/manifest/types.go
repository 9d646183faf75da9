// Package manifest is the in-memory representation of the declarative
// agpm.toml input plus the agpm.private.toml overlay.
package manifest

import (
	"fmt"
	"sort"
	"strings"
)

// Source is a declared Git or filesystem origin.
type Source struct {
	URL  string `toml:"url,omitempty"`
	Path string `toml:"path,omitempty"`
}

// IsLocal reports whether this source is a filesystem directory rather
// than a remote Git URL.
func (s Source) IsLocal() bool { return s.Path != "" }

// ResourceRule is one entry of a [tools.<name>].resources table: either a
// File install mode (Subdir) or a Merge install mode (MergeTarget).
type ResourceRule struct {
	Path        string `toml:"path,omitempty"`
	MergeTarget string `toml:"merge-target,omitempty"`
}

// ToolDef is a [tools.<name>] table: base path plus per-kind resource
// rules.
type ToolDef struct {
	Path      string                  `toml:"path"`
	Resources map[string]ResourceRule `toml:"resources,omitempty"`
}

// TargetLayer is the project-level [target] section: per-kind subdir
// defaults applied after tool resolution and before per-dependency
// target overrides.
type TargetLayer struct {
	Subdirs map[string]string `toml:"subdirs,omitempty"`
}

// Dependency is a single manifest entry under [agents], [snippets], etc.
// It may be written in TOML either as a bare string (a local path) or as
// an inline table — see UnmarshalTOML below.
type Dependency struct {
	Name             string
	Source           string `toml:"source,omitempty"`
	Path             string `toml:"path,omitempty"`
	Version          string `toml:"version,omitempty"`
	Branch           string `toml:"branch,omitempty"`
	Rev              string `toml:"rev,omitempty"`
	Tool             string `toml:"tool,omitempty"`
	Target           string `toml:"target,omitempty"`
	Filename         string `toml:"filename,omitempty"`
	Command          string `toml:"command,omitempty"`
	Args             []string `toml:"args,omitempty"`
	localPathLiteral bool
}

// IsPattern reports whether Path contains glob metacharacters (*, ?, [,
// or **).
func (d Dependency) IsPattern() bool {
	return strings.ContainsAny(d.Path, "*?[")
}

// EffectiveSelector returns the single version selector that applies,
// enforcing precedence: commit SHA > branch > range/tag. Returns an
// error if more than one selector kind is set (a manifest authoring
// mistake, not a version conflict).
func (d Dependency) EffectiveSelector() (string, error) {
	set := 0
	var sel string
	if d.Rev != "" {
		set++
		sel = d.Rev
	}
	if d.Branch != "" {
		set++
		if sel == "" {
			sel = d.Branch
		}
	}
	if d.Version != "" {
		set++
		if sel == "" {
			sel = d.Version
		}
	}
	if set > 1 {
		return "", fmt.Errorf("dependency '%s': only one of 'rev', 'branch' or 'version' may be set", d.Name)
	}
	if sel == "" {
		return "latest", nil
	}
	return sel, nil
}

// UnmarshalTOML decodes one raw dependency entry, called by
// DependencyTable.UnmarshalTOML, so a dependency entry can be written as
// either a bare string (local path shorthand) or an inline table.
func (d *Dependency) UnmarshalTOML(value any) error {
	switch v := value.(type) {
	case string:
		d.Path = v
		d.localPathLiteral = true
		return nil
	case map[string]any:
		return decodeDependencyTable(d, v)
	default:
		return fmt.Errorf("dependency entry must be a string or table, got %T", value)
	}
}

func decodeDependencyTable(d *Dependency, m map[string]any) error {
	str := func(key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	d.Source = str("source")
	d.Path = str("path")
	d.Version = str("version")
	d.Branch = str("branch")
	d.Rev = str("rev")
	d.Tool = str("tool")
	d.Target = str("target")
	d.Filename = str("filename")
	d.Command = str("command")
	if args, ok := m["args"].([]any); ok {
		for _, a := range args {
			if s, ok := a.(string); ok {
				d.Args = append(d.Args, s)
			}
		}
	}
	return nil
}

// DependencyTable is a named set of dependencies for one ResourceKind.
// Order lists the names sorted, for deterministic iteration; declaration
// order is not preserved.
type DependencyTable struct {
	Order []string
	Deps  map[string]Dependency
}

// UnmarshalTOML decodes a raw [agents]-style table (as produced by
// decoding the document into a map); Load and LoadOverlay call it for
// each kind's table.
func (t *DependencyTable) UnmarshalTOML(value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("dependency table must be a table, got %T", value)
	}
	t.Deps = make(map[string]Dependency, len(m))
	t.Order = make([]string, 0, len(m))
	for name, raw := range m {
		var dep Dependency
		if err := dep.UnmarshalTOML(raw); err != nil {
			return fmt.Errorf("dependency '%s': %w", name, err)
		}
		dep.Name = name
		t.Deps[name] = dep
		t.Order = append(t.Order, name)
	}
	sort.Strings(t.Order)
	return nil
}

// PatchTable is [patch.<kind>.<name>]: a field-path -> value leaf map.
type PatchTable map[string]any

// Manifest is the parsed agpm.toml (or agpm.private.toml overlay).
type Manifest struct {
	Version      int                        `toml:"version,omitempty"`
	Sources      map[string]Source          `toml:"sources,omitempty"`
	Project      map[string]any             `toml:"project,omitempty"`
	DefaultTools map[string]string          `toml:"default-tools,omitempty"`
	Tools        map[string]ToolDef         `toml:"tools,omitempty"`
	Target       *TargetLayer               `toml:"target,omitempty"`
	Agents       DependencyTable            `toml:"agents,omitempty"`
	Snippets     DependencyTable            `toml:"snippets,omitempty"`
	Commands     DependencyTable            `toml:"commands,omitempty"`
	Scripts      DependencyTable            `toml:"scripts,omitempty"`
	Hooks        DependencyTable            `toml:"hooks,omitempty"`
	MCPServers   DependencyTable            `toml:"mcp-servers,omitempty"`
	Skills       DependencyTable            `toml:"skills,omitempty"`
	Patch        map[string]map[string]PatchTable `toml:"patch,omitempty"`
}

// KindTables returns the per-kind dependency tables keyed by their
// ResourceKind name, for code that needs to iterate all kinds uniformly
// (the resolver, the validator).
func (m *Manifest) KindTables() map[string]*DependencyTable {
	return map[string]*DependencyTable{
		"agent":      &m.Agents,
		"snippet":    &m.Snippets,
		"command":    &m.Commands,
		"script":     &m.Scripts,
		"hook":       &m.Hooks,
		"mcp-server": &m.MCPServers,
		"skill":      &m.Skills,
	}
}
