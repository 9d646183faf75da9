// Package sourceindex resolves a dependency's declared source name to a
// concrete URL or local path, merging the manifest's own [sources] table
// with a global per-user config layer: the manifest always wins, and a
// name redefined at both layers is reported as a warning rather than an
// error.
package sourceindex

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/pelletier/go-toml/v2"
)

const globalConfigDirName = "agpm"
const globalConfigFileName = "config.toml"

// ResolvedSource is a source name bound to its concrete location. URL is
// kept exactly as declared; nothing here removes credentials embedded in
// it.
type ResolvedSource struct {
	Name   string
	URL    string // empty for local sources
	Path   string // empty for git/url sources
	Origin string // "manifest" or "global", for diagnostics only
}

func (r ResolvedSource) IsLocal() bool { return r.Path != "" }

// Index is the merged, queryable view of every declared source.
type Index struct {
	sources  map[string]ResolvedSource
	Warnings []string
}

// Build merges the manifest's [sources] table over the global config
// layer (manifest wins; a name present in both produces a warning, not
// an error). It does not read or add credentials; authentication is left
// to git's own configuration.
func Build(m *manifest.Manifest, globalConfigPath string) (*Index, error) {
	idx := &Index{sources: make(map[string]ResolvedSource)}

	global, err := loadGlobal(globalConfigPath)
	if err != nil {
		return nil, err
	}
	for name, src := range global.Sources {
		idx.sources[name] = ResolvedSource{Name: name, URL: src.URL, Path: src.Path, Origin: "global"}
	}

	names := make([]string, 0, len(m.Sources))
	for name := range m.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		src := m.Sources[name]
		if _, exists := idx.sources[name]; exists {
			idx.Warnings = append(idx.Warnings, fmt.Sprintf("source '%s' is defined in both the global config and the manifest; the manifest definition wins", name))
		}
		idx.sources[name] = ResolvedSource{Name: name, URL: src.URL, Path: src.Path, Origin: "manifest"}
	}

	return idx, nil
}

// For resolves a declared source name to its URL or path; it does no
// credential handling of its own.
func (idx *Index) For(name string) (ResolvedSource, error) {
	src, ok := idx.sources[name]
	if !ok {
		return ResolvedSource{}, &agpmerr.UnknownSource{Name: name}
	}
	return src, nil
}

// RegisterLocalLiteral adds a synthetic local source for a manifest
// dependency written as a bare local-path string (no [sources] entry at
// all) — e.g. `util = "./snippets/util.md"`. name must not collide with
// a real declared source; the resolver derives a private name per such
// dependency specifically to avoid that.
func (idx *Index) RegisterLocalLiteral(name, path string) {
	if _, exists := idx.sources[name]; exists {
		return
	}
	idx.sources[name] = ResolvedSource{Name: name, Path: path, Origin: "manifest-literal"}
}

// Names returns every declared source name, sorted.
func (idx *Index) Names() []string {
	names := make([]string, 0, len(idx.sources))
	for name := range idx.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type globalConfig struct {
	Sources map[string]manifest.Source `toml:"sources,omitempty"`
}

// DefaultGlobalConfigPath returns the per-user global sources config
// path, namespaced under this project.
func DefaultGlobalConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, globalConfigDirName, globalConfigFileName)
}

func loadGlobal(path string) (globalConfig, error) {
	if path == "" {
		return globalConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return globalConfig{}, nil
		}
		return globalConfig{}, fmt.Errorf("reading global config %s: %w", path, err)
	}
	var cfg globalConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return globalConfig{}, fmt.Errorf("parsing global config %s: %w", path, err)
	}
	return cfg, nil
}
