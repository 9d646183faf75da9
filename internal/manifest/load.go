package manifest

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/agpm-dev/agpm/internal/agpmerr"
)

// Load reads and validates an agpm.toml manifest: read, unmarshal,
// validate.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if err := decodeKindTables(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	if errs := Validate(&m); len(errs) > 0 {
		return nil, &agpmerr.ManifestInvalid{Path: path, Errors: errs}
	}

	return &m, nil
}

// LoadOverlay reads an agpm.private.toml overlay. It has the same shape
// as a manifest but only Patch (and, incidentally, Project variables) is
// meaningful — it declares no sources or dependencies of its own.
func LoadOverlay(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading private overlay %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing private overlay %s: %w", path, err)
	}
	if err := decodeKindTables(data, &m); err != nil {
		return nil, fmt.Errorf("parsing private overlay %s: %w", path, err)
	}
	if len(m.Sources) > 0 || len(m.Agents.Deps) > 0 || len(m.Snippets.Deps) > 0 ||
		len(m.Commands.Deps) > 0 || len(m.Scripts.Deps) > 0 || len(m.Hooks.Deps) > 0 ||
		len(m.MCPServers.Deps) > 0 || len(m.Skills.Deps) > 0 {
		return nil, fmt.Errorf("private overlay %s: dependency definitions are not allowed, only [patch.*]", path)
	}
	return &m, nil
}

// decodeKindTables fills the per-kind dependency tables from the raw
// document through DependencyTable.UnmarshalTOML; go-toml/v2's struct
// decoder does not call that method itself.
func decodeKindTables(data []byte, m *Manifest) error {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return err
	}
	tables := []struct {
		key   string
		table *DependencyTable
	}{
		{"agents", &m.Agents}, {"snippets", &m.Snippets}, {"commands", &m.Commands},
		{"scripts", &m.Scripts}, {"hooks", &m.Hooks}, {"mcp-servers", &m.MCPServers},
		{"skills", &m.Skills},
	}
	for _, kt := range tables {
		if v, ok := raw[kt.key]; ok {
			if err := kt.table.UnmarshalTOML(v); err != nil {
				return fmt.Errorf("[%s]: %w", kt.key, err)
			}
		}
	}
	return nil
}
