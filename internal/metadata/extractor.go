// Package metadata recovers declared transitive dependencies from a
// resource file's frontmatter or JSON envelope. Any unreadable or
// malformed section yields zero edges, never an error: skip what can't
// be read rather than failing the whole operation.
package metadata

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// DependencyRef is one declared transitive dependency, extracted from a
// resource's frontmatter or JSON envelope.
type DependencyRef struct {
	Kind    string
	Path    string
	Version string
	Tool    string
}

// frontmatterDoc is the shape of a markdown frontmatter block or a JSON
// document: an optional agpm.templating flag and a "dependencies" map of
// kind name -> list of {path, version, tool}. MCPServers covers the one JSON shape
// that's structurally different: a source may keep an MCP-server
// resource's own file in the same shape it's merged into (a top-level
// "mcpServers" map keyed by server name), in which case the server's
// "dependencies" and "agpm.templating" live one level down, inside its
// own entry, rather than at the document root.
type frontmatterDoc struct {
	AgpmTemplating *bool                       `yaml:"agpm.templating,omitempty" json:"agpm.templating,omitempty"`
	Dependencies   map[string][]dependencyYAML `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	MCPServers     map[string]frontmatterDoc   `json:"mcpServers,omitempty"`
}

type dependencyYAML struct {
	Path    string `yaml:"path" json:"path"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
	Tool    string `yaml:"tool,omitempty" json:"tool,omitempty"`
}

// ExtractResult is everything the resolver needs from one resource file's
// metadata: its declared dependencies plus the templating opt-in flags.
type ExtractResult struct {
	Dependencies      []DependencyRef
	PathTemplatingOff bool // agpm.templating: false disables path templating
	ContentTemplating bool // agpm.templating: true enables content templating
}

// ExtractMarkdown parses a leading YAML frontmatter block delimited by
// "---" out of a markdown file's content.
func ExtractMarkdown(content []byte) ExtractResult {
	fm, ok := splitFrontmatter(string(content))
	if !ok {
		return ExtractResult{}
	}

	var doc frontmatterDoc
	if err := yaml.Unmarshal([]byte(fm), &doc); err != nil {
		return ExtractResult{}
	}

	return toExtractResult(doc)
}

// ExtractJSON reads a top-level "dependencies" field out of a JSON file,
// and also drills into a top-level "mcpServers" map if present so an
// MCP-server resource authored in its own merge-target shape still
// yields the dependencies and templating flag nested under its entry.
func ExtractJSON(content []byte) ExtractResult {
	var doc frontmatterDoc
	if err := json.Unmarshal(content, &doc); err != nil {
		return ExtractResult{}
	}
	return toExtractResult(doc)
}

func toExtractResult(doc frontmatterDoc) ExtractResult {
	res := ExtractResult{}
	applyTemplatingFlag(&res, doc.AgpmTemplating)
	appendDependencies(&res, doc.Dependencies)

	// A source may author an MCP-server resource's file in the same
	// "mcpServers" envelope it gets merged into; drill into each entry
	// for the dependencies and templating flag that actually belong to
	// that server rather than the document root.
	for _, entry := range doc.MCPServers {
		applyTemplatingFlag(&res, entry.AgpmTemplating)
		appendDependencies(&res, entry.Dependencies)
	}
	return res
}

func applyTemplatingFlag(res *ExtractResult, flag *bool) {
	if flag == nil {
		return
	}
	if !*flag {
		res.PathTemplatingOff = true
	} else {
		res.ContentTemplating = true
	}
}

func appendDependencies(res *ExtractResult, deps map[string][]dependencyYAML) {
	for kind, ds := range deps {
		for _, d := range ds {
			res.Dependencies = append(res.Dependencies, DependencyRef{
				Kind:    kind,
				Path:    d.Path,
				Version: d.Version,
				Tool:    d.Tool,
			})
		}
	}
}

// splitFrontmatter returns the YAML block between the first pair of "---"
// delimiters, if present.
func splitFrontmatter(content string) (string, bool) {
	if !strings.HasPrefix(content, "---") {
		return "", false
	}
	rest := content[3:]
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", false
	}
	return rest[:idx], true
}
