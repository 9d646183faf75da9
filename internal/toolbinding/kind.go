// Package toolbinding implements the tool binding data model: a table
// mapping tool name to base directory and, per ResourceKind, an install
// mode. Adding a tool is adding a row, not a new type.
package toolbinding

import "fmt"

// ResourceKind is the closed set of resource kinds.
type ResourceKind string

const (
	KindAgent     ResourceKind = "agent"
	KindSnippet   ResourceKind = "snippet"
	KindCommand   ResourceKind = "command"
	KindScript    ResourceKind = "script"
	KindHook      ResourceKind = "hook"
	KindMCPServer ResourceKind = "mcp-server"
	KindSkill     ResourceKind = "skill"
)

var allKinds = []ResourceKind{KindAgent, KindSnippet, KindCommand, KindScript, KindHook, KindMCPServer, KindSkill}

// Valid reports whether k is one of the closed set of resource kinds.
func (k ResourceKind) Valid() bool {
	for _, v := range allKinds {
		if v == k {
			return true
		}
	}
	return false
}

// ModeKind distinguishes the two InstallMode variants.
type ModeKind int

const (
	ModeFile ModeKind = iota
	ModeMerge
)

// InstallMode is either File{Subdir} (one file per resource) or
// Merge{TargetFile} (entries merged into a shared JSON document).
type InstallMode struct {
	Kind       ModeKind
	Subdir     string // ModeFile
	TargetFile string // ModeMerge
}

// Binding is a named install profile: base directory plus a per-kind
// install mode table.
type Binding struct {
	ToolName string
	BaseDir  string
	PerKind  map[ResourceKind]InstallMode
}

// Supports reports whether this binding defines an install mode for kind.
func (b Binding) Supports(kind ResourceKind) bool {
	_, ok := b.PerKind[kind]
	return ok
}

// Table is the registry of known tool bindings, keyed by tool name. It is
// a plain map — every tool is data, never a type switch.
type Table struct {
	bindings map[string]Binding
	defaults map[ResourceKind]string // kind -> default tool name
}

// NewTable builds a Table from the built-in install-path defaults;
// custom tool definitions are added afterwards with Register.
func NewTable() *Table {
	t := &Table{
		bindings: map[string]Binding{},
		defaults: map[ResourceKind]string{
			KindAgent:     "claude-code",
			KindSnippet:   "agpm",
			KindCommand:   "claude-code",
			KindScript:    "claude-code",
			KindHook:      "claude-code",
			KindMCPServer: "claude-code",
			KindSkill:     "claude-code",
		},
	}

	t.bindings["claude-code"] = Binding{
		ToolName: "claude-code",
		BaseDir:  ".claude/",
		PerKind: map[ResourceKind]InstallMode{
			KindAgent:     {Kind: ModeFile, Subdir: ".claude/agents/"},
			KindCommand:   {Kind: ModeFile, Subdir: ".claude/commands/"},
			KindScript:    {Kind: ModeFile, Subdir: ".claude/scripts/"},
			KindSnippet:   {Kind: ModeFile, Subdir: ".claude/snippets/"},
			KindHook:      {Kind: ModeMerge, TargetFile: ".claude/settings.local.json"},
			KindMCPServer: {Kind: ModeMerge, TargetFile: ".mcp.json"},
			KindSkill:     {Kind: ModeFile, Subdir: ".claude/skills/"},
		},
	}
	t.bindings["opencode"] = Binding{
		ToolName: "opencode",
		BaseDir:  ".opencode/",
		PerKind: map[ResourceKind]InstallMode{
			KindAgent:     {Kind: ModeFile, Subdir: ".opencode/agent/"},
			KindCommand:   {Kind: ModeFile, Subdir: ".opencode/command/"},
			KindMCPServer: {Kind: ModeMerge, TargetFile: ".opencode/opencode.json"},
		},
	}
	t.bindings["agpm"] = Binding{
		ToolName: "agpm",
		BaseDir:  ".agpm/",
		PerKind: map[ResourceKind]InstallMode{
			KindSnippet: {Kind: ModeFile, Subdir: ".agpm/snippets/"},
		},
	}

	return t
}

// Register adds or replaces a tool binding — e.g. from [tools.<name>] in
// the manifest.
func (t *Table) Register(b Binding) {
	t.bindings[b.ToolName] = b
}

// Get returns the binding for toolName.
func (t *Table) Get(toolName string) (Binding, error) {
	b, ok := t.bindings[toolName]
	if !ok {
		return Binding{}, fmt.Errorf("unknown tool '%s'", toolName)
	}
	return b, nil
}

// DefaultTool returns the default tool name for a kind. Each kind has a
// default install tool.
func (t *Table) DefaultTool(kind ResourceKind) string {
	return t.defaults[kind]
}

// SetDefaultTool overrides the default tool for a kind, from the
// manifest's [default-tools] table.
func (t *Table) SetDefaultTool(kind ResourceKind, toolName string) {
	t.defaults[kind] = toolName
}

// ResolveMode returns the install mode a resource of kind uses when
// installed via toolName. The parent's tool propagates iff the
// referenced tool supports the child kind; otherwise the kind default
// applies.
func (t *Table) ResolveMode(toolName string, kind ResourceKind) (toolUsed string, mode InstallMode, err error) {
	if toolName != "" {
		if b, ok := t.bindings[toolName]; ok && b.Supports(kind) {
			return toolName, b.PerKind[kind], nil
		}
	}
	def := t.defaults[kind]
	b, ok := t.bindings[def]
	if !ok || !b.Supports(kind) {
		return "", InstallMode{}, fmt.Errorf("no tool binding supports kind '%s'", kind)
	}
	return def, b.PerKind[kind], nil
}
