package toolbinding

import "testing"

func TestResolveModeUsesKindDefault(t *testing.T) {
	table := NewTable()
	tool, mode, err := table.ResolveMode("", KindAgent)
	if err != nil {
		t.Fatalf("ResolveMode: %v", err)
	}
	if tool != "claude-code" {
		t.Errorf("expected default tool claude-code, got %q", tool)
	}
	if mode.Kind != ModeFile || mode.Subdir != ".claude/agents/" {
		t.Errorf("unexpected mode: %+v", mode)
	}
}

func TestResolveModeInheritsParentToolWhenSupported(t *testing.T) {
	table := NewTable()
	tool, mode, err := table.ResolveMode("opencode", KindAgent)
	if err != nil {
		t.Fatalf("ResolveMode: %v", err)
	}
	if tool != "opencode" {
		t.Errorf("expected opencode to be used since it supports agent, got %q", tool)
	}
	if mode.Subdir != ".opencode/agent/" {
		t.Errorf("unexpected subdir: %q", mode.Subdir)
	}
}

func TestResolveModeFallsBackToKindDefaultWhenToolDoesNotSupportKind(t *testing.T) {
	// opencode has no binding for "script".
	table := NewTable()
	tool, mode, err := table.ResolveMode("opencode", KindScript)
	if err != nil {
		t.Fatalf("ResolveMode: %v", err)
	}
	if tool != "claude-code" {
		t.Errorf("expected fallback to the kind default claude-code, got %q", tool)
	}
	if mode.Subdir != ".claude/scripts/" {
		t.Errorf("unexpected subdir: %q", mode.Subdir)
	}
}

func TestResolveModeMergeKind(t *testing.T) {
	table := NewTable()
	_, mode, err := table.ResolveMode("", KindMCPServer)
	if err != nil {
		t.Fatalf("ResolveMode: %v", err)
	}
	if mode.Kind != ModeMerge || mode.TargetFile != ".mcp.json" {
		t.Errorf("unexpected mode: %+v", mode)
	}
}

func TestSetDefaultToolOverridesKindDefault(t *testing.T) {
	table := NewTable()
	table.SetDefaultTool(KindSnippet, "opencode")
	if table.DefaultTool(KindSnippet) != "opencode" {
		t.Errorf("expected overridden default, got %q", table.DefaultTool(KindSnippet))
	}
}

func TestRegisterAddsCustomBinding(t *testing.T) {
	table := NewTable()
	table.Register(Binding{
		ToolName: "cursor",
		BaseDir:  ".cursor/",
		PerKind: map[ResourceKind]InstallMode{
			KindAgent: {Kind: ModeFile, Subdir: ".cursor/agents/"},
		},
	})
	b, err := table.Get("cursor")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !b.Supports(KindAgent) {
		t.Error("expected cursor binding to support agent")
	}
}

func TestGetUnknownToolErrors(t *testing.T) {
	table := NewTable()
	if _, err := table.Get("nonexistent"); err == nil {
		t.Error("expected an error for an unknown tool")
	}
}

func TestResolveModeNoBindingSupportsKindErrors(t *testing.T) {
	table := &Table{bindings: map[string]Binding{}, defaults: map[ResourceKind]string{KindAgent: "missing"}}
	if _, _, err := table.ResolveMode("", KindAgent); err == nil {
		t.Error("expected an error when no registered binding supports the kind")
	}
}
