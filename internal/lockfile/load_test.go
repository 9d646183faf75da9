package lockfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agpm.lock")

	lf := &Lockfile{
		Version: 1,
		Sources: []LockedSource{{Name: "community", URL: "https://example.com/c.git", ResolvedRefs: map[string]string{"v1.0.0": "abc123"}}},
		Agents: []Entry{
			{Name: "z", Source: "community", Path: "agents/z.md", ResolvedCommit: "abc123", Checksum: "deadbeef", InstalledAt: ".claude/agents/z.md"},
			{Name: "a", Source: "community", Path: "agents/a.md", ResolvedCommit: "abc123", Checksum: "cafebabe", InstalledAt: ".claude/agents/a.md"},
		},
	}

	if err := Save(path, lf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(loaded.Agents))
	}
	// Save sorts lexicographically by (Source, Name): "a" before "z".
	if loaded.Agents[0].Name != "a" || loaded.Agents[1].Name != "z" {
		t.Errorf("expected sorted order [a, z], got [%s, %s]", loaded.Agents[0].Name, loaded.Agents[1].Name)
	}
}

func TestSaveIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	lf := &Lockfile{
		Version: 1,
		Agents: []Entry{
			{Name: "b", Source: "s", Path: "p/b.md"},
			{Name: "a", Source: "s", Path: "p/a.md"},
		},
	}
	p1 := filepath.Join(dir, "one.lock")
	p2 := filepath.Join(dir, "two.lock")
	if err := Save(p1, lf); err != nil {
		t.Fatal(err)
	}
	// Shuffle input order; output must be identical.
	lf.Agents[0], lf.Agents[1] = lf.Agents[1], lf.Agents[0]
	if err := Save(p2, lf); err != nil {
		t.Fatal(err)
	}

	b1, err := os.ReadFile(p1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := os.ReadFile(p2)
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != string(b2) {
		t.Errorf("expected deterministic output, got:\n%s\nvs\n%s", b1, b2)
	}
}

func TestValidateRejectsDuplicateInstallLocation(t *testing.T) {
	lf := &Lockfile{
		Version: 1,
		Agents: []Entry{
			{Name: "a", InstalledAt: ".claude/agents/x.md"},
			{Name: "b", InstalledAt: ".claude/agents/x.md"},
		},
	}
	errs := Validate(lf)
	if len(errs) == 0 {
		t.Fatal("expected validation error for duplicate install location")
	}
}

func TestCheckFrozenDetectsChecksumMismatch(t *testing.T) {
	lf := &Lockfile{
		Version: 1,
		Agents:  []Entry{{Name: "r", Source: "community", Path: "agents/r.md", Checksum: "old"}},
	}
	expected := []ExpectedEntry{{Kind: "agent", Name: "r", Source: "community", Path: "agents/r.md", Checksum: "new"}}
	err := CheckFrozen(lf, expected, nil)
	if err == nil {
		t.Fatal("expected LockfileStale error")
	}
}

func TestCheckFrozenPassesWhenUnchanged(t *testing.T) {
	lf := &Lockfile{
		Version: 1,
		Sources: []LockedSource{{Name: "community", URL: "https://example.com/c.git"}},
		Agents:  []Entry{{Name: "r", Source: "community", Path: "agents/r.md", Checksum: "same"}},
	}
	expected := []ExpectedEntry{{Kind: "agent", Name: "r", Source: "community", Path: "agents/r.md", Checksum: "same"}}
	err := CheckFrozen(lf, expected, map[string]string{"community": "https://example.com/c.git"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
