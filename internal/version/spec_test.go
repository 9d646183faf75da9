package version

import "testing"

func TestParseKinds(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
	}{
		{"v1.2.3", KindExact},
		{"1.2.3", KindExact},
		{"^1.0.0", KindCaret},
		{"~1.0.0", KindTilde},
		{">=1.0.0,<2.0.0", KindRange},
		{"latest", KindLatest},
		{"*", KindLatest},
		{"", KindLatest},
		{"main", KindBranch},
		{"feature/foo", KindBranch},
		{"abc1234", KindSHA},
		{"0123456789abcdef0123456789abcdef01234567", KindSHA},
	}
	for _, tc := range cases {
		spec, err := Parse(tc.raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.raw, err)
		}
		if spec.Kind != tc.kind {
			t.Errorf("Parse(%q).Kind = %v, want %v", tc.raw, spec.Kind, tc.kind)
		}
	}
}

func TestSelectCaretRange(t *testing.T) {
	spec, err := Parse("^1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	candidates := []string{"0.9.0", "1.0.0", "1.2.0", "1.5.0", "2.0.0"}
	got, err := Select(spec, candidates)
	if err != nil {
		t.Fatal(err)
	}
	if got != "1.5.0" {
		t.Errorf("Select = %q, want 1.5.0", got)
	}
}

func TestSelectLatestPrefersStable(t *testing.T) {
	spec, err := Parse("latest")
	if err != nil {
		t.Fatal(err)
	}
	candidates := []string{"1.0.0", "2.0.0-beta.1"}
	got, err := Select(spec, candidates)
	if err != nil {
		t.Fatal(err)
	}
	if got != "1.0.0" {
		t.Errorf("Select = %q, want 1.0.0", got)
	}
}

func TestSelectLatestFallsBackToPrerelease(t *testing.T) {
	spec, _ := Parse("latest")
	candidates := []string{"2.0.0-beta.1", "1.9.0-alpha.1"}
	got, err := Select(spec, candidates)
	if err != nil {
		t.Fatal(err)
	}
	if got != "2.0.0-beta.1" {
		t.Errorf("Select = %q, want 2.0.0-beta.1", got)
	}
}

func TestSelectUnsatisfiable(t *testing.T) {
	spec, _ := Parse("^3.0.0")
	_, err := Select(spec, []string{"1.0.0", "2.0.0"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSelectTieBreakLexicographic(t *testing.T) {
	spec, _ := Parse("^1.0.0")
	// "v1.0.0" and "1.0.0" parse to the same semver value.
	got, err := Select(spec, []string{"1.0.0", "v1.0.0"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "v1.0.0" {
		t.Errorf("Select = %q, want v1.0.0 (lexicographically greatest)", got)
	}
}

func TestUnifyRangeIntersection(t *testing.T) {
	a, _ := Parse("^1.0.0")
	b, _ := Parse("^1.2.0")
	candidates := []string{"1.0.0", "1.2.0", "1.5.0", "2.0.0"}
	got, err := Unify(a, b, candidates, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "1.5.0" {
		t.Errorf("Unify = %q, want 1.5.0", got)
	}
}

func TestUnifyIncompatibleRanges(t *testing.T) {
	a, _ := Parse("^1.0.0")
	b, _ := Parse("^2.0.0")
	candidates := []string{"1.0.0", "1.2.0", "1.5.0", "2.0.0"}
	_, err := Unify(a, b, candidates, nil)
	if err == nil {
		t.Fatal("expected incompatible versions error")
	}
}

func TestUnifyShaWithinRange(t *testing.T) {
	a, _ := Parse("abc1234")
	b, _ := Parse("^1.0.0")
	commits := map[string]string{"1.5.0": "abc1234"}
	got, err := Unify(a, b, []string{"1.5.0"}, commits)
	if err != nil {
		t.Fatal(err)
	}
	if got != "abc1234" {
		t.Errorf("Unify = %q, want abc1234", got)
	}
}

func TestUnifyShaOutsideRange(t *testing.T) {
	a, _ := Parse("abc1234")
	b, _ := Parse("^2.0.0")
	commits := map[string]string{"1.5.0": "abc1234"}
	_, err := Unify(a, b, []string{"1.5.0"}, commits)
	if err == nil {
		t.Fatal("expected error")
	}
}
