package resolver

import (
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/agpm-dev/agpm/internal/toolbinding"
)

// flattenKinds install patterns to basename: agents and commands
// flatten to basename.
var flattenKinds = map[toolbinding.ResourceKind]bool{
	toolbinding.KindAgent:   true,
	toolbinding.KindCommand: true,
}

// expandPattern lists every file under treeDir matching pattern using
// standard shell-glob semantics with "**" as a directory wildcard
// (bmatcuk/doublestar), then applies the kind-specific flattening rule
// to compute each match's resolver-relative path.
func expandPattern(treeDir string, kind toolbinding.ResourceKind, pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(treeDir), pattern)
	if err != nil {
		return nil, err
	}

	prefix := globLiteralPrefix(pattern)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if flattenKinds[kind] {
			out = append(out, path.Base(m))
			continue
		}
		rel := strings.TrimPrefix(m, prefix)
		rel = strings.TrimPrefix(rel, "/")
		out = append(out, rel)
	}
	return out, nil
}

// globLiteralPrefix returns the longest leading run of path segments in
// pattern that contain no glob metacharacter, preserving the relative
// subtree under the pattern's first non-glob prefix.
func globLiteralPrefix(pattern string) string {
	segs := strings.Split(pattern, "/")
	var lit []string
	for _, s := range segs {
		if strings.ContainsAny(s, "*?[") {
			break
		}
		lit = append(lit, s)
	}
	return strings.Join(lit, "/")
}
