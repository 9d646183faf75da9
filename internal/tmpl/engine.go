// Package tmpl implements two template call sites: path templating,
// which the resolver applies to the dependency paths a resource declares
// in its metadata unless that resource turns templating off, and
// content templating, which a resource opts into via its own
// frontmatter. Each has its own failure and sandboxing rules.
//
// Variables are resolved through the "var" and "default" functions
// rather than bare field access ({{var "name"}}, {{default "name"
// "fallback"}}), because text/template's missingkey option raises its
// error at field-access time, before any piped function such as a
// "default" filter would run — a function-based lookup is the only way
// to let "default" actually suppress the error for the key it guards.
package tmpl

import (
	"bytes"
	"fmt"
	"text/template"
	"unicode/utf8"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/agpm-dev/agpm/internal/sandbox"
)

// Vars is the variable set available to both template sites: manifest
// [project] values under "agpm.project" and (for content templating) the
// agpm.deps map populated by the installer.
type Vars map[string]any

// RenderPath renders a dependency-path template string; {{var "x"}} for a key missing from vars
// raises agpmerr.UndefinedVariable, while {{default "x" "fallback"}}
// never does.
func RenderPath(raw string, vars Vars) (string, error) {
	return renderWithFuncs(raw, vars, template.FuncMap{})
}

// ContentRenderer renders opted-in resource content, additionally
// exposing a "content" function that inlines another project-relative
// file, sandboxed to projectRoot via internal/sandbox.ValidatePath.
type ContentRenderer struct {
	ProjectRoot string
	ReadFile    func(path string) ([]byte, error) // injected so callers can read from a worktree
}

// MaxContentIncludeSize caps a single "content" include.
const MaxContentIncludeSize = 1 << 20 // 1 MiB

// MaxContentIncludeDepth caps recursive "content" includes.
const MaxContentIncludeDepth = 10

var contentIncludeSuffixes = map[string]bool{
	".md": true, ".txt": true, ".json": true, ".toml": true, ".yaml": true, ".yml": true,
}

// Render renders opted-in resource content. Binary content (invalid
// UTF-8 or containing a NUL byte) is passed through unmodified.
func (c *ContentRenderer) Render(content []byte, vars Vars) ([]byte, error) {
	if !utf8.Valid(content) || bytes.ContainsRune(content, 0) {
		return content, nil
	}
	out, err := c.renderDepth(string(content), vars, 0)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (c *ContentRenderer) renderDepth(raw string, vars Vars, depth int) (string, error) {
	if depth > MaxContentIncludeDepth {
		return "", fmt.Errorf("content template recursion exceeds depth %d", MaxContentIncludeDepth)
	}
	funcs := template.FuncMap{
		"content": func(path string) (string, error) {
			return c.includeContent(path, vars, depth+1)
		},
	}
	return renderWithFuncs(raw, vars, funcs)
}

func (c *ContentRenderer) includeContent(path string, vars Vars, depth int) (string, error) {
	if !contentIncludeSuffixes[extOf(path)] {
		return "", &agpmerr.ContentFilterForbidden{Path: path, Reason: "unsupported file extension for content include"}
	}
	resolved, err := sandbox.ValidatePath(c.ProjectRoot, path)
	if err != nil {
		return "", &agpmerr.ContentFilterForbidden{Path: path, Reason: err.Error()}
	}
	data, err := c.ReadFile(resolved)
	if err != nil {
		return "", &agpmerr.ContentFilterForbidden{Path: path, Reason: err.Error()}
	}
	if len(data) > MaxContentIncludeSize {
		return "", &agpmerr.ContentFilterTooLarge{Path: path, Size: int64(len(data)), Max: MaxContentIncludeSize}
	}
	return c.renderDepth(string(data), vars, depth)
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

// renderWithFuncs parses and executes raw against vars, always exposing
// "var" and "default" (callers may add more, e.g. "content"). A template
// parse error or an execution error raised by "var" itself surfaces as
// the wrapped *agpmerr error produced below; text/template never sees a
// bare field-access miss because lookups go through these functions.
func renderWithFuncs(raw string, vars Vars, extra template.FuncMap) (string, error) {
	funcs := template.FuncMap{
		"var": func(name string) (any, error) {
			v, ok := vars[name]
			if !ok {
				return nil, &agpmerr.UndefinedVariable{Name: name}
			}
			return v, nil
		},
		"default": func(name string, fallback any) any {
			if v, ok := vars[name]; ok {
				return v
			}
			return fallback
		},
	}
	for k, v := range extra {
		funcs[k] = v
	}

	tmpl, err := template.New("").Funcs(funcs).Parse(raw)
	if err != nil {
		return "", &agpmerr.TemplateRenderFailed{Err: err}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(vars)); err != nil {
		if undef, ok := asUndefinedVariable(err); ok {
			return "", undef
		}
		return "", &agpmerr.TemplateRenderFailed{Err: err}
	}
	return buf.String(), nil
}

func asUndefinedVariable(err error) (*agpmerr.UndefinedVariable, bool) {
	for err != nil {
		if u, ok := err.(*agpmerr.UndefinedVariable); ok {
			return u, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}
