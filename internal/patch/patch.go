// Package patch implements field-level merging of the manifest's
// [patch.<kind>.<name>] project layer with the optional
// agpm.private.toml private layer: a per-field JSON merge via
// gjson/sjson, detecting a conflict whenever both layers set the same
// field rather than silently letting one win.
package patch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

// Table is one [patch.<kind>.<name>] entry: a (possibly nested) map of
// field names to override values.
type Table map[string]any

// Combine flattens the project and private patch tables for one
// (kind, name) into a single ordered set of field paths, failing with
// agpmerr.PatchFieldConflict the moment both layers set the same path.
// Returned fields are sorted for deterministic application order and for
// recording in the lockfile's applied_patch_fields.
func Combine(kind, name string, project, private Table) (fields map[string]any, order []string, err error) {
	projectFields, bad := flatten("", project)
	if bad != "" {
		return nil, nil, &agpmerr.InvalidPatchField{Kind: kind, Name: name, Field: bad}
	}
	privateFields, bad := flatten("", private)
	if bad != "" {
		return nil, nil, &agpmerr.InvalidPatchField{Kind: kind, Name: name, Field: bad}
	}

	merged := make(map[string]any, len(projectFields)+len(privateFields))
	for path, v := range projectFields {
		merged[path] = v
	}
	for path, v := range privateFields {
		if _, ok := projectFields[path]; ok {
			return nil, nil, &agpmerr.PatchFieldConflict{Kind: kind, Name: name, Field: path}
		}
		merged[path] = v
	}

	order = make([]string, 0, len(merged))
	for path := range merged {
		order = append(order, path)
	}
	sort.Strings(order)
	return merged, order, nil
}

// flatten turns a nested Table into dot-path -> scalar/array value pairs,
// e.g. {"env": {"FOO": "bar"}} -> {"env.FOO": "bar"}. A raw key carrying
// '.', '*', or '?' would be indistinguishable from a nesting separator
// or a gjson/sjson wildcard once joined, so flatten refuses it outright
// and returns the offending key rather than building an ambiguous path.
func flatten(prefix string, t Table) (map[string]any, string) {
	out := make(map[string]any)
	for k, v := range t {
		if strings.ContainsAny(k, ".*?") {
			return nil, k
		}
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			sub, bad := flatten(path, nested)
			if bad != "" {
				return nil, bad
			}
			for p, nv := range sub {
				out[p] = nv
			}
			continue
		}
		out[path] = v
	}
	return out, ""
}

// ApplyToJSON applies an ordered set of field paths onto a JSON document,
// via sjson.SetBytes for each path in order.
func ApplyToJSON(content []byte, fields map[string]any, order []string) ([]byte, error) {
	out := content
	for _, path := range order {
		jsonPath := dotPathToGJSON(path)
		var err error
		out, err = sjson.SetBytes(out, jsonPath, fields[path])
		if err != nil {
			return nil, fmt.Errorf("applying patch field '%s': %w", path, err)
		}
	}
	return out, nil
}

// ApplyToFrontmatter applies fields onto a markdown file's YAML
// frontmatter block, leaving the body untouched. Frontmatter is decoded
// to JSON internally so the same gjson/sjson field-path machinery as
// ApplyToJSON can be reused, then re-encoded to YAML.
func ApplyToFrontmatter(content []byte, fields map[string]any, order []string) ([]byte, error) {
	fm, body, ok := splitFrontmatter(content)
	if !ok {
		// No frontmatter to patch into; nothing to do (patch engine
		// never fabricates a frontmatter block a resource didn't have).
		return content, nil
	}

	var fmDoc any
	if err := yaml.Unmarshal(fm, &fmDoc); err != nil {
		return nil, fmt.Errorf("decoding frontmatter for patch: %w", err)
	}
	asJSON, err := json.Marshal(fmDoc)
	if err != nil {
		return nil, fmt.Errorf("decoding frontmatter for patch: %w", err)
	}
	patched, err := ApplyToJSON(asJSON, fields, order)
	if err != nil {
		return nil, err
	}
	var patchedDoc any
	if err := json.Unmarshal(patched, &patchedDoc); err != nil {
		return nil, fmt.Errorf("encoding patched frontmatter: %w", err)
	}
	asYAML, err := yaml.Marshal(patchedDoc)
	if err != nil {
		return nil, fmt.Errorf("encoding patched frontmatter: %w", err)
	}

	var out []byte
	out = append(out, []byte("---\n")...)
	out = append(out, asYAML...)
	out = append(out, []byte("---\n")...)
	out = append(out, body...)
	return out, nil
}

func splitFrontmatter(content []byte) (fm, body []byte, ok bool) {
	s := string(content)
	if !strings.HasPrefix(s, "---") {
		return nil, nil, false
	}
	rest := strings.TrimPrefix(s, "---")
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, nil, false
	}
	fmPart := rest[:idx]
	bodyPart := rest[idx+4:]
	bodyPart = strings.TrimPrefix(bodyPart, "\r\n")
	bodyPart = strings.TrimPrefix(bodyPart, "\n")
	return []byte(fmPart), []byte(bodyPart), true
}

// dotPathToGJSON converts a flatten()-produced dot path into a
// gjson/sjson path. The two happen to share dot-path syntax already, so
// this is currently an identity conversion kept as a seam for array
// index syntax ("a.0.b") should nested lists need addressing later.
func dotPathToGJSON(path string) string {
	return path
}

// Get reads a field out of a JSON document by the same dot-path syntax
// Combine produces.
func Get(content []byte, path string) gjson.Result {
	return gjson.GetBytes(content, path)
}
