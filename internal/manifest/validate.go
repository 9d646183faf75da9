package manifest

import "fmt"

// Validate checks a Manifest for semantic correctness: (a) each
// dependency name is unique within its kind — guaranteed by the map
// representation itself; (b) each pattern dependency has is_pattern=true
// — trivially true since IsPattern is computed, not declared; (c) every
// patch references a declared dependency; (d) tool declarations define
// at least one of subdir/merge-target per supported kind. Returns a list
// of validation error messages, empty if valid.
func Validate(m *Manifest) []string {
	var errs []string

	for name, src := range m.Sources {
		if src.URL == "" && src.Path == "" {
			errs = append(errs, fmt.Sprintf("source '%s': one of 'url' or 'path' is required", name))
		}
		if src.URL != "" && src.Path != "" {
			errs = append(errs, fmt.Sprintf("source '%s': 'url' and 'path' are mutually exclusive", name))
		}
	}

	kindTables := m.KindTables()
	for kind, table := range kindTables {
		for name, dep := range table.Deps {
			prefix := fmt.Sprintf("%s '%s'", kind, name)
			if dep.Source != "" {
				if _, ok := m.Sources[dep.Source]; !ok {
					errs = append(errs, fmt.Sprintf("%s: references undefined source '%s'", prefix, dep.Source))
				}
			}
		}
	}

	for toolName, td := range m.Tools {
		if td.Path == "" {
			errs = append(errs, fmt.Sprintf("tool '%s': 'path' is required", toolName))
		}
		for kind, rule := range td.Resources {
			if rule.Path == "" && rule.MergeTarget == "" {
				errs = append(errs, fmt.Sprintf("tool '%s' resource '%s': one of 'path' or 'merge-target' is required", toolName, kind))
			}
			if rule.Path != "" && rule.MergeTarget != "" {
				errs = append(errs, fmt.Sprintf("tool '%s' resource '%s': 'path' and 'merge-target' are mutually exclusive", toolName, kind))
			}
		}
	}

	for kind, byName := range m.Patch {
		table, ok := kindTables[kind]
		if !ok {
			errs = append(errs, fmt.Sprintf("patch.%s: unknown resource kind", kind))
			continue
		}
		for name := range byName {
			if _, ok := table.Deps[name]; !ok {
				errs = append(errs, fmt.Sprintf("patch.%s.%s: no such dependency declared in [%s]", kind, name, kind))
			}
		}
	}

	return errs
}
