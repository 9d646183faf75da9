package lockfile

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and validates an agpm.lock file.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lockfile %s: %w", path, err)
	}

	var lf Lockfile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing lockfile %s: %w", path, err)
	}

	if errs := Validate(&lf); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &lf, nil
}

// Save writes a lockfile atomically (temp file + rename), sorting each
// section lexicographically by (Source, Name) first so the output is
// fully determined by content, never by resolution order.
func Save(path string, lf *Lockfile) error {
	sortedCopy := *lf
	for _, section := range sortedCopy.KindSections() {
		entries := append([]Entry(nil), (*section)...)
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Source != entries[j].Source {
				return entries[i].Source < entries[j].Source
			}
			return entries[i].Name < entries[j].Name
		})
		*section = entries
	}
	sort.Slice(sortedCopy.Sources, func(i, j int) bool {
		return sortedCopy.Sources[i].Name < sortedCopy.Sources[j].Name
	})

	data, err := toml.Marshal(&sortedCopy)
	if err != nil {
		return fmt.Errorf("marshaling lockfile: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp lockfile %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp lockfile to %s: %w", path, err)
	}
	return nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	msg := "lockfile validation failed:"
	for _, s := range e.Errors {
		msg += "\n  - " + s
	}
	return msg
}

// Validate checks a Lockfile for semantic correctness.
func Validate(lf *Lockfile) []string {
	var errs []string

	if lf.Version != 0 && lf.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d — only version 1 is supported", lf.Version))
	}

	names := make(map[string]bool)
	for _, src := range lf.Sources {
		if src.Name == "" {
			errs = append(errs, "locked source: 'name' is required")
			continue
		}
		if names[src.Name] {
			errs = append(errs, fmt.Sprintf("duplicate locked source name '%s'", src.Name))
		}
		names[src.Name] = true
	}

	seenInstalledAt := make(map[string]string)
	for kind, section := range lf.KindSections() {
		for _, e := range *section {
			if e.Name == "" {
				errs = append(errs, fmt.Sprintf("%s entry: 'name' is required", kind))
			}
			if prev, ok := seenInstalledAt[e.InstalledAt]; ok && e.InstalledAt != "" {
				errs = append(errs, fmt.Sprintf("duplicate install location '%s': '%s' and '%s'", e.InstalledAt, prev, e.Name))
			} else if e.InstalledAt != "" {
				seenInstalledAt[e.InstalledAt] = e.Name
			}
		}
	}

	return errs
}
