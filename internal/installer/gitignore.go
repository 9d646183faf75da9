package installer

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agpm-dev/agpm/internal/sandbox"
	"github.com/agpm-dev/agpm/internal/toolbinding"
)

const (
	gitignoreHeader = "# agpm managed entries - do not edit below this line"
	gitignoreFooter = "# end of agpm managed entries"

	gitignoreBanner     = "# .gitignore - agpm managed entries"
	gitignoreBannerNote = "# agpm entries are automatically generated"
)

// EmitGitignore implements the supplemented gitignore feature: when the
// manifest opts in via `[project] gitignore = true`, every install path
// produced by locked (each file, or each skill directory) plus
// agpm.private.toml and agpm.private.lock are recorded in a dedicated, idempotently-replaced section of
// the project's .gitignore. Hooks and MCP servers are skipped — they are
// merged into shared config files, not installed as their own paths.
func EmitGitignore(projectRoot string, gitignoreEnabled bool, locked []Locked) error {
	gitignorePath := ".gitignore"
	if !gitignoreEnabled {
		return cleanupGitignore(projectRoot, gitignorePath)
	}

	paths := map[string]bool{
		"agpm.private.toml": true,
		"agpm.private.lock": true,
	}
	for _, lk := range locked {
		if lk.Kind == toolbinding.KindHook || lk.Kind == toolbinding.KindMCPServer {
			continue
		}
		if lk.InstalledAt == "" {
			continue
		}
		paths[filepath.ToSlash(lk.InstalledAt)] = true
	}

	before, after := splitManagedSection(projectRoot, gitignorePath)

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var b strings.Builder
	if len(before) == 0 {
		b.WriteString(gitignoreBanner + "\n")
		b.WriteString(gitignoreBannerNote + "\n\n")
	} else {
		for _, line := range before {
			b.WriteString(line)
			b.WriteString("\n")
		}
		if strings.TrimSpace(before[len(before)-1]) != "" {
			b.WriteString("\n")
		}
	}

	b.WriteString(gitignoreHeader)
	b.WriteString("\n")
	for _, p := range sorted {
		b.WriteString(p)
		b.WriteString("\n")
	}
	b.WriteString(gitignoreFooter)
	b.WriteString("\n")

	if len(after) > 0 {
		b.WriteString("\n")
		for _, line := range after {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return sandbox.SafeWrite(projectRoot, gitignorePath, []byte(b.String()), 0644)
}

func cleanupGitignore(projectRoot, gitignorePath string) error {
	before, after := splitManagedSection(projectRoot, gitignorePath)
	if before == nil && after == nil {
		return nil
	}

	lines := append(append([]string(nil), before...), after...)
	userContent := false
	for _, line := range lines {
		if t := strings.TrimSpace(line); t != "" && t != gitignoreBanner && t != gitignoreBannerNote {
			userContent = true
		}
	}
	if !userContent {
		return sandbox.SafeRemove(projectRoot, gitignorePath)
	}
	content := strings.TrimRight(strings.Join(lines, "\n"), "\n")
	return sandbox.SafeWrite(projectRoot, gitignorePath, []byte(content+"\n"), 0644)
}

// splitManagedSection reads the existing .gitignore (if any) and returns
// its content before and after the agpm-managed section, dropping the
// managed lines themselves. A missing file yields (nil, nil).
func splitManagedSection(projectRoot, gitignorePath string) (before, after []string) {
	data, err := os.ReadFile(filepath.Join(projectRoot, gitignorePath))
	if err != nil {
		return nil, nil
	}

	inSection, pastSection := false, false
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case line == gitignoreHeader || isLegacyHeader(line):
			inSection = true
		case line == gitignoreFooter || isLegacyFooter(line):
			inSection, pastSection = false, true
		case inSection:
			// Skip; the managed section is always fully replaced.
		case !pastSection:
			before = append(before, line)
		default:
			after = append(after, line)
		}
	}
	if before == nil {
		before = []string{}
	}
	return before, after
}

// isLegacyHeader/isLegacyFooter recognize the upstream tool's original
// marker text so a project migrating from it gets its section replaced
// rather than duplicated.
func isLegacyHeader(line string) bool {
	return line == "# AGPM managed entries - do not edit below this line" ||
		line == "# CCPM managed entries - do not edit below this line"
}

func isLegacyFooter(line string) bool {
	return line == "# End of AGPM managed entries" || line == "# End of CCPM managed entries"
}
