package metadata

import (
	"io/fs"
	"path/filepath"
	"sort"
)

// SkillResult is a skill directory's extracted metadata: the frontmatter
// of its root SKILL.md plus the full relative file list, so the installer
// can checksum and copy the directory as a unit. Skills are resolved and
// installed as a directory rooted at SKILL.md.
type SkillResult struct {
	ExtractResult
	Files []string // paths relative to the skill directory root, sorted
}

// ExtractSkillDir walks a skill directory rooted at dir, reading
// SKILL.md's frontmatter (if present and readable — never an error
// otherwise) and recording every regular file's relative path.
//
// fsys is injected so callers can read from a worktree, an in-memory
// tree, or the real filesystem without this package depending on any of
// them.
func ExtractSkillDir(fsys fs.FS, dir string) (SkillResult, error) {
	var files []string
	err := fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return SkillResult{}, err
	}
	sort.Strings(files)

	res := SkillResult{Files: files}
	skillMD := filepath.Join(dir, "SKILL.md")
	content, readErr := fs.ReadFile(fsys, skillMD)
	if readErr == nil {
		res.ExtractResult = ExtractMarkdown(content)
	}
	return res, nil
}
