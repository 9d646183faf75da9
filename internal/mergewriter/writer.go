// Package mergewriter folds hook and MCP-server resource entries into a
// single shared JSON file (e.g. .claude/settings.local.json's "hooks"
// map, or .mcp.json's "mcpServers" map) rather than writing one file per
// resource, detecting a conflict whenever two entries claim the same
// name. It returns the rendered document; writing it to disk is left to
// the caller.
package mergewriter

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/tidwall/sjson"
)

// Contribution is one resource's entry destined for a shared merge
// target.
type Contribution struct {
	TargetPath  string // e.g. ".mcp.json"
	EntryName   string // e.g. the MCP server name, or the hook's id
	EntryField  string // JSON field under which entries are keyed, e.g. "mcpServers" or "hooks"
	Value       json.RawMessage
	Contributor string // "<kind>/<name>", for conflict diagnostics
}

// Writer accumulates contributions per target path and renders the
// merged document from every contribution collected so far.
type Writer struct {
	mu          sync.Mutex
	byTarget    map[string][]Contribution
	targetLocks map[string]*sync.Mutex
}

func New() *Writer {
	return &Writer{
		byTarget:    make(map[string][]Contribution),
		targetLocks: make(map[string]*sync.Mutex),
	}
}

// Add registers one contribution, safe for concurrent callers across the
// installer's worker pool.
func (w *Writer) Add(c Contribution) {
	lock := w.lockFor(c.TargetPath)
	lock.Lock()
	defer lock.Unlock()
	w.byTarget[c.TargetPath] = append(w.byTarget[c.TargetPath], c)
}

func (w *Writer) lockFor(target string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.targetLocks[target]
	if !ok {
		l = &sync.Mutex{}
		w.targetLocks[target] = l
	}
	return l
}

// Render merges all contributions for targetPath over the file's
// existing content (nil/empty treated as `{}`), detecting duplicate
// entry names as agpmerr.MergeEntryConflict. Keys are written in
// lexicographic order so the output is stable across runs regardless of
// resolution order, the same determinism rule the lockfile codec
// enforces.
func (w *Writer) Render(targetPath string, existing []byte) ([]byte, error) {
	lock := w.lockFor(targetPath)
	lock.Lock()
	contributions := append([]Contribution(nil), w.byTarget[targetPath]...)
	lock.Unlock()

	sort.Slice(contributions, func(i, j int) bool {
		if contributions[i].EntryField != contributions[j].EntryField {
			return contributions[i].EntryField < contributions[j].EntryField
		}
		return contributions[i].EntryName < contributions[j].EntryName
	})

	doc := existing
	if len(doc) == 0 {
		doc = []byte("{}")
	}

	seen := make(map[string]string) // field.entryName -> contributor
	for _, c := range contributions {
		key := c.EntryField + "." + c.EntryName
		if prev, ok := seen[key]; ok {
			return nil, &agpmerr.MergeEntryConflict{Target: targetPath, Entry: c.EntryName, A: prev, B: c.Contributor}
		}
		seen[key] = c.Contributor

		path := fmt.Sprintf("%s.%s", c.EntryField, jsonPathEscape(c.EntryName))
		var err error
		doc, err = sjson.SetRawBytes(doc, path, c.Value)
		if err != nil {
			return nil, fmt.Errorf("merging entry '%s' into %s: %w", c.EntryName, targetPath, err)
		}
	}

	// Re-marshal through encoding/json with sorted map keys for a fully
	// deterministic byte-for-byte result, then append the trailing
	// newline every target file in this codebase ends with.
	var generic any
	if err := json.Unmarshal(doc, &generic); err != nil {
		return nil, fmt.Errorf("re-encoding merged %s: %w", targetPath, err)
	}
	out, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("re-encoding merged %s: %w", targetPath, err)
	}
	out = append(out, '\n')
	return out, nil
}

// jsonPathEscape escapes characters sjson's path syntax treats
// specially (".", "*", "?") in an entry name used as a path segment.
func jsonPathEscape(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '*' || c == '?' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
