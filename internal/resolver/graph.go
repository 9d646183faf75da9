// Package resolver implements the graph-based dependency resolver:
// phases running from seeding declared dependencies through
// install-location assignment, discovering transitive dependencies
// along the way and unifying version constraints across every path that
// reaches the same artifact.
package resolver

import (
	"fmt"
	"sort"

	"github.com/agpm-dev/agpm/internal/agpmerr"
	"github.com/agpm-dev/agpm/internal/toolbinding"
)

// NodeKey uniquely identifies a resolved artifact:
// "(source, kind, relative_path, resolved_commit)". It is a plain
// comparable struct usable as a map key directly, the pattern the
// teacher uses throughout internal/engine for lockedByName-style lookups.
type NodeKey struct {
	Source         string
	Kind           toolbinding.ResourceKind
	RelativePath   string
	ResolvedCommit string // empty for local (non-Git) sources
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%s:%s/%s@%s", k.Source, k.Kind, k.RelativePath, k.ResolvedCommit)
}

// Artifact is a fully resolved dependency: everything the installer
// needs to fetch, render, and place one file or merge entry.
type Artifact struct {
	Key                NodeKey
	Name               string
	Kind               toolbinding.ResourceKind
	Source             string
	SourceURL          string // Git URL, or empty for a local source
	SourcePath         string // local filesystem origin, or empty for Git
	ResolvedCommit     string
	RelativePath       string
	VersionSpec        string // the user-facing selector, e.g. "^1.0.0"
	Tool               string
	TargetOverride     string // per-dependency "target" override
	FilenameOverride   string // per-dependency "filename" override
	Mode               toolbinding.InstallMode
	InstalledAt        string
	ContentTemplating  bool // agpm.templating: true, opt-in
	Checksum           string
	AppliedPatchFields []string
	TransitiveOf       string // parent NodeKey.String(), "" for a manifest-declared root
	IsSkill            bool
	SkillFiles         []string // relative to the skill root, sorted

	// MCP-server-only fields, carried from the manifest dependency entry
	// through to the merge-target writer.
	Command string
	Args    []string

	// pendingChildren holds the groupKey ("source|kind|path") of every
	// declared transitive dependency read off this artifact's metadata,
	// resolved to real edges once the fixed point's final pass has a
	// node for each one (see resolver.go buildPass).
	pendingChildren []string
}

// Edge is a directed "A requires B" dependency graph edge.
type Edge struct {
	From NodeKey
	To   NodeKey
}

// Graph is the resolver's output: every resolved artifact plus the
// dependency edges between them.
type Graph struct {
	Nodes map[NodeKey]*Artifact
	Edges []Edge

	order []NodeKey // insertion order of Nodes
	adj   map[NodeKey][]NodeKey
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{Nodes: make(map[NodeKey]*Artifact), adj: make(map[NodeKey][]NodeKey)}
}

// AddNode inserts a, enforcing invariant 3 (dedup by key): inserting the
// same key twice is a no-op that keeps the first value, since the
// resolver only ever constructs one Artifact per key within a pass.
func (g *Graph) AddNode(a *Artifact) {
	if _, exists := g.Nodes[a.Key]; exists {
		return
	}
	g.Nodes[a.Key] = a
	g.order = append(g.order, a.Key)
}

// AddEdge inserts a "from requires to" edge, enforcing invariant 2
// (intra-source closure): it returns an error if to's source differs
// from from's source.
func (g *Graph) AddEdge(from, to NodeKey) error {
	if from.Source != to.Source {
		return fmt.Errorf("edge %s -> %s crosses source boundary (%s != %s)", from, to, from.Source, to.Source)
	}
	g.Edges = append(g.Edges, Edge{From: from, To: to})
	g.adj[from] = append(g.adj[from], to)
	return nil
}

// DetectCycle runs a depth-first search over the graph and returns the
// full cycle path the moment one is found.
func (g *Graph) DetectCycle() []NodeKey {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[NodeKey]int, len(g.Nodes))
	var stack []NodeKey

	var visit func(n NodeKey) []NodeKey
	visit = func(n NodeKey) []NodeKey {
		state[n] = visiting
		stack = append(stack, n)
		for _, next := range sortedNeighbors(g.adj[n]) {
			switch state[next] {
			case visiting:
				// Found the back-edge; slice the stack from next's
				// first occurrence to build the full cycle path.
				idx := 0
				for i, s := range stack {
					if s == next {
						idx = i
						break
					}
				}
				cycle := append([]NodeKey(nil), stack[idx:]...)
				cycle = append(cycle, next)
				return cycle
			case unvisited:
				if cyc := visit(next); cyc != nil {
					return cyc
				}
			}
		}
		state[n] = done
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, n := range sortedKeys(g.Nodes) {
		if state[n] == unvisited {
			if cyc := visit(n); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// TopoLayers runs Kahn's algorithm over the reversed "requires" edges
// with a deterministic tie-break on node key string, so every dependency
// lands in an earlier layer than the artifacts that require it. Each
// returned layer is a set of mutually independent nodes; a layer starts
// only after all predecessor layers are installed.
func (g *Graph) TopoLayers() ([][]NodeKey, error) {
	indegree := make(map[NodeKey]int, len(g.Nodes))
	for k := range g.Nodes {
		indegree[k] = 0
	}
	dependents := make(map[NodeKey][]NodeKey)
	for _, e := range g.Edges {
		indegree[e.From]++
		dependents[e.To] = append(dependents[e.To], e.From)
	}

	var layers [][]NodeKey
	remaining := len(g.Nodes)
	ready := make(map[NodeKey]bool)
	for k, d := range indegree {
		if d == 0 {
			ready[k] = true
		}
	}

	for remaining > 0 {
		if len(ready) == 0 {
			return nil, fmt.Errorf("topological sort stalled with %d unresolved node(s); this indicates an undetected cycle", remaining)
		}
		layer := make([]NodeKey, 0, len(ready))
		for k := range ready {
			layer = append(layer, k)
		}
		sort.Slice(layer, func(i, j int) bool { return layer[i].String() < layer[j].String() })
		layers = append(layers, layer)
		remaining -= len(layer)

		next := make(map[NodeKey]bool)
		for _, k := range layer {
			for _, from := range dependents[k] {
				indegree[from]--
				if indegree[from] == 0 {
					next[from] = true
				}
			}
		}
		ready = next
	}
	return layers, nil
}

// TreeNode is a flattened, depth-annotated walk of the dependency graph,
// the shape a "list installed dependencies as a tree" view would need.
type TreeNode struct {
	Key   NodeKey
	Depth int
}

// Tree walks the graph depth-first from its roots (nodes with no
// incoming edge) and returns a flattened, depth-annotated node list in
// deterministic order.
func (g *Graph) Tree() []TreeNode {
	incoming := make(map[NodeKey]bool, len(g.Nodes))
	for _, e := range g.Edges {
		incoming[e.To] = true
	}
	var roots []NodeKey
	for _, k := range sortedKeys(g.Nodes) {
		if !incoming[k] {
			roots = append(roots, k)
		}
	}

	var out []TreeNode
	var visit func(n NodeKey, depth int)
	visit = func(n NodeKey, depth int) {
		out = append(out, TreeNode{Key: n, Depth: depth})
		for _, child := range sortedNeighbors(g.adj[n]) {
			visit(child, depth+1)
		}
	}
	for _, r := range roots {
		visit(r, 0)
	}
	return out
}

func sortedKeys(m map[NodeKey]*Artifact) []NodeKey {
	out := make([]NodeKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func sortedNeighbors(ns []NodeKey) []NodeKey {
	out := append([]NodeKey(nil), ns...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// cycleErr converts a DetectCycle path into the tagged cycle error.
func cycleErr(path []NodeKey) error {
	names := make([]string, len(path))
	for i, k := range path {
		names[i] = k.RelativePath
	}
	return &agpmerr.CyclicDependency{Path: names}
}
