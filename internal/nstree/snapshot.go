package nstree

import (
	"github.com/fruitsalade/hubwatch/internal/signature"
)

// TerminalView is a terminal as handed to renderers.
type TerminalView struct {
	Path      string         `json:"path"`
	Kind      signature.Kind `json:"kind"`
	Icon      string         `json:"icon"`
	Raw       uint32         `json:"raw"`
	Signature string         `json:"signature"`
}

// NodeSnapshot is a plain-data copy of a node and its materialized subtree.
type NodeSnapshot struct {
	Segment         string         `json:"segment"`
	FullPath        string         `json:"full_path"`
	Folder          bool           `json:"folder"`
	Expanded        bool           `json:"expanded"`
	ChildrenLoaded  bool           `json:"children_loaded"`
	ChildrenLoading bool           `json:"children_loading"`
	Terminals       []TerminalView `json:"terminals,omitempty"`
	Children        []NodeSnapshot `json:"children,omitempty"`
}

// Snapshot copies the whole materialized tree.
func (t *Tree) Snapshot() NodeSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshot(t.root)
}

func snapshot(n *Node) NodeSnapshot {
	s := NodeSnapshot{
		Segment:         n.segment,
		FullPath:        n.fullPath,
		Folder:          len(n.terminals) == 0,
		Expanded:        n.expanded,
		ChildrenLoaded:  n.loaded,
		ChildrenLoading: n.loading,
	}
	for _, rec := range n.terminals {
		s.Terminals = append(s.Terminals, TerminalView{
			Path:      rec.Path,
			Kind:      rec.Kind,
			Icon:      signature.IconFor(rec.Kind),
			Raw:       rec.Signature.Raw,
			Signature: rec.Signature.String(),
		})
	}
	for _, c := range n.children {
		s.Children = append(s.Children, snapshot(c))
	}
	return s
}

// Walk calls fn for every node in the snapshot in display order, depth first.
func (s NodeSnapshot) Walk(fn func(depth int, n NodeSnapshot)) {
	s.walk(0, fn)
}

func (s NodeSnapshot) walk(depth int, fn func(int, NodeSnapshot)) {
	fn(depth, s)
	for _, c := range s.Children {
		c.walk(depth+1, fn)
	}
}
