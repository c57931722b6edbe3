// Package nstree materializes the hub's terminal namespace as a lazy tree.
//
// Nodes are created on first reference and their children fetched on Expand.
// A node holding terminals is a terminal node and never has children; every
// other node is a folder.
package nstree

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/fruitsalade/hubwatch/internal/directory"
	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/logging"
	"github.com/fruitsalade/hubwatch/internal/metrics"
	"github.com/fruitsalade/hubwatch/internal/signature"
)

// Connector is the part of the session the tree depends on.
type Connector interface {
	Facade() (hub.Facade, error)
}

// Node is a handle on one tree node. Segment and FullPath are fixed at
// creation; everything else is read through the owning tree's lock.
type Node struct {
	tree     *Tree
	segment  string
	fullPath string

	terminals []hub.TerminalRecord
	children  []*Node
	expanded  bool
	loaded    bool
	loading   bool
	gen       uint64
}

// Segment returns the node's own path segment. Empty for the root.
func (n *Node) Segment() string { return n.segment }

// FullPath returns the node's path from the root.
func (n *Node) FullPath() string { return n.fullPath }

// IsFolder reports whether the node holds no terminals.
func (n *Node) IsFolder() bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return len(n.terminals) == 0
}

// Expanded reports whether the node is expanded.
func (n *Node) Expanded() bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.expanded
}

// ChildrenLoaded reports whether a subtree fetch has been merged since the last collapse.
func (n *Node) ChildrenLoaded() bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.loaded
}

// ChildrenLoading reports whether a subtree fetch is in flight.
func (n *Node) ChildrenLoading() bool {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return n.loading
}

// Children returns the current children in display order.
func (n *Node) Children() []*Node {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return append([]*Node(nil), n.children...)
}

// Terminals returns the terminals attached to the node.
func (n *Node) Terminals() []hub.TerminalRecord {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	return append([]hub.TerminalRecord(nil), n.terminals...)
}

func (n *Node) child(segment string) *Node {
	for _, c := range n.children {
		if c.segment == segment {
			return c
		}
	}
	return nil
}

// Tree is the namespace tree for one session.
type Tree struct {
	sess      Connector
	expandAll bool
	reporter  hub.ErrorReporter
	log       *zap.Logger

	mu       sync.Mutex
	root     *Node
	collator *collate.Collator
}

// Option configures a Tree.
type Option func(*Tree)

// WithExpandAll makes every newly created folder expand itself.
func WithExpandAll(on bool) Option {
	return func(t *Tree) { t.expandAll = on }
}

// WithErrorReporter sets where fetch errors go. Defaults to the logger.
func WithErrorReporter(r hub.ErrorReporter) Option {
	return func(t *Tree) { t.reporter = r }
}

// New creates a tree with an implicitly expanded, not yet loaded root.
func New(sess Connector, opts ...Option) *Tree {
	t := &Tree{
		sess:     sess,
		log:      logging.Named("nstree"),
		collator: collate.New(language.Und, collate.Numeric),
	}
	t.root = &Node{tree: t, expanded: true}
	for _, opt := range opts {
		opt(t)
	}
	if t.reporter == nil {
		t.reporter = hub.ReportFunc(logging.Reporter("nstree"))
	}
	return t
}

// Root returns the synthetic root node.
func (t *Tree) Root() *Node {
	return t.root
}

// Find returns the node at path, or nil if it has not been materialized.
func (t *Tree) Find(path string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.root
	for _, seg := range splitPath(path) {
		if n = n.child(seg); n == nil {
			return nil
		}
	}
	return n
}

// Expand marks n expanded and fetches its children. The returned future
// settles once the fetch result is merged or discarded, and with expand-all
// once every folder created by the merge has settled too. Expanding a node
// that is already expanded and loaded or loading, or a terminal node, is a
// no-op.
func (t *Tree) Expand(ctx context.Context, n *Node) *hub.Future[struct{}] {
	facade, err := t.sess.Facade()
	if err != nil {
		return hub.Rejected[struct{}](fmt.Errorf("expand %q: %w", n.fullPath, err))
	}

	t.mu.Lock()
	if len(n.terminals) > 0 || (n.expanded && (n.loaded || n.loading)) {
		t.mu.Unlock()
		return hub.Resolved(struct{}{})
	}
	n.expanded = true
	n.loading = true
	n.gen++
	gen := n.gen
	t.mu.Unlock()

	done := hub.NewFuture[struct{}]()
	go t.fetch(ctx, facade.Directory(), n, gen, done)
	return done
}

func (t *Tree) fetch(ctx context.Context, dir hub.Directory, n *Node, gen uint64, done *hub.Future[struct{}]) {
	start := time.Now()
	children, err := dir.Subtree(ctx, n.fullPath)

	t.mu.Lock()
	if !n.expanded || n.gen != gen {
		t.mu.Unlock()
		metrics.RecordSubtreeFetch("discarded", time.Since(start))
		t.log.Debug("discarding stale subtree", zap.String("path", n.fullPath))
		done.Resolve(struct{}{})
		return
	}
	n.loading = false
	if err != nil {
		t.mu.Unlock()
		metrics.RecordSubtreeFetch("error", time.Since(start))
		err = fmt.Errorf("subtree %q: %w", n.fullPath, err)
		t.reporter.Report(err)
		done.Reject(err)
		return
	}
	created := t.merge(n, children)
	n.loaded = true
	pending := t.autoExpand(created)
	t.mu.Unlock()

	metrics.RecordSubtreeFetch("merged", time.Since(start))
	t.log.Debug("subtree merged",
		zap.String("path", n.fullPath),
		zap.Int("children", len(children)),
		zap.Int("created", len(created)))

	t.expandEach(ctx, pending)
	done.Resolve(struct{}{})
}

// autoExpand marks freshly created folders expanded under expand-all. Caller holds t.mu.
func (t *Tree) autoExpand(created []*Node) []*Node {
	if !t.expandAll {
		return nil
	}
	var pending []*Node
	for _, c := range created {
		if len(c.terminals) == 0 {
			c.expanded = true
			pending = append(pending, c)
		}
	}
	return pending
}

func (t *Tree) expandEach(ctx context.Context, nodes []*Node) {
	futures := make([]*hub.Future[struct{}], 0, len(nodes))
	for _, c := range nodes {
		futures = append(futures, t.Expand(ctx, c))
	}
	for _, f := range futures {
		// Failures were already reported by the fetch that produced them.
		_, _ = f.Wait(ctx)
	}
}

// Collapse clears n's children and loading flags. A fetch still in flight
// is not cancelled; its result is discarded when it arrives. The root cannot
// be collapsed.
func (t *Tree) Collapse(n *Node) {
	if n == t.root {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n.expanded = false
	n.children = nil
	n.loaded = false
	n.loading = false
}

// Merge folds children into parent's child list and re-sorts it.
func (t *Tree) Merge(parent *Node, children []hub.SubtreeChild) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.merge(parent, children)
}

// merge returns the nodes it created. Caller holds t.mu.
func (t *Tree) merge(parent *Node, incoming []hub.SubtreeChild) []*Node {
	var created []*Node
	for _, in := range incoming {
		if existing := parent.child(in.Segment); existing != nil {
			wasFolder := len(existing.terminals) == 0
			existing.terminals = unionTerminals(existing.terminals, in.Terminals)
			if wasFolder && len(existing.terminals) > 0 {
				existing.children = nil
				existing.expanded = false
				existing.loaded = false
				existing.loading = false
			}
			continue
		}
		n := &Node{
			tree:      t,
			segment:   in.Segment,
			fullPath:  joinPath(parent.fullPath, in.Segment),
			terminals: unionTerminals(nil, in.Terminals),
		}
		parent.children = append(parent.children, n)
		created = append(created, n)
	}
	t.sortChildren(parent)
	return created
}

// sortChildren orders folders before terminals, then by natural segment order.
func (t *Tree) sortChildren(parent *Node) {
	sort.SliceStable(parent.children, func(i, j int) bool {
		a, b := parent.children[i], parent.children[j]
		af, bf := len(a.terminals) == 0, len(b.terminals) == 0
		if af != bf {
			return af
		}
		return t.collator.CompareString(a.segment, b.segment) < 0
	})
}

func unionTerminals(have, in []hub.TerminalRecord) []hub.TerminalRecord {
	for _, rec := range in {
		dup := false
		for _, h := range have {
			if h.Kind == rec.Kind && h.Signature.Raw == rec.Signature.Raw {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, rec)
		}
	}
	return have
}

// ApplyAdd merges a newly announced terminal into the loaded part of the
// tree. Paths under an unloaded node are skipped; they are picked up by the
// node's next fetch. Reports whether the tree changed.
func (t *Tree) ApplyAdd(ctx context.Context, rec hub.TerminalRecord) bool {
	segs := splitPath(rec.Path)
	if len(segs) == 0 {
		return false
	}

	t.mu.Lock()
	n := t.root
	var pending []*Node
	changed := false
	for i, seg := range segs {
		if !n.loaded {
			break
		}
		if i == len(segs)-1 {
			t.merge(n, []hub.SubtreeChild{{Segment: seg, Terminals: []hub.TerminalRecord{rec}}})
			changed = true
			break
		}
		next := n.child(seg)
		if next == nil {
			pending = t.autoExpand(t.merge(n, []hub.SubtreeChild{{Segment: seg}}))
			changed = true
			break
		}
		if len(next.terminals) > 0 {
			break
		}
		n = next
	}
	t.mu.Unlock()

	if len(pending) > 0 {
		go t.expandEach(ctx, pending)
	}
	return changed
}

// Follow keeps the tree in step with idx until the returned function is called.
func (t *Tree) Follow(ctx context.Context, idx *directory.Index) (stop func()) {
	id := idx.RegisterListener(func(ev hub.DirectoryEvent) {
		t.ApplyAdd(ctx, ev.Record)
	})
	return func() { idx.UnregisterListener(id) }
}

// Classify asks the hub for the classification of a terminal's signature.
func (t *Tree) Classify(ctx context.Context, rec hub.TerminalRecord) (signature.Classification, error) {
	facade, err := t.sess.Facade()
	if err != nil {
		return signature.Custom, err
	}
	return signature.Classify(ctx, rec.Signature, facade.Classifier())
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func joinPath(parent, segment string) string {
	if parent == "" || parent == "/" {
		return "/" + segment
	}
	return parent + "/" + segment
}
