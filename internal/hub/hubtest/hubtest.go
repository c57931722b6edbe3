// Package hubtest provides a scriptable in-memory hub facade for tests.
package hubtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/signature"
)

// ErrNotFound is returned by Lookup for hosts without a scripted answer.
var ErrNotFound = errors.New("hubtest: host not found")

// Facade is a fake hub. The zero value is not usable; call New.
type Facade struct {
	alive *hub.Future[struct{}]
	dead  *hub.Future[struct{}]

	mu         sync.Mutex
	now        time.Time
	terminals  []hub.TerminalRecord
	findErr    error
	subtrees   map[string][]hub.SubtreeChild
	subtreeErr map[string]error
	holds      map[string]chan struct{}
	factories  hub.FactorySet
	conns      []hub.ConnectionInfo
	allErr     error
	duringAll  func()
	hosts      map[string]string
	lookups    []string
	lookupHold chan struct{}
	classes    map[uint32]signature.Classification

	nextSub  int
	dirSubs  map[int]func(hub.DirectoryEvent)
	connSubs map[int]func(hub.ConnectionInfo)

	started chan string
}

// New returns a fake hub that is neither alive nor dead yet.
func New() *Facade {
	return &Facade{
		alive:      hub.NewFuture[struct{}](),
		dead:       hub.NewFuture[struct{}](),
		now:        time.Now(),
		subtrees:   make(map[string][]hub.SubtreeChild),
		subtreeErr: make(map[string]error),
		holds:      make(map[string]chan struct{}),
		hosts:      make(map[string]string),
		classes:    make(map[uint32]signature.Classification),
		dirSubs:    make(map[int]func(hub.DirectoryEvent)),
		connSubs:   make(map[int]func(hub.ConnectionInfo)),
		started:    make(chan string, 64),
	}
}

// Loader returns a loader that always yields f.
func (f *Facade) Loader() hub.Loader {
	return hub.LoaderFunc(func(ctx context.Context, uri string) (hub.Facade, error) {
		return f, nil
	})
}

// FailingLoader returns a loader that always fails with err.
func FailingLoader(err error) hub.Loader {
	return hub.LoaderFunc(func(ctx context.Context, uri string) (hub.Facade, error) {
		return nil, err
	})
}

// MarkAlive resolves the alive signal.
func (f *Facade) MarkAlive() { f.alive.Resolve(struct{}{}) }

// RejectAlive rejects the alive signal.
func (f *Facade) RejectAlive(err error) { f.alive.Reject(err) }

// Kill resolves the dead signal.
func (f *Facade) Kill() { f.dead.Resolve(struct{}{}) }

// SetServerTime scripts the answer to ServerTime.
func (f *Facade) SetServerTime(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// AddTerminals makes records visible to Find.
func (f *Facade) AddTerminals(recs ...hub.TerminalRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminals = append(f.terminals, recs...)
}

// SetFindError makes Find fail.
func (f *Facade) SetFindError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findErr = err
}

// SetSubtree scripts the answer to Subtree(path).
func (f *Facade) SetSubtree(path string, children ...hub.SubtreeChild) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subtrees[path] = children
}

// SetSubtreeError makes Subtree(path) fail.
func (f *Facade) SetSubtreeError(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subtreeErr[path] = err
}

// HoldSubtree blocks Subtree(path) calls until the returned release is called.
func (f *Facade) HoldSubtree(path string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.holds[path] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.holds, path)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// SubtreeStarted delivers the path of every Subtree call as it starts.
func (f *Facade) SubtreeStarted() <-chan string {
	return f.started
}

// SetFactories scripts the factory query.
func (f *Facade) SetFactories(fs hub.FactorySet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factories = fs
}

// SetConnections scripts the full connection list.
func (f *Facade) SetConnections(conns ...hub.ConnectionInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns = conns
}

// SetAllError makes the full connection query fail with err.
func (f *Facade) SetAllError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allErr = err
}

// DuringAll runs fn inside every full connection query, before it answers.
func (f *Facade) DuringAll(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.duringAll = fn
}

// ConnectionSubscribers returns the number of live connection subscriptions.
func (f *Facade) ConnectionSubscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connSubs)
}

// SetHost scripts a successful name lookup.
func (f *Facade) SetHost(addr, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts[addr] = name
}

// HoldLookups blocks Lookup calls until the returned release is called.
func (f *Facade) HoldLookups() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.lookupHold = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.lookupHold = nil
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Lookups returns the hosts passed to Lookup so far.
func (f *Facade) Lookups() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lookups...)
}

// SetClass scripts the classification for a raw signature.
func (f *Facade) SetClass(raw uint32, c signature.Classification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classes[raw] = c
}

// EmitDirectory delivers ev to every directory subscriber.
func (f *Facade) EmitDirectory(ev hub.DirectoryEvent) {
	f.mu.Lock()
	subs := make([]func(hub.DirectoryEvent), 0, len(f.dirSubs))
	for _, fn := range f.dirSubs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// EmitConnection delivers info to every connection subscriber.
func (f *Facade) EmitConnection(info hub.ConnectionInfo) {
	f.mu.Lock()
	subs := make([]func(hub.ConnectionInfo), 0, len(f.connSubs))
	for _, fn := range f.connSubs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(info)
	}
}

// DirectorySubscribers returns the number of live directory subscriptions.
func (f *Facade) DirectorySubscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dirSubs)
}

func (f *Facade) Session() hub.Session { return session{f} }
func (f *Facade) Directory() hub.Directory { return directory{f} }
func (f *Facade) Connections() hub.Connections { return connections{f} }
func (f *Facade) DNS() hub.Resolver { return resolver{f} }
func (f *Facade) Classifier() signature.Classifier { return classifier{f} }

type session struct{ f *Facade }

func (s session) Alive() *hub.Future[struct{}] { return s.f.alive }
func (s session) Dead() *hub.Future[struct{}]  { return s.f.dead }

func (s session) ServerTime(ctx context.Context) (time.Time, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	return s.f.now, nil
}

type directory struct{ f *Facade }

func (d directory) Find(ctx context.Context, substring string, caseSensitive bool) ([]hub.TerminalRecord, error) {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	if d.f.findErr != nil {
		return nil, d.f.findErr
	}
	var out []hub.TerminalRecord
	for _, rec := range d.f.terminals {
		path, sub := rec.Path, substring
		if !caseSensitive {
			path, sub = strings.ToLower(path), strings.ToLower(sub)
		}
		if strings.Contains(path, sub) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (d directory) Subtree(ctx context.Context, path string) ([]hub.SubtreeChild, error) {
	select {
	case d.f.started <- path:
	default:
	}

	d.f.mu.Lock()
	hold := d.f.holds[path]
	d.f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	if err := d.f.subtreeErr[path]; err != nil {
		return nil, err
	}
	return append([]hub.SubtreeChild(nil), d.f.subtrees[path]...), nil
}

func (d directory) OnChanged(fn func(hub.DirectoryEvent)) func() {
	d.f.mu.Lock()
	defer d.f.mu.Unlock()
	id := d.f.nextSub
	d.f.nextSub++
	d.f.dirSubs[id] = fn
	return func() {
		d.f.mu.Lock()
		defer d.f.mu.Unlock()
		delete(d.f.dirSubs, id)
	}
}

type connections struct{ f *Facade }

func (c connections) Factories(ctx context.Context) (hub.FactorySet, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.factories, nil
}

func (c connections) All(ctx context.Context) ([]hub.ConnectionInfo, error) {
	c.f.mu.Lock()
	during := c.f.duringAll
	c.f.mu.Unlock()
	if during != nil {
		during()
	}

	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if c.f.allErr != nil {
		return nil, c.f.allErr
	}
	return append([]hub.ConnectionInfo(nil), c.f.conns...), nil
}

func (c connections) OnChanged(fn func(hub.ConnectionInfo)) func() {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	id := c.f.nextSub
	c.f.nextSub++
	c.f.connSubs[id] = fn
	return func() {
		c.f.mu.Lock()
		defer c.f.mu.Unlock()
		delete(c.f.connSubs, id)
	}
}

type resolver struct{ f *Facade }

func (r resolver) Lookup(ctx context.Context, host string) (string, error) {
	r.f.mu.Lock()
	r.f.lookups = append(r.f.lookups, host)
	hold := r.f.lookupHold
	r.f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	name, ok := r.f.hosts[host]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

type classifier struct{ f *Facade }

func (c classifier) Classify(ctx context.Context, sig signature.Signature) (signature.Classification, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	return c.f.classes[sig.Raw], nil
}
