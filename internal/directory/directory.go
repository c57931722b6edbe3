// Package directory keeps the flat live index of terminals known to the hub.
//
// The index is fed by two independent sources: bulk Find queries issued once
// the session is connected, and live change events from the facade. Both go
// through AddIfAbsent, so arrival order never produces duplicates.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/logging"
	"github.com/fruitsalade/hubwatch/internal/metrics"
)

const (
	sourceBulk  = "bulk"
	sourceLive  = "live"
	sourceLocal = "local"
)

// ErrMalformedEvent is reported for live events that cannot be applied.
var ErrMalformedEvent = errors.New("malformed directory event")

// Listener receives add notifications.
type Listener func(hub.DirectoryEvent)

// ListenerID identifies a registered listener.
type ListenerID int

// Connector is the part of the session the index depends on.
type Connector interface {
	WaitConnected(ctx context.Context) (hub.Facade, error)
}

// Query is one bulk substring search.
type Query struct {
	Substring     string
	CaseSensitive bool
}

// Index maps full terminal paths to records. It holds at most one record per path.
type Index struct {
	reporter hub.ErrorReporter
	log      *zap.Logger

	mu        sync.RWMutex
	records   map[string]hub.TerminalRecord
	listeners map[ListenerID]Listener
	nextID    ListenerID
}

// Option configures an Index.
type Option func(*Index)

// WithErrorReporter sets where recovered errors go. Defaults to the logger.
func WithErrorReporter(r hub.ErrorReporter) Option {
	return func(x *Index) { x.reporter = r }
}

// New creates an empty index.
func New(opts ...Option) *Index {
	x := &Index{
		log:       logging.Named("directory"),
		records:   make(map[string]hub.TerminalRecord),
		listeners: make(map[ListenerID]Listener),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.reporter == nil {
		x.reporter = hub.ReportFunc(logging.Reporter("directory"))
	}
	return x
}

// AddIfAbsent inserts rec unless its path is already indexed, and notifies
// listeners on insertion. Reports whether rec was inserted.
func (x *Index) AddIfAbsent(rec hub.TerminalRecord) bool {
	return x.add(rec, sourceLocal)
}

func (x *Index) add(rec hub.TerminalRecord, source string) bool {
	x.mu.Lock()
	if _, ok := x.records[rec.Path]; ok {
		x.mu.Unlock()
		return false
	}
	x.records[rec.Path] = rec
	size := len(x.records)
	fns := make([]Listener, 0, len(x.listeners))
	for _, fn := range x.listeners {
		fns = append(fns, fn)
	}
	x.mu.Unlock()

	metrics.RecordDirectoryAdd(source)
	metrics.SetDirectorySize(size)
	x.log.Debug("terminal added",
		zap.String("path", rec.Path),
		zap.Stringer("kind", rec.Kind),
		zap.String("source", source))

	ev := hub.DirectoryEvent{Added: true, Record: rec}
	for _, fn := range fns {
		fn(ev)
	}
	return true
}

// RegisterListener adds fn. No delivery order is guaranteed across listeners.
func (x *Index) RegisterListener(fn Listener) ListenerID {
	x.mu.Lock()
	defer x.mu.Unlock()
	id := x.nextID
	x.nextID++
	x.listeners[id] = fn
	return id
}

// UnregisterListener removes the listener registered under id.
func (x *Index) UnregisterListener(id ListenerID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.listeners, id)
}

// Lookup returns the record for an exact path.
func (x *Index) Lookup(path string) (hub.TerminalRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.records[path]
	return rec, ok
}

// Len returns the number of indexed terminals.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Records returns a copy of all records ordered by path.
func (x *Index) Records() []hub.TerminalRecord {
	x.mu.RLock()
	out := make([]hub.TerminalRecord, 0, len(x.records))
	for _, rec := range x.records {
		out = append(out, rec)
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Attach waits for the session to connect, subscribes to live directory
// events and runs the bulk queries concurrently. It returns once every bulk
// query has resolved; a failed query is reported and leaves the index as is.
// The returned detach stops live delivery.
func (x *Index) Attach(ctx context.Context, sess Connector, queries ...Query) (detach func(), err error) {
	facade, err := sess.WaitConnected(ctx)
	if err != nil {
		return nil, fmt.Errorf("attach directory: %w", err)
	}
	dir := facade.Directory()

	unsubscribe := dir.OnChanged(x.HandleEvent)

	var wg sync.WaitGroup
	for _, q := range queries {
		wg.Add(1)
		go func(q Query) {
			defer wg.Done()
			x.runQuery(ctx, dir, q)
		}(q)
	}
	wg.Wait()

	return unsubscribe, nil
}

func (x *Index) runQuery(ctx context.Context, dir hub.Directory, q Query) {
	recs, err := dir.Find(ctx, q.Substring, q.CaseSensitive)
	if err != nil {
		x.reporter.Report(fmt.Errorf("find %q: %w", q.Substring, err))
		return
	}
	added := 0
	for _, rec := range recs {
		if x.add(rec, sourceBulk) {
			added++
		}
	}
	x.log.Info("bulk query resolved",
		zap.String("substring", q.Substring),
		zap.Int("results", len(recs)),
		zap.Int("added", added))
}

// HandleEvent applies a live directory event. Removals are not tracked by the
// index. A malformed event is reported and dropped on its own.
func (x *Index) HandleEvent(ev hub.DirectoryEvent) {
	if !ev.Added {
		return
	}
	if err := validate(ev); err != nil {
		metrics.RecordDirectoryEventDropped()
		x.reporter.Report(err)
		return
	}
	x.add(ev.Record, sourceLive)
}

func validate(ev hub.DirectoryEvent) error {
	if ev.Record.Path == "" {
		return fmt.Errorf("%w: empty path", ErrMalformedEvent)
	}
	if !ev.Record.Kind.Valid() {
		return fmt.Errorf("%w: %s: invalid kind %d", ErrMalformedEvent, ev.Record.Path, int(ev.Record.Kind))
	}
	if len(ev.Info) > 0 && !json.Valid(ev.Info) {
		return fmt.Errorf("%w: %s: unparseable info blob", ErrMalformedEvent, ev.Record.Path)
	}
	return nil
}
