// Package connections mirrors the hub's live transport connections, grouped
// by the listening or outbound factory that owns them.
package connections

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/logging"
	"github.com/fruitsalade/hubwatch/internal/metrics"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	// ErrUnknownFactory means the hub reported a connection for a factory it never announced.
	ErrUnknownFactory = errors.New("connection for unknown factory")
	// ErrNotInitialized is returned when the registry is used before Init.
	ErrNotInitialized = errors.New("connection registry not initialized")
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("connection registry already initialized")
)

// Connector is the part of the session the registry depends on.
type Connector interface {
	WaitConnected(ctx context.Context) (hub.Facade, error)
}

// Connection is a plain-data view of one connection.
type Connection struct {
	FactoryID       string        `json:"factory_id"`
	Description     string        `json:"description"`
	Connected       bool          `json:"connected"`
	RemoteVersion   string        `json:"remote_version"`
	StateChangeTime time.Time     `json:"state_change_time"`
	RemoteHost      string        `json:"remote_host"`
	RemotePort      int           `json:"remote_port"`
	LookupPending   bool          `json:"lookup_pending"`
	Elapsed         time.Duration `json:"elapsed"`
	Since           string        `json:"since"`
	Ago             string        `json:"ago"`
}

// Factory is a plain-data view of one factory and its connections in display order.
type Factory struct {
	ID          string          `json:"id"`
	Kind        hub.FactoryKind `json:"kind"`
	Address     string          `json:"address"`
	Port        int             `json:"port"`
	Connections []Connection    `json:"connections"`
}

type factory struct {
	id      string
	kind    hub.FactoryKind
	address string
	port    int
	conns   []*Connection
}

// Registry tracks factories and their connections for one session.
type Registry struct {
	sess          Connector
	reporter      hub.ErrorReporter
	log           *zap.Logger
	clock         func() time.Time
	interval      time.Duration
	lookupTimeout time.Duration

	mu           sync.Mutex
	initialized  bool
	initializing bool
	pending      []hub.ConnectionInfo
	ctx          context.Context
	resolver     hub.Resolver
	factories    map[string]*factory
	offset       time.Duration
	unsubscribe  func()
	listeners    map[int]func()
	nextID       int
}

// Option configures a Registry.
type Option func(*Registry)

// WithErrorReporter sets where inconsistencies are reported. Defaults to the logger.
func WithErrorReporter(r hub.ErrorReporter) Option {
	return func(reg *Registry) { reg.reporter = r }
}

// WithClock replaces the local clock.
func WithClock(now func() time.Time) Option {
	return func(reg *Registry) { reg.clock = now }
}

// WithRefreshInterval sets the Run tick. Defaults to one second.
func WithRefreshInterval(d time.Duration) Option {
	return func(reg *Registry) { reg.interval = d }
}

// WithLookupTimeout bounds each name lookup. Defaults to five seconds.
func WithLookupTimeout(d time.Duration) Option {
	return func(reg *Registry) { reg.lookupTimeout = d }
}

// New creates an empty registry. Call Init once the session is connecting.
func New(sess Connector, opts ...Option) *Registry {
	r := &Registry{
		sess:          sess,
		log:           logging.Named("connections"),
		clock:         time.Now,
		interval:      time.Second,
		lookupTimeout: 5 * time.Second,
		factories:     make(map[string]*factory),
		listeners:     make(map[int]func()),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.reporter == nil {
		r.reporter = hub.ReportFunc(logging.Reporter("connections"))
	}
	return r
}

// Init waits for the session, then fetches factories, connections and the
// server time concurrently. The server/client clock offset is computed here
// once and kept for the registry's lifetime. Live changes are subscribed to
// before the fetches; those that arrive meanwhile are queued and replayed
// after the initial list. A failed Init leaves the registry ready for
// another attempt.
func (r *Registry) Init(ctx context.Context) error {
	facade, err := r.sess.WaitConnected(ctx)
	if err != nil {
		return fmt.Errorf("init connections: %w", err)
	}

	r.mu.Lock()
	if r.initialized || r.initializing {
		r.mu.Unlock()
		return ErrAlreadyInitialized
	}
	r.initializing = true
	r.mu.Unlock()

	unsubscribe := facade.Connections().OnChanged(r.live)

	var (
		set        hub.FactorySet
		all        []hub.ConnectionInfo
		serverTime time.Time
		localTime  time.Time
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		set, err = facade.Connections().Factories(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		all, err = facade.Connections().All(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		serverTime, err = facade.Session().ServerTime(gctx)
		localTime = r.clock()
		return err
	})
	if err := g.Wait(); err != nil {
		unsubscribe()
		r.mu.Lock()
		r.initializing = false
		r.pending = nil
		r.mu.Unlock()
		return fmt.Errorf("init connections: %w", err)
	}

	r.mu.Lock()
	r.ctx = ctx
	r.resolver = facade.DNS()
	r.offset = serverTime.Sub(localTime)
	for _, d := range set.Listening {
		r.factories[d.ID] = &factory{id: d.ID, kind: hub.Listening, address: d.Address, port: d.Port}
	}
	for _, d := range set.Outbound {
		r.factories[d.ID] = &factory{id: d.ID, kind: hub.Outbound, address: d.Address, port: d.Port}
	}
	offset := r.offset
	r.mu.Unlock()

	r.log.Info("connection registry initialized",
		zap.Int("listening", len(set.Listening)),
		zap.Int("outbound", len(set.Outbound)),
		zap.Int("connections", len(all)),
		zap.Duration("clock_offset", offset))

	for _, info := range all {
		r.applyOrDrop(info)
	}
	for {
		r.mu.Lock()
		queued := r.pending
		r.pending = nil
		if len(queued) == 0 {
			r.initializing = false
			r.initialized = true
			r.unsubscribe = unsubscribe
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()
		for _, info := range queued {
			r.applyOrDrop(info)
		}
	}

	r.Refresh(r.clock())
	return nil
}

// live receives hub connection changes, queueing them while Init runs.
func (r *Registry) live(info hub.ConnectionInfo) {
	r.mu.Lock()
	if !r.initialized {
		if r.initializing {
			r.pending = append(r.pending, info)
		}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.applyOrDrop(info)
}

// applyOrDrop applies a record from the hub. apply has already reported a
// rejected record; it is counted here.
func (r *Registry) applyOrDrop(info hub.ConnectionInfo) {
	if err := r.apply(info); err != nil {
		metrics.RecordConnectionDropped("unknown_factory")
	}
}

// Close stops live updates.
func (r *Registry) Close() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Offset returns the server minus client clock offset measured at Init.
func (r *Registry) Offset() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

// OnConnectionChanged applies one connection update. A connection is matched
// by exact description within its factory and updated in place; otherwise a
// record is created. An unknown factory is reported and returned as an error
// wrapping ErrUnknownFactory.
func (r *Registry) OnConnectionChanged(info hub.ConnectionInfo) error {
	r.mu.Lock()
	ready := r.initialized
	r.mu.Unlock()
	if !ready {
		return ErrNotInitialized
	}
	return r.apply(info)
}

func (r *Registry) apply(info hub.ConnectionInfo) error {
	r.mu.Lock()
	if r.resolver == nil {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	f, ok := r.factories[info.FactoryID]
	if !ok {
		r.mu.Unlock()
		err := fmt.Errorf("%w: %q (connection %q)", ErrUnknownFactory, info.FactoryID, info.Description)
		r.reporter.Report(err)
		return err
	}

	for _, c := range f.conns {
		if c.Description == info.Description {
			c.Connected = info.Connected
			c.StateChangeTime = info.StateChangeTime
			c.RemoteVersion = info.RemoteVersion
			r.mu.Unlock()
			r.log.Debug("connection updated",
				zap.String("factory", info.FactoryID),
				zap.String("description", info.Description),
				zap.Bool("connected", info.Connected))
			r.notify()
			return nil
		}
	}

	host, port, parsed := splitEndpoint(info.Description)
	if !parsed {
		host, port = f.address, f.port
	}
	c := &Connection{
		FactoryID:       info.FactoryID,
		Description:     info.Description,
		Connected:       info.Connected,
		RemoteVersion:   info.RemoteVersion,
		StateChangeTime: info.StateChangeTime,
		RemoteHost:      host,
		RemotePort:      port,
		LookupPending:   parsed && net.ParseIP(host) == nil,
	}
	f.conns = append(f.conns, c)
	ctx, resolver := r.ctx, r.resolver
	r.mu.Unlock()

	r.log.Debug("connection added",
		zap.String("factory", info.FactoryID),
		zap.String("description", info.Description),
		zap.String("host", host),
		zap.Int("port", port))

	if c.LookupPending {
		go r.resolve(ctx, resolver, c, host)
	}
	r.notify()
	return nil
}

func splitEndpoint(desc string) (host string, port int, ok bool) {
	h, p, err := net.SplitHostPort(desc)
	if err != nil || h == "" {
		return "", 0, false
	}
	n, err := strconv.Atoi(p)
	if err != nil || n < 0 || n > 65535 {
		return "", 0, false
	}
	return h, n, true
}

// resolve patches only RemoteHost. A failed lookup keeps the literal.
func (r *Registry) resolve(ctx context.Context, resolver hub.Resolver, c *Connection, host string) {
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()
	name, err := resolver.Lookup(ctx, host)
	metrics.RecordDNSLookup(err == nil)
	if err != nil {
		r.log.Debug("name lookup failed", zap.String("host", host), zap.Error(err))
	}

	r.mu.Lock()
	c.LookupPending = false
	if err == nil && name != "" {
		c.RemoteHost = name
	}
	r.mu.Unlock()
	r.notify()
}

// Refresh recomputes elapsed times and display strings against now and
// re-sorts each factory's connections: connected first, then most recent
// state change first. Equal entries keep their relative order.
func (r *Registry) Refresh(now time.Time) {
	r.mu.Lock()
	serverNow := now.Add(r.offset)
	connected, disconnected := 0, 0
	for _, f := range r.factories {
		for _, c := range f.conns {
			c.Elapsed = now.Sub(c.StateChangeTime) + r.offset
			c.Since = c.StateChangeTime.Format(timeLayout)
			c.Ago = humanize.RelTime(c.StateChangeTime, serverNow, "ago", "from now")
			if c.Connected {
				connected++
			} else {
				disconnected++
			}
		}
		sortConnections(f.conns)
	}
	r.mu.Unlock()

	metrics.SetConnections(connected, disconnected)
	r.notify()
}

func sortConnections(conns []*Connection) {
	sort.SliceStable(conns, func(i, j int) bool {
		a, b := conns[i], conns[j]
		if a.Connected != b.Connected {
			return a.Connected
		}
		return a.StateChangeTime.After(b.StateChangeTime)
	})
}

// Run refreshes on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Refresh(r.clock())
		}
	}
}

// Factories returns copies of all factories, listening before outbound and
// then by id, each with its connections in display order.
func (r *Registry) Factories() []Factory {
	r.mu.Lock()
	out := make([]Factory, 0, len(r.factories))
	for _, f := range r.factories {
		cp := Factory{ID: f.id, Kind: f.kind, Address: f.address, Port: f.port}
		cp.Connections = make([]Connection, 0, len(f.conns))
		for _, c := range f.conns {
			cp.Connections = append(cp.Connections, *c)
		}
		out = append(out, cp)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OnChange registers fn to run after every change or refresh.
func (r *Registry) OnChange(fn func()) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *Registry) notify() {
	r.mu.Lock()
	fns := make([]func(), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
