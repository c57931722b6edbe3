// Package session owns the hub connection lifecycle.
//
//	Connecting --load ok, alive--> Connected --dead--> ConnectionLost
//	Connecting --load fails / alive rejects--> ConnectionFailed
//
// Failure and loss are terminal; there are no retries.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/logging"
	"github.com/fruitsalade/hubwatch/internal/metrics"
)

// State is a session lifecycle state.
type State int

const (
	Connecting State = iota
	Connected
	ConnectionLost
	ConnectionFailed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ConnectionLost:
		return "connection_lost"
	case ConnectionFailed:
		return "connection_failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	return s == ConnectionLost || s == ConnectionFailed
}

var (
	// ErrConnectionFailed wraps every fatal connection error.
	ErrConnectionFailed = errors.New("connection to hub failed")
	// ErrNotConnected is returned when the facade is used before the session connected.
	ErrNotConnected = errors.New("session not connected")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("session already started")
)

// Manager drives a single session. It is created once and never restarted.
type Manager struct {
	loader hub.Loader
	uri    string
	id     string
	log    *zap.Logger

	connected    *hub.Future[hub.Facade]
	disconnected *hub.Future[struct{}]

	mu        sync.RWMutex
	state     State
	facade    hub.Facade
	err       error
	started   bool
	listeners map[int]func(State)
	nextID    int
}

// New creates a manager in the Connecting state. Nothing happens until Start.
func New(loader hub.Loader, uri string) *Manager {
	id := uuid.NewString()
	return &Manager{
		loader:       loader,
		uri:          uri,
		id:           id,
		log:          logging.Named("session").With(zap.String("session_id", id), zap.String("uri", uri)),
		connected:    hub.NewFuture[hub.Facade](),
		disconnected: hub.NewFuture[struct{}](),
		state:        Connecting,
		listeners:    make(map[int]func(State)),
	}
}

// ID returns the session's correlation id.
func (m *Manager) ID() string {
	return m.id
}

// Start loads the facade and waits for the hub in the background. ctx bounds
// the load and the wait for "alive"; it does not end an established session.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	metrics.SetSessionState(Connecting.String())
	m.log.Info("connecting to hub")

	go m.run(logging.WithSession(ctx, m.id))
	return nil
}

func (m *Manager) run(ctx context.Context) {
	facade, err := m.loader.Load(ctx, m.uri)
	if err != nil {
		m.fail(fmt.Errorf("%w: load facade: %w", ErrConnectionFailed, err))
		return
	}

	sess := facade.Session()
	if _, err := sess.Alive().Wait(ctx); err != nil {
		m.fail(fmt.Errorf("%w: hub not alive: %w", ErrConnectionFailed, err))
		return
	}

	m.mu.Lock()
	m.facade = facade
	m.mu.Unlock()
	m.transition(Connected)
	m.connected.Resolve(facade)

	// The dead signal is awaited without ctx: once connected, only the hub
	// ends the session.
	sess.Dead().Then(func(struct{}, error) {
		m.transition(ConnectionLost)
		m.disconnected.Resolve(struct{}{})
	})
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	m.log.Error("hub connection failed", zap.Error(err))
	m.transition(ConnectionFailed)
	m.connected.Reject(err)
}

func (m *Manager) transition(to State) {
	m.mu.Lock()
	from := m.state
	if from.Terminal() || from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	metrics.SetSessionState(to.String())
	m.log.Info("session state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	for _, fn := range fns {
		fn(to)
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Err returns the fatal error once the state is ConnectionFailed.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// BecameConnected settles once: with the facade on entering Connected, or
// with an error wrapping ErrConnectionFailed.
func (m *Manager) BecameConnected() *hub.Future[hub.Facade] {
	return m.connected
}

// BecameDisconnected resolves once on entering ConnectionLost.
func (m *Manager) BecameDisconnected() *hub.Future[struct{}] {
	return m.disconnected
}

// Facade returns the loaded facade. Querying the hub before the session is
// connected is a programming error, reported as ErrNotConnected.
func (m *Manager) Facade() (hub.Facade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.facade == nil {
		return nil, ErrNotConnected
	}
	return m.facade, nil
}

// WaitConnected blocks until the session is connected and returns the facade.
func (m *Manager) WaitConnected(ctx context.Context) (hub.Facade, error) {
	return m.connected.Wait(ctx)
}

// OnStateChange registers fn for state transitions. Calling the returned
// function unregisters it.
func (m *Manager) OnStateChange(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}
