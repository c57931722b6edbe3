// Package hub defines the boundary between the client runtime and the hub
// facade. Everything the runtime learns about the hub arrives through the
// interfaces in this package as plain data.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fruitsalade/hubwatch/internal/signature"
)

// TerminalRecord describes one terminal known to the hub.
type TerminalRecord struct {
	Path      string              `json:"path"`
	Kind      signature.Kind      `json:"kind"`
	Signature signature.Signature `json:"signature"`
}

// DirectoryEvent is a live change notification from the hub directory.
// Info carries the optional attached information blob as sent by the hub.
type DirectoryEvent struct {
	Added  bool            `json:"added"`
	Record TerminalRecord  `json:"record"`
	Info   json.RawMessage `json:"info,omitempty"`
}

// SubtreeChild is one immediate child of a subtree query. A child with
// terminals is a terminal entry; a child without is a folder.
type SubtreeChild struct {
	Segment   string           `json:"segment"`
	Terminals []TerminalRecord `json:"terminals,omitempty"`
}

// FactoryKind distinguishes listening from outbound transport factories.
type FactoryKind int

const (
	Listening FactoryKind = iota
	Outbound
)

func (k FactoryKind) String() string {
	if k == Outbound {
		return "outbound"
	}
	return "listening"
}

// FactoryDescriptor describes a transport factory.
type FactoryDescriptor struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// FactorySet is the answer to a factory query.
type FactorySet struct {
	Listening []FactoryDescriptor `json:"listening"`
	Outbound  []FactoryDescriptor `json:"outbound"`
}

// ConnectionInfo is a transport connection as reported by the hub.
// Description is an opaque transport identifier, usually "host:port".
type ConnectionInfo struct {
	FactoryID       string    `json:"factory_id"`
	Connected       bool      `json:"connected"`
	Description     string    `json:"description"`
	RemoteVersion   string    `json:"remote_version"`
	StateChangeTime time.Time `json:"state_change_time"`
}

// Loader loads the facade for a hub URI. A load failure is fatal.
type Loader interface {
	Load(ctx context.Context, uri string) (Facade, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, uri string) (Facade, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, uri string) (Facade, error) {
	return f(ctx, uri)
}

// Facade is the single capability through which the hub is reached.
type Facade interface {
	Session() Session
	Directory() Directory
	Connections() Connections
	DNS() Resolver
	Classifier() signature.Classifier
}

// Session exposes the hub's liveness signals.
type Session interface {
	// Alive settles once: resolved when the hub is reachable, rejected otherwise.
	Alive() *Future[struct{}]
	// Dead resolves once the hub connection is gone for good.
	Dead() *Future[struct{}]
	ServerTime(ctx context.Context) (time.Time, error)
}

// Directory answers terminal discovery queries.
type Directory interface {
	Find(ctx context.Context, substring string, caseSensitive bool) ([]TerminalRecord, error)
	Subtree(ctx context.Context, path string) ([]SubtreeChild, error)
	// OnChanged registers fn for live directory events. Calling the returned
	// function unsubscribes.
	OnChanged(fn func(DirectoryEvent)) (unsubscribe func())
}

// Connections answers transport connection queries.
type Connections interface {
	Factories(ctx context.Context) (FactorySet, error)
	All(ctx context.Context) ([]ConnectionInfo, error)
	OnChanged(fn func(ConnectionInfo)) (unsubscribe func())
}

// Resolver performs name lookups for connection display. An IP literal is
// reverse-resolved and a host name is canonicalized. The connection registry
// only asks about names; other callers may pass either.
type Resolver interface {
	Lookup(ctx context.Context, hostOrAddress string) (string, error)
}

// ErrorReporter receives non-fatal errors that the runtime recovered from.
type ErrorReporter interface {
	Report(err error)
}

// ReportFunc adapts a function to ErrorReporter.
type ReportFunc func(err error)

// Report calls f.
func (f ReportFunc) Report(err error) {
	f(err)
}
