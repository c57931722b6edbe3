// Package snapshot exports the runtime's view of the hub as a JSON document.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/hubwatch/internal/connections"
	"github.com/fruitsalade/hubwatch/internal/directory"
	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/logging"
	"github.com/fruitsalade/hubwatch/internal/metrics"
	"github.com/fruitsalade/hubwatch/internal/nstree"
)

// Snapshot is the exported document.
type Snapshot struct {
	SessionID string                `json:"session_id"`
	Hub       string                `json:"hub"`
	TakenAt   time.Time             `json:"taken_at"`
	Terminals []hub.TerminalRecord  `json:"terminals"`
	Tree      *nstree.NodeSnapshot  `json:"tree,omitempty"`
	Factories []connections.Factory `json:"factories,omitempty"`
}

// Sources are the components a snapshot is taken from. Nil components are skipped.
type Sources struct {
	SessionID   string
	Hub         string
	Directory   *directory.Index
	Tree        *nstree.Tree
	Connections *connections.Registry
}

// Take copies the current state of src.
func Take(src Sources, now time.Time) Snapshot {
	s := Snapshot{
		SessionID: src.SessionID,
		Hub:       src.Hub,
		TakenAt:   now.UTC(),
		Terminals: []hub.TerminalRecord{},
	}
	if src.Directory != nil {
		s.Terminals = src.Directory.Records()
	}
	if src.Tree != nil {
		tree := src.Tree.Snapshot()
		s.Tree = &tree
	}
	if src.Connections != nil {
		s.Factories = src.Connections.Factories()
	}
	return s
}

// Name returns the object name a snapshot is stored under.
func (s Snapshot) Name() string {
	return fmt.Sprintf("hubwatch-%s-%s.json", s.TakenAt.Format("20060102T150405Z"), s.SessionID)
}

// Sink stores encoded snapshots.
type Sink interface {
	// Kind names the sink for logs and metrics.
	Kind() string
	// Write stores data under name and returns where it went.
	Write(ctx context.Context, name string, data []byte) (location string, err error)
}

// Export encodes s and writes it to sink.
func Export(ctx context.Context, sink Sink, s Snapshot) (string, error) {
	start := time.Now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		metrics.RecordSnapshot(sink.Kind(), time.Since(start), false)
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	location, err := sink.Write(ctx, s.Name(), data)
	metrics.RecordSnapshot(sink.Kind(), time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("write snapshot to %s: %w", sink.Kind(), err)
	}

	logging.Info("snapshot exported",
		zap.String("sink", sink.Kind()),
		zap.String("location", location),
		zap.Int("terminals", len(s.Terminals)),
		zap.Int("bytes", len(data)))
	return location, nil
}
