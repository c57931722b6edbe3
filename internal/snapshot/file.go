package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes snapshots into a local directory.
type FileSink struct {
	Dir string
}

// Kind implements Sink.
func (f FileSink) Kind() string { return "file" }

// Write stores data atomically: a temp file in Dir is renamed into place.
func (f FileSink) Write(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(f.Dir, ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	dst := filepath.Join(f.Dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("rename snapshot: %w", err)
	}
	return dst, nil
}
