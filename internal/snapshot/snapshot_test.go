package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fruitsalade/hubwatch/internal/directory"
	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/signature"
)

var takenAt = time.Date(2024, 6, 2, 10, 4, 5, 0, time.UTC)

func sampleIndex() *directory.Index {
	idx := directory.New()
	idx.AddIfAbsent(hub.TerminalRecord{Path: "/b/sub", Kind: signature.Subscriber, Signature: signature.Decode(6)})
	idx.AddIfAbsent(hub.TerminalRecord{Path: "/a/pub", Kind: signature.Publisher, Signature: signature.Decode(6)})
	return idx
}

func TestTakeAndName(t *testing.T) {
	s := Take(Sources{SessionID: "abc", Hub: "http://hub", Directory: sampleIndex()}, takenAt)
	if len(s.Terminals) != 2 || s.Terminals[0].Path != "/a/pub" {
		t.Errorf("terminals = %+v", s.Terminals)
	}
	if s.Tree != nil || s.Factories != nil {
		t.Error("nil sources should be skipped")
	}
	if got, want := s.Name(), "hubwatch-20240602T100405Z-abc.json"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
}

func TestExportFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snaps")
	s := Take(Sources{SessionID: "abc", Hub: "http://hub", Directory: sampleIndex()}, takenAt)

	loc, err := Export(context.Background(), FileSink{Dir: dir}, s)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if loc != filepath.Join(dir, s.Name()) {
		t.Errorf("location = %q", loc)
	}

	data, err := os.ReadFile(loc)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		SessionID string `json:"session_id"`
		Terminals []struct {
			Path      string `json:"path"`
			Kind      string `json:"kind"`
			Signature struct {
				Raw uint32 `json:"raw"`
			} `json:"signature"`
		} `json:"terminals"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if doc.SessionID != "abc" || len(doc.Terminals) != 2 {
		t.Fatalf("doc = %+v", doc)
	}
	if doc.Terminals[0].Kind != "PublisherTerminal" || doc.Terminals[0].Signature.Raw != 6 {
		t.Errorf("terminal = %+v", doc.Terminals[0])
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the snapshot", len(entries))
	}
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, nil
}

func TestExportS3(t *testing.T) {
	fake := &fakeS3{}
	sink := &S3Sink{client: fake, bucket: "snaps", prefix: "hubwatch/prod"}
	s := Take(Sources{SessionID: "abc", Directory: sampleIndex()}, takenAt)

	loc, err := Export(context.Background(), sink, s)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	wantKey := "hubwatch/prod/" + s.Name()
	if loc != "s3://snaps/"+wantKey {
		t.Errorf("location = %q", loc)
	}
	if *fake.in.Bucket != "snaps" || *fake.in.Key != wantKey || *fake.in.ContentType != "application/json" {
		t.Errorf("put input = %+v", fake.in)
	}
	if !strings.Contains(fake.body, `"/a/pub"`) {
		t.Errorf("uploaded body missing terminal: %s", fake.body)
	}
}

func TestExportS3Error(t *testing.T) {
	boom := errors.New("access denied")
	sink := &S3Sink{client: &fakeS3{err: boom}, bucket: "snaps"}
	if _, err := Export(context.Background(), sink, Take(Sources{}, takenAt)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestNewS3SinkRequiresBucket(t *testing.T) {
	if _, err := NewS3Sink(context.Background(), S3Config{}); err == nil {
		t.Error("expected error without bucket")
	}
}
