package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// execute runs the root command with args and returns what it printed.
// Flag values are reset first since the command tree is package state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cfgFile = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--log-level", "error"}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestSigDecode(t *testing.T) {
	out, err := execute(t, "sig", "decode", "0x1806")
	if err != nil {
		t.Fatalf("sig decode: %v", err)
	}
	for _, want := range []string{
		"raw:   6150 (0x00001806)",
		"lower: int32, timestamped",
		"upper: bool",
		"class: 0x00",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSigEdit(t *testing.T) {
	out, err := execute(t, "sig", "edit", "0",
		"--half", "upper", "--slot", "1", "--primitive", "int32", "--toggle-list")
	if err != nil {
		t.Fatalf("sig edit: %v", err)
	}
	if !strings.Contains(out, "raw:   4218880 (0x00406000)") {
		t.Errorf("unexpected raw:\n%s", out)
	}
	if !strings.Contains(out, "upper: list<int32>") || !strings.Contains(out, "lower: void") {
		t.Errorf("unexpected halves:\n%s", out)
	}
}

func TestSigEditRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad raw", []string{"sig", "edit", "nope"}},
		{"bad half", []string{"sig", "edit", "0", "--half", "middle"}},
		{"bad slot", []string{"sig", "edit", "0", "--slot", "3", "--primitive", "int8"}},
		{"bad primitive", []string{"sig", "edit", "0", "--slot", "1", "--primitive", "quaternion"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// fakeHub serves a small gateway: one folder "plant" holding two terminals
// and one listening factory with a connection. routes override defaults.
func fakeHub(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	defaults := map[string]http.HandlerFunc{
		"/api/v1/alive": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"alive":true}`)
		},
		"/api/v1/events": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		},
		"/api/v1/time": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"time":"2024-03-01T12:00:00Z"}`)
		},
		"/api/v1/terminals": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[
				{"path":"/plant/temp","tag":"PublisherTerminal","signature":6},
				{"path":"/plant/cmd","tag":"ClientTerminal","signature":7}
			]`)
		},
		"/api/v1/subtree": func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Query().Get("path") {
			case "", "/":
				fmt.Fprint(w, `[{"segment":"plant"}]`)
			case "/plant":
				fmt.Fprint(w, `[
					{"segment":"cmd","terminals":[{"path":"/plant/cmd","tag":"ClientTerminal","signature":7}]},
					{"segment":"temp","terminals":[{"path":"/plant/temp","tag":"PublisherTerminal","signature":6}]}
				]`)
			default:
				fmt.Fprint(w, `[]`)
			}
		},
		"/api/v1/factories": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"listening":[{"id":"L1","address":"0.0.0.0","port":10000}],"outbound":[]}`)
		},
		"/api/v1/connections": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[{"factory_id":"L1","connected":true,"description":"10.0.0.3:4000","state_change_time":"2024-03-01T11:59:00Z"}]`)
		},
	}
	for path, h := range routes {
		defaults[path] = h
	}
	mux := http.NewServeMux()
	for path, h := range defaults {
		mux.HandleFunc(path, h)
	}
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestFind(t *testing.T) {
	var gotQ, gotCS string
	ts := fakeHub(t, map[string]http.HandlerFunc{
		"/api/v1/terminals": func(w http.ResponseWriter, r *http.Request) {
			gotQ = r.URL.Query().Get("q")
			gotCS = r.URL.Query().Get("cs")
			fmt.Fprint(w, `[
				{"path":"/plant/temp","tag":"PublisherTerminal","signature":6},
				{"path":"/plant/cmd","tag":"ClientTerminal","signature":7}
			]`)
		},
	})

	out, err := execute(t, "--hub", ts.URL, "find", "Plant", "--case-sensitive")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if gotQ != "Plant" || gotCS != "true" {
		t.Errorf("query = %q cs = %q", gotQ, gotCS)
	}
	cmdAt := strings.Index(out, "/plant/cmd")
	tempAt := strings.Index(out, "/plant/temp")
	if cmdAt < 0 || tempAt < 0 || cmdAt > tempAt {
		t.Errorf("records missing or unsorted:\n%s", out)
	}
	if !strings.Contains(out, "2 terminal(s)") {
		t.Errorf("missing count:\n%s", out)
	}
}

func TestTreeExpandAll(t *testing.T) {
	ts := fakeHub(t, map[string]http.HandlerFunc{})

	out, err := execute(t, "--hub", ts.URL, "tree", "--expand-all")
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	for _, want := range []string{
		"  - plant/",
		"cmd  ClientTerminal",
		"temp  PublisherTerminal",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "cmd  ClientTerminal") > strings.Index(out, "temp  PublisherTerminal") {
		t.Errorf("terminals not in collation order:\n%s", out)
	}
}

func TestTreeWithoutExpandAllStaysShallow(t *testing.T) {
	ts := fakeHub(t, map[string]http.HandlerFunc{})

	out, err := execute(t, "--hub", ts.URL, "tree")
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if !strings.Contains(out, "  + plant/") || strings.Contains(out, "PublisherTerminal") {
		t.Errorf("expected a collapsed plant folder:\n%s", out)
	}
}

func TestSnapshotFileSink(t *testing.T) {
	ts := fakeHub(t, map[string]http.HandlerFunc{})
	dir := filepath.Join(t.TempDir(), "snaps")

	out, err := execute(t, "--hub", ts.URL, "snapshot", "--sink", "file", "--out", dir, "--expand-all")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	location := strings.TrimSpace(out)
	if filepath.Dir(location) != dir {
		t.Fatalf("location = %q, want a file in %s", location, dir)
	}

	data, err := os.ReadFile(location)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		SessionID string `json:"session_id"`
		Hub       string `json:"hub"`
		Terminals []struct {
			Path string `json:"path"`
		} `json:"terminals"`
		Tree struct {
			Children []struct {
				Segment  string            `json:"segment"`
				Children []json.RawMessage `json:"children"`
			} `json:"children"`
		} `json:"tree"`
		Factories []struct {
			ID          string `json:"id"`
			Connections []struct {
				RemoteHost string `json:"remote_host"`
				RemotePort int    `json:"remote_port"`
			} `json:"connections"`
		} `json:"factories"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if doc.SessionID == "" || doc.Hub != ts.URL {
		t.Errorf("header = %q %q", doc.SessionID, doc.Hub)
	}
	if len(doc.Terminals) != 2 || doc.Terminals[0].Path != "/plant/cmd" {
		t.Errorf("terminals = %+v", doc.Terminals)
	}
	if len(doc.Tree.Children) != 1 || doc.Tree.Children[0].Segment != "plant" || len(doc.Tree.Children[0].Children) != 2 {
		t.Errorf("tree = %+v", doc.Tree)
	}
	if len(doc.Factories) != 1 || len(doc.Factories[0].Connections) != 1 {
		t.Fatalf("factories = %+v", doc.Factories)
	}
	if c := doc.Factories[0].Connections[0]; c.RemoteHost != "10.0.0.3" || c.RemotePort != 4000 {
		t.Errorf("connection = %+v", c)
	}
}

func TestConnectFailure(t *testing.T) {
	_, err := execute(t, "--hub", "ftp://hub.invalid", "find", "x")
	if err == nil || !strings.Contains(err.Error(), "connect to ftp://hub.invalid") {
		t.Errorf("err = %v, want connection failure", err)
	}
}
