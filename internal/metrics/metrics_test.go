package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHelpersExposed(t *testing.T) {
	SetSessionState("connected")
	SetDirectorySize(3)
	RecordDirectoryAdd("bulk")
	RecordDirectoryAdd("live")
	RecordDirectoryEventDropped()
	RecordSubtreeFetch("merged", 5*time.Millisecond)
	SetConnections(2, 1)
	RecordConnectionDropped("unknown_factory")
	RecordDNSLookup(true)
	RecordDNSLookup(false)
	RecordHubRequest("find", time.Millisecond, true)
	RecordSSEEvent("terminal")
	RecordSnapshot("file", time.Millisecond, true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`hubwatch_session_state{state="connected"} 1`,
		`hubwatch_session_state{state="connecting"} 0`,
		`hubwatch_directory_terminals 3`,
		`hubwatch_connections{state="connected"} 2`,
		`hubwatch_subtree_fetches_total{outcome="merged"}`,
		`hubwatch_connection_events_dropped_total{reason="unknown_factory"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
