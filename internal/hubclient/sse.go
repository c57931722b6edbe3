package hubclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/metrics"
)

const (
	eventTerminal   = "terminal"
	eventConnection = "connection"
)

// terminalEvent is the payload of a "terminal" stream event. Info carries
// the hub's attached information blob verbatim as text.
type terminalEvent struct {
	Added bool   `json:"added"`
	Info  string `json:"info,omitempty"`
	wireTerminal
}

// streamEvents follows the event stream, reconnecting with backoff, until
// the client is closed or SSEMaxFailures consecutive attempts fail.
func (c *Client) streamEvents() {
	delay := c.cfg.SSEReconnectMin
	failures := 0

	for {
		if c.ctx.Err() != nil {
			return
		}

		established, err := c.connectStream()
		if c.ctx.Err() != nil {
			return
		}
		if established {
			failures = 0
			delay = c.cfg.SSEReconnectMin
		}
		failures++
		if c.cfg.SSEMaxFailures > 0 && failures >= c.cfg.SSEMaxFailures {
			c.log.Error("giving up on hub event stream", zap.Int("failures", failures), zap.Error(err))
			return
		}

		c.log.Warn("hub event stream interrupted",
			zap.Error(err),
			zap.Duration("reconnect_in", delay))
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.SSEReconnectMax {
			delay = c.cfg.SSEReconnectMax
		}
	}
}

// connectStream reads one stream connection to its end. established reports
// whether the gateway accepted the subscription.
func (c *Client) connectStream() (established bool, err error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.baseURL+"/api/v1/events", nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.applyAuth(req)

	resp, err := c.sseClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, &StatusError{Endpoint: "events", StatusCode: resp.StatusCode}
	}
	c.log.Info("hub event stream connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var eventType string
	var data []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(data) > 0 {
				c.dispatch(eventType, strings.Join(data, "\n"))
			}
			eventType = ""
			data = data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("read: %w", err)
	}
	return true, fmt.Errorf("connection closed")
}

// dispatch decodes one event and publishes it. A malformed event is reported
// and dropped on its own.
func (c *Client) dispatch(eventType, data string) {
	switch eventType {
	case eventTerminal:
		var ev terminalEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.malformed(eventType, err)
			return
		}
		rec, err := ev.record()
		if err != nil {
			c.malformed(eventType, err)
			return
		}
		out := hub.DirectoryEvent{Added: ev.Added, Record: rec}
		if ev.Info != "" {
			out.Info = json.RawMessage(ev.Info)
		}
		metrics.RecordSSEEvent(eventType)
		c.dirEvents.Publish(out)

	case eventConnection:
		var info hub.ConnectionInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			c.malformed(eventType, err)
			return
		}
		metrics.RecordSSEEvent(eventType)
		c.connEvents.Publish(info)

	default:
		c.log.Debug("ignoring hub event", zap.String("type", eventType))
	}
}

func (c *Client) malformed(eventType string, err error) {
	metrics.RecordSSEEvent("malformed")
	c.cfg.Reporter.Report(fmt.Errorf("%w: %s: %w", ErrMalformedEvent, eventType, err))
}
