package hubclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/signature"
)

// wireTerminal is a terminal as encoded by the gateway.
type wireTerminal struct {
	Path      string        `json:"path"`
	Tag       signature.Tag `json:"tag"`
	Signature uint32        `json:"signature"`
}

func (w wireTerminal) record() (hub.TerminalRecord, error) {
	kind, err := signature.KindFor(w.Tag)
	if err != nil {
		return hub.TerminalRecord{}, fmt.Errorf("terminal %q: %w", w.Path, err)
	}
	return hub.TerminalRecord{Path: w.Path, Kind: kind, Signature: signature.Decode(w.Signature)}, nil
}

// records converts wire terminals, reporting and skipping unknown kinds.
func (c *Client) records(in []wireTerminal) []hub.TerminalRecord {
	out := make([]hub.TerminalRecord, 0, len(in))
	for _, w := range in {
		rec, err := w.record()
		if err != nil {
			c.cfg.Reporter.Report(err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

type sessionAPI struct{ c *Client }

func (s sessionAPI) Alive() *hub.Future[struct{}] { return s.c.alive }
func (s sessionAPI) Dead() *hub.Future[struct{}]  { return s.c.dead }

func (s sessionAPI) ServerTime(ctx context.Context) (time.Time, error) {
	var resp struct {
		Time time.Time `json:"time"`
	}
	if err := s.c.getJSON(ctx, "time", "/api/v1/time", nil, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.Time, nil
}

type directoryAPI struct{ c *Client }

func (d directoryAPI) Find(ctx context.Context, substring string, caseSensitive bool) ([]hub.TerminalRecord, error) {
	q := url.Values{}
	q.Set("q", substring)
	q.Set("cs", strconv.FormatBool(caseSensitive))
	var resp []wireTerminal
	if err := d.c.getJSON(ctx, "terminals", "/api/v1/terminals", q, &resp); err != nil {
		return nil, err
	}
	return d.c.records(resp), nil
}

func (d directoryAPI) Subtree(ctx context.Context, path string) ([]hub.SubtreeChild, error) {
	q := url.Values{}
	q.Set("path", path)
	var resp []struct {
		Segment   string         `json:"segment"`
		Terminals []wireTerminal `json:"terminals"`
	}
	if err := d.c.getJSON(ctx, "subtree", "/api/v1/subtree", q, &resp); err != nil {
		return nil, err
	}
	out := make([]hub.SubtreeChild, 0, len(resp))
	for _, child := range resp {
		out = append(out, hub.SubtreeChild{Segment: child.Segment, Terminals: d.c.records(child.Terminals)})
	}
	return out, nil
}

func (d directoryAPI) OnChanged(fn func(hub.DirectoryEvent)) func() {
	return d.c.dirEvents.Subscribe(fn)
}

type connectionsAPI struct{ c *Client }

func (a connectionsAPI) Factories(ctx context.Context) (hub.FactorySet, error) {
	var resp hub.FactorySet
	err := a.c.getJSON(ctx, "factories", "/api/v1/factories", nil, &resp)
	return resp, err
}

func (a connectionsAPI) All(ctx context.Context) ([]hub.ConnectionInfo, error) {
	var resp []hub.ConnectionInfo
	if err := a.c.getJSON(ctx, "connections", "/api/v1/connections", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (a connectionsAPI) OnChanged(fn func(hub.ConnectionInfo)) func() {
	return a.c.connEvents.Subscribe(fn)
}

type dnsAPI struct{ c *Client }

// Lookup implements hub.Resolver for both IP literals and host names. The
// trailing root dot is dropped.
func (d dnsAPI) Lookup(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		names, err := d.c.resolver.LookupAddr(ctx, host)
		if err != nil {
			return "", fmt.Errorf("lookup %s: %w", host, err)
		}
		if len(names) == 0 {
			return "", fmt.Errorf("lookup %s: no names", host)
		}
		return strings.TrimSuffix(names[0], "."), nil
	}
	cname, err := d.c.resolver.LookupCNAME(ctx, host)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", host, err)
	}
	d.c.log.Debug("resolved host", zap.String("host", host), zap.String("name", cname))
	return strings.TrimSuffix(cname, "."), nil
}

type classifierAPI struct{ c *Client }

// ErrUnknownClassification is returned when the gateway answers with an unrecognized class.
var ErrUnknownClassification = errors.New("unknown signature classification")

func (a classifierAPI) Classify(ctx context.Context, sig signature.Signature) (signature.Classification, error) {
	var resp struct {
		Class string `json:"class"`
	}
	path := "/api/v1/signatures/" + strconv.FormatUint(uint64(sig.Raw), 10) + "/class"
	if err := a.c.getJSON(ctx, "classify", path, nil, &resp); err != nil {
		return signature.Custom, err
	}
	switch strings.ToLower(resp.Class) {
	case "official":
		return signature.Official, nil
	case "reserved":
		return signature.Reserved, nil
	case "custom":
		return signature.Custom, nil
	default:
		return signature.Custom, fmt.Errorf("%w: %q", ErrUnknownClassification, resp.Class)
	}
}
