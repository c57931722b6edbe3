package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fruitsalade/hubwatch/internal/connections"
	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/nstree"
	"github.com/fruitsalade/hubwatch/internal/signature"
)

func printRecord(w io.Writer, rec hub.TerminalRecord) {
	fmt.Fprintf(w, "%s %-18s %s  [%s]\n",
		signature.IconFor(rec.Kind), rec.Kind, rec.Path, rec.Signature)
}

func printRecords(w io.Writer, recs []hub.TerminalRecord) {
	for _, rec := range recs {
		printRecord(w, rec)
	}
	fmt.Fprintf(w, "%d terminal(s)\n", len(recs))
}

func printFactories(w io.Writer, factories []connections.Factory) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FACTORY\tKIND\tREMOTE\tSTATE\tVERSION\tSINCE\tAGO")
	for _, f := range factories {
		if len(f.Connections) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t%s\t-\t\t\t\n", f.ID, f.Kind, hostPort(f.Address, f.Port))
			continue
		}
		for _, c := range f.Connections {
			state := "disconnected"
			if c.Connected {
				state = "connected"
			}
			remote := hostPort(c.RemoteHost, c.RemotePort)
			if c.LookupPending {
				remote += " (resolving)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				f.ID, f.Kind, remote, state, c.RemoteVersion, c.Since, c.Ago)
		}
	}
	tw.Flush()
}

func hostPort(host string, port int) string {
	if port == 0 {
		return host
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(port)
}

func printTree(w io.Writer, root nstree.NodeSnapshot) {
	root.Walk(func(depth int, n nstree.NodeSnapshot) {
		if depth == 0 {
			fmt.Fprintln(w, "/")
			return
		}
		indent := strings.Repeat("  ", depth)
		if n.Folder {
			mark := "+"
			switch {
			case n.ChildrenLoading:
				mark = "~"
			case n.Expanded:
				mark = "-"
			}
			fmt.Fprintf(w, "%s%s %s/\n", indent, mark, n.Segment)
			return
		}
		for _, t := range n.Terminals {
			fmt.Fprintf(w, "%s%s %s  %s  [%s]\n", indent, t.Icon, n.Segment, t.Kind, t.Signature)
		}
	})
}
