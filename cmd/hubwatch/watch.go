package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/hubwatch/internal/connections"
	"github.com/fruitsalade/hubwatch/internal/directory"
	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/logging"
	"github.com/fruitsalade/hubwatch/internal/signature"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow directory adds and print the connection table",
	Long: `watch connects to the hub, loads the terminal directory and the
transport connections, then logs every terminal the hub announces and prints
the connection table on each refresh tick until the hub goes away or the
process is interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Bool("case-sensitive", false, "match bulk queries case-sensitively")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	sess, closeHub, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeHub()

	idx := directory.New()
	idx.RegisterListener(func(ev hub.DirectoryEvent) {
		logging.Info("terminal added",
			zap.String("path", ev.Record.Path),
			zap.String("kind", ev.Record.Kind.String()),
			zap.String("counterpart", signature.CompatibleCounterpart(ev.Record.Kind).String()),
			zap.Uint32("signature", ev.Record.Signature.Raw))
	})

	queries := make([]directory.Query, 0, len(cfg.BulkQueries))
	for _, q := range cfg.BulkQueries {
		queries = append(queries, directory.Query{Substring: q, CaseSensitive: cfg.CaseSensitive})
	}
	detach, err := idx.Attach(ctx, sess, queries...)
	if err != nil {
		return err
	}
	defer detach()

	reg := connections.New(sess, connections.WithRefreshInterval(cfg.RefreshInterval))
	if err := reg.Init(ctx); err != nil {
		return err
	}
	defer reg.Close()
	go reg.Run(ctx)

	done := make(chan error, 1)
	go func() { done <- untilDisconnected(ctx, sess) }()

	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			fmt.Fprintf(out, "\n%s  %d terminal(s)\n", time.Now().Format(time.TimeOnly), idx.Len())
			printFactories(out, reg.Factories())
		}
	}
}
