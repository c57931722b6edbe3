package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/hubwatch/internal/connections"
	"github.com/fruitsalade/hubwatch/internal/directory"
	"github.com/fruitsalade/hubwatch/internal/nstree"
	"github.com/fruitsalade/hubwatch/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export the directory, namespace and connections as JSON",
	Long: `snapshot connects to the hub, loads the terminal directory, the top of
the namespace (all of it with --expand-all) and the connection table, and
writes them as one JSON document to the configured sink.`,
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

func init() {
	f := snapshotCmd.Flags()
	f.String("sink", "", "snapshot sink: file or s3")
	f.String("out", "", "directory for the file sink")
	f.Bool("expand-all", false, "expand every folder before exporting")
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sink, err := newSink(ctx)
	if err != nil {
		return err
	}

	sess, closeHub, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeHub()

	idx := directory.New()
	queries := make([]directory.Query, 0, len(cfg.BulkQueries))
	for _, q := range cfg.BulkQueries {
		queries = append(queries, directory.Query{Substring: q, CaseSensitive: cfg.CaseSensitive})
	}
	detach, err := idx.Attach(ctx, sess, queries...)
	if err != nil {
		return err
	}
	defer detach()

	reg := connections.New(sess)
	if err := reg.Init(ctx); err != nil {
		return err
	}
	defer reg.Close()

	tr := nstree.New(sess, nstree.WithExpandAll(cfg.ExpandAll))
	if _, err := tr.Expand(ctx, tr.Root()).Wait(ctx); err != nil {
		return err
	}

	reg.Refresh(time.Now())
	snap := snapshot.Take(snapshot.Sources{
		SessionID:   sess.ID(),
		Hub:         cfg.HubURL,
		Directory:   idx,
		Tree:        tr,
		Connections: reg,
	}, time.Now())

	location, err := snapshot.Export(ctx, sink, snap)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), location)
	return nil
}

func newSink(ctx context.Context) (snapshot.Sink, error) {
	if cfg.SnapshotSink == "s3" {
		return snapshot.NewS3Sink(ctx, snapshot.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Prefix:    "hubwatch",
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
	}
	return snapshot.FileSink{Dir: cfg.SnapshotPath}, nil
}
