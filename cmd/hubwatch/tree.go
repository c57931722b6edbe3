package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/hubwatch/internal/hub"
	"github.com/fruitsalade/hubwatch/internal/nstree"
	"github.com/fruitsalade/hubwatch/internal/signature"
)

var treeCmd = &cobra.Command{
	Use:   "tree [path...]",
	Short: "Print the hub namespace",
	Long: `tree loads the top level of the hub namespace and prints it. Each path
argument is expanded folder by folder. With --expand-all every folder is
loaded recursively.`,
	RunE: runTree,
}

func init() {
	treeCmd.Flags().Bool("expand-all", false, "expand every folder recursively")
	treeCmd.Flags().Bool("classify", false, "ask the hub to classify each terminal signature")
	rootCmd.AddCommand(treeCmd)
}

func runTree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	sess, closeHub, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeHub()

	tr := nstree.New(sess, nstree.WithExpandAll(cfg.ExpandAll))
	if _, err := tr.Expand(ctx, tr.Root()).Wait(ctx); err != nil {
		return err
	}
	for _, p := range args {
		if err := expandPath(ctx, tr, p); err != nil {
			return err
		}
	}

	snap := tr.Snapshot()
	printTree(out, snap)

	classify, _ := cmd.Flags().GetBool("classify")
	if !classify {
		return nil
	}
	fmt.Fprintln(out)
	var firstErr error
	snap.Walk(func(_ int, n nstree.NodeSnapshot) {
		for _, t := range n.Terminals {
			rec := hub.TerminalRecord{Path: t.Path, Kind: t.Kind, Signature: signature.Decode(t.Raw)}
			class, err := tr.Classify(ctx, rec)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			fmt.Fprintf(out, "%s  %s\n", t.Path, class)
		}
	})
	return firstErr
}

// expandPath expands each folder from the root down to path.
func expandPath(ctx context.Context, tr *nstree.Tree, path string) error {
	prefix := ""
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		prefix += "/" + seg
		n := tr.Find(prefix)
		if n == nil {
			return fmt.Errorf("no such path %q", prefix)
		}
		if !n.IsFolder() {
			return nil
		}
		if _, err := tr.Expand(ctx, n).Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
