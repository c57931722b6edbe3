package main

import (
	"github.com/spf13/cobra"

	"github.com/fruitsalade/hubwatch/internal/directory"
)

var findCmd = &cobra.Command{
	Use:   "find <substring>",
	Short: "List terminals whose path contains a substring",
	Args:  cobra.ExactArgs(1),
	RunE:  runFind,
}

func init() {
	findCmd.Flags().Bool("case-sensitive", false, "match case-sensitively")
	rootCmd.AddCommand(findCmd)
}

func runFind(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sess, closeHub, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeHub()

	idx := directory.New()
	detach, err := idx.Attach(ctx, sess, directory.Query{Substring: args[0], CaseSensitive: cfg.CaseSensitive})
	if err != nil {
		return err
	}
	detach()

	printRecords(cmd.OutOrStdout(), idx.Records())
	return nil
}
