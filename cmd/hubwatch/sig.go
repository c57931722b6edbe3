package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/hubwatch/internal/signature"
)

var sigCmd = &cobra.Command{
	Use:   "sig",
	Short: "Decode and edit terminal signatures offline",
}

var sigDecodeCmd = &cobra.Command{
	Use:   "decode <raw>",
	Short: "Print both halves of a signature",
	Long:  "decode prints the halves of a raw signature given in decimal, hex (0x) or binary (0b).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := parseRaw(args[0])
		if err != nil {
			return err
		}
		printSignature(cmd.OutOrStdout(), signature.Decode(raw))
		return nil
	},
}

var sigEditCmd = &cobra.Command{
	Use:   "edit <raw>",
	Short: "Apply edits to one half of a signature and print the result",
	Long: `edit applies the requested edits to one half of a raw signature, in the
order primitive, list flag, timestamp flag, and prints the new signature.`,
	Args: cobra.ExactArgs(1),
	RunE: runSigEdit,
}

func init() {
	f := sigEditCmd.Flags()
	f.String("half", "lower", "half to edit: lower or upper")
	f.Int("slot", 0, "primitive slot to set: 1 or 2")
	f.String("primitive", "", "primitive to store in --slot, e.g. int32")
	f.Bool("toggle-list", false, "flip the list flag")
	f.Bool("toggle-timestamp", false, "flip the timestamp flag")

	sigCmd.AddCommand(sigDecodeCmd, sigEditCmd)
	rootCmd.AddCommand(sigCmd)
}

func runSigEdit(cmd *cobra.Command, args []string) error {
	raw, err := parseRaw(args[0])
	if err != nil {
		return err
	}
	f := cmd.Flags()

	halfName, _ := f.GetString("half")
	var half signature.Half
	switch halfName {
	case "lower":
		half = signature.Lower
	case "upper":
		half = signature.Upper
	default:
		return fmt.Errorf("invalid --half %q (want lower or upper)", halfName)
	}

	if f.Changed("primitive") || f.Changed("slot") {
		slotNum, _ := f.GetInt("slot")
		var slot signature.Slot
		switch slotNum {
		case 1:
			slot = signature.First
		case 2:
			slot = signature.Second
		default:
			return fmt.Errorf("invalid --slot %d (want 1 or 2)", slotNum)
		}
		name, _ := f.GetString("primitive")
		code, err := signature.ParsePrimitive(name)
		if err != nil {
			return err
		}
		raw = signature.SetPrimitive(raw, half, slot, code)
	}
	if on, _ := f.GetBool("toggle-list"); on {
		raw = signature.ToggleList(raw, half)
	}
	if on, _ := f.GetBool("toggle-timestamp"); on {
		raw = signature.ToggleTimestamp(raw, half)
	}

	printSignature(cmd.OutOrStdout(), signature.Decode(raw))
	return nil
}

func parseRaw(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid signature %q: %w", s, err)
	}
	return uint32(v), nil
}

func printSignature(w io.Writer, sig signature.Signature) {
	fmt.Fprintf(w, "raw:   %d (0x%08x)\n", sig.Raw, sig.Raw)
	fmt.Fprintf(w, "lower: %s\n", sig.Lower())
	fmt.Fprintf(w, "upper: %s\n", sig.Upper())
	fmt.Fprintf(w, "class: 0x%02x\n", sig.ClassBits())
}
