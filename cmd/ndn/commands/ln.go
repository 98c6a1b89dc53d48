package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ndnstore/pkg/core"
)

var lnCmd = &cobra.Command{
	Use:   "ln <objid> <ndn-path>",
	Short: "Bind a path to an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := core.ParseObjId(args[0])
		if err != nil {
			return err
		}
		old, err := NDN.Mgr.SetFile(ctx, args[1], id, NDN.Publisher.Options().Owner)
		if err != nil {
			return err
		}
		if !old.IsZero() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", args[1], old, id)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[1], id)
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <ndn-path>",
	Short: "Remove a path binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		old, err := NDN.Mgr.RemoveFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s (was %s)\n", args[0], old)
		return nil
	},
}

var rmdirCmd = &cobra.Command{
	Use:   "rmdir <ndn-prefix>",
	Short: "Remove every path under a prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := NDN.Mgr.RemoveDir(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d paths under %s\n", n, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lnCmd, rmCmd, rmdirCmd)
}
