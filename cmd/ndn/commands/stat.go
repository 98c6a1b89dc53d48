package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat <objid|/ndn/path>",
	Short: "Show structured information about an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		id, err := resolveTarget(ctx, args[0])
		if err != nil {
			return err
		}
		if strings.HasPrefix(args[0], "/") {
			fmt.Fprintf(out, "Path:    %s -> %s\n", args[0], id)
		}
		refs, err := NDN.Mgr.GetRefCount(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Refs:    %d\n", refs)
		return NDN.Exporter.PrintObject(ctx, id, out)
	},
}

func init() {
	rootCmd.AddCommand(statCmd)
}
