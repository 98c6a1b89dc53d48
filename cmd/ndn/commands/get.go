package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ndnstore/pkg/core"
)

var getCmd = &cobra.Command{
	Use:   "get <objid|/ndn/path> <local-dest>",
	Short: "Restore content to the local filesystem",
	Long:  `Files, chunks and chunk lists are written to local-dest; dirs and ObjectMaps are restored under it.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		id, err := resolveTarget(ctx, args[0])
		if err != nil {
			return err
		}
		dest := args[1]

		if id.ObjType == core.ObjTypeDir || id.ObjType == core.ObjTypeObjMap {
			count := 0
			err := NDN.Exporter.RestoreDir(ctx, id, dest, func(path string, _ core.ObjId, size uint64) {
				count++
				fmt.Fprintf(out, "restored %s (%d)\n", path, size)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d files restored into %s\n", count, dest)
			return nil
		}

		f, err := os.Create(dest)
		if err != nil {
			return err
		}
		n, err := NDN.Exporter.ExportContent(ctx, id, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
			return err
		}
		fmt.Fprintf(out, "wrote %d bytes to %s\n", n, dest)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
