package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ndnstore/pkg/core"
)

var (
	catInner  string
	catOffset uint64
)

var catCmd = &cobra.Command{
	Use:   "cat <objid|/ndn/path>",
	Short: "Write the content of an object to stdout",
	Long: `Chunks, chunk lists and file objects are streamed as bytes (redirect with > file).
Other objects are printed as JSON; --inner selects a field such as "content" or "meta/tags/0".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		id, err := resolveTarget(ctx, args[0])
		if err != nil {
			return err
		}

		if catInner != "" || !(id.IsChunk() || id.IsChunkList() || id.ObjType == core.ObjTypeFile) {
			obj, err := NDN.Mgr.GetObject(ctx, id, catInner)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, obj)
			return nil
		}

		if catOffset > 0 {
			r, _, err := NDN.Mgr.OpenContentReader(ctx, id, catOffset, NDN.Settings.AutoCache)
			if err != nil {
				return err
			}
			defer r.Close()
			_, err = io.Copy(out, r)
			return err
		}
		_, err = NDN.Exporter.ExportContent(ctx, id, out)
		return err
	},
}

func init() {
	catCmd.Flags().StringVar(&catInner, "inner", "", "print a field inside a JSON object")
	catCmd.Flags().Uint64Var(&catOffset, "offset", 0, "start reading at this byte offset (unverified)")
	rootCmd.AddCommand(catCmd)
}
