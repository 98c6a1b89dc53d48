package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	putAs          string
	putContentPath string
)

var putCmd = &cobra.Command{
	Use:   "put <local-file-or-dir> [ndn-path]",
	Short: "Publish a local file or directory",
	Long: `Publish a local file as a chunk, a chunk list or a file object, or a directory as an
ObjectMap (files matching .ndnignore are skipped). With an ndn-path the result is bound to it.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		local := args[0]
		ndnPath := ""
		if len(args) == 2 {
			ndnPath = args[1]
		}

		info, err := os.Stat(local)
		if err != nil {
			return err
		}
		if info.IsDir() {
			res, err := NDN.Publisher.PubDirAsObjectMap(ctx, local, ndnPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "dir:     %s\nmap:     %s\nfiles:   %d\nskipped: %d\n",
				res.DirId, res.MapId, res.Object.FileCount, len(res.Skipped))
			return nil
		}

		switch putAs {
		case "chunk":
			id, err := NDN.Publisher.PubLocalFileAsChunk(ctx, local)
			if err != nil {
				return err
			}
			if ndnPath != "" {
				if _, err := NDN.Mgr.SetFile(ctx, ndnPath, id.ObjId(), NDN.Publisher.Options().Owner); err != nil {
					return err
				}
			}
			fmt.Fprintln(out, id)
		case "list":
			list, err := NDN.Publisher.PubLocalFileAsChunkList(ctx, local)
			if err != nil {
				return err
			}
			if ndnPath != "" {
				if _, err := NDN.Mgr.SetFile(ctx, ndnPath, list.ObjId(), NDN.Publisher.Options().Owner); err != nil {
					return err
				}
			}
			fmt.Fprintln(out, list.ObjId())
		case "file":
			if ndnPath == "" {
				return fmt.Errorf("publishing a file object needs an ndn-path")
			}
			res, err := NDN.Publisher.PubLocalFileAsFileObj(ctx, local, ndnPath, putContentPath, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "file:    %s\ncontent: %s\n", res.FileId, res.Content)
		default:
			return fmt.Errorf("unknown --as %q (chunk|list|file)", putAs)
		}
		return nil
	},
}

func init() {
	putCmd.Flags().StringVar(&putAs, "as", "file", "publish a file as chunk|list|file")
	putCmd.Flags().StringVar(&putContentPath, "content-path", "", "also bind the content to this path")
	rootCmd.AddCommand(putCmd)
}
