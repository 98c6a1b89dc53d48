package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ndnstore/pkg/core"
	"ndnstore/pkg/objectmap"
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Build ObjectMaps and work with their Merkle proofs",
}

var mapBuildCmd = &cobra.Command{
	Use:   "build <local-dir>",
	Short: "Publish a directory as an ObjectMap and print its id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := NDN.Publisher.PubDirAsObjectMap(cmd.Context(), args[0], "")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.MapId)
		return nil
	},
}

var mapProofCmd = &cobra.Command{
	Use:   "proof <map-id|/ndn/path> <key>",
	Short: "Print the Merkle proof of a key as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := resolveMapId(cmd, args[0])
		if err != nil {
			return err
		}
		om, err := NDN.Mgr.OpenObjectMap(ctx, id)
		if err != nil {
			return err
		}
		defer om.Close()

		proof, err := om.GetObjectProofPath(ctx, args[1])
		if err != nil {
			return err
		}
		if proof == nil {
			return fmt.Errorf("%w: key %q in %s", core.ErrNotFound, args[1], id)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(proof)
	},
}

var mapVerifyCmd = &cobra.Command{
	Use:   "verify <map-id|/ndn/path> <proof.json|->",
	Short: "Verify a proof against the map root",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := resolveMapId(cmd, args[0])
		if err != nil {
			return err
		}
		bodyJSON, err := NDN.Mgr.GetObject(ctx, id, "")
		if err != nil {
			return err
		}
		var body objectmap.Body
		if err := json.Unmarshal([]byte(bodyJSON), &body); err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidData, err)
		}

		var r io.Reader = cmd.InOrStdin()
		if args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		var proof objectmap.Proof
		if err := json.NewDecoder(r).Decode(&proof); err != nil {
			return fmt.Errorf("%w: proof: %v", core.ErrInvalidData, err)
		}

		if err := objectmap.VerifyProof(body.RootHash, body.HashMethod, &proof); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %s -> %s\n", proof.Item.Key, proof.Item.ObjId)
		return nil
	},
}

// resolveMapId 允许传目录对象，取它的 content
func resolveMapId(cmd *cobra.Command, arg string) (core.ObjId, error) {
	id, err := resolveTarget(cmd.Context(), arg)
	if err != nil {
		return core.ObjId{}, err
	}
	if id.ObjType != core.ObjTypeDir {
		return id, nil
	}
	content, err := NDN.Mgr.GetObject(cmd.Context(), id, "content")
	if err != nil {
		return core.ObjId{}, err
	}
	var s string
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return core.ObjId{}, fmt.Errorf("%w: %v", core.ErrInvalidData, err)
	}
	return core.ParseObjId(s)
}

func init() {
	mapCmd.AddCommand(mapBuildCmd, mapProofCmd, mapVerifyCmd)
	rootCmd.AddCommand(mapCmd)
}
