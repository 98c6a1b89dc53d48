package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ndnstore/pkg/app"
	"ndnstore/pkg/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an ndn manager root",
	Long:  `Create the manager root with its local stores, path index and a default config.yaml.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Current()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(s.Root, 0755); err != nil {
			return fmt.Errorf("failed to create root: %w", err)
		}

		cfgPath := filepath.Join(s.Root, "config.yaml")
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			if err := viper.WriteConfigAs(cfgPath); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
		}

		// 打开一次即可创建 store 和数据库
		a, err := app.NewApp(cmd.Context(), s)
		if err != nil {
			return err
		}
		if err := a.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized ndn manager %q in %s\n", s.MgrId, s.Root)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
