package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ndnstore/pkg/app"
	"ndnstore/pkg/config"
	"ndnstore/pkg/core"
)

var (
	cfgFile string
	// NDN 是子命令共用的应用实例
	NDN *app.App
	// ownApp 表示 NDN 由本次命令创建，需要在结束时关闭
	ownApp bool
)

var rootCmd = &cobra.Command{
	Use:           "ndn",
	Short:         "ndn: content-addressed named data store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Current()
		if err != nil {
			return err
		}
		app.SetupLogger(cmd.ErrOrStderr(), s.LogLevel, s.LogFormat)

		// init 自己负责创建目录
		if cmd.Name() == "init" || NDN != nil {
			return nil
		}
		if _, err := os.Stat(s.Root); os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist (did you run 'ndn init'?)", s.Root)
		}
		NDN, err = app.NewApp(cmd.Context(), s)
		if err != nil {
			return fmt.Errorf("failed to initialize ndn: %w", err)
		}
		ownApp = true
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeApp()
	},
}

// closeApp 关闭本次命令创建的 App；RunE 出错时 cobra 不会调用 PostRun
func closeApp() error {
	if !ownApp || NDN == nil {
		return nil
	}
	err := NDN.Close()
	NDN, ownApp = nil, false
	return err
}

// Execute 是入口
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if cerr := closeApp(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./.ndn/config.yaml or $HOME/.ndn/config.yaml)")
	flags.String("root", "", "manager root directory")
	flags.String("mgr-id", "", "chunk manager id")
	flags.String("log-level", "", "debug|info|warn|error")
	flags.Bool("auto-cache", false, "copy chunks into the local cache when reading")

	for key, flag := range map[string]string{
		"ndn.root":       "root",
		"ndn.mgr_id":     "mgr-id",
		"log.level":      "log-level",
		"ndn.auto_cache": "auto-cache",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}
}

// resolveTarget 以 "/" 开头的参数按路径查找，否则解析为 objid
func resolveTarget(ctx context.Context, arg string) (core.ObjId, error) {
	if strings.HasPrefix(arg, "/") {
		return NDN.Mgr.GetObjIdByPath(ctx, arg)
	}
	return core.ParseObjId(arg)
}
