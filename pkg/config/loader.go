package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 NDN_NDN_ROOT、NDN_ARCHIVE_TYPE
const EnvPrefix = "NDN"

// DirName 是默认的 manager 根目录名
const DirName = ".ndn"

// Load 初始化全局 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	setDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		// 当前目录 -> ./.ndn -> ~/.ndn
		viper.AddConfigPath(".")
		viper.AddConfigPath(DirName)
		viper.AddConfigPath(filepath.Join(home, DirName))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			slog.Debug("no config file found, using defaults and env")
			return nil
		}
		return fmt.Errorf("fatal error config file: %w", err)
	}
	slog.Debug("using config file", "path", viper.ConfigFileUsed())
	return nil
}

func setDefaults(v *viper.Viper) {
	wd, _ := os.Getwd()
	v.SetDefault("ndn.root", filepath.Join(wd, DirName))
	v.SetDefault("ndn.mgr_id", "default")
	v.SetDefault("ndn.local_stores", []string{"./store"})
	v.SetDefault("ndn.local_cache", "")
	v.SetDefault("ndn.mmap_cache_dir", "")
	v.SetDefault("ndn.auto_cache", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("archive.type", "none")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("cache.ttl", "24h")

	v.SetDefault("objmap.storage", "sqlite")
	v.SetDefault("chunk.mode", "fix")
	v.SetDefault("chunk.fix_size", 32*1024*1024)
	v.SetDefault("chunk.hash", "sha256")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
