package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"ndnstore/pkg/chunkmgr"
	"ndnstore/pkg/config"
	"ndnstore/pkg/exporter"
	"ndnstore/pkg/publisher"
	"ndnstore/pkg/storage"
	"ndnstore/pkg/storage/cache"
	"ndnstore/pkg/storage/disk"
	"ndnstore/pkg/storage/s3"
)

// App 是整个应用程序的依赖容器
type App struct {
	Settings  *config.Settings
	Mgr       *chunkmgr.Manager
	Registry  *chunkmgr.Registry
	Publisher *publisher.Publisher
	Exporter  *exporter.Exporter
	Metrics   *prometheus.Registry
}

// NewApp 按配置组装 manager、归档层和发布/导出工具
// 它不知道具体的 CLI 命令
func NewApp(ctx context.Context, s *config.Settings) (*App, error) {
	archive, err := initArchive(ctx, s)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	mgr, err := chunkmgr.New(ctx, chunkmgr.Config{
		MgrId:         s.MgrId,
		Root:          s.Root,
		LocalStores:   s.LocalStores,
		LocalCache:    s.LocalCache,
		MmapCacheDir:  s.MmapCacheDir,
		AutoCache:     s.AutoCache,
		PathDB:        s.Database,
		ObjMapStorage: s.ObjMapStorage,
		Registerer:    reg,
		LogLevel:      s.Database.LogLevel,
	}, archive)
	if err != nil {
		if c, ok := archive.(io.Closer); ok {
			c.Close()
		}
		return nil, fmt.Errorf("failed to init chunk manager: %w", err)
	}

	registry := chunkmgr.NewRegistry()
	if err := registry.Register(mgr); err != nil {
		mgr.Close()
		return nil, err
	}

	mode := publisher.ModeFix
	if s.ChunkMode == "cdc" {
		mode = publisher.ModeCDC
	}
	pub := publisher.New(mgr, publisher.Options{
		HashMethod: s.HashMethod,
		Mode:       mode,
		FixSize:    s.FixSize,
	})

	return &App{
		Settings:  s,
		Mgr:       mgr,
		Registry:  registry,
		Publisher: pub,
		Exporter:  exporter.NewExporter(mgr),
		Metrics:   reg,
	}, nil
}

func (a *App) Close() error {
	return a.Registry.CloseAll()
}

// initArchive 返回 nil 表示没有归档层
// 配置了 redis 时在归档层前面加一层存在性缓存
func initArchive(ctx context.Context, s *config.Settings) (storage.Store, error) {
	var (
		archive storage.Store
		err     error
	)

	switch s.Archive.Type {
	case "", "none":
		return nil, nil
	case "disk":
		path := s.Archive.Path
		if path == "" {
			path = filepath.Join(s.Root, "archive")
		}
		archive, err = disk.NewAdapter(path)
	case "s3":
		archive, err = s3.NewAdapter(ctx, s3.Config{
			Endpoint:        s.Archive.S3.Endpoint,
			Region:          s.Archive.S3.Region,
			Bucket:          s.Archive.S3.Bucket,
			AccessKeyID:     s.Archive.S3.AccessKey,
			SecretAccessKey: s.Archive.S3.SecretKey,
			Prefix:          s.Archive.S3.Prefix,
		})
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", s.Archive.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to init archive: %w", err)
	}

	if s.Cache.RedisURL == "" {
		return archive, nil
	}
	cached, err := cache.NewCachedStore(archive, cache.Config{RedisURL: s.Cache.RedisURL, TTL: s.Cache.TTL})
	if err != nil {
		return nil, fmt.Errorf("failed to init redis cache: %w", err)
	}
	return cached, nil
}

// SetupLogger 按 log.level / log.format 安装默认 slog logger
func SetupLogger(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
