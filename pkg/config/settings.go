package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ndnstore/pkg/core"
	"ndnstore/pkg/meta"
	"ndnstore/pkg/types"
)

// Settings 是从 Viper 读出的一份类型化配置
type Settings struct {
	Root         string
	MgrId        string
	LocalStores  []string
	LocalCache   string
	MmapCacheDir string
	AutoCache    bool

	Database meta.Config
	Archive  ArchiveSettings
	Cache    CacheSettings

	ObjMapStorage types.StorageType
	ChunkMode     string
	FixSize       uint64
	HashMethod    core.HashMethod

	LogLevel  string
	LogFormat string
}

type ArchiveSettings struct {
	Type string // none / disk / s3
	Path string
	S3   S3Settings
}

type S3Settings struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
}

type CacheSettings struct {
	RedisURL string
	TTL      time.Duration
}

// Current 读取全局 Viper
func Current() (*Settings, error) {
	return FromViper(viper.GetViper())
}

// FromViper 校验并解析各个枚举值
func FromViper(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		Root:         v.GetString("ndn.root"),
		MgrId:        v.GetString("ndn.mgr_id"),
		LocalStores:  v.GetStringSlice("ndn.local_stores"),
		LocalCache:   v.GetString("ndn.local_cache"),
		MmapCacheDir: v.GetString("ndn.mmap_cache_dir"),
		AutoCache:    v.GetBool("ndn.auto_cache"),
		Database: meta.Config{
			Driver:   v.GetString("database.driver"),
			Path:     v.GetString("database.path"),
			DSN:      v.GetString("database.dsn"),
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			LogLevel: v.GetString("database.log_level"),
		},
		Archive: ArchiveSettings{
			Type: strings.ToLower(v.GetString("archive.type")),
			Path: v.GetString("archive.path"),
			S3: S3Settings{
				Endpoint:  v.GetString("archive.s3.endpoint"),
				Region:    v.GetString("archive.s3.region"),
				Bucket:    v.GetString("archive.s3.bucket"),
				AccessKey: v.GetString("archive.s3.access_key"),
				SecretKey: v.GetString("archive.s3.secret_key"),
				Prefix:    v.GetString("archive.s3.prefix"),
			},
		},
		Cache: CacheSettings{
			RedisURL: v.GetString("cache.redis_url"),
			TTL:      v.GetDuration("cache.ttl"),
		},
		ObjMapStorage: types.StorageType(strings.ToLower(v.GetString("objmap.storage"))),
		ChunkMode:     strings.ToLower(v.GetString("chunk.mode")),
		FixSize:       v.GetUint64("chunk.fix_size"),
		LogLevel:      strings.ToLower(v.GetString("log.level")),
		LogFormat:     strings.ToLower(v.GetString("log.format")),
	}

	if s.Root == "" {
		return nil, fmt.Errorf("%w: ndn.root is not set", core.ErrInvalidParam)
	}
	if len(s.LocalStores) == 0 {
		return nil, fmt.Errorf("%w: ndn.local_stores is empty", core.ErrInvalidParam)
	}

	switch s.Database.Driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("%w: unsupported database driver %q", core.ErrInvalidParam, s.Database.Driver)
	}
	if s.Database.Driver == "sqlite" && s.Database.Path != "" && !filepath.IsAbs(s.Database.Path) {
		s.Database.Path = filepath.Join(s.Root, s.Database.Path)
	}

	switch s.Archive.Type {
	case "", "none", "disk", "s3":
	default:
		return nil, fmt.Errorf("%w: unsupported archive type %q", core.ErrInvalidParam, s.Archive.Type)
	}

	switch s.ObjMapStorage {
	case types.StorageMemory, types.StorageFile, types.StorageSQLite, types.StorageLevelDB:
	default:
		return nil, fmt.Errorf("%w: unsupported objmap storage %q", core.ErrInvalidParam, s.ObjMapStorage)
	}

	switch s.ChunkMode {
	case "fix", "cdc":
	default:
		return nil, fmt.Errorf("%w: unsupported chunk mode %q", core.ErrInvalidParam, s.ChunkMode)
	}
	if s.FixSize == 0 || s.FixSize > core.MaxChunkSize {
		return nil, fmt.Errorf("%w: chunk.fix_size %d out of range", core.ErrInvalidParam, s.FixSize)
	}

	m, err := core.ParseHashMethod(strings.ToLower(v.GetString("chunk.hash")))
	if err != nil {
		return nil, err
	}
	s.HashMethod = m

	return s, nil
}
