package chunkmgr

import (
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"ndnstore/pkg/meta"
	"ndnstore/pkg/types"
)

const (
	// DefaultMgrId 是进程内默认 manager 的 id
	DefaultMgrId = "default"
	// PathDBFileName 是默认路径索引的 sqlite 文件
	PathDBFileName = "ndn_mgr.db"
	// ObjMapDir 保存已发布的 ObjectMap 存储
	ObjMapDir = "objmaps"
)

// Config 描述一个 ChunkMgr 的各层存储
type Config struct {
	MgrId string
	// Root 是 manager 的根目录，相对路径都基于它
	Root string
	// LocalStores 有序，第一个是写入目标
	LocalStores []string
	// LocalCache 为空表示没有磁盘缓存
	LocalCache string
	// MmapCacheDir 为空表示没有 mmap 缓存
	MmapCacheDir string
	// AutoCache 是 OpenChunkReader 未指定时的默认缓存策略
	AutoCache bool

	// PathDB 为零值时使用 Root 下的 sqlite
	PathDB meta.Config
	// ObjMapStorage 是发布 ObjectMap 时持久化用的存储类型
	ObjMapStorage types.StorageType

	// Registerer 为 nil 时指标不注册
	Registerer prometheus.Registerer
	LogLevel   string
}

func (c Config) withDefaults() Config {
	if c.MgrId == "" {
		c.MgrId = DefaultMgrId
	}
	if c.PathDB.Driver == "" {
		c.PathDB.Driver = "sqlite"
	}
	if c.PathDB.Driver == "sqlite" && c.PathDB.Path == "" {
		c.PathDB.Path = filepath.Join(c.Root, PathDBFileName)
	}
	if c.PathDB.LogLevel == "" {
		c.PathDB.LogLevel = c.LogLevel
	}
	if c.ObjMapStorage == "" {
		c.ObjMapStorage = types.StorageSQLite
	}
	return c
}

// resolve 相对路径挂到 Root 下
func (c Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}
