package objectmap

import (
	"context"
	"fmt"

	"ndnstore/pkg/core"
	"ndnstore/pkg/types"
)

// Storage 是 ObjectMap 的后端
// 所有实现都必须按 key 升序枚举，叶子顺序依赖于此
type Storage interface {
	Get(ctx context.Context, key string) (core.ObjId, error)
	Put(ctx context.Context, key string, id core.ObjId) error
	// Remove 返回被删除的 id，不存在时返回 ErrNotFound
	Remove(ctx context.Context, key string) (core.ObjId, error)
	// List 返回第 page 页 (从 0 开始) 的 key
	List(ctx context.Context, page, pageSize int) ([]string, error)
	Iterate(ctx context.Context, fn func(key string, id core.ObjId) error) error
	Stat(ctx context.Context) (uint64, error)

	UpdateMtreeIndex(ctx context.Context, key string, index uint64) error
	GetMtreeIndex(ctx context.Context, key string) (uint64, error)

	// Clone 复制出一份独立的存储
	Clone(ctx context.Context, target string, readOnly bool) (Storage, error)
	Flush(ctx context.Context) error
	Path() string
	StorageType() types.StorageType
	IsReadOnly() bool
	Close() error
}

// entry 是持久化的条目 (file / leveldb 后端)
type entry struct {
	ObjId core.ObjId `cbor:"1,keyasint"`
	Index *uint64    `cbor:"2,keyasint,omitempty"`
}

// OpenStorage 按类型打开存储，memory 类型忽略 path
func OpenStorage(typ types.StorageType, path string, readOnly bool) (Storage, error) {
	switch typ {
	case types.StorageMemory:
		return NewMemoryStorage(readOnly), nil
	case types.StorageFile:
		return OpenFileStorage(path, readOnly)
	case types.StorageSQLite:
		return OpenSQLiteStorage(path, readOnly)
	case types.StorageLevelDB:
		return OpenLevelDBStorage(path, readOnly)
	default:
		return nil, fmt.Errorf("%w: storage type %q", core.ErrUnsupported, typ)
	}
}

func readOnlyErr(path string) error {
	return fmt.Errorf("%w: object map storage %q is read-only", core.ErrPermissionDenied, path)
}

func notFoundErr(key string) error {
	return fmt.Errorf("%w: object map key %q", core.ErrNotFound, key)
}

func pageBounds(total, page, pageSize int) (int, int, error) {
	if page < 0 || pageSize <= 0 {
		return 0, 0, fmt.Errorf("%w: page %d size %d", core.ErrInvalidParam, page, pageSize)
	}
	start := page * pageSize
	if start >= total {
		return 0, 0, nil
	}
	return start, min(start+pageSize, total), nil
}
