package objectmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"ndnstore/pkg/core"
	"ndnstore/pkg/types"
)

// keyPrefixItem 后面跟 ObjectMap 的 key，value 是 CBOR 编码的 entry
const keyPrefixItem = "ITEM/"

func itemKey(key string) []byte {
	return append([]byte(keyPrefixItem), key...)
}

// LevelDBStorage 基于 goleveldb，key 天然按字节序排列
type LevelDBStorage struct {
	mu       sync.Mutex
	path     string
	readOnly bool
	db       *leveldb.DB
}

var _ Storage = (*LevelDBStorage)(nil)

func OpenLevelDBStorage(path string, readOnly bool) (*LevelDBStorage, error) {
	opts := &opt.Options{
		Compression:    opt.NoCompression,
		ReadOnly:       readOnly,
		ErrorIfMissing: readOnly,
	}

	db, err := leveldb.OpenFile(path, opts)
	if lerrors.IsCorrupted(err) && !readOnly {
		slog.Warn("leveldb corrupted, recovering", "path", path)
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open leveldb %s: %v", core.ErrIO, path, err)
	}
	return &LevelDBStorage{path: path, readOnly: readOnly, db: db}, nil
}

func (l *LevelDBStorage) getEntry(key string) (*entry, error) {
	raw, err := l.db.Get(itemKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, notFoundErr(key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: leveldb get: %v", core.ErrIO, err)
	}
	var e entry
	if err := core.DecodeObject(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (l *LevelDBStorage) putEntry(key string, e entry) error {
	raw, err := core.EncodeCanonical(e)
	if err != nil {
		return err
	}
	if err := l.db.Put(itemKey(key), raw, nil); err != nil {
		return fmt.Errorf("%w: leveldb put: %v", core.ErrIO, err)
	}
	return nil
}

func (l *LevelDBStorage) Get(_ context.Context, key string) (core.ObjId, error) {
	e, err := l.getEntry(key)
	if err != nil {
		return core.ObjId{}, err
	}
	return e.ObjId, nil
}

func (l *LevelDBStorage) Put(_ context.Context, key string, id core.ObjId) error {
	if l.readOnly {
		return readOnlyErr(l.path)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putEntry(key, entry{ObjId: id})
}

func (l *LevelDBStorage) Remove(_ context.Context, key string) (core.ObjId, error) {
	if l.readOnly {
		return core.ObjId{}, readOnlyErr(l.path)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.getEntry(key)
	if err != nil {
		return core.ObjId{}, err
	}
	if err := l.db.Delete(itemKey(key), nil); err != nil {
		return core.ObjId{}, fmt.Errorf("%w: leveldb delete: %v", core.ErrIO, err)
	}
	return e.ObjId, nil
}

// scan 按顺序遍历，fn 返回 false 时停止
func (l *LevelDBStorage) scan(fn func(key string, e entry) (bool, error)) error {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixItem)), nil)
	defer iter.Release()

	for iter.Next() {
		var e entry
		if err := core.DecodeObject(iter.Value(), &e); err != nil {
			return err
		}
		more, err := fn(string(iter.Key()[len(keyPrefixItem):]), e)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("%w: leveldb iterate: %v", core.ErrIO, err)
	}
	return nil
}

func (l *LevelDBStorage) List(_ context.Context, page, pageSize int) ([]string, error) {
	if page < 0 || pageSize <= 0 {
		return nil, fmt.Errorf("%w: page %d size %d", core.ErrInvalidParam, page, pageSize)
	}
	skip := page * pageSize
	var keys []string
	err := l.scan(func(key string, _ entry) (bool, error) {
		if skip > 0 {
			skip--
			return true, nil
		}
		keys = append(keys, key)
		return len(keys) < pageSize, nil
	})
	return keys, err
}

func (l *LevelDBStorage) Iterate(_ context.Context, fn func(key string, id core.ObjId) error) error {
	return l.scan(func(key string, e entry) (bool, error) {
		return true, fn(key, e.ObjId)
	})
}

func (l *LevelDBStorage) Stat(context.Context) (uint64, error) {
	var n uint64
	err := l.scan(func(string, entry) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

func (l *LevelDBStorage) UpdateMtreeIndex(_ context.Context, key string, index uint64) error {
	if l.readOnly {
		return readOnlyErr(l.path)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.getEntry(key)
	if err != nil {
		return err
	}
	e.Index = &index
	return l.putEntry(key, *e)
}

func (l *LevelDBStorage) GetMtreeIndex(_ context.Context, key string) (uint64, error) {
	e, err := l.getEntry(key)
	if err != nil {
		return 0, err
	}
	if e.Index == nil {
		return 0, notFoundErr(key)
	}
	return *e.Index, nil
}

// Clone 把所有条目批量写入 target 处的新库
func (l *LevelDBStorage) Clone(ctx context.Context, target string, readOnly bool) (Storage, error) {
	if target == "" || target == l.path {
		return nil, fmt.Errorf("%w: clone target %q", core.ErrInvalidParam, target)
	}
	if _, err := os.Stat(target); err == nil {
		return nil, fmt.Errorf("%w: clone target %s", core.ErrAlreadyExists, target)
	}

	dst, err := OpenLevelDBStorage(target, false)
	if err != nil {
		return nil, err
	}

	batch := new(leveldb.Batch)
	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixItem)), nil)
	for iter.Next() {
		batch.Put(append([]byte(nil), iter.Key()...), append([]byte(nil), iter.Value()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		dst.Close()
		return nil, fmt.Errorf("%w: leveldb iterate: %v", core.ErrIO, err)
	}
	if err := dst.db.Write(batch, nil); err != nil {
		dst.Close()
		return nil, fmt.Errorf("%w: leveldb write: %v", core.ErrIO, err)
	}

	if !readOnly {
		return dst, nil
	}
	if err := dst.Close(); err != nil {
		return nil, err
	}
	return OpenLevelDBStorage(target, true)
}

func (l *LevelDBStorage) Flush(context.Context) error    { return nil }
func (l *LevelDBStorage) Path() string                   { return l.path }
func (l *LevelDBStorage) StorageType() types.StorageType { return types.StorageLevelDB }
func (l *LevelDBStorage) IsReadOnly() bool               { return l.readOnly }

func (l *LevelDBStorage) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
