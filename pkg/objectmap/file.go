package objectmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"ndnstore/pkg/core"
	"ndnstore/pkg/types"
)

// fileFormat 是单文件存储的 CBOR 结构
type fileFormat struct {
	Version int              `cbor:"1,keyasint"`
	Items   map[string]entry `cbor:"2,keyasint"`
}

const fileFormatVersion = 1

// FileStorage 把全部条目保存在一个 CBOR 文件里
// 修改先落在内存，Flush / Close 时整体写回
type FileStorage struct {
	*MemoryStorage
	path  string
	mu    sync.Mutex
	dirty bool
}

var _ Storage = (*FileStorage)(nil)

func OpenFileStorage(path string, readOnly bool) (*FileStorage, error) {
	fs := &FileStorage{MemoryStorage: NewMemoryStorage(readOnly), path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if readOnly {
			return nil, fmt.Errorf("%w: object map file %s", core.ErrNotFound, path)
		}
		return fs, nil
	case err != nil:
		return nil, fmt.Errorf("%w: read %s: %v", core.ErrIO, path, err)
	}

	var ff fileFormat
	if err := core.DecodeObject(data, &ff); err != nil {
		return nil, fmt.Errorf("object map file %s: %w", path, err)
	}
	fs.load(ff.Items)
	return fs, nil
}

func (f *FileStorage) markDirty() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

func (f *FileStorage) Put(ctx context.Context, key string, id core.ObjId) error {
	if err := f.MemoryStorage.Put(ctx, key, id); err != nil {
		return err
	}
	f.markDirty()
	return nil
}

func (f *FileStorage) Remove(ctx context.Context, key string) (core.ObjId, error) {
	id, err := f.MemoryStorage.Remove(ctx, key)
	if err != nil {
		return id, err
	}
	f.markDirty()
	return id, nil
}

func (f *FileStorage) UpdateMtreeIndex(ctx context.Context, key string, index uint64) error {
	if err := f.MemoryStorage.UpdateMtreeIndex(ctx, key, index); err != nil {
		return err
	}
	if !f.readOnly {
		f.markDirty()
	}
	return nil
}

// writeTo 原子写入: 先写临时文件再 rename
func (f *FileStorage) writeTo(path string) error {
	data, err := core.EncodeCanonical(fileFormat{Version: fileFormatVersion, Items: f.snapshot()})
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	tmp, err := os.CreateTemp(dir, "objmap-*")
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	return nil
}

func (f *FileStorage) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty || f.readOnly {
		return nil
	}
	if err := f.writeTo(f.path); err != nil {
		return err
	}
	f.dirty = false
	slog.Debug("object map file flushed", "path", f.path)
	return nil
}

func (f *FileStorage) Clone(ctx context.Context, target string, readOnly bool) (Storage, error) {
	if target == "" || target == f.path {
		return nil, fmt.Errorf("%w: clone target %q", core.ErrInvalidParam, target)
	}
	if _, err := os.Stat(target); err == nil {
		return nil, fmt.Errorf("%w: clone target %s", core.ErrAlreadyExists, target)
	}
	if err := f.writeTo(target); err != nil {
		return nil, err
	}
	return OpenFileStorage(target, readOnly)
}

func (f *FileStorage) Path() string                   { return f.path }
func (f *FileStorage) StorageType() types.StorageType { return types.StorageFile }

func (f *FileStorage) Close() error {
	return f.Flush(context.Background())
}
