package chunkmgr

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/exp/mmap"

	"ndnstore/pkg/core"
)

// mmapCache 是一个平铺目录: {dir}/{chunk base32}，只读时通过 mmap 访问
type mmapCache struct {
	dir string
}

func newMmapCache(dir string) (*mmapCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create mmap cache dir: %v", core.ErrIO, err)
	}
	return &mmapCache{dir: dir}, nil
}

func (c *mmapCache) path(id core.ChunkId) string {
	return filepath.Join(c.dir, id.Base32())
}

func (c *mmapCache) has(id core.ChunkId) bool {
	_, err := os.Stat(c.path(id))
	return err == nil
}

// mmapReader 把 mmap.ReaderAt 包装成 ReadSeekCloser
type mmapReader struct {
	*io.SectionReader
	ra *mmap.ReaderAt
}

func (r *mmapReader) Close() error { return r.ra.Close() }

func (c *mmapCache) open(id core.ChunkId, offset uint64) (io.ReadSeekCloser, uint64, error) {
	ra, err := mmap.Open(c.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: mmap cache %s", core.ErrNotFound, id)
		}
		return nil, 0, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	size := uint64(ra.Len())
	if offset > size {
		ra.Close()
		return nil, 0, fmt.Errorf("%w: offset %d > chunk size %d", core.ErrOffsetTooLarge, offset, size)
	}
	r := &mmapReader{SectionReader: io.NewSectionReader(ra, 0, int64(size)), ra: ra}
	r.Seek(int64(offset), io.SeekStart)
	return r, size, nil
}

// put 原子写入一个完整 chunk
func (c *mmapCache) put(id core.ChunkId, r io.Reader) error {
	tmp, err := os.CreateTemp(c.dir, ".fill-*")
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path(id))
}

func (c *mmapCache) remove(id core.ChunkId) error {
	err := os.Remove(c.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	return nil
}
