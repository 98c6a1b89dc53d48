package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"ndnstore/pkg/core"
	"ndnstore/pkg/storage"
)

// zstSuffix 归档文件统一用 zstd 压缩
const zstSuffix = ".zst"

// Adapter 实现了 storage.Store 接口，数据以 zstd 压缩存放在本地目录
type Adapter struct {
	rootPath string // 比如: /home/user/.ndn/archive
	level    zstd.EncoderLevel
}

// NewAdapter 创建一个新的磁盘归档适配器
func NewAdapter(root string) (*Adapter, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: root, level: zstd.SpeedDefault}, nil
}

// layout 返回 chunk 对应的物理路径
// 策略：使用前 2 个 hex 字符作为子目录 (Sharding)
func (s *Adapter) layout(id core.ChunkId) string {
	return filepath.Join(s.rootPath, filepath.FromSlash(storage.ObjectKey(id))) + zstSuffix
}

func (s *Adapter) Put(ctx context.Context, id core.ChunkId, r io.Reader, size uint64) error {
	targetPath := s.layout(id)

	// 1. 检查是否存在 (幂等性)
	if _, err := os.Stat(targetPath); err == nil {
		return nil
	}

	// 2. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// 3. 原子写入: 先压缩到临时文件，再 Rename
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	enc, err := zstd.NewWriter(tempFile, zstd.WithEncoderLevel(s.level))
	if err != nil {
		tempFile.Close()
		return err
	}
	n, err := io.Copy(enc, r)
	if err == nil {
		err = enc.Close()
	} else {
		enc.Close()
	}
	if err != nil {
		tempFile.Close()
		return fmt.Errorf("%w: archive chunk %s: %w", core.ErrIO, id, err)
	}
	if uint64(n) != size {
		tempFile.Close()
		return fmt.Errorf("%w: archive chunk %s got %d bytes, want %d", core.ErrInvalidData, id, n, size)
	}
	if err := tempFile.Close(); err != nil { // 必须先关闭才能 Rename
		return err
	}

	// 4. 移动到最终位置
	return os.Rename(tempFile.Name(), targetPath)
}

// zstdFile 关闭时同时释放解码器和文件
type zstdFile struct {
	io.ReadCloser
	f *os.File
}

func (z *zstdFile) Close() error {
	z.ReadCloser.Close()
	return z.f.Close()
}

func (s *Adapter) Get(ctx context.Context, id core.ChunkId) (io.ReadCloser, error) {
	f, err := os.Open(s.layout(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: archived chunk %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidData, err)
	}
	return &zstdFile{ReadCloser: dec.IOReadCloser(), f: f}, nil
}

func (s *Adapter) Has(ctx context.Context, id core.ChunkId) (bool, error) {
	_, err := os.Stat(s.layout(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *Adapter) Delete(ctx context.Context, id core.ChunkId) error {
	err := os.Remove(s.layout(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
