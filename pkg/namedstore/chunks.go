package namedstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"ndnstore/pkg/core"
	"ndnstore/pkg/meta"
	"ndnstore/pkg/types"
)

// ChunkStat 是 QueryChunkState 的结果
type ChunkStat struct {
	State    types.ChunkState
	Size     uint64
	Progress string
}

// QueryChunkState 查询 chunk 自身的记录，不跟随 link
// 不存在时返回 ChunkStateNotExist 而不是错误
func (s *Store) QueryChunkState(ctx context.Context, id core.ChunkId) (ChunkStat, error) {
	item, err := s.repo.GetChunk(ctx, id.String())
	if errors.Is(err, core.ErrNotFound) {
		return ChunkStat{State: types.ChunkStateNotExist}, nil
	}
	if err != nil {
		return ChunkStat{}, err
	}
	return ChunkStat{State: item.ChunkState, Size: item.ChunkSize, Progress: item.Progress}, nil
}

// QueryChunkById 返回 chunk 的记录；没有记录但有 link 时返回 Link 状态
// PartOf 的大小是区间长度，SameAs 的大小是目标的大小
func (s *Store) QueryChunkById(ctx context.Context, id core.ChunkId) (*meta.ChunkItem, error) {
	item, err := s.repo.GetChunk(ctx, id.String())
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	link, err := s.repo.GetLink(ctx, id.String())
	if err != nil {
		return nil, err
	}
	out := &meta.ChunkItem{ChunkId: id.String(), ChunkState: types.ChunkStateLink}
	if link.Kind == core.LinkPartOf {
		out.ChunkSize = link.Range.Len()
		return out, nil
	}
	if span, err := s.resolveChunk(ctx, id); err == nil {
		out.ChunkSize = span.length
	}
	return out, nil
}

// IsChunkExist 只有 Completed (或能解析到 Completed 的 link) 才算存在
// 自身记录的大小为 0 时向 link 目标多查一层
func (s *Store) IsChunkExist(ctx context.Context, id core.ChunkId) (bool, uint64, error) {
	item, err := s.QueryChunkById(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}

	switch item.ChunkState {
	case types.ChunkStateCompleted:
		return true, item.ChunkSize, nil
	case types.ChunkStateLink:
		span, err := s.resolveChunk(ctx, id)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return false, 0, nil
			}
			return false, 0, err
		}
		size := item.ChunkSize
		if size == 0 {
			size = span.length
		}
		return true, size, nil
	default:
		return false, 0, nil
	}
}

// PutChunk 一次性写入完整的 chunk
// 已完成的 chunk 返回 core.ErrAlreadyExists，正在写入的返回 core.ErrInvalidState
func (s *Store) PutChunk(ctx context.Context, id core.ChunkId, data []byte, verify bool) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if verify {
		if err := core.VerifyChunkData(id, data); err != nil {
			slog.Error("put chunk rejected", "store", s.id, "chunk", id, "err", err)
			return err
		}
	} else if err := checkDeclaredSize(id, uint64(len(data))); err != nil {
		return err
	}

	if err := s.acquireWriter(id); err != nil {
		return err
	}
	defer s.releaseWriter(id)

	stat, err := s.QueryChunkState(ctx, id)
	if err != nil {
		return err
	}
	switch stat.State {
	case types.ChunkStateCompleted:
		return fmt.Errorf("%w: chunk %s", core.ErrAlreadyExists, id)
	case types.ChunkStateIncomplete:
		// 整块写入覆盖一个中断的写入
		os.Remove(s.tempPath(id))
	}

	if err := writeFileAtomic(s.ChunkPath(id), data); err != nil {
		return err
	}
	if err := s.repo.PutCompletedChunk(ctx, id.String(), uint64(len(data)), ""); err != nil {
		os.Remove(s.ChunkPath(id))
		return err
	}
	slog.Debug("chunk put", "store", s.id, "chunk", id, "size", len(data))
	return nil
}

// ChunkData 是 PutChunks 的一项
type ChunkData struct {
	Id   core.ChunkId
	Data []byte
}

// PutChunks 批量写入，已经存在的 chunk 跳过
func (s *Store) PutChunks(ctx context.Context, chunks []ChunkData, verify bool) error {
	for _, c := range chunks {
		err := s.PutChunk(ctx, c.Id, c.Data, verify)
		if err != nil && !errors.Is(err, core.ErrAlreadyExists) {
			return fmt.Errorf("put chunk %s: %w", c.Id, err)
		}
	}
	return nil
}

// writeFileAtomic 先写临时文件再 rename，要么不存在要么完整
func writeFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	tmp, err := os.CreateTemp(dir, "put-*")
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
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	return nil
}

// GetChunkData 读出整个 chunk
func (s *Store) GetChunkData(ctx context.Context, id core.ChunkId) ([]byte, error) {
	r, size, err := s.OpenChunkReader(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read chunk %s: %v", core.ErrIO, id, err)
	}
	return buf, nil
}

// GetChunkPiece 读取 [offset, offset+length)
func (s *Store) GetChunkPiece(ctx context.Context, id core.ChunkId, offset, length uint64) ([]byte, error) {
	r, size, err := s.OpenChunkReader(ctx, id, offset)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if length > size-offset {
		return nil, fmt.Errorf("%w: piece %d+%d beyond chunk size %d", core.ErrOffsetTooLarge, offset, length, size)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read chunk %s: %v", core.ErrIO, id, err)
	}
	return buf, nil
}

// RemoveChunk 删除 chunk 文件和记录 (包括中断的临时文件)
func (s *Store) RemoveChunk(ctx context.Context, id core.ChunkId) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.acquireWriter(id); err != nil {
		return err
	}
	defer s.releaseWriter(id)

	for _, p := range []string{s.ChunkPath(id), s.tempPath(id)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %v", core.ErrIO, err)
		}
	}
	if err := s.repo.RemoveChunk(ctx, id.String()); err != nil {
		return err
	}
	slog.Info("chunk removed", "store", s.id, "chunk", id)
	return nil
}

// ImportChunk 从流中写入完整的 chunk，边写边算 hash，不符时丢弃并返回 core.ErrVerify
// 用于从归档层或其它 store 拷贝，调用方不需要事先知道大小
func (s *Store) ImportChunk(ctx context.Context, id core.ChunkId, r io.Reader) (uint64, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}
	if err := s.acquireWriter(id); err != nil {
		return 0, err
	}
	defer s.releaseWriter(id)

	stat, err := s.QueryChunkState(ctx, id)
	if err != nil {
		return 0, err
	}
	if stat.State == types.ChunkStateCompleted {
		return 0, fmt.Errorf("%w: chunk %s", core.ErrAlreadyExists, id)
	}

	final := s.ChunkPath(id)
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	tmp, err := os.CreateTemp(dir, "import-*")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, core.MaxChunkSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("%w: import chunk %s: %v", core.ErrIO, id, err)
	}
	if n > core.MaxChunkSize {
		return 0, fmt.Errorf("%w: chunk %s exceeds size limit", core.ErrInvalidData, id)
	}

	size := uint64(n)
	if err := verifyChunkFile(id, tmp.Name(), size); err != nil {
		slog.Error("import chunk rejected", "store", s.id, "chunk", id, "err", err)
		return 0, err
	}
	if stat.State == types.ChunkStateIncomplete {
		os.Remove(s.tempPath(id))
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	if err := s.repo.PutCompletedChunk(ctx, id.String(), size, ""); err != nil {
		os.Remove(final)
		return 0, err
	}
	slog.Debug("chunk imported", "store", s.id, "chunk", id, "size", size)
	return size, nil
}
