package namedstore

import (
	"context"
	"encoding/json"
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

// Progress 是默认的续传标记
type Progress struct {
	Pos uint64 `json:"pos"`
}

func progressToken(pos uint64) string {
	data, _ := json.Marshal(Progress{Pos: pos})
	return string(data)
}

// ChunkWriter 是写入中的 chunk 的字节流，只能追加
// Close 之后 chunk 仍然是 Incomplete，需要调用 CompleteChunkWriter
type ChunkWriter struct {
	store *Store
	id    core.ChunkId
	file  *os.File
	size  uint64
	pos   uint64

	closed bool
}

var _ io.WriteCloser = (*ChunkWriter)(nil)

func (w *ChunkWriter) ChunkId() core.ChunkId { return w.id }
func (w *ChunkWriter) Pos() uint64           { return w.pos }
func (w *ChunkWriter) Size() uint64          { return w.size }

func (w *ChunkWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("%w: writer of %s is closed", core.ErrInvalidState, w.id)
	}
	if w.pos+uint64(len(p)) > w.size {
		return 0, fmt.Errorf("%w: chunk %s exceeds declared size %d", core.ErrInvalidData, w.id, w.size)
	}
	n, err := w.file.Write(p)
	w.pos += uint64(n)
	if err != nil {
		return n, fmt.Errorf("%w: write chunk %s: %v", core.ErrIO, w.id, err)
	}
	return n, nil
}

// Close 落盘并记录进度，然后释放写权限
func (w *ChunkWriter) Close() error {
	return w.CloseContext(context.Background())
}

func (w *ChunkWriter) CloseContext(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.store.releaseWriter(w.id)

	syncErr := w.file.Sync()
	if err := w.file.Close(); err != nil && syncErr == nil {
		syncErr = err
	}
	if syncErr != nil {
		return fmt.Errorf("%w: close chunk %s: %v", core.ErrIO, w.id, syncErr)
	}
	return w.store.repo.UpdateChunkProgress(ctx, w.id.String(), progressToken(w.pos))
}

// Abort 放弃写入: 删除临时文件和记录
func (w *ChunkWriter) Abort(ctx context.Context) error {
	if !w.closed {
		w.closed = true
		w.file.Close()
		w.store.releaseWriter(w.id)
	}
	return w.store.AbortChunkWriter(ctx, w.id)
}

func checkDeclaredSize(id core.ChunkId, size uint64) error {
	if size > core.MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d exceeds limit", core.ErrInvalidParam, size)
	}
	if length, ok := id.Length(); ok && length != size {
		return fmt.Errorf("%w: chunk %s embeds length %d, declared %d", core.ErrInvalidParam, id, length, size)
	}
	return nil
}

// OpenChunkWriter 打开 chunk 的写入流，返回 writer 和续传标记
//
//   - 已完成: core.ErrAlreadyExists
//   - 写入中: offset 不能超过已写入的字节数，offset 为 0 时接着末尾写
//   - 不存在: offset 必须为 0，创建临时文件和 Incomplete 记录
func (s *Store) OpenChunkWriter(ctx context.Context, id core.ChunkId, size, offset uint64) (*ChunkWriter, string, error) {
	if err := s.checkWritable(); err != nil {
		return nil, "", err
	}
	if err := checkDeclaredSize(id, size); err != nil {
		return nil, "", err
	}
	if err := s.acquireWriter(id); err != nil {
		return nil, "", err
	}

	w, token, err := s.openChunkWriter(ctx, id, size, offset)
	if err != nil {
		s.releaseWriter(id)
		slog.Warn("open chunk writer failed", "store", s.id, "chunk", id, "err", err)
		return nil, "", err
	}
	return w, token, nil
}

// OpenNewChunkWriter 只用于全新的 chunk，不续传
// 已有任何状态的记录都返回 core.ErrAlreadyExists
func (s *Store) OpenNewChunkWriter(ctx context.Context, id core.ChunkId, size uint64) (*ChunkWriter, string, error) {
	if err := s.checkWritable(); err != nil {
		return nil, "", err
	}
	if err := checkDeclaredSize(id, size); err != nil {
		return nil, "", err
	}
	if err := s.acquireWriter(id); err != nil {
		return nil, "", err
	}

	_, err := s.repo.GetChunk(ctx, id.String())
	if err == nil {
		err = fmt.Errorf("%w: chunk %s", core.ErrAlreadyExists, id)
	}
	if errors.Is(err, core.ErrNotFound) {
		w, token, cerr := s.createChunkWriter(ctx, id, size, 0)
		if cerr == nil {
			return w, token, nil
		}
		err = cerr
	}
	s.releaseWriter(id)
	return nil, "", err
}

func (s *Store) openChunkWriter(ctx context.Context, id core.ChunkId, size, offset uint64) (*ChunkWriter, string, error) {
	item, err := s.repo.GetChunk(ctx, id.String())
	switch {
	case errors.Is(err, core.ErrNotFound):
		return s.createChunkWriter(ctx, id, size, offset)
	case err != nil:
		return nil, "", err
	}

	switch item.ChunkState {
	case types.ChunkStateCompleted:
		return nil, "", fmt.Errorf("%w: chunk %s", core.ErrAlreadyExists, id)
	case types.ChunkStateIncomplete:
	default:
		return nil, "", fmt.Errorf("%w: chunk %s is %s", core.ErrInvalidState, id, item.ChunkState)
	}
	if item.ChunkSize != size {
		return nil, "", fmt.Errorf("%w: chunk %s was opened with size %d", core.ErrInvalidParam, id, item.ChunkSize)
	}

	tmp := s.tempPath(id)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("%w: open temp file: %v", core.ErrIO, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	onDisk := uint64(st.Size())

	if offset > onDisk {
		f.Close()
		return nil, "", fmt.Errorf("%w: resume offset %d > %d bytes written", core.ErrOffsetTooLarge, offset, onDisk)
	}
	if offset == 0 {
		offset = onDisk
	}
	// 从检查点续写，检查点之后的字节作废
	if err := f.Truncate(int64(offset)); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("%w: %v", core.ErrIO, err)
	}

	token := item.Progress
	if token == "" {
		token = progressToken(offset)
	}
	return &ChunkWriter{store: s, id: id, file: f, size: size, pos: offset}, token, nil
}

func (s *Store) createChunkWriter(ctx context.Context, id core.ChunkId, size, offset uint64) (*ChunkWriter, string, error) {
	if offset != 0 {
		return nil, "", fmt.Errorf("%w: chunk %s does not exist, offset must be 0", core.ErrInvalidParam, id)
	}

	tmp := s.tempPath(id)
	if err := os.MkdirAll(filepath.Dir(tmp), 0755); err != nil {
		return nil, "", fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("%w: create temp file: %v", core.ErrIO, err)
	}

	err = s.repo.CreateChunk(ctx, &meta.ChunkItem{
		ChunkId:    id.String(),
		ChunkSize:  size,
		ChunkState: types.ChunkStateIncomplete,
	})
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, "", err
	}
	return &ChunkWriter{store: s, id: id, file: f, size: size}, progressToken(0), nil
}

// UpdateChunkProgress 保存调用方自定义的续传标记
func (s *Store) UpdateChunkProgress(ctx context.Context, id core.ChunkId, progress string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return s.repo.UpdateChunkProgress(ctx, id.String(), progress)
}

// CompleteChunkWriter 把 Incomplete 的 chunk 转为 Completed
// verify 为 true 时先校验内容，失败则丢弃临时文件和记录并返回 core.ErrVerify
func (s *Store) CompleteChunkWriter(ctx context.Context, id core.ChunkId, verify bool) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	// 整个完成过程占住写权限，校验之后文件不能再被改动
	if err := s.acquireWriter(id); err != nil {
		return err
	}
	defer s.releaseWriter(id)

	item, err := s.repo.GetChunk(ctx, id.String())
	if err != nil {
		return err
	}
	switch item.ChunkState {
	case types.ChunkStateCompleted:
		return fmt.Errorf("%w: chunk %s", core.ErrAlreadyExists, id)
	case types.ChunkStateIncomplete:
	default:
		return fmt.Errorf("%w: chunk %s is %s", core.ErrInvalidState, id, item.ChunkState)
	}

	tmp := s.tempPath(id)
	st, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("%w: temp file of %s: %v", core.ErrIO, id, err)
	}
	onDisk := uint64(st.Size())

	if verify {
		if err := verifyChunkFile(id, tmp, item.ChunkSize); err != nil {
			slog.Error("chunk verify failed, discarding", "store", s.id, "chunk", id, "err", err)
			s.discard(ctx, id)
			return err
		}
	} else if onDisk != item.ChunkSize {
		return fmt.Errorf("%w: chunk %s has %d of %d bytes", core.ErrIncomplete, id, onDisk, item.ChunkSize)
	}

	testHookBeforeRename(id)

	final := s.ChunkPath(id)
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("%w: rename chunk %s: %v", core.ErrIO, id, err)
	}
	if err := s.repo.CompleteChunk(ctx, id.String(), onDisk); err != nil {
		// 记录没改成，文件放回去
		os.Rename(final, tmp)
		return err
	}

	slog.Info("chunk completed", "store", s.id, "chunk", id, "size", onDisk)
	return nil
}

// AbortChunkWriter 删除 Incomplete 的 chunk (临时文件 + 记录)
func (s *Store) AbortChunkWriter(ctx context.Context, id core.ChunkId) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.acquireWriter(id); err != nil {
		return err
	}
	defer s.releaseWriter(id)

	item, err := s.repo.GetChunk(ctx, id.String())
	if err != nil {
		return err
	}
	if item.ChunkState != types.ChunkStateIncomplete {
		return fmt.Errorf("%w: chunk %s is %s", core.ErrInvalidState, id, item.ChunkState)
	}
	return s.discard(ctx, id)
}

func (s *Store) discard(ctx context.Context, id core.ChunkId) error {
	if err := os.Remove(s.tempPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove temp file: %v", core.ErrIO, err)
	}
	return s.repo.RemoveChunk(ctx, id.String())
}

// verifyChunkFile 流式校验文件内容
func verifyChunkFile(id core.ChunkId, path string, size uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	n := uint64(st.Size())
	if n != size {
		return fmt.Errorf("%w: chunk %s has %d bytes, declared %d", core.ErrVerify, id, n, size)
	}

	if id.Type == core.ChunkQcid {
		got, err := core.QuickHash(f, n)
		if err != nil {
			return err
		}
		if !got.Equal(id) {
			return fmt.Errorf("%w: chunk %s quick hash mismatch", core.ErrVerify, id)
		}
		return nil
	}

	m, err := id.Type.HashMethod()
	if err != nil {
		return err
	}
	got, _, err := core.CalcChunkIdFromReader(f, m, id.Type.IsMix())
	if err != nil {
		return err
	}
	if !got.Equal(id) {
		return fmt.Errorf("%w: chunk %s hash mismatch (got %s)", core.ErrVerify, id, got)
	}
	return nil
}
