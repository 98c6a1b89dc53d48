package chunklist

import (
	"context"
	"errors"
	"fmt"
	"io"

	"ndnstore/pkg/core"
	"ndnstore/pkg/types"
)

// ChunkOpener 按 id 打开单个 chunk，返回 reader 和 chunk 总长度
type ChunkOpener interface {
	OpenChunkReader(ctx context.Context, id core.ChunkId, offset uint64) (io.ReadSeekCloser, uint64, error)
}

// Reader 把 chunk list 当作一个连续的字节流读取
type Reader struct {
	ctx    context.Context
	opener ChunkOpener
	list   *ChunkList

	idx int
	off uint64 // 下一次打开 chunk 时的偏移
	pos uint64 // 在整个列表中的位置
	cur io.ReadSeekCloser
}

var _ io.ReadSeekCloser = (*Reader)(nil)

func NewReader(ctx context.Context, opener ChunkOpener, list *ChunkList, seek types.SeekFrom) (*Reader, error) {
	r := &Reader{ctx: ctx, opener: opener, list: list}
	if list.Len() == 0 {
		return r, nil
	}
	if err := r.seekTo(seek); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) seekTo(seek types.SeekFrom) error {
	idx, off, err := r.list.ChunkIndexByOffset(seek)
	if err != nil {
		return err
	}
	start, err := r.list.OffsetByIndex(idx)
	if err != nil {
		return err
	}
	r.closeCurrent()
	r.idx, r.off, r.pos = int(idx), off, start+off
	return nil
}

func (r *Reader) Read(p []byte) (int, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		if r.cur == nil {
			if r.idx >= r.list.Len() {
				return 0, io.EOF
			}
			id := r.list.chunks[r.idx]
			rd, _, err := r.opener.OpenChunkReader(r.ctx, id, r.off)
			if err != nil {
				return 0, fmt.Errorf("open chunk %d (%s): %w", r.idx, id, err)
			}
			r.cur = rd
		}

		n, err := r.cur.Read(p)
		r.pos += uint64(n)
		r.off += uint64(n)
		if errors.Is(err, io.EOF) {
			r.closeCurrent()
			r.idx++
			r.off = 0
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Seek 支持三种 whence，Current 先换算成绝对位置
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var target types.SeekFrom
	switch whence {
	case io.SeekStart:
		if offset < 0 {
			return 0, fmt.Errorf("%w: negative position %d", core.ErrInvalidParam, offset)
		}
		target = types.Start(uint64(offset))
	case io.SeekCurrent:
		abs := int64(r.pos) + offset
		if abs < 0 {
			return 0, fmt.Errorf("%w: negative position %d", core.ErrInvalidParam, abs)
		}
		target = types.Start(uint64(abs))
	case io.SeekEnd:
		target = types.End(offset)
	default:
		return 0, fmt.Errorf("%w: whence %d", core.ErrInvalidParam, whence)
	}

	if r.list.Len() == 0 {
		return 0, nil
	}
	if err := r.seekTo(target); err != nil {
		return 0, err
	}
	return int64(r.pos), nil
}

func (r *Reader) closeCurrent() {
	if r.cur != nil {
		_ = r.cur.Close()
		r.cur = nil
	}
}

func (r *Reader) Close() error {
	r.closeCurrent()
	return nil
}
