package namedstore

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"ndnstore/pkg/core"
	"ndnstore/pkg/types"
)

// maxLinkDepth 限制 link 链的长度，同时防止环
const maxLinkDepth = 16

// chunkSpan 是 link 解析后的物理位置: 文件里的 [start, start+length)
type chunkSpan struct {
	path   string
	start  uint64
	length uint64
}

// resolveChunk 沿着 link 找到真正存放数据的 chunk 文件
func (s *Store) resolveChunk(ctx context.Context, id core.ChunkId) (chunkSpan, error) {
	visited := make(map[string]struct{})
	return s.resolveChunkDepth(ctx, id, visited)
}

func (s *Store) resolveChunkDepth(ctx context.Context, id core.ChunkId, visited map[string]struct{}) (chunkSpan, error) {
	key := id.String()
	if _, seen := visited[key]; seen || len(visited) >= maxLinkDepth {
		return chunkSpan{}, fmt.Errorf("%w: link loop at %s", core.ErrInvalidLink, key)
	}
	visited[key] = struct{}{}

	item, err := s.repo.GetChunk(ctx, key)
	if err == nil {
		if item.ChunkState != types.ChunkStateCompleted {
			return chunkSpan{}, fmt.Errorf("%w: chunk %s is %s", core.ErrNotFound, key, item.ChunkState)
		}
		return chunkSpan{path: s.ChunkPath(id), length: item.ChunkSize}, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return chunkSpan{}, err
	}

	link, err := s.repo.GetLink(ctx, key)
	if err != nil {
		return chunkSpan{}, err
	}
	target, err := core.ChunkIdFromObjId(link.Target)
	if err != nil {
		return chunkSpan{}, fmt.Errorf("%w: %s links to non-chunk %s", core.ErrInvalidLink, key, link.Target)
	}
	span, err := s.resolveChunkDepth(ctx, target, visited)
	if err != nil {
		return chunkSpan{}, err
	}
	if link.Kind == core.LinkSameAs {
		return span, nil
	}

	r := link.Range
	if r.End > span.length {
		return chunkSpan{}, fmt.Errorf("%w: part_of range %d..%d beyond %s size %d",
			core.ErrOffsetTooLarge, r.Start, r.End, target, span.length)
	}
	return chunkSpan{path: span.path, start: span.start + r.Start, length: r.Len()}, nil
}

// sectionFile 把文件的一个区间包装成 ReadSeekCloser
type sectionFile struct {
	*io.SectionReader
	f *os.File
}

func (r *sectionFile) Close() error { return r.f.Close() }

func (s *Store) openSpan(span chunkSpan, offset uint64) (*sectionFile, error) {
	if offset > span.length {
		return nil, fmt.Errorf("%w: offset %d > chunk size %d", core.ErrOffsetTooLarge, offset, span.length)
	}
	f, err := os.Open(span.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: chunk file %s is missing", core.ErrNotFound, span.path)
		}
		return nil, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	r := &sectionFile{
		SectionReader: io.NewSectionReader(f, int64(span.start), int64(span.length)),
		f:             f,
	}
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	return r, nil
}

// OpenChunkReader 返回不做校验的可 seek reader 和 chunk 大小
// 只有 Completed 的 chunk 可读；SameAs 链接透明跟随，PartOf 返回目标的一个区间
func (s *Store) OpenChunkReader(ctx context.Context, id core.ChunkId, offset uint64) (io.ReadSeekCloser, uint64, error) {
	span, err := s.resolveChunk(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	r, err := s.openSpan(span, offset)
	if err != nil {
		return nil, 0, err
	}
	return r, span.length, nil
}

// OpenVerifiedChunkReader 返回边读边校验的 reader，读到 EOF 时如果摘要不符返回 core.ErrVerify
// offset 之前的字节会先读一遍参与计算
func (s *Store) OpenVerifiedChunkReader(ctx context.Context, id core.ChunkId, offset uint64) (io.ReadCloser, uint64, error) {
	if id.Type == core.ChunkQcid {
		return nil, 0, fmt.Errorf("%w: qcid cannot be verified by streaming", core.ErrUnsupported)
	}
	m, err := id.Type.HashMethod()
	if err != nil {
		return nil, 0, err
	}

	span, err := s.resolveChunk(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	r, err := s.openSpan(span, 0)
	if err != nil {
		return nil, 0, err
	}

	vr := &verifiedReader{id: id, r: r, h: m.New(), size: span.length}
	if offset > 0 {
		if _, err := io.CopyN(vr.h, r, int64(offset)); err != nil {
			r.Close()
			return nil, 0, fmt.Errorf("%w: read prefix: %v", core.ErrIO, err)
		}
		vr.read = offset
	}
	return vr, span.length, nil
}

type verifiedReader struct {
	id   core.ChunkId
	r    io.ReadCloser
	h    hash.Hash
	size uint64
	read uint64
	err  error
}

func (v *verifiedReader) Read(p []byte) (int, error) {
	if v.err != nil {
		return 0, v.err
	}
	n, err := v.r.Read(p)
	v.h.Write(p[:n])
	v.read += uint64(n)
	if err == io.EOF {
		v.err = v.check()
		if v.err != nil {
			return n, v.err
		}
	}
	return n, err
}

func (v *verifiedReader) check() error {
	if length, ok := v.id.Length(); ok && length != v.read {
		return fmt.Errorf("%w: chunk %s read %d bytes, id says %d", core.ErrVerify, v.id, v.read, length)
	}
	if !v.id.MatchDigest(v.h.Sum(nil)) {
		return fmt.Errorf("%w: chunk %s content hash mismatch", core.ErrVerify, v.id)
	}
	return io.EOF
}

func (v *verifiedReader) Close() error { return v.r.Close() }
