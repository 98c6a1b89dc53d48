package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"ndnstore/pkg/chunker"
	"ndnstore/pkg/chunklist"
	"ndnstore/pkg/chunkmgr"
	"ndnstore/pkg/core"
	"ndnstore/pkg/meta"
)

// Mode 决定大文件如何切成 chunk list
type Mode string

const (
	ModeFix Mode = "fix"
	ModeCDC Mode = "cdc"
)

// DefaultFixSize 也是单 chunk 发布的上限
const DefaultFixSize = 32 * 1024 * 1024

// Options 的零值可用
type Options struct {
	HashMethod core.HashMethod
	Mode       Mode
	// FixSize 是定长模式的块大小，不超过它的文件直接发布成一个 chunk
	FixSize uint64
	// Chunker 为 nil 时使用默认参数
	Chunker *chunker.Chunker
	// Workers 是并发 hash + 写入的 chunk 数
	Workers int
	Owner   meta.PathOwner
}

func (o Options) withDefaults() Options {
	if o.HashMethod == "" {
		o.HashMethod = core.DefaultHashMethod
	}
	if o.Mode == "" {
		o.Mode = ModeFix
	}
	if o.FixSize == 0 {
		o.FixSize = DefaultFixSize
	}
	if o.Chunker == nil {
		o.Chunker = chunker.NewChunker()
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// Publisher 把本地文件和目录发布进 ChunkMgr
type Publisher struct {
	mgr  *chunkmgr.Manager
	opts Options
}

func New(mgr *chunkmgr.Manager, opts Options) *Publisher {
	return &Publisher{mgr: mgr, opts: opts.withDefaults()}
}

func (p *Publisher) Options() Options { return p.opts }

func openRegular(path string) (*os.File, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", core.ErrInvalidParam, path)
	}
	return f, uint64(info.Size()), nil
}

// PubLocalFileAsChunk 先算出 mix chunk id，再流式写入
// 已存在的 chunk 不会重复写
func (p *Publisher) PubLocalFileAsChunk(ctx context.Context, localPath string) (core.ChunkId, error) {
	f, size, err := openRegular(localPath)
	if err != nil {
		return core.ChunkId{}, err
	}
	defer f.Close()
	if size > core.MaxChunkSize {
		return core.ChunkId{}, fmt.Errorf("%w: %s is %d bytes, larger than one chunk", core.ErrInvalidParam, localPath, size)
	}

	id, n, err := core.CalcChunkIdFromReader(f, p.opts.HashMethod, true)
	if err != nil {
		return core.ChunkId{}, err
	}
	if n != size {
		return core.ChunkId{}, fmt.Errorf("%w: %s changed while hashing", core.ErrIO, localPath)
	}

	exist, err := p.mgr.HaveChunk(ctx, id)
	if err != nil {
		return core.ChunkId{}, err
	}
	if exist {
		slog.Debug("chunk already present", "file", localPath, "chunk", id)
		return id, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return core.ChunkId{}, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	w, _, err := p.mgr.OpenChunkWriter(ctx, id, size, 0)
	if errors.Is(err, core.ErrAlreadyExists) {
		return id, nil
	}
	if err != nil {
		return core.ChunkId{}, err
	}
	copied, err := io.Copy(w, f)
	if cerr := w.CloseContext(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		w.Abort(ctx)
		return core.ChunkId{}, fmt.Errorf("copy %s into chunk: %w", localPath, err)
	}
	if err := p.mgr.CompleteChunkWriter(ctx, id, true); err != nil {
		return core.ChunkId{}, err
	}

	slog.Info("file published as chunk", "file", localPath, "chunk", id, "bytes", copied)
	return id, nil
}

// PubLocalFileAsChunkList 切分文件，并发 hash 和写入，保存 chunk list
func (p *Publisher) PubLocalFileAsChunkList(ctx context.Context, localPath string) (*chunklist.ChunkList, error) {
	f, _, err := openRegular(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	list, err := p.publishStream(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", localPath, err)
	}
	slog.Info("file published as chunk list", "file", localPath, "list", list.ObjId(),
		"chunks", list.Len(), "size", list.TotalSize())
	return list, nil
}

// publishStream 按 Mode 切分 r
// 读取是串行的，hash 和写入由 errgroup 并发，最多 Workers 个块在内存中
func (p *Publisher) publishStream(ctx context.Context, r io.Reader) (*chunklist.ChunkList, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	// 每个块一个槽位，worker 只写自己的槽位
	var slots []*core.ChunkId
	// 同一文件里重复的块只写一次
	var inflight sync.Map
	submit := func(piece []byte) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		data := append([]byte(nil), piece...)
		slot := new(core.ChunkId)
		i := len(slots)
		slots = append(slots, slot)
		g.Go(func() error {
			id := core.CalcMixChunkId(p.opts.HashMethod, data)
			*slot = id
			if _, dup := inflight.LoadOrStore(id.String(), struct{}{}); dup {
				return nil
			}
			if err := p.mgr.PutChunk(gctx, id, data, false); err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			return nil
		})
		return nil
	}

	var splitErr error
	if p.opts.Mode == ModeCDC {
		splitErr = p.opts.Chunker.Split(r, submit)
	} else {
		splitErr = splitFixed(r, p.opts.FixSize, submit)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if splitErr != nil {
		return nil, splitErr
	}

	b := chunklist.NewBuilder(p.opts.HashMethod)
	if p.opts.Mode != ModeCDC {
		b.WithFixSize(p.opts.FixSize)
	}
	for _, id := range slots {
		if err := b.Append(*id); err != nil {
			return nil, err
		}
	}
	list, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := p.mgr.PutChunkList(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func splitFixed(r io.Reader, size uint64, fn func([]byte) error) error {
	buf := make([]byte, size)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if ferr := fn(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrIO, err)
		}
	}
}

// pubContent 小文件发布成一个 chunk，大文件发布成 chunk list
func (p *Publisher) pubContent(ctx context.Context, localPath string, size uint64) (core.ObjId, error) {
	if size <= p.opts.FixSize {
		id, err := p.PubLocalFileAsChunk(ctx, localPath)
		if err != nil {
			return core.ObjId{}, err
		}
		return id.ObjId(), nil
	}
	list, err := p.PubLocalFileAsChunkList(ctx, localPath)
	if err != nil {
		return core.ObjId{}, err
	}
	return list.ObjId(), nil
}

// FileResult 是一次文件发布的结果
type FileResult struct {
	FileId  core.ObjId
	Content core.ObjId
	Object  *core.FileObject
}

// PubLocalFileAsFileObj 发布内容和文件对象，并写两个路径:
// ndnPath -> 文件对象，contentPath (可以为空) -> 内容
// template 为 nil 时用文件名新建
func (p *Publisher) PubLocalFileAsFileObj(ctx context.Context, localPath, ndnPath, contentPath string, template *core.FileObject) (*FileResult, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	content, err := p.pubContent(ctx, localPath, uint64(info.Size()))
	if err != nil {
		return nil, err
	}

	obj := core.NewFileObject(info.Name(), uint64(info.Size()), content)
	if template != nil {
		name := template.Name
		if name == "" {
			name = info.Name()
		}
		obj = core.NewFileObject(name, uint64(info.Size()), content)
		obj.Meta = template.Meta
	}
	fileId, fileJSON, err := obj.GenObjId()
	if err != nil {
		return nil, err
	}

	if err := p.mgr.PubObjectToFile(ctx, fileId, fileJSON, ndnPath, p.opts.Owner); err != nil {
		return nil, err
	}
	if contentPath != "" {
		if _, err := p.mgr.SetFile(ctx, contentPath, content, p.opts.Owner); err != nil {
			return nil, err
		}
	}
	return &FileResult{FileId: fileId, Content: content, Object: obj}, nil
}
