package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ndnstore/pkg/chunkmgr"
	"ndnstore/pkg/core"
)

// Exporter 把 ChunkMgr 中的内容还原成字节流或目录
type Exporter struct {
	mgr *chunkmgr.Manager
	// Verify 为 true 时逐个 chunk 重新计算 hash
	Verify bool
}

func NewExporter(mgr *chunkmgr.Manager) *Exporter {
	return &Exporter{mgr: mgr, Verify: true}
}

// ExportContent 写出 chunk / chunk list / 文件对象的全部字节，返回写出的字节数
func (e *Exporter) ExportContent(ctx context.Context, id core.ObjId, w io.Writer) (uint64, error) {
	switch {
	case id.IsChunk():
		cid, err := core.ChunkIdFromObjId(id)
		if err != nil {
			return 0, err
		}
		return e.exportChunk(ctx, cid, w)

	case id.IsChunkList():
		list, err := e.mgr.LoadChunkList(ctx, id)
		if err != nil {
			return 0, err
		}
		var total uint64
		for i, cid := range list.Chunks() {
			n, err := e.exportChunk(ctx, cid, w)
			total += n
			if err != nil {
				return total, fmt.Errorf("chunk %d of %s: %w", i, id, err)
			}
		}
		return total, nil

	case id.ObjType == core.ObjTypeFile:
		file, err := e.loadFile(ctx, id)
		if err != nil {
			return 0, err
		}
		content, err := core.ParseObjId(file.Content)
		if err != nil {
			return 0, err
		}
		n, err := e.ExportContent(ctx, content, w)
		if err == nil && n != file.Size {
			err = fmt.Errorf("%w: file %s declares %d bytes, content has %d", core.ErrVerify, id, file.Size, n)
		}
		return n, err

	default:
		return 0, fmt.Errorf("%w: %s has no byte content", core.ErrUnsupported, id)
	}
}

func (e *Exporter) exportChunk(ctx context.Context, id core.ChunkId, w io.Writer) (uint64, error) {
	r, _, err := e.mgr.OpenChunkReader(ctx, id, 0, false)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if !e.Verify || id.Type == core.ChunkQcid {
		n, err := io.Copy(w, r)
		if err != nil {
			return uint64(n), fmt.Errorf("%w: copy chunk %s: %v", core.ErrIO, id, err)
		}
		return uint64(n), nil
	}

	m, err := id.Type.HashMethod()
	if err != nil {
		return 0, err
	}
	got, n, err := core.CalcChunkIdFromReader(io.TeeReader(r, w), m, id.Type.IsMix())
	if err != nil {
		return n, err
	}
	if got.String() != id.String() {
		return n, fmt.Errorf("%w: chunk %s read back as %s", core.ErrVerify, id, got)
	}
	return n, nil
}

func (e *Exporter) loadFile(ctx context.Context, id core.ObjId) (*core.FileObject, error) {
	var f core.FileObject
	if err := e.loadJSON(ctx, id, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (e *Exporter) loadJSON(ctx context.Context, id core.ObjId, v any) error {
	data, err := e.mgr.GetObject(ctx, id, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", core.ErrInvalidData, id, err)
	}
	return nil
}

// RestoreCallback 在每个文件写完后调用
type RestoreCallback func(path string, content core.ObjId, size uint64)

// RestoreDir 把目录对象 (或直接一个 ObjectMap) 还原到 targetDir
func (e *Exporter) RestoreDir(ctx context.Context, id core.ObjId, targetDir string, onRestore RestoreCallback) error {
	mapId := id
	if id.ObjType == core.ObjTypeDir {
		var dir core.DirObject
		if err := e.loadJSON(ctx, id, &dir); err != nil {
			return err
		}
		parsed, err := core.ParseObjId(dir.Content)
		if err != nil {
			return err
		}
		mapId = parsed
	}

	om, err := e.mgr.OpenObjectMap(ctx, mapId)
	if err != nil {
		return err
	}
	defer om.Close()

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return err
	}
	return om.Iterate(ctx, func(key string, content core.ObjId) error {
		full := filepath.Join(root, filepath.FromSlash(key))
		// key 不能逃出目标目录
		if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
			return fmt.Errorf("%w: key %q escapes %s", core.ErrInvalidData, key, targetDir)
		}
		n, err := e.restoreFile(ctx, content, full)
		if err != nil {
			return fmt.Errorf("restore %s: %w", key, err)
		}
		if onRestore != nil {
			onRestore(full, content, n)
		}
		return nil
	})
}

func (e *Exporter) restoreFile(ctx context.Context, content core.ObjId, path string) (uint64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	n, err := e.ExportContent(ctx, content, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %v", core.ErrIO, cerr)
	}
	if err != nil {
		os.Remove(path)
		return n, err
	}
	return n, nil
}
