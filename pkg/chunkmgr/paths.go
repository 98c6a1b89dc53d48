package chunkmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"ndnstore/pkg/core"
	"ndnstore/pkg/meta"
	"ndnstore/pkg/types"
)

type readSeekCloser = io.ReadSeekCloser

// CreateFile 新建路径 -> 对象的绑定，路径已存在时返回 core.ErrAlreadyExists
func (m *Manager) CreateFile(ctx context.Context, path string, target core.ObjId, owner meta.PathOwner) error {
	if err := m.paths.CreatePath(ctx, path, target.String(), owner); err != nil {
		return err
	}
	slog.Info("path created", "mgr", m.cfg.MgrId, "path", path, "target", target)
	return nil
}

// SetFile 创建或改写绑定，返回旧的目标 (没有时为零值)
func (m *Manager) SetFile(ctx context.Context, path string, target core.ObjId, owner meta.PathOwner) (core.ObjId, error) {
	old, err := m.paths.SetPath(ctx, path, target.String(), owner)
	if err != nil {
		return core.ObjId{}, err
	}
	slog.Info("path set", "mgr", m.cfg.MgrId, "path", path, "target", target, "old", old)
	if old == "" {
		return core.ObjId{}, nil
	}
	return core.ParseObjId(old)
}

// RemoveFile 删除绑定，返回原来的目标
func (m *Manager) RemoveFile(ctx context.Context, path string) (core.ObjId, error) {
	old, err := m.paths.RemovePath(ctx, path)
	if err != nil {
		return core.ObjId{}, err
	}
	slog.Info("path removed", "mgr", m.cfg.MgrId, "path", path)
	return core.ParseObjId(old)
}

// RemoveDir 在一个事务里删除前缀下的所有路径
func (m *Manager) RemoveDir(ctx context.Context, prefix string) (int, error) {
	n, err := m.paths.RemoveDir(ctx, prefix)
	if err != nil {
		return 0, err
	}
	slog.Info("dir removed", "mgr", m.cfg.MgrId, "prefix", prefix, "paths", n)
	return n, nil
}

func (m *Manager) GetObjIdByPath(ctx context.Context, path string) (core.ObjId, error) {
	item, err := m.paths.GetPath(ctx, path)
	if err != nil {
		return core.ObjId{}, err
	}
	return core.ParseObjId(item.ObjId)
}

// SelectObjIdByPath 最长前缀匹配，返回目标和剩余的相对路径
func (m *Manager) SelectObjIdByPath(ctx context.Context, path string) (core.ObjId, string, error) {
	item, rel, err := m.paths.SelectPath(ctx, path)
	if err != nil {
		return core.ObjId{}, "", err
	}
	id, err := core.ParseObjId(item.ObjId)
	if err != nil {
		return core.ObjId{}, "", err
	}
	return id, rel, nil
}

func (m *Manager) GetRefCount(ctx context.Context, id core.ObjId) (int64, error) {
	return m.paths.GetRefCount(ctx, id.String())
}

// PubObjectToFile 保存对象并把路径指向它，路径对象记在 path_obj_jwt 列
// TODO: 接入签名后这里存 JWT 而不是明文 json
func (m *Manager) PubObjectToFile(ctx context.Context, id core.ObjId, objJSON, path string, owner meta.PathOwner) error {
	if err := m.PutObject(ctx, id, objJSON, true); err != nil {
		return err
	}
	if _, err := m.SetFile(ctx, path, id, owner); err != nil {
		return err
	}
	_, pathJSON, err := core.NewPathObject(path, id).GenObjId()
	if err != nil {
		return err
	}
	return m.paths.SetPathObjJWT(ctx, path, pathJSON)
}

// GetPathObject 返回发布时记录的路径对象，没有时为空串
func (m *Manager) GetPathObject(ctx context.Context, path string) (string, error) {
	item, err := m.paths.GetPath(ctx, path)
	if err != nil {
		return "", err
	}
	return item.PathObjJWT, nil
}

// contentOf 把文件对象解析成它的内容 id，其它对象原样返回
func (m *Manager) contentOf(ctx context.Context, id core.ObjId) (core.ObjId, error) {
	if id.ObjType != core.ObjTypeFile {
		return id, nil
	}
	content, err := m.GetObject(ctx, id, "content")
	if err != nil {
		return core.ObjId{}, err
	}
	var s string
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return core.ObjId{}, fmt.Errorf("%w: file content: %v", core.ErrInvalidData, err)
	}
	return core.ParseObjId(s)
}

// OpenContentReader 打开 chunk / chunk list / 文件对象的数据流
func (m *Manager) OpenContentReader(ctx context.Context, id core.ObjId, offset uint64, autoCache bool) (io.ReadSeekCloser, uint64, error) {
	content, err := m.contentOf(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	switch {
	case content.IsChunk():
		cid, err := core.ChunkIdFromObjId(content)
		if err != nil {
			return nil, 0, err
		}
		return m.OpenChunkReader(ctx, cid, offset, autoCache)
	case content.IsChunkList():
		r, list, err := m.OpenChunkListReader(ctx, content, types.Start(offset), autoCache)
		if err != nil {
			return nil, 0, err
		}
		return r, list.TotalSize(), nil
	default:
		return nil, 0, fmt.Errorf("%w: %s has no byte content", core.ErrUnsupported, content)
	}
}

// GetChunkReaderByPath 按路径打开数据流，同时返回路径绑定的对象 id
func (m *Manager) GetChunkReaderByPath(ctx context.Context, path string, offset uint64, autoCache bool) (io.ReadSeekCloser, uint64, core.ObjId, error) {
	id, err := m.GetObjIdByPath(ctx, path)
	if err != nil {
		return nil, 0, core.ObjId{}, err
	}
	if err := m.paths.TouchObject(ctx, id.String(), 0); err != nil {
		slog.Debug("touch object failed", "obj", id, "err", err)
	}
	r, size, err := m.OpenContentReader(ctx, id, offset, autoCache)
	if err != nil {
		return nil, 0, core.ObjId{}, err
	}
	return r, size, id, nil
}
