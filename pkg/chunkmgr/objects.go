package chunkmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"ndnstore/pkg/chunklist"
	"ndnstore/pkg/core"
	"ndnstore/pkg/objectmap"
	"ndnstore/pkg/types"
)

// PutObject 写入第一个本地 store
func (m *Manager) PutObject(ctx context.Context, id core.ObjId, jsonStr string, verify bool) error {
	return m.stores[0].PutObject(ctx, id, jsonStr, verify)
}

// GetObject 在缓存和各本地 store 中查找对象
// innerPath 非空时返回对象内部的字段，例如 "content" 或 "meta/tags/0"
func (m *Manager) GetObject(ctx context.Context, id core.ObjId, innerPath string) (string, error) {
	for _, s := range m.readStores() {
		obj, err := s.GetObject(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if innerPath == "" {
			return obj, nil
		}
		return innerValue(obj, innerPath)
	}
	return "", fmt.Errorf("%w: object %s", core.ErrNotFound, id)
}

// innerValue 沿 "/" 分隔的路径取 JSON 子节点，数组用下标
func innerValue(obj, innerPath string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	var cur any
	if err := dec.Decode(&cur); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidData, err)
	}

	for _, seg := range strings.Split(strings.Trim(innerPath, "/"), "/") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return "", fmt.Errorf("%w: field %q in %s", core.ErrNotFound, seg, innerPath)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return "", fmt.Errorf("%w: index %q in %s", core.ErrNotFound, seg, innerPath)
			}
			cur = v[i]
		default:
			return "", fmt.Errorf("%w: %s does not reach a container at %q", core.ErrNotFound, innerPath, seg)
		}
	}

	out, err := core.CanonicalJSON(cur)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// -----------------------------------------------------------------------------
// Chunk list
// -----------------------------------------------------------------------------

// PutChunkList 保存 chunk list 的 body 和 id 数组 (两个对象)
func (m *Manager) PutChunkList(ctx context.Context, list *chunklist.ChunkList) error {
	arr := list.ObjectArray()
	data, err := arr.Data()
	if err != nil {
		return err
	}
	// 数组的 id 来自 merkle root 而不是 JSON 文本
	if err := m.PutObject(ctx, arr.ObjId(), data, false); err != nil {
		return fmt.Errorf("put object array: %w", err)
	}
	return m.PutObject(ctx, list.ObjId(), list.BodyJSON(), true)
}

// LoadChunkList 读回 chunk list 并校验数组的 root
func (m *Manager) LoadChunkList(ctx context.Context, id core.ObjId) (*chunklist.ChunkList, error) {
	if !id.IsChunkList() {
		return nil, fmt.Errorf("%w: %s is not a chunk list", core.ErrInvalidParam, id)
	}
	body, err := m.GetObject(ctx, id, "")
	if err != nil {
		return nil, err
	}
	var b chunklist.Body
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return nil, fmt.Errorf("%w: chunk list body: %v", core.ErrInvalidData, err)
	}
	arrId, err := b.ObjectArray.ObjId()
	if err != nil {
		return nil, err
	}
	arrData, err := m.GetObject(ctx, arrId, "")
	if err != nil {
		return nil, fmt.Errorf("load object array: %w", err)
	}
	ids, err := chunklist.ParseObjectArrayData([]byte(arrData))
	if err != nil {
		return nil, err
	}
	list, err := chunklist.Open([]byte(body), ids)
	if err != nil {
		return nil, err
	}
	if !list.ObjId().Equal(id) {
		return nil, fmt.Errorf("%w: chunk list %s rebuilt as %s", core.ErrVerify, id, list.ObjId())
	}
	return list, nil
}

// managerOpener 把 Manager 适配成 chunklist.ChunkOpener，带上缓存策略
type managerOpener struct {
	m         *Manager
	autoCache bool
}

func (o managerOpener) OpenChunkReader(ctx context.Context, id core.ChunkId, offset uint64) (readSeekCloser, uint64, error) {
	return o.m.OpenChunkReader(ctx, id, offset, o.autoCache)
}

// OpenChunkListReader 打开整个 chunk list 的连续 reader
func (m *Manager) OpenChunkListReader(ctx context.Context, id core.ObjId, seek types.SeekFrom, autoCache bool) (*chunklist.Reader, *chunklist.ChunkList, error) {
	list, err := m.LoadChunkList(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	r, err := chunklist.NewReader(ctx, managerOpener{m: m, autoCache: autoCache}, list, seek)
	if err != nil {
		return nil, nil, err
	}
	return r, list, nil
}

// -----------------------------------------------------------------------------
// ObjectMap
// -----------------------------------------------------------------------------

func objMapExt(typ types.StorageType) string {
	switch typ {
	case types.StorageFile:
		return ".cbor"
	case types.StorageSQLite:
		return ".db"
	default:
		return ""
	}
}

// ObjectMapPath 是已发布 map 的存储位置
func (m *Manager) ObjectMapPath(id core.ObjId, typ types.StorageType) string {
	return filepath.Join(m.cfg.Root, ObjMapDir, id.Base32()+objMapExt(typ))
}

// NewObjectMap 在临时目录里创建一个可写的 map，发布后调用 ReleaseObjectMap
func (m *Manager) NewObjectMap(method core.HashMethod) (*objectmap.ObjectMap, error) {
	typ := m.cfg.ObjMapStorage
	if typ == types.StorageMemory {
		return objectmap.New(method, objectmap.NewMemoryStorage(false), false), nil
	}
	dir := filepath.Join(m.cfg.Root, ObjMapDir, "tmp")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	st, err := objectmap.OpenStorage(typ, filepath.Join(dir, uuid.NewString()+objMapExt(typ)), false)
	if err != nil {
		return nil, err
	}
	return objectmap.New(method, st, false), nil
}

// ReleaseObjectMap 关闭 NewObjectMap 创建的 map 并删除临时存储
func (m *Manager) ReleaseObjectMap(om *objectmap.ObjectMap) error {
	path := om.Storage().Path()
	err := om.Close()
	if path != "" && strings.HasPrefix(path, filepath.Join(m.cfg.Root, ObjMapDir, "tmp")) {
		if rerr := os.RemoveAll(path); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

// SaveObjectMap 刷新 mtree，把存储复制到以 id 命名的位置，并保存 body 对象
func (m *Manager) SaveObjectMap(ctx context.Context, om *objectmap.ObjectMap) (core.ObjId, error) {
	if om.IsDirty() {
		if err := om.FlushMtree(ctx); err != nil {
			return core.ObjId{}, err
		}
	}
	body, err := om.Body()
	if err != nil {
		return core.ObjId{}, err
	}
	if body.StorageType == types.StorageMemory {
		return core.ObjId{}, fmt.Errorf("%w: memory object maps cannot be published", core.ErrUnsupported)
	}
	id, bodyJSON, err := body.CalcObjId()
	if err != nil {
		return core.ObjId{}, err
	}

	target := m.ObjectMapPath(id, body.StorageType)
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return core.ObjId{}, fmt.Errorf("%w: %v", core.ErrIO, err)
		}
		if err := om.Save(ctx); err != nil {
			return core.ObjId{}, err
		}
		clone, err := om.Clone(ctx, target, true)
		if err != nil {
			return core.ObjId{}, err
		}
		clone.Close()
	}

	if err := m.PutObject(ctx, id, bodyJSON, true); err != nil {
		return core.ObjId{}, err
	}
	return id, nil
}

// OpenObjectMap 只读打开已发布的 map，root 不符时返回 core.ErrVerify
func (m *Manager) OpenObjectMap(ctx context.Context, id core.ObjId) (*objectmap.ObjectMap, error) {
	if id.ObjType != core.ObjTypeObjMap {
		return nil, fmt.Errorf("%w: %s is not an object map", core.ErrInvalidParam, id)
	}
	bodyJSON, err := m.GetObject(ctx, id, "")
	if err != nil {
		return nil, err
	}
	var body objectmap.Body
	dec := json.NewDecoder(bytes.NewReader([]byte(bodyJSON)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: object map body: %v", core.ErrInvalidData, err)
	}
	st, err := objectmap.OpenStorage(body.StorageType, m.ObjectMapPath(id, body.StorageType), true)
	if err != nil {
		return nil, err
	}
	om, err := objectmap.Open(ctx, body, st, true)
	if err != nil {
		st.Close()
		return nil, err
	}
	return om, nil
}
