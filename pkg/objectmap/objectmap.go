package objectmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ndnstore/pkg/core"
	"ndnstore/pkg/mtree"
	"ndnstore/pkg/types"
)

// PageSize 是构建 mtree 时从存储分页读取的大小
const PageSize = 128

// Body 是计算 ObjectMap id 的内容
type Body struct {
	RootHash    string            `json:"root_hash"` // base32
	HashMethod  core.HashMethod   `json:"hash_method"`
	StorageType types.StorageType `json:"storage_type"`
}

// CalcObjId 返回 (cymap:..., body json)
func (b Body) CalcObjId() (core.ObjId, string, error) {
	return core.BuildNamedObjectByJSON(core.ObjTypeObjMap, b)
}

// ObjectMap 是 key -> objid 的字典，条目参与一棵 Merkle 树
// 修改只置 dirty，FlushMtree 时一次性重建
type ObjectMap struct {
	mu       sync.RWMutex
	method   core.HashMethod
	storage  Storage
	readOnly bool

	dirty bool
	tree  *mtree.Tree
	// 存储不可写时叶子下标只保存在内存
	index map[string]uint64
}

// New 创建一个空的 (或沿用 storage 中已有条目的) map
func New(method core.HashMethod, storage Storage, readOnly bool) *ObjectMap {
	return &ObjectMap{method: method, storage: storage, readOnly: readOnly || storage.IsReadOnly(), dirty: true}
}

// Open 按 body 打开已有的 map，重建 mtree 并校验 root
func Open(ctx context.Context, body Body, storage Storage, readOnly bool) (*ObjectMap, error) {
	if storage.StorageType() != body.StorageType {
		slog.Warn("object map storage type differs from body",
			"body", body.StorageType, "storage", storage.StorageType())
	}
	m := New(body.HashMethod, storage, readOnly)
	if err := m.FlushMtree(ctx); err != nil {
		return nil, err
	}
	root := core.Base32Encoding.EncodeToString(m.tree.Root())
	if root != body.RootHash {
		return nil, fmt.Errorf("%w: object map root %s, body says %s", core.ErrVerify, root, body.RootHash)
	}
	return m, nil
}

func (m *ObjectMap) HashMethod() core.HashMethod { return m.method }
func (m *ObjectMap) Storage() Storage            { return m.storage }
func (m *ObjectMap) IsReadOnly() bool            { return m.readOnly }

func (m *ObjectMap) IsDirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

func (m *ObjectMap) checkWritable() error {
	if m.readOnly {
		return fmt.Errorf("%w: object map is read-only", core.ErrPermissionDenied)
	}
	return nil
}

func (m *ObjectMap) PutObject(ctx context.Context, key string, id core.ObjId) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.storage.Put(ctx, key, id); err != nil {
		return err
	}
	m.dirty = true
	return nil
}

func (m *ObjectMap) GetObject(ctx context.Context, key string) (core.ObjId, error) {
	return m.storage.Get(ctx, key)
}

// RemoveObject 返回被删除的 id
func (m *ObjectMap) RemoveObject(ctx context.Context, key string) (core.ObjId, error) {
	if err := m.checkWritable(); err != nil {
		return core.ObjId{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.storage.Remove(ctx, key)
	if err != nil {
		return core.ObjId{}, err
	}
	m.dirty = true
	return id, nil
}

func (m *ObjectMap) IsObjectExist(ctx context.Context, key string) (bool, error) {
	_, err := m.storage.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *ObjectMap) Len(ctx context.Context) (uint64, error) {
	return m.storage.Stat(ctx)
}

// Iterate 按 key 升序遍历
func (m *ObjectMap) Iterate(ctx context.Context, fn func(key string, id core.ObjId) error) error {
	return m.storage.Iterate(ctx, fn)
}

// FlushMtree 在 dirty 或尚未建树时重建整棵树，并记录每个 key 的叶子下标
func (m *ObjectMap) FlushMtree(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty && m.tree != nil {
		return nil
	}

	persist := !m.storage.IsReadOnly()
	index := make(map[string]uint64)
	b := mtree.NewBuilder(m.method, 0)

	for page := 0; ; page++ {
		keys, err := m.storage.List(ctx, page, PageSize)
		if err != nil {
			return err
		}
		for _, key := range keys {
			id, err := m.storage.Get(ctx, key)
			if err != nil {
				return err
			}
			idx := b.AppendLeaf(LeafHash(m.method, key, id))
			if persist {
				if err := m.storage.UpdateMtreeIndex(ctx, key, idx); err != nil {
					return err
				}
			} else {
				index[key] = idx
			}
		}
		if len(keys) < PageSize {
			break
		}
	}

	m.tree = b.Finalize()
	m.index = index
	m.dirty = false
	slog.DebugContext(ctx, "object map mtree flushed", "leaves", m.tree.LeafCount(), "depth", m.tree.Depth())
	return nil
}

func (m *ObjectMap) readyTree() (*mtree.Tree, error) {
	if m.dirty || m.tree == nil {
		return nil, fmt.Errorf("%w: object map is dirty, flush mtree first", core.ErrInvalidState)
	}
	return m.tree, nil
}

// Body 需要树是最新的
func (m *ObjectMap) Body() (Body, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, err := m.readyTree()
	if err != nil {
		return Body{}, err
	}
	return Body{
		RootHash:    core.Base32Encoding.EncodeToString(tree.Root()),
		HashMethod:  m.method,
		StorageType: m.storage.StorageType(),
	}, nil
}

// CalcObjId 在 dirty 时返回 ErrInvalidState
func (m *ObjectMap) CalcObjId() (core.ObjId, string, error) {
	body, err := m.Body()
	if err != nil {
		return core.ObjId{}, "", err
	}
	return body.CalcObjId()
}

// GetObjectProofPath key 不存在时返回 (nil, nil)
func (m *ObjectMap) GetObjectProofPath(ctx context.Context, key string) (*Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, err := m.readyTree()
	if err != nil {
		return nil, err
	}

	id, err := m.storage.Get(ctx, key)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	idx, ok := m.index[key]
	if !ok {
		if idx, err = m.storage.GetMtreeIndex(ctx, key); err != nil {
			return nil, fmt.Errorf("%w: no leaf index for key %q: %v", core.ErrInvalidState, key, err)
		}
	}

	path, err := tree.ProofPath(idx)
	if err != nil {
		return nil, err
	}
	return &Proof{Item: Item{Key: key, ObjId: id}, Proof: path}, nil
}

// Clone 复制存储；只读的克隆保留现有的树，可写的克隆需要重新 flush
func (m *ObjectMap) Clone(ctx context.Context, target string, readOnly bool) (*ObjectMap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	storage, err := m.storage.Clone(ctx, target, readOnly)
	if err != nil {
		return nil, err
	}
	clone := New(m.method, storage, readOnly)
	if readOnly && !m.dirty && m.tree != nil {
		clone.tree = m.tree
		clone.dirty = false
		clone.index = make(map[string]uint64, len(m.index))
		for k, v := range m.index {
			clone.index[k] = v
		}
	}
	return clone, nil
}

// Save 重建树并把存储写回
func (m *ObjectMap) Save(ctx context.Context) error {
	if !m.readOnly {
		if err := m.FlushMtree(ctx); err != nil {
			return err
		}
	}
	return m.storage.Flush(ctx)
}

func (m *ObjectMap) Close() error {
	return m.storage.Close()
}
