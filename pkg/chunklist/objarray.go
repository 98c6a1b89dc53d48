package chunklist

import (
	"bytes"
	"encoding/json"
	"fmt"

	"ndnstore/pkg/core"
	"ndnstore/pkg/mtree"
)

var b32 = core.Base32Encoding

// ObjectArrayBody 是 ObjectArray 参与 hash 的描述
type ObjectArrayBody struct {
	RootHash   string          `json:"root_hash"` // base32
	HashMethod core.HashMethod `json:"hash_method"`
	TotalCount uint64          `json:"total_count"`
}

// ObjId 由 root hash 直接构成
func (b ObjectArrayBody) ObjId() (core.ObjId, error) {
	root, err := b32.DecodeString(b.RootHash)
	if err != nil {
		return core.ObjId{}, fmt.Errorf("%w: object array root: %v", core.ErrInvalidData, err)
	}
	return core.NewObjId(core.ObjTypeObjectArray, root), nil
}

// ObjectArray 是一组有序的 objid，叶子为 H(id bytes)
type ObjectArray struct {
	method core.HashMethod
	ids    []core.ObjId
	tree   *mtree.Tree
}

func NewObjectArray(method core.HashMethod, ids []core.ObjId) *ObjectArray {
	b := mtree.NewBuilder(method, len(ids))
	cp := make([]core.ObjId, len(ids))
	for i, id := range ids {
		cp[i] = id
		b.AppendData(id.Bytes())
	}
	return &ObjectArray{method: method, ids: cp, tree: b.Finalize()}
}

// OpenObjectArray 用保存下来的 id 列表重建，并校验 root
func OpenObjectArray(body ObjectArrayBody, ids []core.ObjId) (*ObjectArray, error) {
	if uint64(len(ids)) != body.TotalCount {
		return nil, fmt.Errorf("%w: object array count %d, body says %d", core.ErrVerify, len(ids), body.TotalCount)
	}
	root, err := b32.DecodeString(body.RootHash)
	if err != nil {
		return nil, fmt.Errorf("%w: object array root: %v", core.ErrInvalidData, err)
	}
	arr := NewObjectArray(body.HashMethod, ids)
	if !bytes.Equal(arr.tree.Root(), root) {
		return nil, fmt.Errorf("%w: object array root mismatch", core.ErrVerify)
	}
	return arr, nil
}

func (a *ObjectArray) Len() int                    { return len(a.ids) }
func (a *ObjectArray) HashMethod() core.HashMethod { return a.method }
func (a *ObjectArray) RootHash() []byte            { return a.tree.Root() }

func (a *ObjectArray) Get(i int) (core.ObjId, error) {
	if i < 0 || i >= len(a.ids) {
		return core.ObjId{}, fmt.Errorf("%w: index %d of %d", core.ErrOffsetTooLarge, i, len(a.ids))
	}
	return a.ids[i], nil
}

// IDs 返回副本
func (a *ObjectArray) IDs() []core.ObjId {
	out := make([]core.ObjId, len(a.ids))
	copy(out, a.ids)
	return out
}

func (a *ObjectArray) Body() ObjectArrayBody {
	return ObjectArrayBody{
		RootHash:   b32.EncodeToString(a.tree.Root()),
		HashMethod: a.method,
		TotalCount: uint64(len(a.ids)),
	}
}

func (a *ObjectArray) ObjId() core.ObjId {
	return core.NewObjId(core.ObjTypeObjectArray, a.tree.Root())
}

// Data 是单独保存 id 列表时使用的 JSON 数组
func (a *ObjectArray) Data() (string, error) {
	data, err := json.Marshal(a.ids)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidData, err)
	}
	return string(data), nil
}

// ProofPath 证明第 i 个元素属于该数组
func (a *ObjectArray) ProofPath(i uint64) ([]mtree.ProofNode, error) {
	return a.tree.ProofPath(i)
}

// ParseObjectArrayData 解析 Data() 的结果
func ParseObjectArrayData(data []byte) ([]core.ObjId, error) {
	var ids []core.ObjId
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: object array data: %v", core.ErrInvalidData, err)
	}
	return ids, nil
}
