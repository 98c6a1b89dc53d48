package chunklist

import (
	"encoding/json"
	"fmt"
	"math"
	"math/bits"

	"ndnstore/pkg/core"
	"ndnstore/pkg/types"
)

// ModeThreshold 以内的 chunk list 为 simple 模式
const ModeThreshold = 1024

// Meta 是构造 chunk list 时由调用方给出的信息
type Meta struct {
	TotalSize uint64
	FixSize   *uint64 // nil 表示变长
}

// Body 是计算 chunk list id 的内容
type Body struct {
	ObjectArray ObjectArrayBody `json:"object_array"`
	TotalCount  uint64          `json:"total_count"`
	TotalSize   uint64          `json:"total_size"`
	FixSize     *uint64         `json:"fix_size,omitempty"`
}

func (b Body) IsSimple() bool    { return b.TotalCount <= ModeThreshold }
func (b Body) IsFixedSize() bool { return b.FixSize != nil }

// ListType 返回 cl / clf / cls / clsf 之一
func (b Body) ListType() string {
	switch {
	case b.IsSimple() && b.IsFixedSize():
		return core.ObjTypeChunkListSimpleFixSize
	case b.IsSimple():
		return core.ObjTypeChunkListSimple
	case b.IsFixedSize():
		return core.ObjTypeChunkListFixSize
	default:
		return core.ObjTypeChunkList
	}
}

func (b Body) CalcObjId() (core.ObjId, string, error) {
	return core.BuildNamedObjectByJSON(b.ListType(), b)
}

// ChunkList 是有序的 chunk 序列
type ChunkList struct {
	meta   Meta
	array  *ObjectArray
	chunks []core.ChunkId
	body   Body
	id     core.ObjId
	json   string
}

// New 用 chunk id 列表构造
func New(method core.HashMethod, chunks []core.ChunkId, meta Meta) (*ChunkList, error) {
	ids := make([]core.ObjId, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ObjId()
	}
	return build(NewObjectArray(method, ids), meta)
}

// Open 从保存的 body 和 id 列表恢复，root 不符时返回 ErrVerify
func Open(bodyJSON []byte, ids []core.ObjId) (*ChunkList, error) {
	var body Body
	if err := json.Unmarshal(bodyJSON, &body); err != nil {
		return nil, fmt.Errorf("%w: chunk list body: %v", core.ErrInvalidData, err)
	}
	if body.TotalCount != body.ObjectArray.TotalCount {
		return nil, fmt.Errorf("%w: chunk list count %d, array says %d", core.ErrInvalidData, body.TotalCount, body.ObjectArray.TotalCount)
	}
	arr, err := OpenObjectArray(body.ObjectArray, ids)
	if err != nil {
		return nil, err
	}
	return build(arr, Meta{TotalSize: body.TotalSize, FixSize: body.FixSize})
}

func build(arr *ObjectArray, meta Meta) (*ChunkList, error) {
	chunks := make([]core.ChunkId, arr.Len())
	for i, id := range arr.ids {
		c, err := core.ChunkIdFromObjId(id)
		if err != nil {
			return nil, fmt.Errorf("chunk list item %d: %w", i, err)
		}
		chunks[i] = c
	}

	body := Body{
		ObjectArray: arr.Body(),
		TotalCount:  uint64(arr.Len()),
		TotalSize:   meta.TotalSize,
		FixSize:     meta.FixSize,
	}
	id, s, err := body.CalcObjId()
	if err != nil {
		return nil, err
	}
	return &ChunkList{meta: meta, array: arr, chunks: chunks, body: body, id: id, json: s}, nil
}

func (l *ChunkList) ObjId() core.ObjId           { return l.id }
func (l *ChunkList) Body() Body                  { return l.body }
func (l *ChunkList) BodyJSON() string            { return l.json }
func (l *ChunkList) Meta() Meta                  { return l.meta }
func (l *ChunkList) ObjectArray() *ObjectArray   { return l.array }
func (l *ChunkList) HashMethod() core.HashMethod { return l.array.HashMethod() }
func (l *ChunkList) Len() int                    { return len(l.chunks) }
func (l *ChunkList) TotalSize() uint64           { return l.meta.TotalSize }
func (l *ChunkList) IsSimple() bool              { return l.body.IsSimple() }
func (l *ChunkList) IsFixedSize() bool           { return l.body.IsFixedSize() }
func (l *ChunkList) Chunks() []core.ChunkId      { return append([]core.ChunkId(nil), l.chunks...) }

func (l *ChunkList) Chunk(i int) (core.ChunkId, error) {
	if i < 0 || i >= len(l.chunks) {
		return core.ChunkId{}, fmt.Errorf("%w: chunk index %d of %d, %s", core.ErrOffsetTooLarge, i, len(l.chunks), l.id)
	}
	return l.chunks[i], nil
}

func (l *ChunkList) chunkLen(i int) (uint64, error) {
	n, ok := l.chunks[i].Length()
	if !ok {
		return 0, fmt.Errorf("%w: chunk %s has no embedded length", core.ErrInvalidData, l.chunks[i])
	}
	return n, nil
}

func (l *ChunkList) fixSize() (uint64, error) {
	fix := *l.meta.FixSize
	if fix == 0 {
		return 0, fmt.Errorf("%w: fixed size cannot be zero", core.ErrInvalidData)
	}
	return fix, nil
}

// ChunkIndexByOffset 返回 (chunk 下标, chunk 内偏移)
// 恰好位于末尾时落在最后一个 chunk 的结尾
func (l *ChunkList) ChunkIndexByOffset(seek types.SeekFrom) (uint64, uint64, error) {
	switch seek.Whence {
	case types.SeekStart:
		if seek.Offset < 0 {
			return 0, 0, fmt.Errorf("%w: negative start offset %d", core.ErrInvalidParam, seek.Offset)
		}
		return l.indexFromStart(uint64(seek.Offset))
	case types.SeekEnd:
		return l.indexFromEnd(seek.Offset)
	default:
		return 0, 0, fmt.Errorf("%w: %s, chunk list holds no cursor", core.ErrUnsupported, seek)
	}
}

func (l *ChunkList) indexFromStart(pos uint64) (uint64, uint64, error) {
	n := uint64(len(l.chunks))
	if n == 0 {
		return 0, 0, fmt.Errorf("%w: chunk list %s is empty", core.ErrOffsetTooLarge, l.id)
	}

	if l.meta.FixSize != nil {
		fix, err := l.fixSize()
		if err != nil {
			return 0, 0, err
		}
		idx, off := pos/fix, pos%fix
		if idx >= n {
			return 0, 0, fmt.Errorf("%w: chunk index %d exceeds total chunks %d, %s", core.ErrOffsetTooLarge, idx, n, l.id)
		}
		return idx, off, nil
	}

	var total uint64
	for i := range l.chunks {
		length, err := l.chunkLen(i)
		if err != nil {
			return 0, 0, err
		}
		if total+length > pos {
			return uint64(i), pos - total, nil
		}
		total += length
	}
	if pos == total {
		last, _ := l.chunkLen(len(l.chunks) - 1)
		return n - 1, last, nil
	}
	return 0, 0, fmt.Errorf("%w: offset %d exceeds total size %d, %s", core.ErrOffsetTooLarge, pos, total, l.id)
}

func (l *ChunkList) indexFromEnd(offset int64) (uint64, uint64, error) {
	n := uint64(len(l.chunks))
	if n == 0 {
		return 0, 0, fmt.Errorf("%w: chunk list %s is empty", core.ErrOffsetTooLarge, l.id)
	}
	if offset > 0 {
		return 0, 0, fmt.Errorf("%w: offset %d from end is positive, %s", core.ErrOffsetTooLarge, offset, l.id)
	}
	back := uint64(-offset)
	if offset == math.MinInt64 {
		back = uint64(math.MaxInt64) + 1
	}

	if l.meta.FixSize != nil {
		fix, err := l.fixSize()
		if err != nil {
			return 0, 0, err
		}
		hi, total := bits.Mul64(fix, n)
		if hi != 0 {
			return 0, 0, fmt.Errorf("%w: total size overflow, %s", core.ErrOffsetTooLarge, l.id)
		}
		if back > total {
			return 0, 0, fmt.Errorf("%w: offset %d from end exceeds total size %d, %s", core.ErrOffsetTooLarge, offset, total, l.id)
		}
		pos := total - back
		if pos == total {
			return n - 1, fix, nil
		}
		return pos / fix, pos % fix, nil
	}

	// 变长: 从后往前累加
	var acc uint64
	for i := len(l.chunks) - 1; i >= 0; i-- {
		length, err := l.chunkLen(i)
		if err != nil {
			return 0, 0, err
		}
		if back == 0 {
			return uint64(i), length, nil
		}
		acc += length
		if acc >= back {
			return uint64(i), acc - back, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: offset %d from end exceeds total size %d, %s", core.ErrOffsetTooLarge, offset, acc, l.id)
}

// OffsetByIndex 返回第 i 个 chunk 在整个列表中的起始位置
func (l *ChunkList) OffsetByIndex(i uint64) (uint64, error) {
	n := uint64(len(l.chunks))
	if i >= n {
		return 0, fmt.Errorf("%w: chunk index %d exceeds total chunks %d, %s", core.ErrOffsetTooLarge, i, n, l.id)
	}

	if l.meta.FixSize != nil {
		fix, err := l.fixSize()
		if err != nil {
			return 0, err
		}
		hi, off := bits.Mul64(i, fix)
		if hi != 0 {
			return 0, fmt.Errorf("%w: index %d * fix size %d overflow, %s", core.ErrOffsetTooLarge, i, fix, l.id)
		}
		return off, nil
	}

	var total uint64
	for j := uint64(0); j < i; j++ {
		length, err := l.chunkLen(int(j))
		if err != nil {
			return 0, err
		}
		sum, carry := bits.Add64(total, length, 0)
		if carry != 0 {
			return 0, fmt.Errorf("%w: offset overflow at index %d, %s", core.ErrOffsetTooLarge, i, l.id)
		}
		total = sum
	}
	return total, nil
}
