package mtree

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/bits"

	"ndnstore/pkg/core"
)

// ProofNode 是证明路径上的一项
// Index 是该节点在所在层内的下标，它的奇偶决定了合并方向
type ProofNode struct {
	Index uint64
	Hash  []byte
}

// MarshalJSON 输出 [index, "hex"]
func (p ProofNode) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Index, hex.EncodeToString(p.Hash)})
}

func (p *ProofNode) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: proof node: %v", core.ErrInvalidData, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: proof node needs [index, hash]", core.ErrInvalidData)
	}
	var idx uint64
	var h string
	if err := json.Unmarshal(pair[0], &idx); err != nil {
		return fmt.Errorf("%w: proof node index: %v", core.ErrInvalidData, err)
	}
	if err := json.Unmarshal(pair[1], &h); err != nil {
		return fmt.Errorf("%w: proof node hash: %v", core.ErrInvalidData, err)
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return fmt.Errorf("%w: proof node hash: %v", core.ErrInvalidData, err)
	}
	p.Index, p.Hash = idx, raw
	return nil
}

// Tree 是一棵完整保存在内存中的 Merkle 树
// levels[0] 是叶子层，最后一层只有 root
type Tree struct {
	method core.HashMethod
	count  uint64
	levels [][][]byte
}

// Depth 返回 ceil(log2(n))，n<=1 时为 0
func Depth(n uint64) int {
	if n <= 1 {
		return 0
	}
	return bits.Len64(n - 1)
}

// Build 从叶子 hash 构造整棵树
// 奇数个节点时，最后一个和自己配对
// 空树的 root 定义为 H("")
func Build(method core.HashMethod, leaves [][]byte) *Tree {
	t := &Tree{method: method, count: uint64(len(leaves))}
	if len(leaves) == 0 {
		t.levels = [][][]byte{{core.CalcHash(method, nil)}}
		return t
	}

	level := make([][]byte, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, core.CalcParentHash(method, level[i], right))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

func (t *Tree) Method() core.HashMethod { return t.method }

// Root 返回根 hash
func (t *Tree) Root() []byte {
	top := t.levels[len(t.levels)-1]
	return bytes.Clone(top[0])
}

func (t *Tree) LeafCount() uint64 { return t.count }

func (t *Tree) Depth() int { return len(t.levels) - 1 }

// Leaf 返回第 i 个叶子 hash
func (t *Tree) Leaf(i uint64) ([]byte, error) {
	if i >= t.LeafCount() {
		return nil, fmt.Errorf("%w: leaf %d of %d", core.ErrOffsetTooLarge, i, t.LeafCount())
	}
	return bytes.Clone(t.levels[0][i]), nil
}

// ProofPath 返回 [(leaf, leafHash), (sibling, hash)..., (0, root)]
func (t *Tree) ProofPath(leaf uint64) ([]ProofNode, error) {
	if leaf >= t.LeafCount() {
		return nil, fmt.Errorf("%w: leaf %d of %d", core.ErrOffsetTooLarge, leaf, t.LeafCount())
	}

	path := make([]ProofNode, 0, len(t.levels)+1)
	path = append(path, ProofNode{Index: leaf, Hash: bytes.Clone(t.levels[0][leaf])})

	idx := leaf
	for _, level := range t.levels[:len(t.levels)-1] {
		sib := idx ^ 1
		if sib >= uint64(len(level)) {
			// 和自己配对
			sib = idx
		}
		path = append(path, ProofNode{Index: sib, Hash: bytes.Clone(level[sib])})
		idx /= 2
	}

	path = append(path, ProofNode{Index: 0, Hash: t.Root()})
	return path, nil
}

// Verify 沿证明路径重算 root，并与最后一项比较
func Verify(method core.HashMethod, path []ProofNode) error {
	if len(path) < 2 {
		return fmt.Errorf("%w: proof path too short (%d)", core.ErrVerify, len(path))
	}

	cur := path[0].Hash
	for _, sib := range path[1 : len(path)-1] {
		if sib.Index%2 == 0 {
			cur = core.CalcParentHash(method, sib.Hash, cur)
		} else {
			cur = core.CalcParentHash(method, cur, sib.Hash)
		}
	}

	if !bytes.Equal(cur, path[len(path)-1].Hash) {
		return fmt.Errorf("%w: merkle root mismatch", core.ErrVerify)
	}
	return nil
}

// Builder 逐个追加叶子，最后一次性生成树
type Builder struct {
	method core.HashMethod
	leaves [][]byte
}

func NewBuilder(method core.HashMethod, sizeHint int) *Builder {
	return &Builder{method: method, leaves: make([][]byte, 0, sizeHint)}
}

// AppendData 对数据做 hash 后作为叶子追加，返回叶子下标
func (b *Builder) AppendData(data []byte) uint64 {
	return b.AppendLeaf(core.CalcHash(b.method, data))
}

// AppendLeaf 直接追加叶子 hash
func (b *Builder) AppendLeaf(leaf []byte) uint64 {
	b.leaves = append(b.leaves, bytes.Clone(leaf))
	return uint64(len(b.leaves) - 1)
}

func (b *Builder) Len() int { return len(b.leaves) }

func (b *Builder) Finalize() *Tree {
	return Build(b.method, b.leaves)
}
