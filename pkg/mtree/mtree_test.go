package mtree

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnstore/pkg/core"
)

func makeLeaves(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := range leaves {
		leaves[i] = core.CalcHash(core.HashSha256, fmt.Appendf(nil, "leaf-%d", i))
	}
	return leaves
}

func TestDepth(t *testing.T) {
	cases := map[uint64]int{0: 0, 1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 8: 3, 9: 4, 1024: 10, 1025: 11}
	for n, want := range cases {
		assert.Equal(t, want, Depth(n), "n=%d", n)
		if n > 0 {
			assert.Equal(t, want, Build(core.HashSha256, makeLeaves(int(n))).Depth(), "tree depth n=%d", n)
		}
	}
}

func TestBuild_SmallTrees(t *testing.T) {
	m := core.HashSha256
	leaves := makeLeaves(3)

	tree := Build(m, leaves)
	// 第三个叶子和自己配对
	l := core.CalcParentHash(m, leaves[0], leaves[1])
	r := core.CalcParentHash(m, leaves[2], leaves[2])
	assert.Equal(t, core.CalcParentHash(m, l, r), tree.Root())
	assert.Equal(t, uint64(3), tree.LeafCount())

	single := Build(m, leaves[:1])
	assert.Equal(t, leaves[0], single.Root())

	empty := Build(m, nil)
	assert.Equal(t, uint64(0), empty.LeafCount())
	assert.Equal(t, core.CalcHash(m, nil), empty.Root())
	_, err := empty.ProofPath(0)
	assert.ErrorIs(t, err, core.ErrOffsetTooLarge)
}

func TestProofPath_AllLeavesVerify(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 7, 8, 13, 64, 100} {
		tree := Build(core.HashSha256, makeLeaves(n))
		for i := 0; i < n; i++ {
			path, err := tree.ProofPath(uint64(i))
			require.NoError(t, err)
			assert.Len(t, path, tree.Depth()+2)
			assert.Equal(t, uint64(i), path[0].Index)
			assert.Equal(t, tree.Root(), path[len(path)-1].Hash)
			assert.NoError(t, Verify(core.HashSha256, path), "n=%d leaf=%d", n, i)
		}
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	tree := Build(core.HashSha256, makeLeaves(11))
	path, err := tree.ProofPath(6)
	require.NoError(t, err)

	for i := range path {
		tampered := make([]ProofNode, len(path))
		for j, p := range path {
			tampered[j] = ProofNode{Index: p.Index, Hash: append([]byte(nil), p.Hash...)}
		}
		tampered[i].Hash[0] ^= 0xff
		assert.ErrorIs(t, Verify(core.HashSha256, tampered), core.ErrVerify, "entry %d", i)
	}

	assert.ErrorIs(t, Verify(core.HashSha256, path[:1]), core.ErrVerify)
}

func TestBuilder_MatchesBuild(t *testing.T) {
	b := NewBuilder(core.HashSha256, 4)
	var datas [][]byte
	for i := 0; i < 5; i++ {
		d := fmt.Appendf(nil, "leaf-%d", i)
		datas = append(datas, d)
		assert.Equal(t, uint64(i), b.AppendData(d))
	}
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, Build(core.HashSha256, makeLeaves(5)).Root(), b.Finalize().Root())
}

func TestProofNode_JSON(t *testing.T) {
	node := ProofNode{Index: 3, Hash: []byte{0xab, 0xcd}}
	data, err := json.Marshal(node)
	require.NoError(t, err)
	assert.JSONEq(t, `[3,"abcd"]`, string(data))

	var back ProofNode
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, node, back)

	assert.ErrorIs(t, json.Unmarshal([]byte(`[1]`), &back), core.ErrInvalidData)
}
