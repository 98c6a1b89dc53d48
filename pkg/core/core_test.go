package core

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 1. ObjId 文本形式
// -----------------------------------------------------------------------------

func TestObjId_TextForms(t *testing.T) {
	id := mustParseObjId(t, "sha256:0203040506")

	assert.Equal(t, "sha256", id.ObjType)
	assert.Equal(t, "0203040506", hex.EncodeToString(id.ObjHash))
	assert.Equal(t, "sha256:0203040506", id.String())
	assert.Equal(t, "onugcmrvgy5aeayeauda", id.Base32())

	// base32 -> 同一个 id
	id2 := mustParseObjId(t, "onugcmrvgy5aeayeauda")
	assert.True(t, id.Equal(id2))

	// 二进制往返
	id3, err := ObjIdFromBytes(id.Bytes())
	require.NoError(t, err)
	assert.True(t, id.Equal(id3))
}

func TestObjId_FromHostnameAndPath(t *testing.T) {
	id, err := ObjIdFromHostname("onugcmrvgy5aeayeauda.ndn.example.com")
	require.NoError(t, err)
	assert.Equal(t, "sha256:0203040506", id.String())

	id, sub, err := ObjIdFromPath("/sha256:0203040506/test.txt")
	require.NoError(t, err)
	assert.Equal(t, "sha256:0203040506", id.String())
	assert.Equal(t, "/test.txt", sub)

	id, sub, err = ObjIdFromPath("/abc/onugcmrvgy5aeayeauda")
	require.NoError(t, err)
	assert.Equal(t, "sha256:0203040506", id.String())
	assert.Empty(t, sub)

	_, _, err = ObjIdFromPath("/abc/def.txt")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestObjId_Invalid(t *testing.T) {
	cases := []string{"", "a:b:c", "sha256:zz", ":0102", "!!!"}
	for _, c := range cases {
		_, err := ParseObjId(c)
		assert.ErrorIs(t, err, ErrInvalidID, "input %q", c)
	}
}

func TestObjId_TypePredicates(t *testing.T) {
	chunk := NewObjId("mix256", []byte{1, 2, 3})
	assert.True(t, chunk.IsChunk())
	assert.False(t, chunk.IsJSON())

	list := NewObjId(ObjTypeChunkList, []byte{1})
	assert.True(t, list.IsChunkList())
	assert.True(t, list.IsJSON())

	assert.True(t, NewObjId(ObjTypeObjMap, []byte{1}).IsBigContainer())
	assert.True(t, NewObjId(ObjTypeMtree, []byte{1}).IsBigContainer())
	assert.False(t, NewObjId(ObjTypeFile, []byte{1}).IsBigContainer())
}

func TestObjId_JSONAndBinary(t *testing.T) {
	id := mustParseObjId(t, "sha256:0203040506")

	data, err := json.Marshal(struct {
		ID ObjId `json:"id"`
	}{id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"sha256:0203040506"}`, string(data))

	var decoded struct {
		ID ObjId `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, id.Equal(decoded.ID))

	// CBOR 走 MarshalBinary
	enc, err := EncodeCanonical(id)
	require.NoError(t, err)
	var back ObjId
	require.NoError(t, DecodeObject(enc, &back))
	assert.True(t, id.Equal(back))
}

// -----------------------------------------------------------------------------
// 2. ChunkId
// -----------------------------------------------------------------------------

func TestChunkId_Deterministic(t *testing.T) {
	data := randomBytes(t, 4096)

	id1 := CalcChunkId(HashSha256, data)
	id2 := CalcChunkId(HashSha256, data)
	assert.True(t, id1.Equal(id2), "相同数据必须得到相同 id")
	assert.True(t, id1.ObjId().IsChunk())

	// 用别的数据校验必须失败
	other := append(bytes.Clone(data), 0x01)
	assert.ErrorIs(t, VerifyChunkData(id1, other), ErrVerify)
	assert.NoError(t, VerifyChunkData(id1, data))
}

func TestChunkId_MixLength(t *testing.T) {
	methods := []HashMethod{HashSha256, HashSha512, HashBlake2s256, HashKeccak256, HashBlake3}
	data := randomBytes(t, 1000)

	for _, m := range methods {
		t.Run(string(m), func(t *testing.T) {
			id := CalcMixChunkId(m, data)
			assert.True(t, id.Type.IsMix())

			length, ok := id.Length()
			require.True(t, ok)
			assert.Equal(t, uint64(1000), length)
			assert.Len(t, id.Hash(), m.Size())
			assert.True(t, id.MatchDigest(CalcHash(m, data)))

			// 文本往返
			parsed, err := ParseChunkId(id.String())
			require.NoError(t, err)
			assert.True(t, id.Equal(parsed))

			// 长度不对也要被拒绝
			assert.ErrorIs(t, VerifyChunkData(id, data[:999]), ErrVerify)
		})
	}

	plain := CalcChunkId(HashSha256, data)
	_, ok := plain.Length()
	assert.False(t, ok, "非 mix id 不带长度")
}

func TestChunkId_RejectsUnknownType(t *testing.T) {
	_, err := ParseChunkId("cyfile:0102")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.False(t, mustParseObjId(t, "cyfile:0102").IsChunk())
}

func TestChunkHasher_SaveRestore(t *testing.T) {
	data := randomBytes(t, 2048)

	full := NewChunkHasher(HashSha256)
	_, _ = full.Write(data)
	expected := full.FinalizeMixChunkId()

	half := NewChunkHasher(HashSha256)
	_, _ = half.Write(data[:1024])
	state, err := half.SaveState()
	require.NoError(t, err)

	restored, err := RestoreChunkHasher(state)
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), restored.Pos())
	_, _ = restored.Write(data[1024:])

	assert.True(t, expected.Equal(restored.FinalizeMixChunkId()))
}

func TestCalcChunkIdFromReader(t *testing.T) {
	data := randomBytes(t, 3*CalcHashPieceSize+17)
	id, n, err := CalcChunkIdFromReader(bytes.NewReader(data), HashSha256, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), n)
	assert.True(t, id.Equal(CalcMixChunkId(HashSha256, data)))
}

func TestQuickHash(t *testing.T) {
	data := randomBytes(t, QcidHashPieceSize*4)
	id, err := QuickHash(bytes.NewReader(data), uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, ChunkQcid, id.Type)
	length, ok := id.Length()
	require.True(t, ok)
	assert.Equal(t, uint64(len(data)), length)

	_, err = QuickHash(bytes.NewReader(data[:100]), 100)
	assert.ErrorIs(t, err, ErrInvalidParam)
}

// -----------------------------------------------------------------------------
// 3. 命名 JSON 对象
// -----------------------------------------------------------------------------

func TestBuildNamedObjectByJSON_KeyOrder(t *testing.T) {
	id1, s1, err := BuildNamedObjectByJSON("jobj", `{"age":18,"name":"test"}`)
	require.NoError(t, err)
	id2, s2, err := BuildNamedObjectByJSON("jobj", map[string]any{"name": "test", "age": 18})
	require.NoError(t, err)

	// pretty 格式也要得到相同的结果
	id3, _, err := BuildNamedObjectByJSON("jobj", "{\n  \"name\": \"test\",\n  \"age\": 18\n}")
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
	assert.Equal(t, `{"age":18,"name":"test"}`, s1)
	assert.True(t, id1.Equal(id2))
	assert.True(t, id2.Equal(id3))
	assert.Equal(t, "jobj", id1.ObjType)

	assert.True(t, VerifyNamedObject(id1, map[string]any{"name": "test", "age": 18}))
	assert.False(t, VerifyNamedObject(id1, map[string]any{"name": "test", "age": 19}))
}

func TestBuildNamedObjectByJSON_NestedAndNumbers(t *testing.T) {
	_, s, err := BuildNamedObjectByJSON("jobj", `{"b":{"z":1,"a":[{"y":2,"x":1}]},"a":12345678901234567890,"h":"<&>"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":12345678901234567890,"b":{"a":[{"x":1,"y":2}],"z":1},"h":"<&>"}`, s)
}

func TestFileObject_GenObjId(t *testing.T) {
	content := CalcMixChunkId(HashSha256, []byte("hello"))
	f := &FileObject{Name: "a.txt", Size: 5, Content: content.String()}
	id1, body, err := f.GenObjId()
	require.NoError(t, err)
	id2, _, err := f.GenObjId()
	require.NoError(t, err)

	assert.Equal(t, ObjTypeFile, id1.ObjType)
	assert.True(t, id1.Equal(id2))
	assert.True(t, VerifyNamedObject(id1, body))
}

// -----------------------------------------------------------------------------
// 4. LinkData
// -----------------------------------------------------------------------------

func TestLinkData_RoundTrip(t *testing.T) {
	target := mustParseObjId(t, "sha256:0203040506")

	l, err := ParseLinkData(SameAs(target).String())
	require.NoError(t, err)
	assert.Equal(t, LinkSameAs, l.Kind)
	assert.True(t, target.Equal(l.Target))

	p, err := ParseLinkData(PartOf(target, Range{Start: 10, End: 30}).String())
	require.NoError(t, err)
	assert.Equal(t, LinkPartOf, p.Kind)
	assert.Equal(t, uint64(20), p.Range.Len())

	_, err = ParseLinkData(`{"kind":"part_of","target":"sha256:0203040506"}`)
	assert.ErrorIs(t, err, ErrInvalidLink)
	_, err = ParseLinkData(`not json`)
	assert.ErrorIs(t, err, ErrInvalidLink)
}
