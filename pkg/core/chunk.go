package core

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"strings"
)

const (
	// CalcHashPieceSize 流式计算 hash 时每次读取的大小
	CalcHashPieceSize = 1024 * 1024
	// QcidHashPieceSize quick hash 取样片段大小
	QcidHashPieceSize = 4096
	// MaxChunkSize 单个 chunk 的上限
	MaxChunkSize = 2 * 1024 * 1024 * 1024
)

// ChunkType 是 chunk id 的类型标签，决定了 hash 算法以及是否内嵌长度
type ChunkType string

const (
	ChunkSha256        ChunkType = "sha256"
	ChunkMix256        ChunkType = "mix256"
	ChunkSha512        ChunkType = "sha512"
	ChunkMix512        ChunkType = "mix512"
	ChunkQcid          ChunkType = "qcid" // 总是带长度
	ChunkBlake2s256    ChunkType = "blake2s256"
	ChunkMixBlake2s256 ChunkType = "mixblake2s256"
	ChunkKeccak256     ChunkType = "keccak256"
	ChunkMixKeccak256  ChunkType = "mixkeccak256"
	ChunkBlake3        ChunkType = "blake3"
	ChunkMixBlake3     ChunkType = "mixblake3"
)

var chunkTypeMethods = map[ChunkType]HashMethod{
	ChunkSha256:        HashSha256,
	ChunkMix256:        HashSha256,
	ChunkSha512:        HashSha512,
	ChunkMix512:        HashSha512,
	ChunkQcid:          HashSha256,
	ChunkBlake2s256:    HashBlake2s256,
	ChunkMixBlake2s256: HashBlake2s256,
	ChunkKeccak256:     HashKeccak256,
	ChunkMixKeccak256:  HashKeccak256,
	ChunkBlake3:        HashBlake3,
	ChunkMixBlake3:     HashBlake3,
}

// ParseChunkType 只接受已知类型
func ParseChunkType(s string) (ChunkType, error) {
	t := ChunkType(s)
	if _, ok := chunkTypeMethods[t]; !ok {
		return "", fmt.Errorf("%w: invalid chunk type %q", ErrInvalidID, s)
	}
	return t, nil
}

// ChunkTypeFor 根据 hash 算法和是否 mix 得到类型
func ChunkTypeFor(m HashMethod, mix bool) ChunkType {
	if !mix {
		return ChunkType(m)
	}
	if m == HashSha256 {
		return ChunkMix256
	}
	if m == HashSha512 {
		return ChunkMix512
	}
	return ChunkType("mix" + string(m))
}

func (t ChunkType) String() string { return string(t) }

func (t ChunkType) IsMix() bool {
	return t == ChunkQcid || strings.HasPrefix(string(t), "mix")
}

func (t ChunkType) HashMethod() (HashMethod, error) {
	m, ok := chunkTypeMethods[t]
	if !ok {
		return "", fmt.Errorf("%w: invalid chunk type %q", ErrInvalidID, t)
	}
	return m, nil
}

// ChunkId 是 ObjId 针对二进制块的特化
type ChunkId struct {
	Type       ChunkType
	HashResult []byte // mix 类型为 uvarint(length) || digest
}

// NewChunkId 非 mix 的纯 hash id
func NewChunkId(m HashMethod, digest []byte) ChunkId {
	return ChunkId{Type: ChunkTypeFor(m, false), HashResult: bytes.Clone(digest)}
}

// NewMixChunkId 把长度编码进 id
func NewMixChunkId(m HashMethod, length uint64, digest []byte) ChunkId {
	return ChunkId{Type: ChunkTypeFor(m, true), HashResult: mixHash(length, digest)}
}

func mixHash(length uint64, digest []byte) []byte {
	out := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen64+len(digest)), length)
	return append(out, digest...)
}

// ChunkIdFromObjId 转换并校验类型
func ChunkIdFromObjId(id ObjId) (ChunkId, error) {
	t, err := ParseChunkType(id.ObjType)
	if err != nil {
		return ChunkId{}, err
	}
	return ChunkId{Type: t, HashResult: bytes.Clone(id.ObjHash)}, nil
}

// ParseChunkId 解析任意文本形式
func ParseChunkId(s string) (ChunkId, error) {
	id, err := ParseObjId(s)
	if err != nil {
		return ChunkId{}, err
	}
	return ChunkIdFromObjId(id)
}

func (c ChunkId) ObjId() ObjId {
	return ObjId{ObjType: string(c.Type), ObjHash: c.HashResult}
}

func (c ChunkId) String() string { return c.ObjId().String() }
func (c ChunkId) Base32() string { return c.ObjId().Base32() }
func (c ChunkId) IsZero() bool   { return c.Type == "" && len(c.HashResult) == 0 }

func (c ChunkId) Equal(other ChunkId) bool {
	return c.Type == other.Type && bytes.Equal(c.HashResult, other.HashResult)
}

// Length 对 mix 类型返回内嵌的长度
func (c ChunkId) Length() (uint64, bool) {
	if !c.Type.IsMix() || len(c.HashResult) == 0 {
		return 0, false
	}
	n, k := binary.Uvarint(c.HashResult)
	if k <= 0 {
		return 0, false
	}
	return n, true
}

// Hash 返回纯摘要 (去掉长度前缀)
func (c ChunkId) Hash() []byte {
	if !c.Type.IsMix() || len(c.HashResult) == 0 {
		return c.HashResult
	}
	_, k := binary.Uvarint(c.HashResult)
	if k <= 0 {
		return c.HashResult
	}
	return c.HashResult[k:]
}

// MatchDigest 比较纯摘要部分
func (c ChunkId) MatchDigest(digest []byte) bool {
	return bytes.Equal(c.Hash(), digest)
}

func (c ChunkId) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

func (c *ChunkId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	id, err := ParseChunkId(s)
	if err != nil {
		return err
	}
	*c = id
	return nil
}

// -----------------------------------------------------------------------------
// ChunkHasher
// -----------------------------------------------------------------------------

// ChunkHasher 流式计算 chunk id，可以保存/恢复中间状态用于断点续传
type ChunkHasher struct {
	method HashMethod
	h      hash.Hash
	pos    uint64
}

func NewChunkHasher(m HashMethod) *ChunkHasher {
	if m == "" {
		m = DefaultHashMethod
	}
	return &ChunkHasher{method: m, h: m.New()}
}

func (c *ChunkHasher) Method() HashMethod { return c.method }
func (c *ChunkHasher) Pos() uint64        { return c.pos }

func (c *ChunkHasher) Write(p []byte) (int, error) {
	n, err := c.h.Write(p)
	c.pos += uint64(n)
	return n, err
}

func (c *ChunkHasher) Finalize() []byte { return c.h.Sum(nil) }

func (c *ChunkHasher) FinalizeChunkId() ChunkId {
	return NewChunkId(c.method, c.Finalize())
}

func (c *ChunkHasher) FinalizeMixChunkId() ChunkId {
	return NewMixChunkId(c.method, c.pos, c.Finalize())
}

// ReadFrom 把 reader 全部喂进 hasher
func (c *ChunkHasher) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, CalcHashPieceSize)
	// 包一层，避免 io.CopyBuffer 回调到 c.ReadFrom
	return io.CopyBuffer(struct{ io.Writer }{c}, r, buf)
}

type hasherState struct {
	Method HashMethod `json:"method"`
	Pos    uint64     `json:"pos"`
	State  []byte     `json:"state"`
}

// SaveState 序列化中间状态，需要底层 hash 实现 encoding.BinaryMarshaler
func (c *ChunkHasher) SaveState() ([]byte, error) {
	m, ok := c.h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("%w: %s hasher state is not serializable", ErrUnsupported, c.method)
	}
	state, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return json.Marshal(hasherState{Method: c.method, Pos: c.pos, State: state})
}

// RestoreChunkHasher 从 SaveState 的结果恢复
func RestoreChunkHasher(data []byte) (*ChunkHasher, error) {
	var st hasherState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	method, err := ParseHashMethod(string(st.Method))
	if err != nil {
		return nil, err
	}
	h := method.New()
	u, ok := h.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, fmt.Errorf("%w: %s hasher state is not serializable", ErrUnsupported, method)
	}
	if err := u.UnmarshalBinary(st.State); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &ChunkHasher{method: method, h: h, pos: st.Pos}, nil
}

// CalcChunkId 计算纯 hash 的 chunk id
func CalcChunkId(m HashMethod, data []byte) ChunkId {
	return NewChunkId(m, CalcHash(m, data))
}

// CalcMixChunkId 计算带长度的 chunk id
func CalcMixChunkId(m HashMethod, data []byte) ChunkId {
	return NewMixChunkId(m, uint64(len(data)), CalcHash(m, data))
}

// CalcChunkIdFromReader 流式计算，返回 chunk id 和字节数
func CalcChunkIdFromReader(r io.Reader, m HashMethod, mix bool) (ChunkId, uint64, error) {
	hasher := NewChunkHasher(m)
	if _, err := hasher.ReadFrom(r); err != nil {
		return ChunkId{}, 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if mix {
		return hasher.FinalizeMixChunkId(), hasher.Pos(), nil
	}
	return hasher.FinalizeChunkId(), hasher.Pos(), nil
}

// VerifyChunkData 校验数据与 id 是否匹配 (mix 类型同时校验长度)
func VerifyChunkData(id ChunkId, data []byte) error {
	m, err := id.Type.HashMethod()
	if err != nil {
		return err
	}
	if id.Type == ChunkQcid {
		return fmt.Errorf("%w: qcid cannot be verified from data", ErrUnsupported)
	}
	if length, ok := id.Length(); ok && length != uint64(len(data)) {
		return fmt.Errorf("%w: chunk %s length %d != %d", ErrVerify, id, len(data), length)
	}
	if !id.MatchDigest(CalcHash(m, data)) {
		return fmt.Errorf("%w: chunk %s hash mismatch", ErrVerify, id)
	}
	return nil
}

// QuickHash 对大文件取首/中/尾三段计算 qcid
// 只用于快速判重，不能代替完整校验
func QuickHash(r io.ReaderAt, length uint64) (ChunkId, error) {
	if length < QcidHashPieceSize*3 {
		return ChunkId{}, fmt.Errorf("%w: quick hash item size is too small", ErrInvalidParam)
	}
	h := HashSha256.New()
	buf := make([]byte, QcidHashPieceSize)
	for _, off := range []uint64{0, length / 2, length - QcidHashPieceSize} {
		if _, err := r.ReadAt(buf, int64(off)); err != nil {
			return ChunkId{}, fmt.Errorf("%w: %v", ErrIO, err)
		}
		h.Write(buf)
	}
	return ChunkId{Type: ChunkQcid, HashResult: mixHash(length, h.Sum(nil))}, nil
}
