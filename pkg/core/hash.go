package core

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// 定义规范化的 CBOR 编码选项
// 用于本地持久化的结构 (ObjectMap 单文件存储、leveldb value)，保证相同内容字节一致
var encOptions = cbor.EncOptions{
	// 强制 Map Key 排序 (Canonical)
	Sort: cbor.SortCanonical,

	ShortestFloat: cbor.ShortestFloatNone,
	Time:          cbor.TimeUnix,
	TimeTag:       cbor.EncTagNone,

	// 禁止不定长编码
	IndefLength: cbor.IndefLengthForbidden,

	BigIntConvert: cbor.BigIntConvertShortest,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// 防止恶意构造的巨大头部耗尽内存或栈
	// ObjectMap 单文件存储可能有很多条目，这里比默认值放宽
	MaxArrayElements: 1 << 24,
	MaxMapPairs:      1 << 24,
	MaxNestedLevels:  32,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	BignumTag:   cbor.BignumTagForbidden,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// EncodeCanonical 使用规范 CBOR 编码
func EncodeCanonical(v any) ([]byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	return data, nil
}

// DecodeObject 通用的 CBOR 解码函数
func DecodeObject(data []byte, v any) error {
	if err := dm.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return nil
}

// HashMethod 定义了 Merkle 树和 chunk 使用的哈希算法
type HashMethod string

const (
	HashSha256     HashMethod = "sha256"
	HashSha512     HashMethod = "sha512"
	HashBlake2s256 HashMethod = "blake2s256"
	HashKeccak256  HashMethod = "keccak256"
	HashBlake3     HashMethod = "blake3"

	DefaultHashMethod = HashSha256
)

// ParseHashMethod 解析算法名，空串返回默认算法
func ParseHashMethod(s string) (HashMethod, error) {
	switch HashMethod(s) {
	case "":
		return DefaultHashMethod, nil
	case HashSha256, HashSha512, HashBlake2s256, HashKeccak256, HashBlake3:
		return HashMethod(s), nil
	}
	return "", fmt.Errorf("%w: invalid hash method %q", ErrInvalidData, s)
}

func (m HashMethod) String() string { return string(m) }

// Size 返回摘要字节数
func (m HashMethod) Size() int {
	if m == HashSha512 {
		return 64
	}
	return 32
}

// New 创建对应算法的 hash.Hash
func (m HashMethod) New() hash.Hash {
	switch m {
	case HashSha512:
		return sha512.New()
	case HashBlake2s256:
		h, _ := blake2s.New256(nil) // 无 key 时不会出错
		return h
	case HashKeccak256:
		return sha3.NewLegacyKeccak256()
	case HashBlake3:
		return blake3.New()
	default:
		return sha256.New()
	}
}

// CalcHash 计算一段数据的摘要
func CalcHash(m HashMethod, data []byte) []byte {
	h := m.New()
	h.Write(data)
	return h.Sum(nil)
}

// CalcParentHash Merkle 父节点 = H(left || right)
func CalcParentHash(m HashMethod, left, right []byte) []byte {
	h := m.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
