package core

import (
	"bytes"
	"encoding/base32"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Base32Encoding 小写字母表，无填充，可以直接放进域名和路径
var Base32Encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

var b32 = Base32Encoding

// ObjId 是内容寻址对象的标识: 类型标签 + 摘要
// 对于 mix 类型的 chunk，摘要前面带有 uvarint 编码的长度
type ObjId struct {
	ObjType string
	ObjHash []byte
}

// NewObjId 直接由类型和摘要构造
func NewObjId(objType string, hash []byte) ObjId {
	return ObjId{ObjType: objType, ObjHash: bytes.Clone(hash)}
}

// ParseObjId 解析 "type:hex" 或 base32 形式
func ParseObjId(s string) (ObjId, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		raw, err := b32.DecodeString(s)
		if err != nil {
			return ObjId{}, fmt.Errorf("%w: decode base32 failed: %s", ErrInvalidID, s)
		}
		return ObjIdFromBytes(raw)
	case 2:
		if parts[0] == "" {
			return ObjId{}, fmt.Errorf("%w: empty type: %s", ErrInvalidID, s)
		}
		hash, err := hex.DecodeString(parts[1])
		if err != nil {
			return ObjId{}, fmt.Errorf("%w: decode hex failed: %v", ErrInvalidID, err)
		}
		return ObjId{ObjType: parts[0], ObjHash: hash}, nil
	default:
		return ObjId{}, fmt.Errorf("%w: %s", ErrInvalidID, s)
	}
}

// MustParseObjId 只用于常量和测试
func MustParseObjId(s string) ObjId {
	id, err := ParseObjId(s)
	if err != nil {
		panic(err)
	}
	return id
}

// ObjIdFromBytes 解析二进制形式 type ':' hash
func ObjIdFromBytes(raw []byte) (ObjId, error) {
	if len(raw) < 3 {
		return ObjId{}, fmt.Errorf("%w: objid bytes too short", ErrInvalidID)
	}
	pos := bytes.IndexByte(raw, ':')
	if pos <= 0 {
		return ObjId{}, fmt.Errorf("%w: separator ':' not found", ErrInvalidID)
	}
	if !utf8.Valid(raw[:pos]) {
		return ObjId{}, fmt.Errorf("%w: invalid utf8 in obj_type", ErrInvalidID)
	}
	return ObjId{ObjType: string(raw[:pos]), ObjHash: bytes.Clone(raw[pos+1:])}, nil
}

// ObjIdFromHostname 取域名的第一段
// 例: onugcmrvgy5aeayeauda.ndn.example.com
func ObjIdFromHostname(host string) (ObjId, error) {
	first, _, _ := strings.Cut(host, ".")
	return ParseObjId(first)
}

// ObjIdFromPath 找到路径中第一个能解析的 objid，返回它和剩余的子路径
// 例: /sha256:0203040506/test.txt -> (sha256:0203040506, "/test.txt")
func ObjIdFromPath(path string) (ObjId, string, error) {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		id, err := ParseObjId(part)
		if err != nil {
			continue
		}
		if i < len(parts)-1 {
			return id, "/" + strings.Join(parts[i+1:], "/"), nil
		}
		return id, "", nil
	}
	return ObjId{}, "", fmt.Errorf("%w: no objid found in path: %s", ErrInvalidID, path)
}

// String 返回 "type:hex"
func (o ObjId) String() string {
	return o.ObjType + ":" + hex.EncodeToString(o.ObjHash)
}

// Base32 返回可用于域名/路径的短形式
func (o ObjId) Base32() string {
	return b32.EncodeToString(o.Bytes())
}

func (o ObjId) Bytes() []byte {
	out := make([]byte, 0, len(o.ObjType)+1+len(o.ObjHash))
	out = append(out, o.ObjType...)
	out = append(out, ':')
	return append(out, o.ObjHash...)
}

func (o ObjId) IsZero() bool { return o.ObjType == "" && len(o.ObjHash) == 0 }

func (o ObjId) Equal(other ObjId) bool {
	return o.ObjType == other.ObjType && bytes.Equal(o.ObjHash, other.ObjHash)
}

// IsChunk 是否为原始二进制 chunk
func (o ObjId) IsChunk() bool {
	_, err := ParseChunkType(o.ObjType)
	return err == nil
}

// IsChunkList 是否为四种 chunk list 之一
func (o ObjId) IsChunkList() bool {
	switch o.ObjType {
	case ObjTypeChunkList, ObjTypeChunkListFixSize, ObjTypeChunkListSimple, ObjTypeChunkListSimpleFixSize:
		return true
	}
	return false
}

// IsJSON 是否以 JSON 文本形式存储
func (o ObjId) IsJSON() bool {
	if o.IsChunk() {
		return false
	}
	switch o.ObjType {
	case ObjTypeMtree, ObjTypeObjMap, ObjTypeTrie, ObjTypePack, ObjTypeList:
		return false
	}
	return true
}

func (o ObjId) IsBigContainer() bool {
	return o.ObjType == ObjTypeMtree || o.ObjType == ObjTypeObjMap
}

func (o ObjId) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *ObjId) UnmarshalText(data []byte) error {
	id, err := ParseObjId(string(data))
	if err != nil {
		return err
	}
	*o = id
	return nil
}

func (o ObjId) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *ObjId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return o.UnmarshalText([]byte(s))
}

// MarshalBinary 让 CBOR 直接存紧凑的二进制形式
func (o ObjId) MarshalBinary() ([]byte, error) {
	return o.Bytes(), nil
}

func (o *ObjId) UnmarshalBinary(data []byte) error {
	id, err := ObjIdFromBytes(data)
	if err != nil {
		return err
	}
	*o = id
	return nil
}
