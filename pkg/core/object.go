package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// 对象类型标签
const (
	ObjTypeFile        = "cyfile"
	ObjTypeDir         = "cydir"
	ObjTypePath        = "cypath"
	ObjTypeMtree       = "cymt"
	ObjTypeObjMap      = "cymap"
	ObjTypeTrie        = "cytrie"
	ObjTypePack        = "cypack"
	ObjTypeList        = "cylist"
	ObjTypeObjectArray = "cyarr"

	// chunk list 的四种表示: normal/simple x 变长/定长
	ObjTypeChunkList              = "cl"
	ObjTypeChunkListFixSize       = "clf"
	ObjTypeChunkListSimple        = "cls"
	ObjTypeChunkListSimpleFixSize = "clsf"
)

// CanonicalJSON 生成稳定的 JSON 文本: 每一层 key 排序，数字保持原样，不转义 HTML
// 相同内容的对象一定得到相同的字节
func CanonicalJSON(v any) ([]byte, error) {
	raw, ok := v.([]byte)
	if !ok {
		var err error
		if s, isStr := v.(string); isStr {
			raw = []byte(s)
		} else if raw, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	// map[string]any 在 encoding/json 中按 key 排序输出
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// BuildObjId 对 JSON 文本做 sha256
func BuildObjId(objType string, jsonStr string) ObjId {
	sum := sha256.Sum256([]byte(jsonStr))
	return ObjId{ObjType: objType, ObjHash: sum[:]}
}

// BuildNamedObjectByJSON 返回 (id, 规范化后的 JSON 文本)
// v 可以是结构体、map、JSON 字节或 JSON 字符串
func BuildNamedObjectByJSON(objType string, v any) (ObjId, string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return ObjId{}, "", err
	}
	s := string(data)
	return BuildObjId(objType, s), s, nil
}

// VerifyNamedObject 检查对象内容是否与 id 一致
func VerifyNamedObject(id ObjId, v any) bool {
	built, _, err := BuildNamedObjectByJSON(id.ObjType, v)
	if err != nil {
		return false
	}
	return built.Equal(id)
}

// FileObject 描述一个文件: 内容指向一个 chunk 或 chunk list
type FileObject struct {
	Name       string         `json:"name"`
	Size       uint64         `json:"size"`
	Content    string         `json:"content"`
	CreateTime uint64         `json:"create_time,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

func NewFileObject(name string, size uint64, content ObjId) *FileObject {
	return &FileObject{
		Name:       name,
		Size:       size,
		Content:    content.String(),
		CreateTime: uint64(time.Now().Unix()),
	}
}

// GenObjId 计算文件对象的 id 和 JSON 文本
func (f *FileObject) GenObjId() (ObjId, string, error) {
	return BuildNamedObjectByJSON(ObjTypeFile, f)
}

// DirObject 描述一个目录: 内容指向一个 ObjectMap (相对路径 -> 文件内容 id)
type DirObject struct {
	Name       string `json:"name"`
	TotalSize  uint64 `json:"total_size"`
	FileCount  uint64 `json:"file_count"`
	Content    string `json:"content"`
	CreateTime uint64 `json:"create_time,omitempty"`
}

func (d *DirObject) GenObjId() (ObjId, string, error) {
	return BuildNamedObjectByJSON(ObjTypeDir, d)
}

// PathObject 记录一次 "路径 -> 对象" 的绑定，存放在路径索引里
type PathObject struct {
	Path   string `json:"path"`
	Target ObjId  `json:"target"`
	Uptime uint64 `json:"uptime"`
}

func NewPathObject(path string, target ObjId) *PathObject {
	return &PathObject{Path: path, Target: target, Uptime: uint64(time.Now().Unix())}
}

func (p *PathObject) GenObjId() (ObjId, string, error) {
	return BuildNamedObjectByJSON(ObjTypePath, p)
}
