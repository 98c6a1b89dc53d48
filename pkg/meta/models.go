package meta

import (
	"gorm.io/datatypes"

	"ndnstore/pkg/types"
)

// ChunkItem 记录单个 chunk 在某个 named store 中的状态
// 数据本身在磁盘上，这里只存生命周期
type ChunkItem struct {
	// ChunkId 是主键 ("mix256:...")
	ChunkId string `gorm:"column:chunk_id;primaryKey;type:varchar(255)"`

	ChunkSize  uint64           `gorm:"column:chunk_size;not null"`
	ChunkState types.ChunkState `gorm:"column:chunk_state;type:varchar(32);not null;index"`

	// Progress 是写入方自定义的续传标记，完成后清空
	Progress    string `gorm:"column:progress;type:text"`
	Description string `gorm:"column:description;type:text"`

	CreateTime int64 `gorm:"column:create_time;autoCreateTime"`
	UpdateTime int64 `gorm:"column:update_time;autoUpdateTime"`
}

func (ChunkItem) TableName() string {
	return "chunk_items"
}

// ObjectItem 保存命名 JSON 对象的原文
type ObjectItem struct {
	ObjId   string         `gorm:"column:obj_id;primaryKey;type:varchar(255)"`
	ObjType string         `gorm:"column:obj_type;type:varchar(64);index"`
	ObjData datatypes.JSON `gorm:"column:obj_data"`

	CreateTime int64 `gorm:"column:create_time;autoCreateTime"`
}

func (ObjectItem) TableName() string {
	return "objects"
}

// ObjectLink 把一个 id 指向另一个 id (same_as / part_of)
type ObjectLink struct {
	LinkObjId string `gorm:"column:link_obj_id;primaryKey;type:varchar(255)"`
	// ObjLink 是 core.LinkData 的 JSON 文本
	ObjLink string `gorm:"column:obj_link;type:text;not null"`
	// Target 冗余存一份，方便反查
	Target string `gorm:"column:target;type:varchar(255);index"`
}

func (ObjectLink) TableName() string {
	return "object_links"
}

// PathItem 是 ChunkMgr 的逻辑路径索引
type PathItem struct {
	Path       string `gorm:"column:path;primaryKey;type:varchar(1024)"`
	ObjId      string `gorm:"column:obj_id;type:varchar(255);not null;index"`
	PathObjJWT string `gorm:"column:path_obj_jwt;type:text"`
	AppId      string `gorm:"column:app_id;type:varchar(255)"`
	UserId     string `gorm:"column:user_id;type:varchar(255)"`

	UpdateTime int64 `gorm:"column:update_time;autoUpdateTime"`
}

func (PathItem) TableName() string {
	return "paths"
}

// ObjRef 记录每个被路径引用的对象的引用计数
// GC 策略不在这里，RefCount 降到 0 只是一个可回收的信号
type ObjRef struct {
	ObjId      string `gorm:"column:obj_id;primaryKey;type:varchar(255)"`
	RefCount   int64  `gorm:"column:ref_count;not null;default:0"`
	AccessTime int64  `gorm:"column:access_time"`
	Size       uint64 `gorm:"column:size"`
}

func (ObjRef) TableName() string {
	return "objs"
}

// NamedDataModels 是一个 named store 的 side DB 需要的表
func NamedDataModels() []any {
	return []any{&ChunkItem{}, &ObjectItem{}, &ObjectLink{}}
}

// PathIndexModels 是 ChunkMgr 路径索引需要的表
func PathIndexModels() []any {
	return []any{&PathItem{}, &ObjRef{}}
}
