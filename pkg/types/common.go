// pkg/types/common.go
package types

import "strconv"

// Whence 对应 io.Seek* 的三种基准
type Whence int

const (
	SeekStart Whence = iota
	SeekCurrent
	SeekEnd
)

// SeekFrom 描述一次定位请求
// Start 时 Offset 为非负的绝对位置，End 时 Offset 应当 <= 0
type SeekFrom struct {
	Whence Whence
	Offset int64
}

func Start(pos uint64) SeekFrom    { return SeekFrom{Whence: SeekStart, Offset: int64(pos)} }
func End(offset int64) SeekFrom    { return SeekFrom{Whence: SeekEnd, Offset: offset} }
func Current(delta int64) SeekFrom { return SeekFrom{Whence: SeekCurrent, Offset: delta} }

func (s SeekFrom) String() string {
	switch s.Whence {
	case SeekStart:
		return "Start(" + strconv.FormatInt(s.Offset, 10) + ")"
	case SeekEnd:
		return "End(" + strconv.FormatInt(s.Offset, 10) + ")"
	default:
		return "Current(" + strconv.FormatInt(s.Offset, 10) + ")"
	}
}

// ChunkState 是 chunk 在本地存储中的生命周期状态
type ChunkState string

const (
	ChunkStateNew        ChunkState = "new"
	ChunkStateCompleted  ChunkState = "completed"
	ChunkStateIncomplete ChunkState = "incompleted"
	ChunkStateDisabled   ChunkState = "disabled"
	ChunkStateNotExist   ChunkState = "not_exist"
	ChunkStateLink       ChunkState = "link"
)

func (s ChunkState) String() string { return string(s) }

// IsCompleted 只有完整写入的 chunk 才算存在
func (s ChunkState) IsCompleted() bool { return s == ChunkStateCompleted }

// StorageType 是 ObjectMap 的后端存储类型
type StorageType string

const (
	StorageMemory  StorageType = "memory"
	StorageFile    StorageType = "file"
	StorageSQLite  StorageType = "sqlite"
	StorageLevelDB StorageType = "leveldb"
)

func (t StorageType) String() string { return string(t) }

