package core

import (
	"encoding/json"
	"fmt"
)

// Range 半开区间 [Start, End)
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (r Range) Len() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// LinkKind 链接类型
type LinkKind string

const (
	LinkSameAs LinkKind = "same_as" // 纯别名
	LinkPartOf LinkKind = "part_of" // 目标的一个子区间
)

// LinkData 把一个 id 指向另一个 id (整体或子区间)
type LinkData struct {
	Kind   LinkKind `json:"kind"`
	Target ObjId    `json:"target"`
	Range  *Range   `json:"range,omitempty"`
}

func SameAs(target ObjId) LinkData {
	return LinkData{Kind: LinkSameAs, Target: target}
}

func PartOf(target ObjId, r Range) LinkData {
	return LinkData{Kind: LinkPartOf, Target: target, Range: &r}
}

// String 返回持久化用的 JSON 文本
func (l LinkData) String() string {
	data, _ := json.Marshal(l)
	return string(data)
}

// ParseLinkData 解析 String() 的结果
func ParseLinkData(s string) (LinkData, error) {
	var l LinkData
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return LinkData{}, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	switch l.Kind {
	case LinkSameAs:
	case LinkPartOf:
		if l.Range == nil || l.Range.End < l.Range.Start {
			return LinkData{}, fmt.Errorf("%w: part_of link needs a valid range", ErrInvalidLink)
		}
	default:
		return LinkData{}, fmt.Errorf("%w: unknown link kind %q", ErrInvalidLink, l.Kind)
	}
	return l, nil
}
