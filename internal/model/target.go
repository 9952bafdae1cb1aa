package model

import "fmt"

// TargetKind 点赞/通知目标类型
type TargetKind string

const (
	TargetTweet   TargetKind = "tweet"
	TargetComment TargetKind = "comment"
)

func (k TargetKind) Valid() bool {
	switch k {
	case TargetTweet, TargetComment:
		return true
	default:
		return false
	}
}

// Target 指向 tweet 或 comment
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func (t Target) String() string { return fmt.Sprintf("%s:%s", t.Kind, t.ID) }
