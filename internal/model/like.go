package model

import "time"

// Like 同一用户对同一目标只能点赞一次
type Like struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID     string     `json:"user_id" gorm:"type:varchar(36);uniqueIndex:ux_like_user_target;not null"`
	TargetKind TargetKind `json:"target_kind" gorm:"type:varchar(16);uniqueIndex:ux_like_user_target;index:idx_like_target,priority:1;not null"`
	TargetID   string     `json:"target_id" gorm:"type:varchar(36);uniqueIndex:ux_like_user_target;index:idx_like_target,priority:2;not null"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (Like) TableName() string { return "likes" }

func (l Like) Target() Target { return Target{Kind: l.TargetKind, ID: l.TargetID} }
