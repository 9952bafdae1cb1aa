package model

import "time"

// Fan 粉丝关系（FanID 是 UserID 的粉丝），由 Follow 异步冗余而来。
// 扇出按 (user_id, fan_id) 做 keyset 分页，不依赖 offset。
type Fan struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"type:varchar(36);uniqueIndex:ux_fan_pair;not null"`
	FanID     string `gorm:"type:varchar(36);uniqueIndex:ux_fan_pair;not null"`
	CreatedAt time.Time
}

func (Fan) TableName() string { return "fans" }
