package model

import "time"

// 扇出任务状态；任务本身不会失败，失败只发生在批次上
const (
	FanoutTaskPending  = "pending"
	FanoutTaskPlanning = "planning"
	FanoutTaskPlanned  = "planned"
)

// 扇出批次状态
const (
	FanoutBatchPending    = "pending"
	FanoutBatchProcessing = "processing"
	FanoutBatchDone       = "done"
	FanoutBatchFailed     = "failed"
)

// FanoutTask 发帖时与 tweet 同事务写入的 outbox 记录，由 planner 拆成批次
type FanoutTask struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)"`
	TweetID       string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	AuthorID      string    `gorm:"type:varchar(36);index;not null"`
	TweetAt       time.Time `gorm:"not null"`
	Status        string    `gorm:"type:varchar(16);index;not null"`
	BatchCount    int
	FollowerCount int64
	ClaimedAt     *time.Time
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (FanoutTask) TableName() string { return "fanout_tasks" }

// FanoutBatch 一个可独立重试的扇出单元
type FanoutBatch struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	TaskID      string    `gorm:"type:varchar(36);uniqueIndex:ux_fanout_batch_seq;not null"`
	Seq         int       `gorm:"uniqueIndex:ux_fanout_batch_seq;not null"`
	TweetID     string    `gorm:"type:varchar(36);index;not null"`
	TweetAt     time.Time `gorm:"not null"`
	FollowerIDs []string  `gorm:"type:text;serializer:json"`
	Status      string    `gorm:"type:varchar(16);index:idx_fanout_batch_status;not null"`
	Attempts    int       `gorm:"not null;default:0"`
	LastError   string    `gorm:"type:text"`
	ClaimedAt   *time.Time
	DoneAt      *time.Time
	CreatedAt   time.Time `gorm:"index:idx_fanout_batch_status"`
	UpdatedAt   time.Time
}

func (FanoutBatch) TableName() string { return "fanout_batches" }
