// Package benchutil cmd/*bench 共用的参数读取、造数和延迟统计
package benchutil

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/feedfanout/internal/model"
)

const seedBatch = 1000

func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// EnvInt 读取正整数环境变量，缺省或非法时用 def
func EnvInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// RunID 每次运行的 id 前缀，多次压测共用一个库也不会冲突
func RunID() string { return uuid.NewString()[:8] }

// Pct nearest-rank 分位数
func Pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func Avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

// Summary 一行输出 avg/p50/p95/p99
func Summary(vs []time.Duration) string {
	return fmt.Sprintf("samples=%d avg=%v p50=%v p95=%v p99=%v",
		len(vs), Avg(vs), Pct(vs, 0.50), Pct(vs, 0.95), Pct(vs, 0.99))
}

// SeedUsers 批量写入 n 个用户，id 为 <prefix>-<序号>
func SeedUsers(db *gorm.DB, prefix string, n int) ([]string, error) {
	ids := make([]string, n)
	users := make([]model.User, n)
	for i := range users {
		ids[i] = fmt.Sprintf("%s-%06d", prefix, i)
		users[i] = model.User{ID: ids[i], Username: ids[i]}
	}
	if n == 0 {
		return ids, nil
	}
	if err := db.CreateInBatches(&users, seedBatch).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// SeedFans 直接写粉丝冗余表，跳过关注流程
func SeedFans(db *gorm.DB, userID string, fanIDs []string) error {
	if len(fanIDs) == 0 {
		return nil
	}
	rows := make([]model.Fan, len(fanIDs))
	for i, id := range fanIDs {
		rows[i] = model.Fan{ID: uuid.NewString(), UserID: userID, FanID: id}
	}
	return db.CreateInBatches(&rows, seedBatch).Error
}
