package model

import "gorm.io/gorm"

// All 主库需要迁移的模型；newsfeeds 在分库模式下由 feed store 自行迁移
func All() []interface{} {
	return []interface{}{
		&User{}, &UserProfile{}, &Tweet{}, &Follow{}, &Fan{},
		&NewsFeed{}, &FanoutTask{}, &FanoutBatch{}, &Like{}, &Comment{},
	}
}

// AutoMigrate 迁移主库表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(All()...)
}
