package repository

import "gorm.io/gorm"

// WithChannel 按充值渠道过滤
func WithChannel(channel string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("channel = ?", channel)
	}
}
