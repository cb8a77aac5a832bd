// Package store 封装商品快照与调度条目的持久化，以及调度变更事件的发布订阅。
package store

import (
	"errors"
	"fmt"

	"stockhunter/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// ErrNotFound 表示请求的记录不存在。
var ErrNotFound = errors.New("record not found")

// Open 连接 MySQL 并迁移表结构。
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭 GORM 调试日志
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 迁移全部表结构。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Product{},
		&model.Color{},
		&model.Size{},
		&model.Schedule{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
