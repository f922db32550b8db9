// Package storage 基于 gorm 与纯 Go sqlite 驱动的持久化：关键字配置与审核动作记录。
package storage

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"livemod/internal/logger"
)

// Options 数据库连接参数
type Options struct {
	DSN    string
	Prefix string
}

// Open 打开数据库并迁移表结构
func Open(opts Options, l logger.Logger) (*gorm.DB, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
		Logger:         NewGormLogger(l),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", opts.DSN, err)
	}
	if err := db.AutoMigrate(&Setting{}, &ActionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
