package storage

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	logger2 "cdptap/internal/logger"
	"cdptap/pkg/model"
)

// InterceptRecord 入库的拦截处理记录
type InterceptRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Session   string `gorm:"index"`
	Target    string `gorm:"index"`
	Rule      string
	Type      string `gorm:"index"`
	URL       string
	Method    string
	Stage     string
	Status    int
	Error     string
	Timestamp int64 `gorm:"index"`
	CreatedAt time.Time
}

// Store 基于 sqlite 的拦截记录存储
type Store struct {
	db *gorm.DB
}

// Open 打开（必要时建表）拦截记录库
func Open(dsn, prefix string, l logger2.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: prefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&InterceptRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Record 写入一条拦截事件
func (s *Store) Record(evt model.Event) error {
	rec := InterceptRecord{
		Session:   string(evt.Session),
		Target:    string(evt.Target),
		Type:      evt.Type,
		URL:       evt.URL,
		Method:    evt.Method,
		Stage:     evt.Stage,
		Status:    evt.Status,
		Error:     evt.Error,
		Timestamp: evt.Timestamp,
	}
	if evt.Rule != nil {
		rec.Rule = string(*evt.Rule)
	}
	return s.db.Create(&rec).Error
}

// Recent 按时间倒序返回最近的记录
func (s *Store) Recent(limit int) ([]InterceptRecord, error) {
	var out []InterceptRecord
	err := s.db.Order("timestamp desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close 关闭底层连接
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
