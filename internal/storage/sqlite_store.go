package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// entry はclient_storageテーブルの1行を表す。
type entry struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName はgormが使用するテーブル名を返す。
func (entry) TableName() string {
	return "client_storage"
}

// SQLiteStore はローカルのSQLiteファイルを使用するストレージ。
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore はSQLiteStoreを生成し、テーブルを自動作成する。
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate client_storage: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get は key の値を取得する。
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var e entry
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get storage value: %w", err)
	}
	return e.Value, true, nil
}

// Set は key に value を保存する。
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	e := entry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("failed to set storage value: %w", err)
	}
	return nil
}

// Delete は key を削除する。
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&entry{}).Error; err != nil {
		return fmt.Errorf("failed to delete storage value: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*SQLiteStore)(nil)
