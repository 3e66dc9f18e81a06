package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// クライアントストレージはトークン1件を読み書きするだけなので、接続プールは小さく保つ。
const (
	maxOpenConns    = 2
	connMaxIdleTime = 5 * time.Minute
)

// Open はクライアントストレージ用のPostgreSQL接続を開く。
// sql.Openは接続を試行しないため、到達確認は呼び出し側でPingする。
func Open(databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is empty")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open client storage database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	return db, nil
}
