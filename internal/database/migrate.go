// Package database はクライアントストレージの接続を提供する。
// PostgreSQLではセッショントークンを保持する client_storage テーブルを
// 埋め込みマイグレーションで作成し、SQLiteではgormで開いたファイルを使う。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// StorageTable はトークンを保持するテーブル名。
const StorageTable = "client_storage"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator は client_storage テーブルのmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load client storage migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create client storage migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は client_storage テーブルを最新化し、適用後のバージョンを返す。
// すでに最新の場合はエラーにしない。
func RunMigrations(databaseURL string) (uint, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to migrate client storage: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read client storage schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("client storage schema version %d is dirty", version)
	}
	return version, nil
}
