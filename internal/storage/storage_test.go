package storage

import (
	"context"
	"os"
	"testing"

	"github.com/hitoshi/reporelay/internal/database"
)

// runStoreContract はStore実装に共通する振る舞いを検証する。
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("未保存のキーはok=false", func(t *testing.T) {
		_, ok, err := s.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get がエラーを返した: %v", err)
		}
		if ok {
			t.Error("未保存のキーで ok=true が返った")
		}
	})

	t.Run("保存した値を取得できる", func(t *testing.T) {
		if err := s.Set(ctx, TokenKey, "tok-1"); err != nil {
			t.Fatalf("Set がエラーを返した: %v", err)
		}
		v, ok, err := s.Get(ctx, TokenKey)
		if err != nil {
			t.Fatalf("Get がエラーを返した: %v", err)
		}
		if !ok || v != "tok-1" {
			t.Errorf("Get = (%q, %v), want (tok-1, true)", v, ok)
		}
	})

	t.Run("上書き保存", func(t *testing.T) {
		if err := s.Set(ctx, TokenKey, "tok-2"); err != nil {
			t.Fatalf("Set がエラーを返した: %v", err)
		}
		v, _, err := s.Get(ctx, TokenKey)
		if err != nil {
			t.Fatalf("Get がエラーを返した: %v", err)
		}
		if v != "tok-2" {
			t.Errorf("Get = %q, want tok-2", v)
		}
	})

	t.Run("削除後は取得できない", func(t *testing.T) {
		if err := s.Delete(ctx, TokenKey); err != nil {
			t.Fatalf("Delete がエラーを返した: %v", err)
		}
		if _, ok, _ := s.Get(ctx, TokenKey); ok {
			t.Error("削除したキーが取得できた")
		}
		// 存在しないキーの削除はエラーにならない
		if err := s.Delete(ctx, TokenKey); err != nil {
			t.Errorf("存在しないキーの削除でエラー: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite がエラーを返した: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB がエラーを返した: %v", err)
	}
	defer sqlDB.Close()

	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore がエラーを返した: %v", err)
	}
	runStoreContract(t, s)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/storage.db"
	ctx := context.Background()

	db, err := database.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite がエラーを返した: %v", err)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore がエラーを返した: %v", err)
	}
	if err := s.Set(ctx, TokenKey, "persisted"); err != nil {
		t.Fatalf("Set がエラーを返した: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.Close()

	db2, err := database.OpenSQLite(path)
	if err != nil {
		t.Fatalf("再オープンに失敗: %v", err)
	}
	sqlDB2, _ := db2.DB()
	defer sqlDB2.Close()

	s2, err := NewSQLiteStore(db2)
	if err != nil {
		t.Fatalf("NewSQLiteStore がエラーを返した: %v", err)
	}
	v, ok, err := s2.Get(ctx, TokenKey)
	if err != nil || !ok || v != "persisted" {
		t.Errorf("Get = (%q, %v, %v), want (persisted, true, nil)", v, ok, err)
	}
}

func TestPostgresStore(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	if _, err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("Open がエラーを返した: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`DELETE FROM client_storage`); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	runStoreContract(t, NewPostgresStore(db))
}
