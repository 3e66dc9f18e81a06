// Package storage はクライアントの永続ストレージを提供する。
// ブラウザのlocalStorageに相当し、プロセス再起動後も認証トークンを保持する。
package storage

import "context"

// TokenKey は認証トークンを保存するキー。
const TokenKey = "token"

// Store はキーと文字列値を永続化するクライアントストレージのインターフェース。
type Store interface {
	// Get は key の値を返す。存在しない場合は ok=false を返す。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set は key に value を保存する。既存の値は上書きする。
	Set(ctx context.Context, key, value string) error
	// Delete は key を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
}
