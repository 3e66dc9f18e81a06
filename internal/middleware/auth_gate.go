// Package middleware はHTTPシェルのミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/reporelay/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// SessionReader は認証ゲートが参照するセッションの読み取り専用インターフェース。
type SessionReader interface {
	IsAuthenticated() bool
	CurrentUser() (model.User, bool)
}

// NewAuthGate は未認証のリクエストを401で拒否するミドルウェアを返す。
// 未認証のセッションが到達できるのはログイン画面のみとする。
// 現在のユーザーが解決済みの場合はユーザーIDをリクエストコンテキストに注入する。
func NewAuthGate(session SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !session.IsAuthenticated() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			ctx := r.Context()
			if user, ok := session.CurrentUser(); ok && user.UserID != "" {
				ctx = ContextWithUserID(ctx, user.UserID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ゲートを通過し、現在のユーザーが解決済みのリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
