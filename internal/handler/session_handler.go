package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/reporelay/internal/middleware"
	"github.com/hitoshi/reporelay/internal/model"
	"github.com/hitoshi/reporelay/internal/session"
)

// homePath はログイン完了後のリダイレクト先。
const homePath = "/home"

// SessionServiceInterface はセッションハンドラーが必要とするセッションのインターフェース。
type SessionServiceInterface interface {
	Resolve(ctx context.Context, u *url.URL) (*url.URL, error)
	Token() string
	IsAuthenticated() bool
	CurrentUser() (model.User, bool)
	RefreshCurrentUser(ctx context.Context, token string) error
	Logout(ctx context.Context) error
	Snapshot() session.View
}

// SessionHandler はログイン・ログアウト・現在のユーザーのHTTPハンドラー。
type SessionHandler struct {
	session  SessionServiceInterface
	loginURL string
	logger   *slog.Logger
}

// NewSessionHandler はSessionHandlerを生成する。
// loginURL はGitHub OAuthを開始するリモートストアのURL。
func NewSessionHandler(session SessionServiceInterface, loginURL string, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		session:  session,
		loginURL: loginURL,
		logger:   logger,
	}
}

// loginResponse はログイン画面に渡す情報。
type loginResponse struct {
	LoginURL        string `json:"loginURL"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// Login はログイン画面の情報を返す。?token= 付きの場合はセッションを確立し、
// トークンを除いたURLで /home にリダイレクトする。
// GET /login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") == "" {
		writeJSON(w, http.StatusOK, loginResponse{
			LoginURL:        h.loginURL,
			IsAuthenticated: h.session.IsAuthenticated(),
		})
		return
	}

	stripped, err := h.session.Resolve(r.Context(), r.URL)
	if err != nil {
		h.logger.Error("failed to persist session token", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// ユーザーの取得に失敗してもログイン自体は成立している。/api/me で再取得する。
	if err := h.session.RefreshCurrentUser(r.Context(), h.session.Token()); err != nil {
		h.logger.Warn("failed to resolve current user after login", slog.String("error", err.Error()))
	} else if user, ok := h.session.CurrentUser(); ok {
		h.logger.Info("user logged in", slog.String("user_id", user.UserID))
	}

	target := url.URL{Path: homePath, RawQuery: stripped.RawQuery}
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// Logout は保存済みトークンを削除し、セッションを未認証に戻す。
// POST /logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Logout(r.Context()); err != nil {
		h.logger.Error("failed to logout", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のセッションを返す。現在のユーザーが未解決の場合はリモートストアから取得する。
// GET /api/me
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	view := h.session.Snapshot()
	if view.CurrentUser == nil {
		if err := h.session.RefreshCurrentUser(r.Context(), h.session.Token()); err != nil {
			handleServiceError(w, h.logger, "current_user", err)
			return
		}
		view = h.session.Snapshot()
	}
	writeJSON(w, http.StatusOK, view)
}
