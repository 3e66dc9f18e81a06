// Package session はクライアントプロセスで唯一のセッション（認証トークンと現在のユーザー）を管理する。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/reporelay/internal/model"
	"github.com/hitoshi/reporelay/internal/storage"
)

// tokenParam はリダイレクト時にトークンが渡されるクエリパラメータ名。
const tokenParam = "token"

// CurrentUserFetcher はトークンに紐づくユーザーをリモートストアから取得する。
type CurrentUserFetcher interface {
	GetCurrentUser(ctx context.Context, token string) (*model.User, error)
}

// UserCache はユーザーレコードの格納先。セッションはユーザーをIDでのみ保持し、
// レコード本体はこのキャッシュを通じて読み取る。
type UserCache interface {
	PutUser(user model.User)
	User(id string) (model.User, bool)
}

// View はルーティング層に公開する読み取り専用のセッションスナップショット。
type View struct {
	IsAuthenticated bool        `json:"isAuthenticated"`
	CurrentUser     *model.User `json:"currentUser,omitempty"`
}

// State はセッション状態を保持する。
type State struct {
	store   storage.Store
	fetcher CurrentUserFetcher
	users   UserCache
	logger  *slog.Logger

	mu            sync.RWMutex
	token         string
	currentUserID string
}

// New はStateの新しいインスタンスを生成する。初期状態は未認証。
func New(store storage.Store, fetcher CurrentUserFetcher, users UserCache, logger *slog.Logger) *State {
	return &State{
		store:   store,
		fetcher: fetcher,
		users:   users,
		logger:  logger,
	}
}

// Resolve はURLのクエリまたは永続ストレージからトークンを探し、セッションを確立する。
// クエリのtokenが優先され、永続化した上でtokenパラメータを除いたURLを返す。
// どちらにもトークンがなければ未認証のまま、URLをそのまま返す。
func (s *State) Resolve(ctx context.Context, u *url.URL) (*url.URL, error) {
	if u != nil {
		q := u.Query()
		if token := q.Get(tokenParam); token != "" {
			if err := s.store.Set(ctx, storage.TokenKey, token); err != nil {
				return u, fmt.Errorf("トークンの保存に失敗しました: %w", err)
			}
			s.setToken(token)

			q.Del(tokenParam)
			stripped := *u
			stripped.RawQuery = q.Encode()
			return &stripped, nil
		}
	}

	token, ok, err := s.store.Get(ctx, storage.TokenKey)
	if err != nil {
		return u, fmt.Errorf("保存済みトークンの読み込みに失敗しました: %w", err)
	}
	if ok && token != "" {
		s.setToken(token)
	}
	return u, nil
}

func (s *State) setToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	if exp, ok := s.TokenExpiry(); ok && exp.Before(time.Now()) {
		// 期限切れでもセッションは破棄しない。リモートストアの判定に委ねる。
		s.logger.Warn("session token appears to be expired",
			slog.Time("expires_at", exp),
		)
	}
}

// Token は現在のトークンを返す。未認証の場合は空文字列。
func (s *State) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated はトークンを保持しているかどうかを返す。
func (s *State) IsAuthenticated() bool {
	return s.Token() != ""
}

// PersistedToken は永続ストレージに保存されているトークンを返す。
func (s *State) PersistedToken(ctx context.Context) (string, bool, error) {
	token, ok, err := s.store.Get(ctx, storage.TokenKey)
	if err != nil {
		return "", false, fmt.Errorf("保存済みトークンの読み込みに失敗しました: %w", err)
	}
	return token, ok && token != "", nil
}

// TokenExpiry はトークンがJWT形式の場合にexpクレームを返す。署名は検証しない。
func (s *State) TokenExpiry() (time.Time, bool) {
	token := s.Token()
	if token == "" {
		return time.Time{}, false
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// CurrentUser は現在のユーザーをキャッシュから読み取って返す。
func (s *State) CurrentUser() (model.User, bool) {
	s.mu.RLock()
	id := s.currentUserID
	s.mu.RUnlock()

	if id == "" {
		return model.User{}, false
	}
	return s.users.User(id)
}

// RefreshCurrentUser はトークンに紐づくユーザーを取得し、現在のユーザーとして設定する。
// 失敗した場合はセッションを変更せずにエラーを返す。401でもログアウトはしない。
func (s *State) RefreshCurrentUser(ctx context.Context, token string) error {
	user, err := s.fetcher.GetCurrentUser(ctx, token)
	if err != nil {
		return fmt.Errorf("現在のユーザーの取得に失敗しました: %w", err)
	}
	s.SetCurrentUser(*user)
	return nil
}

// SetCurrentUser は現在のユーザーを置き換える。
func (s *State) SetCurrentUser(user model.User) {
	if user.UserID == "" {
		return
	}
	s.users.PutUser(user)

	s.mu.Lock()
	s.currentUserID = user.UserID
	s.mu.Unlock()
}

// Logout は保存済みトークンを削除し、セッションを未認証に戻す。
func (s *State) Logout(ctx context.Context) error {
	if err := s.store.Delete(ctx, storage.TokenKey); err != nil {
		return fmt.Errorf("トークンの削除に失敗しました: %w", err)
	}

	s.mu.Lock()
	s.token = ""
	s.currentUserID = ""
	s.mu.Unlock()
	return nil
}

// Snapshot は現在のセッションのスナップショットを返す。
func (s *State) Snapshot() View {
	v := View{IsAuthenticated: s.IsAuthenticated()}
	if u, ok := s.CurrentUser(); ok {
		v.CurrentUser = &u
	}
	return v
}
