// Package remote はリモートエンティティストア（User/ProjectのREST API）のクライアントを提供する。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/reporelay/internal/model"
)

// maxResponseSize はレスポンスボディの読み取り上限（1MiB）。
const maxResponseSize = 1 << 20

// StatusError はリモートストアが2xx以外のステータスを返したことを表す。
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("リモートストアがステータス %d を返しました: %s %s", e.StatusCode, e.Method, e.Path)
}

// TokenSource は現在の認証トークンを返す。未認証の場合は空文字列を返す。
type TokenSource interface {
	Token() string
}

// CallRecorder はリモート呼び出しの結果を記録する。
// statusCodeはトランスポートエラーの場合0になる。
type CallRecorder interface {
	RecordRemoteCall(op string, statusCode int, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordRemoteCall(string, int, time.Duration) {}

// Client はリモートエンティティストアのクライアント。
// 呼び出しは失敗しても再試行しない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	tokens     TokenSource
	recorder   CallRecorder
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		recorder:   noopRecorder{},
	}
}

// SetTokenSource はリクエストに付与するBearerトークンの取得元を設定する。
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// SetRecorder はリモート呼び出しのメトリクス記録先を設定する。
func (c *Client) SetRecorder(r CallRecorder) {
	if r == nil {
		r = noopRecorder{}
	}
	c.recorder = r
}

// GetProjects はプロジェクト一覧をサーバーの順序のまま取得する。
// GET /projects
func (c *Client) GetProjects(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	if err := c.do(ctx, "get_projects", http.MethodGet, "/projects", nil, &projects, c.currentToken()); err != nil {
		return nil, err
	}
	for i := range projects {
		projects[i].SubscribedUsers = model.NewIDSet(projects[i].SubscribedUsers...)
	}
	return projects, nil
}

// UpdatePartialProject はプロジェクトの指定フィールドのみを更新し、更新後のレコードを返す。
// PATCH /projects/{id}
func (c *Client) UpdatePartialProject(ctx context.Context, id string, patch model.ProjectPatch) (*model.Project, error) {
	var project model.Project
	path := "/projects/" + url.PathEscape(id)
	if err := c.do(ctx, "update_project", http.MethodPatch, path, patch, &project, c.currentToken()); err != nil {
		return nil, err
	}
	project.SubscribedUsers = model.NewIDSet(project.SubscribedUsers...)
	return &project, nil
}

// userEnvelope はユーザー更新APIのレスポンス。
type userEnvelope struct {
	CurrentUser model.User `json:"currentUser"`
}

// UpdateUser はgithubUsernameをキーにユーザーを部分更新し、更新後のレコードを返す。
// PATCH /users/{githubUsername}
func (c *Client) UpdateUser(ctx context.Context, githubUsername string, patch model.UserPatch) (*model.User, error) {
	var env userEnvelope
	path := "/users/" + url.PathEscape(githubUsername)
	if err := c.do(ctx, "update_user", http.MethodPatch, path, patch, &env, c.currentToken()); err != nil {
		return nil, err
	}
	user := env.CurrentUser
	user.SubscribedProjects = normalizeUserSet(user.SubscribedProjects)
	return &user, nil
}

// GetCurrentUser はトークンに紐づくユーザーを取得する。
// GET /users/me
func (c *Client) GetCurrentUser(ctx context.Context, token string) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, "get_current_user", http.MethodGet, "/users/me", nil, &user, token); err != nil {
		return nil, err
	}
	user.SubscribedProjects = normalizeUserSet(user.SubscribedProjects)
	return &user, nil
}

// CreateProject はプロジェクトを投稿し、サーバーが採番したレコードを返す。
// POST /projects
func (c *Client) CreateProject(ctx context.Context, project model.Project) (*model.Project, error) {
	var created model.Project
	if err := c.do(ctx, "create_project", http.MethodPost, "/projects", project, &created, c.currentToken()); err != nil {
		return nil, err
	}
	created.SubscribedUsers = model.NewIDSet(created.SubscribedUsers...)
	return &created, nil
}

// DeleteProject はプロジェクトを削除する。
// DELETE /projects/{id}
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	path := "/projects/" + url.PathEscape(id)
	return c.do(ctx, "delete_project", http.MethodDelete, path, nil, nil, c.currentToken())
}

func (c *Client) currentToken() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

// do はリクエストを送信し、2xxの場合にレスポンスJSONを out にデコードする。
// out がnilの場合はボディを読み捨てる。
func (c *Client) do(ctx context.Context, op, method, path string, body, out any, token string) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recorder.RecordRemoteCall(op, 0, time.Since(start))
		c.logger.Error("リモートストアの呼び出しに失敗しました",
			slog.String("op", op),
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.recorder.RecordRemoteCall(op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("リモートストアがエラーステータスを返しました",
			slog.String("op", op),
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Error("リモートストアのレスポンスのパースに失敗しました",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return nil
}

// normalizeUserSet はサーバーが返した購読リストを重複のない集合にする。
// フィールドが欠けていた場合（nil）は未初期化のまま返す。
func normalizeUserSet(s model.IDSet) model.IDSet {
	if s == nil {
		return nil
	}
	return model.NewIDSet(s...)
}
