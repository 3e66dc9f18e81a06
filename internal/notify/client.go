// Package notify は参加・離脱通知メールを送信する通知ゲートウェイのクライアントを提供する。
// 通知はベストエフォートであり、失敗しても呼び出し元の処理は継続する。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const (
	subscribePath   = "/email/subscribe"
	unsubscribePath = "/email/unsubscribe"
)

// Request は通知ゲートウェイへのリクエストボディ。
type Request struct {
	GithubUsername string `json:"githubUsername"`
	ProjectOwnerID string `json:"projectOwnerID"`
	ProjectName    string `json:"projectName"`
}

// Client は通知ゲートウェイのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// Subscribe はプロジェクト参加通知を送信する。
// 2xxの場合はtrueを返す。2xx以外はfalseを返し、エラーにはしない（ステータスはログのみ）。
// 送信自体に失敗した場合はfalseとエラーを返す。
func (c *Client) Subscribe(ctx context.Context, req Request) (bool, error) {
	return c.send(ctx, subscribePath, req)
}

// Unsubscribe はプロジェクト離脱通知を送信する。戻り値はSubscribeと同じ。
func (c *Client) Unsubscribe(ctx context.Context, req Request) (bool, error) {
	return c.send(ctx, unsubscribePath, req)
}

func (c *Client) send(ctx context.Context, path string, body Request) (bool, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("通知リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return false, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("通知ゲートウェイの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("通知ゲートウェイがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return false, nil
	}

	return true, nil
}
