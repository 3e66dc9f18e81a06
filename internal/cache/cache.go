// Package cache はリモートストアから取得したUser/Projectレコードのインメモリキャッシュを提供する。
// UIはこのキャッシュを読み取り専用の真実の源として扱い、サーバーとは結果整合となる。
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/reporelay/internal/model"
)

// Store はキャッシュが利用するリモートエンティティストアのインターフェース。
type Store interface {
	GetProjects(ctx context.Context) ([]model.Project, error)
	UpdatePartialProject(ctx context.Context, id string, patch model.ProjectPatch) (*model.Project, error)
	UpdateUser(ctx context.Context, githubUsername string, patch model.UserPatch) (*model.User, error)
}

// Cache はプロジェクト一覧とユーザーレコードを保持する。
// 読み取りは複数同時に行えるが、書き込みは1つずつ直列化される。
type Cache struct {
	store Store

	mu          sync.RWMutex
	projects    []model.Project
	users       map[string]model.User
	refreshedAt time.Time
}

// New はCacheの新しいインスタンスを生成する。
func New(store Store) *Cache {
	return &Cache{
		store: store,
		users: make(map[string]model.User),
	}
}

// Projects はキャッシュ済みのプロジェクト一覧の複製を返す。フェッチは行わない。
func (c *Cache) Projects() []model.Project {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Project, len(c.projects))
	for i, p := range c.projects {
		out[i] = p.Clone()
	}
	return out
}

// Project は指定IDのプロジェクトをキャッシュから返す。
func (c *Cache) Project(id string) (model.Project, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.projects {
		if p.ProjectID == id {
			return p.Clone(), true
		}
	}
	return model.Project{}, false
}

// RefreshedAt は最後にプロジェクト一覧を置き換えた時刻を返す。未取得の場合はゼロ値。
func (c *Cache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

// RefreshProjects はリモートストアからプロジェクト一覧を取得し、キャッシュを丸ごと置き換える。
// マージは行わず、最後に完了した取得が勝つ。取得に失敗した場合はキャッシュを変更しない。
func (c *Cache) RefreshProjects(ctx context.Context) error {
	projects, err := c.store.GetProjects(ctx)
	if err != nil {
		return fmt.Errorf("プロジェクト一覧の取得に失敗しました: %w", err)
	}

	c.mu.Lock()
	c.projects = projects
	c.refreshedAt = time.Now()
	c.mu.Unlock()

	return nil
}

// UpdatePartialProject はプロジェクトの部分更新をリモートストアに送信し、サーバーの更新結果を返す。
// ローカルのキャッシュは変更しないため、呼び出し元はRefreshProjectsで反映させる。
func (c *Cache) UpdatePartialProject(ctx context.Context, id string, patch model.ProjectPatch) (*model.Project, error) {
	project, err := c.store.UpdatePartialProject(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの更新に失敗しました: %w", err)
	}
	return project, nil
}

// UpdateUser はgithubUsernameをキーにユーザーの部分更新を送信し、サーバーの更新結果を返す。
// ローカルのキャッシュは変更しない。
func (c *Cache) UpdateUser(ctx context.Context, githubUsername string, patch model.UserPatch) (*model.User, error) {
	user, err := c.store.UpdateUser(ctx, githubUsername, patch)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	return user, nil
}

// PutUser はユーザーレコードをキャッシュに格納する。同じuserIDのレコードは置き換える。
func (c *Cache) PutUser(user model.User) {
	if user.UserID == "" {
		return
	}
	c.mu.Lock()
	c.users[user.UserID] = user.Clone()
	c.mu.Unlock()
}

// User は指定userIDのユーザーレコードをキャッシュから返す。
func (c *Cache) User(id string) (model.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return model.User{}, false
	}
	return u.Clone(), true
}
