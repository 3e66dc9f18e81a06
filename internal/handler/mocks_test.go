package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/reporelay/internal/model"
	"github.com/hitoshi/reporelay/internal/project"
	"github.com/hitoshi/reporelay/internal/session"
	"github.com/hitoshi/reporelay/internal/subscription"
)

// --- モック定義 ---

// mockSession はSessionServiceInterfaceのモック実装。
type mockSession struct {
	token       string
	user        *model.User
	resolveFn   func(ctx context.Context, u *url.URL) (*url.URL, error)
	refreshFn   func(ctx context.Context, token string) error
	logoutFn    func(ctx context.Context) error
	logoutCalls int
}

func (m *mockSession) Resolve(ctx context.Context, u *url.URL) (*url.URL, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, u)
	}
	q := u.Query()
	m.token = q.Get("token")
	q.Del("token")
	stripped := *u
	stripped.RawQuery = q.Encode()
	return &stripped, nil
}

func (m *mockSession) Token() string { return m.token }

func (m *mockSession) IsAuthenticated() bool { return m.token != "" }

func (m *mockSession) CurrentUser() (model.User, bool) {
	if m.user == nil {
		return model.User{}, false
	}
	return *m.user, true
}

func (m *mockSession) RefreshCurrentUser(ctx context.Context, token string) error {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, token)
	}
	return nil
}

func (m *mockSession) Logout(ctx context.Context) error {
	m.logoutCalls++
	if m.logoutFn != nil {
		return m.logoutFn(ctx)
	}
	m.token = ""
	m.user = nil
	return nil
}

func (m *mockSession) Snapshot() session.View {
	v := session.View{IsAuthenticated: m.IsAuthenticated()}
	if m.user != nil {
		u := *m.user
		v.CurrentUser = &u
	}
	return v
}

// mockProjectCache はProjectCacheInterfaceのモック実装。
type mockProjectCache struct {
	projects    []model.Project
	refreshedAt time.Time
	refreshFn   func(ctx context.Context) error
}

func (m *mockProjectCache) Projects() []model.Project { return m.projects }

func (m *mockProjectCache) Project(id string) (model.Project, bool) {
	for _, p := range m.projects {
		if p.ProjectID == id {
			return p, true
		}
	}
	return model.Project{}, false
}

func (m *mockProjectCache) RefreshProjects(ctx context.Context) error {
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return nil
}

func (m *mockProjectCache) RefreshedAt() time.Time { return m.refreshedAt }

// mockProjectService はProjectServiceInterfaceのモック実装。
type mockProjectService struct {
	updateInfoFn func(ctx context.Context, id string, patch project.InfoPatch) (*model.Project, error)
	postFn       func(ctx context.Context, draft project.Draft) (*model.Project, error)
	deleteFn     func(ctx context.Context, id string) error
}

func (m *mockProjectService) UpdateInfo(ctx context.Context, id string, patch project.InfoPatch) (*model.Project, error) {
	if m.updateInfoFn != nil {
		return m.updateInfoFn(ctx, id, patch)
	}
	return &model.Project{ProjectID: id}, nil
}

func (m *mockProjectService) Post(ctx context.Context, draft project.Draft) (*model.Project, error) {
	if m.postFn != nil {
		return m.postFn(ctx, draft)
	}
	return &model.Project{ProjectID: "new", ProjectName: draft.ProjectName}, nil
}

func (m *mockProjectService) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// mockSubscriptionService はSubscriptionServiceInterfaceのモック実装。
type mockSubscriptionService struct {
	subscribeFn   func(ctx context.Context, projectID string) (*subscription.Result, error)
	unsubscribeFn func(ctx context.Context, projectID string) (*subscription.Result, error)
}

func (m *mockSubscriptionService) Subscribe(ctx context.Context, projectID string) (*subscription.Result, error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, projectID)
	}
	return &subscription.Result{Op: subscription.OpSubscribe, ProjectID: projectID}, nil
}

func (m *mockSubscriptionService) Unsubscribe(ctx context.Context, projectID string) (*subscription.Result, error) {
	if m.unsubscribeFn != nil {
		return m.unsubscribeFn(ctx, projectID)
	}
	return &subscription.Result{Op: subscription.OpUnsubscribe, ProjectID: projectID}, nil
}

// --- ヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func alice() *model.User {
	return &model.User{UserID: "u1", GithubUsername: "alice", SubscribedProjects: model.NewIDSet()}
}

func bobsProject() model.Project {
	return model.Project{
		ProjectID:       "p1",
		ProjectOwner:    "u2",
		SubscribedUsers: model.NewIDSet(),
		ProjectName:     "relay",
	}
}
