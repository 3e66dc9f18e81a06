package subscription_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/hitoshi/reporelay/internal/cache"
	"github.com/hitoshi/reporelay/internal/model"
	"github.com/hitoshi/reporelay/internal/notify"
	"github.com/hitoshi/reporelay/internal/remote"
	"github.com/hitoshi/reporelay/internal/session"
	"github.com/hitoshi/reporelay/internal/storage"
	"github.com/hitoshi/reporelay/internal/subscription"
)

// entityServer はリモートエンティティストアと通知ゲートウェイを模したテスト用サーバー。
type entityServer struct {
	mu       sync.Mutex
	projects []model.Project
	users    map[string]model.User // githubUsername をキーにする
	me       string
	tokens   []string
	notified []notify.Request
}

func (s *entityServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /projects", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		writeJSON(w, s.projects)
	})

	mux.HandleFunc("PATCH /projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		var patch model.ProjectPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := range s.projects {
			if s.projects[i].ProjectID == r.PathValue("id") {
				if patch.SubscribedUsers != nil {
					s.projects[i].SubscribedUsers = *patch.SubscribedUsers
				}
				writeJSON(w, s.projects[i])
				return
			}
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc("PATCH /users/{githubUsername}", func(w http.ResponseWriter, r *http.Request) {
		var patch model.UserPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		u, ok := s.users[r.PathValue("githubUsername")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if patch.SubscribedProjects != nil {
			u.SubscribedProjects = *patch.SubscribedProjects
		}
		s.users[u.GithubUsername] = u
		writeJSON(w, map[string]model.User{"currentUser": u})
	})

	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.tokens = append(s.tokens, r.Header.Get("Authorization"))
		writeJSON(w, s.users[s.me])
	})

	mux.HandleFunc("POST /email/subscribe", func(w http.ResponseWriter, r *http.Request) {
		var req notify.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.notified = append(s.notified, req)
		s.mu.Unlock()
		writeJSON(w, true)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestSynchronizer_EndToEnd_Subscribe(t *testing.T) {
	es := &entityServer{
		projects: []model.Project{
			{ProjectID: "p1", ProjectOwner: "u2", ProjectName: "reporelay", SubscribedUsers: model.NewIDSet()},
		},
		users: map[string]model.User{
			"alice": {UserID: "u1", GithubUsername: "alice", SubscribedProjects: model.NewIDSet()},
		},
		me: "alice",
	}
	srv := httptest.NewServer(es.handler())
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	ctx := context.Background()

	remoteClient := remote.NewClient(srv.Client(), srv.URL, logger)
	entityCache := cache.New(remoteClient)
	state := session.New(storage.NewMemoryStore(), remoteClient, entityCache, logger)
	remoteClient.SetTokenSource(state)

	u, _ := url.Parse("/home?token=secret")
	if _, err := state.Resolve(ctx, u); err != nil {
		t.Fatalf("Resolve がエラーを返した: %v", err)
	}
	if err := state.RefreshCurrentUser(ctx, state.Token()); err != nil {
		t.Fatalf("RefreshCurrentUser がエラーを返した: %v", err)
	}
	if err := entityCache.RefreshProjects(ctx); err != nil {
		t.Fatalf("RefreshProjects がエラーを返した: %v", err)
	}

	syncer := subscription.NewSynchronizer(
		entityCache,
		state,
		notify.NewClient(srv.Client(), srv.URL, logger),
		logger,
		subscription.Config{Compensate: true},
	)

	res, err := syncer.Subscribe(ctx, "p1")
	if err != nil {
		t.Fatalf("Subscribe がエラーを返した: %v", err)
	}
	if !res.Notified {
		t.Error("通知が成功していない")
	}

	p, ok := entityCache.Project("p1")
	if !ok || !p.SubscribedUsers.Equal(model.NewIDSet("u1")) {
		t.Errorf("キャッシュの p1.subscribedUsers = %v, want [u1]", p.SubscribedUsers)
	}
	cur, ok := state.CurrentUser()
	if !ok || !cur.SubscribedProjects.Equal(model.NewIDSet("p1")) {
		t.Errorf("現在のユーザーの subscribedProjects = %v, want [p1]", cur.SubscribedProjects)
	}
	if got := model.ViewerAction(p, &cur); got != model.ActionLeave {
		t.Errorf("ViewerAction = %q, want leave", got)
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	if len(es.notified) != 1 {
		t.Fatalf("通知回数 = %d, want 1", len(es.notified))
	}
	want := notify.Request{GithubUsername: "alice", ProjectOwnerID: "u2", ProjectName: "reporelay"}
	if es.notified[0] != want {
		t.Errorf("通知内容 = %+v, want %+v", es.notified[0], want)
	}
	// 初回の取得とステップ6の再取得の2回、Bearerトークン付きで呼ばれる
	if len(es.tokens) != 2 {
		t.Errorf("GET /users/me 呼び出し回数 = %d, want 2", len(es.tokens))
	}
	for _, auth := range es.tokens {
		if auth != "Bearer secret" {
			t.Errorf("Authorization = %q, want Bearer secret", auth)
		}
	}
}
