package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/reporelay/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

type recordedCall struct {
	op     string
	status int
}

type fakeRecorder struct {
	calls []recordedCall
}

func (f *fakeRecorder) RecordRemoteCall(op string, statusCode int, _ time.Duration) {
	f.calls = append(f.calls, recordedCall{op: op, status: statusCode})
}

func TestClient_GetProjects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("HTTPメソッド = %s, want GET", r.Method)
		}
		if r.URL.Path != "/projects" {
			t.Errorf("パス = %s, want /projects", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"projectID":"p1","projectOwner":"u2","subscribedUsers":["u1","u1"],"projectName":"Relay"},
			{"projectID":"p2","projectOwner":"u3","subscribedUsers":[],"projectName":"Other"}
		]`)
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), server.URL, newTestLogger(&buf))
	c.SetTokenSource(staticToken("tok"))

	projects, err := c.GetProjects(context.Background())
	if err != nil {
		t.Fatalf("GetProjects がエラーを返した: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("プロジェクト数 = %d, want 2", len(projects))
	}
	if projects[0].ProjectID != "p1" || projects[1].ProjectID != "p2" {
		t.Errorf("サーバーの順序が保持されていない: %v", projects)
	}
	// 重複はクライアント側で除去される
	if len(projects[0].SubscribedUsers) != 1 {
		t.Errorf("subscribedUsers = %v, want [u1]", projects[0].SubscribedUsers)
	}
}

func TestClient_UpdatePartialProject_SendsOnlyPatchFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("HTTPメソッド = %s, want PATCH", r.Method)
		}
		if r.URL.Path != "/projects/p1" {
			t.Errorf("パス = %s, want /projects/p1", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("リクエストボディのデコードに失敗: %v", err)
		}
		if len(body) != 1 {
			t.Errorf("送信フィールド = %v, want subscribedUsers のみ", body)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"projectID":"p1","projectOwner":"u2","subscribedUsers":["u1"],"projectName":"Relay"}`)
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), server.URL, newTestLogger(&buf))

	users := model.NewIDSet("u1")
	project, err := c.UpdatePartialProject(context.Background(), "p1", model.ProjectPatch{SubscribedUsers: &users})
	if err != nil {
		t.Fatalf("UpdatePartialProject がエラーを返した: %v", err)
	}
	if !project.SubscribedUsers.Equal(model.NewIDSet("u1")) {
		t.Errorf("subscribedUsers = %v, want [u1]", project.SubscribedUsers)
	}
}

func TestClient_UpdateUser_UnwrapsCurrentUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/octo cat" {
			t.Errorf("パス = %q, want %q", r.URL.Path, "/users/octo cat")
		}
		if r.URL.RawPath != "" && r.URL.RawPath != "/users/octo%20cat" {
			t.Errorf("RawPath = %q", r.URL.RawPath)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"currentUser":{"userID":"u1","githubUsername":"octo cat","subscribedProjects":["p1"]}}`)
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), server.URL, newTestLogger(&buf))

	projects := model.NewIDSet("p1")
	user, err := c.UpdateUser(context.Background(), "octo cat", model.UserPatch{SubscribedProjects: &projects})
	if err != nil {
		t.Fatalf("UpdateUser がエラーを返した: %v", err)
	}
	if user.UserID != "u1" || !user.SubscribedProjects.Equal(model.NewIDSet("p1")) {
		t.Errorf("user = %+v", user)
	}
}

func TestClient_GetCurrentUser_UsesGivenToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me" {
			t.Errorf("パス = %s, want /users/me", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer explicit" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer explicit")
		}
		io.WriteString(w, `{"userID":"u1","githubUsername":"octo"}`)
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), server.URL, newTestLogger(&buf))
	c.SetTokenSource(staticToken("ignored"))

	user, err := c.GetCurrentUser(context.Background(), "explicit")
	if err != nil {
		t.Fatalf("GetCurrentUser がエラーを返した: %v", err)
	}
	// subscribedProjectsが欠けている場合は未初期化（nil）のまま
	if user.SubscribedProjects != nil {
		t.Errorf("SubscribedProjects = %v, want nil", user.SubscribedProjects)
	}
}

func TestClient_NonSuccessStatus_ReturnsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), server.URL, newTestLogger(&buf))
	rec := &fakeRecorder{}
	c.SetRecorder(rec)

	_, err := c.GetCurrentUser(context.Background(), "bad")
	if err == nil {
		t.Fatal("エラーが返されるべき")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("StatusError であるべき: %T", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", statusErr.StatusCode)
	}
	if !strings.Contains(buf.String(), "http_status") {
		t.Errorf("エラーステータスがログに記録されていない: %s", buf.String())
	}
	if len(rec.calls) != 1 || rec.calls[0].op != "get_current_user" || rec.calls[0].status != 401 {
		t.Errorf("記録された呼び出し = %+v", rec.calls)
	}
}

func TestClient_InvalidJSON_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), server.URL, newTestLogger(&buf))

	if _, err := c.GetProjects(context.Background()); err == nil {
		t.Fatal("不正なJSONでエラーが返されるべき")
	}
}

func TestClient_TransportError_RecordsZeroStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	var buf bytes.Buffer
	c := NewClient(&http.Client{Timeout: time.Second}, url, newTestLogger(&buf))
	rec := &fakeRecorder{}
	c.SetRecorder(rec)

	if err := c.DeleteProject(context.Background(), "p1"); err == nil {
		t.Fatal("接続失敗でエラーが返されるべき")
	}
	if len(rec.calls) != 1 || rec.calls[0].status != 0 {
		t.Errorf("記録された呼び出し = %+v", rec.calls)
	}
}

func TestClient_CreateAndDeleteProject(t *testing.T) {
	var gotMethods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethods = append(gotMethods, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			var p model.Project
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				t.Fatalf("デコードに失敗: %v", err)
			}
			p.ProjectID = "p-new"
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(p)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewClient(server.Client(), server.URL, newTestLogger(&buf))

	created, err := c.CreateProject(context.Background(), model.Project{ProjectOwner: "u1", ProjectName: "New"})
	if err != nil {
		t.Fatalf("CreateProject がエラーを返した: %v", err)
	}
	if created.ProjectID != "p-new" {
		t.Errorf("ProjectID = %q, want p-new", created.ProjectID)
	}

	if err := c.DeleteProject(context.Background(), "p-new"); err != nil {
		t.Fatalf("DeleteProject がエラーを返した: %v", err)
	}

	want := []string{"POST /projects", "DELETE /projects/p-new"}
	if strings.Join(gotMethods, ",") != strings.Join(want, ",") {
		t.Errorf("呼び出し = %v, want %v", gotMethods, want)
	}
}
