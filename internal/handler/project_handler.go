package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/reporelay/internal/model"
	"github.com/hitoshi/reporelay/internal/project"
)

// ProjectCacheInterface はプロジェクト一覧の読み取りに使うエンティティキャッシュのインターフェース。
type ProjectCacheInterface interface {
	Projects() []model.Project
	Project(id string) (model.Project, bool)
	RefreshProjects(ctx context.Context) error
	RefreshedAt() time.Time
}

// ProjectServiceInterface はプロジェクト管理のサービスインターフェース。
type ProjectServiceInterface interface {
	UpdateInfo(ctx context.Context, id string, patch project.InfoPatch) (*model.Project, error)
	Post(ctx context.Context, draft project.Draft) (*model.Project, error)
	Delete(ctx context.Context, id string) error
}

// CurrentUserSource は閲覧者（現在のユーザー）を返す。
type CurrentUserSource interface {
	CurrentUser() (model.User, bool)
}

// ProjectHandler はプロジェクト関連のHTTPハンドラー。
type ProjectHandler struct {
	cache   ProjectCacheInterface
	service ProjectServiceInterface
	viewer  CurrentUserSource
	logger  *slog.Logger
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(cache ProjectCacheInterface, service ProjectServiceInterface, viewer CurrentUserSource, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{
		cache:   cache,
		service: service,
		viewer:  viewer,
		logger:  logger,
	}
}

// projectListResponse はプロジェクト一覧のレスポンス。
type projectListResponse struct {
	Projects    []projectView `json:"projects"`
	RefreshedAt *time.Time    `json:"refreshedAt,omitempty"`
}

// ListProjects はキャッシュ上のプロジェクト一覧を返す。
// GET /api/projects?refresh=true
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := h.cache.RefreshProjects(r.Context()); err != nil {
			handleServiceError(w, h.logger, "project_refresh", err)
			return
		}
	}

	viewer := h.currentViewer()
	projects := h.cache.Projects()
	resp := projectListResponse{Projects: make([]projectView, 0, len(projects))}
	for _, p := range projects {
		resp.Projects = append(resp.Projects, newProjectView(p, viewer))
	}
	if at := h.cache.RefreshedAt(); !at.IsZero() {
		resp.RefreshedAt = &at
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetProject はプロジェクトを閲覧者の操作とともに返す。
// GET /api/projects/{id}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, ok := h.cache.Project(id)
	if !ok {
		handleServiceError(w, h.logger, "project", model.NewProjectNotFoundError(id))
		return
	}

	writeJSON(w, http.StatusOK, newProjectView(p, h.currentViewer()))
}

// CreateProject は現在のユーザーをオーナーとしてプロジェクトを投稿する。
// POST /api/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var draft project.Draft
	if !decodeJSON(w, r, &draft) {
		return
	}

	created, err := h.service.Post(r.Context(), draft)
	if err != nil {
		handleServiceError(w, h.logger, "project_create", err)
		return
	}

	writeJSON(w, http.StatusCreated, newProjectView(*created, h.currentViewer()))
}

// UpdateProject はプロジェクトの表示情報を部分更新する。
// PATCH /api/projects/{id}
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch project.InfoPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	updated, err := h.service.UpdateInfo(r.Context(), id, patch)
	if err != nil {
		handleServiceError(w, h.logger, "project_update", err)
		return
	}

	writeJSON(w, http.StatusOK, newProjectView(*updated, h.currentViewer()))
}

// DeleteProject はプロジェクトを削除する。
// DELETE /api/projects/{id}
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, h.logger, "project_delete", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ProjectHandler) currentViewer() *model.User {
	if u, ok := h.viewer.CurrentUser(); ok {
		return &u
	}
	return nil
}
