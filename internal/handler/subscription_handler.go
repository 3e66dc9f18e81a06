package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/reporelay/internal/model"
	"github.com/hitoshi/reporelay/internal/subscription"
)

// SubscriptionServiceInterface は参加・離脱のシーケンスを実行するサービスインターフェース。
type SubscriptionServiceInterface interface {
	Subscribe(ctx context.Context, projectID string) (*subscription.Result, error)
	Unsubscribe(ctx context.Context, projectID string) (*subscription.Result, error)
}

// SubscriptionHandler はプロジェクトへの参加・離脱のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
	logger  *slog.Logger
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
		logger:  logger,
	}
}

// subscriptionResponse は参加・離脱の結果。
type subscriptionResponse struct {
	SequenceID  string       `json:"sequenceID"`
	Project     *projectView `json:"project,omitempty"`
	CurrentUser *model.User  `json:"currentUser,omitempty"`
	// Notified はメール通知が配送されたかどうか。配送失敗は操作の失敗ではない。
	Notified bool `json:"notified"`
	Shared   bool `json:"shared"`
}

// Join は現在のユーザーをプロジェクトのチームに追加する。
// POST /api/projects/{id}/subscription
func (h *SubscriptionHandler) Join(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.service.Subscribe)
}

// Leave は現在のユーザーをプロジェクトのチームから外す。
// DELETE /api/projects/{id}/subscription
func (h *SubscriptionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.service.Unsubscribe)
}

func (h *SubscriptionHandler) run(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*subscription.Result, error)) {
	projectID := chi.URLParam(r, "id")

	res, err := op(r.Context(), projectID)
	if err != nil {
		handleServiceError(w, h.logger, "subscription", err)
		return
	}

	resp := subscriptionResponse{
		SequenceID:  res.SequenceID,
		CurrentUser: res.User,
		Notified:    res.Notified,
		Shared:      res.Shared,
	}
	if res.Project != nil {
		view := newProjectView(*res.Project, res.User)
		resp.Project = &view
	}

	writeJSON(w, http.StatusOK, resp)
}
