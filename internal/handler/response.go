// Package handler はHTTPシェルのハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/reporelay/internal/middleware"
	"github.com/hitoshi/reporelay/internal/model"
	"github.com/hitoshi/reporelay/internal/remote"
	"github.com/hitoshi/reporelay/internal/subscription"
)

// projectView はプロジェクトと閲覧者に提示する操作を合わせたレスポンス。
type projectView struct {
	model.Project
	ViewerAction model.Action `json:"viewerAction"`
}

func newProjectView(p model.Project, viewer *model.User) projectView {
	if p.SubscribedUsers == nil {
		p.SubscribedUsers = model.NewIDSet()
	}
	return projectView{
		Project:      p,
		ViewerAction: model.ViewerAction(p, viewer),
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをデコードする。不正な場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError(err.Error()))
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// operation はリモートストア起因のエラーに表示する処理名。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, operation string, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// トークンがリモートストアに拒否された場合は同期ステップの途中でも再ログインを促す
	var statusErr *remote.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	var stepErr *subscription.StepError
	if errors.As(err, &stepErr) {
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewStoreUnavailableError(subscription.StepName(stepErr.Step)))
		return
	}

	// それ以外はリモートストアへの呼び出し失敗として扱う
	logger.Error("remote store request failed",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
	middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewStoreUnavailableError(operation))
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeIncompleteUser, model.ErrCodeNotOwner:
		return http.StatusForbidden
	case model.ErrCodeOwnerSubscribe:
		return http.StatusConflict
	case model.ErrCodeProjectNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidProject, model.ErrCodeInvalidImageURL:
		return http.StatusUnprocessableEntity
	case model.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case model.ErrCodeStoreUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeCSRFInvalid:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
