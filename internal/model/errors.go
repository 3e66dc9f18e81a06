// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, subscription, store, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeIncompleteUser   = "INCOMPLETE_USER"
	ErrCodeOwnerSubscribe   = "OWNER_SUBSCRIBE"
	ErrCodeNotOwner         = "NOT_OWNER"
	ErrCodeProjectNotFound  = "PROJECT_NOT_FOUND"
	ErrCodeInvalidProject   = "INVALID_PROJECT"
	ErrCodeInvalidImageURL  = "INVALID_IMAGE_URL"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
)

// NewUnauthenticatedError は未ログインエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "GitHubでログインしてください。",
	}
}

// NewIncompleteUserError は現在のユーザー情報が不完全な場合のエラーを生成する。
func NewIncompleteUserError() *APIError {
	return &APIError{
		Code:     ErrCodeIncompleteUser,
		Message:  "現在のユーザー情報が不完全です。",
		Category: "auth",
		Action:   "ページを再読み込みするか、ログインし直してください。",
	}
}

// NewOwnerSubscribeError はオーナーが自身のプロジェクトに参加しようとした場合のエラーを生成する。
func NewOwnerSubscribeError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeOwnerSubscribe,
		Message:  fmt.Sprintf("プロジェクトのオーナーは自身のプロジェクトに参加できません: %s", projectID),
		Category: "subscription",
		Action:   "他のユーザーのプロジェクトを選択してください。",
	}
}

// NewNotOwnerError はオーナー以外がオーナー専用操作を行おうとした場合のエラーを生成する。
func NewNotOwnerError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotOwner,
		Message:  fmt.Sprintf("この操作はプロジェクトのオーナーのみ実行できます: %s", projectID),
		Category: "auth",
		Action:   "プロジェクトのオーナーに依頼してください。",
	}
}

// NewProjectNotFoundError はプロジェクトがキャッシュに見つからない場合のエラーを生成する。
func NewProjectNotFoundError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %s", projectID),
		Category: "subscription",
		Action:   "プロジェクト一覧を更新してから再度お試しください。",
	}
}

// NewInvalidProjectError はプロジェクト入力が不正な場合のエラーを生成する。
func NewInvalidProjectError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProject,
		Message:  fmt.Sprintf("プロジェクトの入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidImageURLError はプロジェクト画像URLが許可されない場合のエラーを生成する。
func NewInvalidImageURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImageURL,
		Message:  fmt.Sprintf("画像URLが無効です: %s", reason),
		Category: "validation",
		Action:   "公開されている http:// または https:// の画像URLを入力してください。",
	}
}

// NewStoreUnavailableError はリモートストアへの更新が失敗した場合のエラーを生成する。
// 再試行可能なエラーとしてUIに表示する。
func NewStoreUnavailableError(step string) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  fmt.Sprintf("サーバーへの反映に失敗しました（%s）。", step),
		Category: "store",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// HTTPシェルで使用するエラーコード
const (
	ErrCodeCSRFInvalid  = "CSRF_INVALID"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeInvalidInput = "INVALID_INPUT"
)

// NewCSRFInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はリクエスト数が上限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterで指定された時間の経過後に再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidInputError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("リクエストの形式が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
