// Package project はプロジェクト情報の編集・投稿・削除のドメインロジックを提供する。
package project

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/reporelay/internal/model"
	"github.com/hitoshi/reporelay/internal/security"
)

// 入力の上限（文字数）
const (
	maxNameLength        = 100
	maxDescriptionLength = 2000
)

// Store はプロジェクト操作が利用するエンティティキャッシュのインターフェース。
type Store interface {
	Project(id string) (model.Project, bool)
	RefreshProjects(ctx context.Context) error
	UpdatePartialProject(ctx context.Context, id string, patch model.ProjectPatch) (*model.Project, error)
	UpdateUser(ctx context.Context, githubUsername string, patch model.UserPatch) (*model.User, error)
}

// Remote はキャッシュを経由しないプロジェクトの作成・削除のインターフェース。
type Remote interface {
	CreateProject(ctx context.Context, project model.Project) (*model.Project, error)
	DeleteProject(ctx context.Context, id string) error
}

// CurrentUser は現在のユーザーの参照と置き換えを行う。
type CurrentUser interface {
	CurrentUser() (model.User, bool)
	SetCurrentUser(user model.User)
}

// InfoPatch はプロジェクト表示情報の部分更新。nilのフィールドは変更しない。
type InfoPatch struct {
	ProjectName        *string `json:"projectName,omitempty"`
	ProjectImg         *string `json:"projectImg,omitempty"`
	ProjectDescription *string `json:"projectDescription,omitempty"`
}

// Draft は新規投稿するプロジェクトの入力。
type Draft struct {
	ProjectName        string `json:"projectName"`
	ProjectImg         string `json:"projectImg"`
	ProjectDescription string `json:"projectDescription"`
}

// Service はプロジェクト管理のサービス層。
// 変更後は必ずプロジェクト一覧を再取得してキャッシュに反映する。
type Service struct {
	store     Store
	remote    Remote
	users     CurrentUser
	sanitizer security.TextSanitizer
	guard     security.ImageGuardService
	probe     bool
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// probe がtrueの場合、画像URLの到達性をHEADリクエストで確認する。
func NewService(
	store Store,
	remote Remote,
	users CurrentUser,
	sanitizer security.TextSanitizer,
	guard security.ImageGuardService,
	probe bool,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		remote:    remote,
		users:     users,
		sanitizer: sanitizer,
		guard:     guard,
		probe:     probe,
		logger:    logger,
		now:       time.Now,
	}
}

// UpdateInfo はオーナーとしてプロジェクトの名前・画像・説明を更新する。
func (s *Service) UpdateInfo(ctx context.Context, id string, patch InfoPatch) (*model.Project, error) {
	if _, err := s.ownedProject(id); err != nil {
		return nil, err
	}

	var body model.ProjectPatch
	if patch.ProjectName != nil {
		name, err := s.cleanName(*patch.ProjectName)
		if err != nil {
			return nil, err
		}
		body.ProjectName = &name
	}
	if patch.ProjectDescription != nil {
		desc, err := s.cleanDescription(*patch.ProjectDescription)
		if err != nil {
			return nil, err
		}
		body.ProjectDescription = &desc
	}
	if patch.ProjectImg != nil {
		img, err := s.checkImage(ctx, *patch.ProjectImg)
		if err != nil {
			return nil, err
		}
		body.ProjectImg = &img
	}

	updated, err := s.store.UpdatePartialProject(ctx, id, body)
	if err != nil {
		return nil, fmt.Errorf("プロジェクト情報の更新に失敗しました: %w", err)
	}
	s.refresh(ctx, "update_info", id)
	return updated, nil
}

// Post は現在のユーザーをオーナーとしてプロジェクトを投稿する。
func (s *Service) Post(ctx context.Context, draft Draft) (*model.Project, error) {
	user, ok := s.users.CurrentUser()
	if !ok || !user.IsComplete() {
		return nil, model.NewIncompleteUserError()
	}

	name, err := s.cleanName(draft.ProjectName)
	if err != nil {
		return nil, err
	}
	desc, err := s.cleanDescription(draft.ProjectDescription)
	if err != nil {
		return nil, err
	}
	img, err := s.checkImage(ctx, draft.ProjectImg)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	created, err := s.remote.CreateProject(ctx, model.Project{
		ProjectID:          uuid.NewString(),
		ProjectOwner:       user.UserID,
		SubscribedUsers:    model.NewIDSet(),
		ProjectName:        name,
		ProjectImg:         img,
		ProjectDescription: desc,
		PostedDate:         now,
		LastActivityDate:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの投稿に失敗しました: %w", err)
	}

	s.logger.Info("project posted",
		slog.String("project_id", created.ProjectID),
		slog.String("user_id", user.UserID),
	)
	s.refresh(ctx, "post", created.ProjectID)
	return created, nil
}

// Delete はオーナーとしてプロジェクトを削除する。
// 現在のユーザーの購読プロジェクトにIDが残っていれば取り除く。
// 他の購読者のユーザーレコードはこのクライアントから更新できないため、サーバー側の連鎖削除に任せる。
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.ownedProject(id); err != nil {
		return err
	}

	if err := s.remote.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("プロジェクトの削除に失敗しました: %w", err)
	}

	s.logger.Info("project deleted", slog.String("project_id", id))
	s.dropFromCurrentUser(ctx, id)
	s.refresh(ctx, "delete", id)
	return nil
}

// dropFromCurrentUser は削除済みプロジェクトを現在のユーザーの購読プロジェクトから外す。
// 削除自体は成功しているため失敗はログのみ。
func (s *Service) dropFromCurrentUser(ctx context.Context, id string) {
	user, ok := s.users.CurrentUser()
	if !ok || !user.SubscribedProjects.Contains(id) {
		return
	}

	next := user.SubscribedProjects.Without(id)
	updated, err := s.store.UpdateUser(ctx, user.GithubUsername, model.UserPatch{SubscribedProjects: &next})
	if err != nil {
		s.logger.Warn("failed to remove deleted project from current user",
			slog.String("project_id", id),
			slog.String("user_id", user.UserID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.users.SetCurrentUser(*updated)
}

// ownedProject はキャッシュからプロジェクトを取得し、現在のユーザーがオーナーであることを確認する。
func (s *Service) ownedProject(id string) (model.Project, error) {
	user, ok := s.users.CurrentUser()
	if !ok || user.UserID == "" {
		return model.Project{}, model.NewIncompleteUserError()
	}

	p, ok := s.store.Project(id)
	if !ok {
		return model.Project{}, model.NewProjectNotFoundError(id)
	}
	if !model.IsOwner(p, &user) {
		return model.Project{}, model.NewNotOwnerError(id)
	}
	return p, nil
}

func (s *Service) cleanName(raw string) (string, error) {
	name := s.sanitizer.Sanitize(raw)
	if name == "" {
		return "", model.NewInvalidProjectError("プロジェクト名は必須です")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", model.NewInvalidProjectError(fmt.Sprintf("プロジェクト名は%d文字以内で入力してください", maxNameLength))
	}
	return name, nil
}

func (s *Service) cleanDescription(raw string) (string, error) {
	desc := s.sanitizer.Sanitize(raw)
	if utf8.RuneCountInString(desc) > maxDescriptionLength {
		return "", model.NewInvalidProjectError(fmt.Sprintf("説明は%d文字以内で入力してください", maxDescriptionLength))
	}
	return desc, nil
}

// checkImage は画像URLを検証する。空文字列は画像なしとして許可する。
func (s *Service) checkImage(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if err := s.guard.ValidateURL(raw); err != nil {
		return "", model.NewInvalidImageURLError(err.Error())
	}
	if s.probe {
		if err := s.guard.Probe(ctx, raw); err != nil {
			return "", model.NewInvalidImageURLError(err.Error())
		}
	}
	return raw, nil
}

// refresh は変更後にプロジェクト一覧を再取得する。変更自体は成功しているため失敗はログのみ。
func (s *Service) refresh(ctx context.Context, op, id string) {
	if err := s.store.RefreshProjects(ctx); err != nil {
		s.logger.Warn("failed to refresh projects after change",
			slog.String("op", op),
			slog.String("project_id", id),
			slog.String("error", err.Error()),
		)
	}
}
