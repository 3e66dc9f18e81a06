// Package subscription はUserとProjectの双方向の購読関係を同期するロジックを提供する。
//
// 購読（join）と購読解除（leave）は、Project.subscribedUsers と User.subscribedProjects の
// 2つの独立したリソースを順番に更新する。サーバー側で分散トランザクションは行わないため、
// ユーザー側の更新に失敗した場合はプロジェクト側の変更を打ち消す補償処理を行う。
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/reporelay/internal/model"
	"github.com/hitoshi/reporelay/internal/notify"
)

// Op は同期操作の種類。
type Op string

const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
)

// シーケンスの結果（メトリクスのoutcomeラベル）
const (
	OutcomeSuccess      = "success"
	OutcomePrecondition = "precondition"
	OutcomeStoreError   = "store_error"
	OutcomeCompensated  = "compensated"
)

// Store は同期処理が利用するエンティティキャッシュのインターフェース。
type Store interface {
	Project(id string) (model.Project, bool)
	RefreshProjects(ctx context.Context) error
	UpdatePartialProject(ctx context.Context, id string, patch model.ProjectPatch) (*model.Project, error)
	UpdateUser(ctx context.Context, githubUsername string, patch model.UserPatch) (*model.User, error)
}

// Session は同期処理が利用するセッションのインターフェース。
type Session interface {
	CurrentUser() (model.User, bool)
	PersistedToken(ctx context.Context) (string, bool, error)
	RefreshCurrentUser(ctx context.Context, token string) error
	SetCurrentUser(user model.User)
}

// Notifier は通知ゲートウェイのインターフェース。
type Notifier interface {
	Subscribe(ctx context.Context, req notify.Request) (bool, error)
	Unsubscribe(ctx context.Context, req notify.Request) (bool, error)
}

// Recorder は同期処理のメトリクスを記録する。
type Recorder interface {
	RecordSequence(op, outcome string, duration time.Duration)
	RecordNotification(op string, delivered bool)
	RecordCompensation(op string, succeeded bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordSequence(string, string, time.Duration) {}
func (noopRecorder) RecordNotification(string, bool)              {}
func (noopRecorder) RecordCompensation(string, bool)              {}

// Config は同期処理の設定。
type Config struct {
	// Timeout は1シーケンス全体の制限時間。0以下の場合は制限しない。
	Timeout time.Duration
	// Compensate はユーザー側の更新失敗時にプロジェクト側を元に戻すかどうか。
	Compensate bool
}

// Result は1回の同期シーケンスの結果。
type Result struct {
	Op         Op
	ProjectID  string
	UserID     string
	SequenceID string

	// Project はステップ2でサーバーが返したプロジェクト。
	Project *model.Project
	// User はステップ5でサーバーが返したユーザー。
	User *model.User

	// Notified は通知ゲートウェイが2xxを返したかどうか。
	Notified  bool
	NotifyErr error

	// Compensated はプロジェクト側の変更を打ち消したかどうか。
	Compensated bool
	// Shared は同時に発生した同一操作の結果を共有したかどうか。
	Shared bool
}

// シーケンスのステップ番号
const (
	StepUpdateProject   = 2
	StepRefreshProjects = 3
	StepUpdateUser      = 5
)

// StepError はシーケンスの途中でリモートストアへの呼び出しが失敗したことを表す。
// 再試行可能なエラーとして呼び出し元に返す。
type StepError struct {
	Step int
	Op   Op
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *StepError) Error() string {
	return fmt.Sprintf("%sのステップ%d（%s）に失敗しました: %v", e.Op, e.Step, StepName(e.Step), e.Err)
}

// Unwrap は元のエラーを返す。
func (e *StepError) Unwrap() error {
	return e.Err
}

// StepName はステップ番号に対応する名前を返す。
func StepName(step int) string {
	switch step {
	case StepUpdateProject:
		return "project_update"
	case StepRefreshProjects:
		return "project_refresh"
	case StepUpdateUser:
		return "user_update"
	default:
		return "unknown"
	}
}

// Synchronizer は購読・購読解除のシーケンスを実行する。
type Synchronizer struct {
	store    Store
	session  Session
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
	recorder Recorder

	group singleflight.Group
}

// NewSynchronizer はSynchronizerの新しいインスタンスを生成する。
func NewSynchronizer(store Store, session Session, notifier Notifier, logger *slog.Logger, cfg Config) *Synchronizer {
	return &Synchronizer{
		store:    store,
		session:  session,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		recorder: noopRecorder{},
	}
}

// SetRecorder はメトリクスの記録先を設定する。
func (s *Synchronizer) SetRecorder(r Recorder) {
	if r == nil {
		r = noopRecorder{}
	}
	s.recorder = r
}

// Subscribe は現在のユーザーをプロジェクトに参加させる。
func (s *Synchronizer) Subscribe(ctx context.Context, projectID string) (*Result, error) {
	return s.execute(ctx, OpSubscribe, projectID)
}

// Unsubscribe は現在のユーザーをプロジェクトから離脱させる。
func (s *Synchronizer) Unsubscribe(ctx context.Context, projectID string) (*Result, error) {
	return s.execute(ctx, OpUnsubscribe, projectID)
}

func (s *Synchronizer) execute(ctx context.Context, op Op, projectID string) (*Result, error) {
	user, project, err := s.checkPreconditions(op, projectID)
	if err != nil {
		s.recorder.RecordSequence(string(op), OutcomePrecondition, 0)
		return nil, err
	}

	// 同一ユーザー・同一プロジェクト・同一操作の同時実行は1回にまとめる
	key := string(op) + "|" + projectID + "|" + user.UserID
	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.run(ctx, op, user, project)
	})

	res, _ := v.(*Result)
	if res != nil && shared {
		cp := *res
		cp.Shared = true
		res = &cp
	}
	return res, err
}

// checkPreconditions はリモート呼び出しを行う前の前提条件を確認する。
func (s *Synchronizer) checkPreconditions(op Op, projectID string) (model.User, model.Project, error) {
	user, ok := s.session.CurrentUser()
	if !ok || !user.IsComplete() {
		s.logger.Warn("subscription precondition failed",
			slog.String("op", string(op)),
			slog.String("project_id", projectID),
			slog.String("reason", "current user is not resolved"),
		)
		return model.User{}, model.Project{}, model.NewIncompleteUserError()
	}

	project, ok := s.store.Project(projectID)
	if !ok {
		s.logger.Warn("subscription precondition failed",
			slog.String("op", string(op)),
			slog.String("project_id", projectID),
			slog.String("user_id", user.UserID),
			slog.String("reason", "project not in cache"),
		)
		return model.User{}, model.Project{}, model.NewProjectNotFoundError(projectID)
	}

	if op == OpSubscribe && model.IsOwner(project, &user) {
		s.logger.Warn("subscription precondition failed",
			slog.String("op", string(op)),
			slog.String("project_id", projectID),
			slog.String("user_id", user.UserID),
			slog.String("reason", "owner cannot subscribe to own project"),
		)
		return model.User{}, model.Project{}, model.NewOwnerSubscribeError(projectID)
	}

	return user, project, nil
}

// run はステップ1から8を順番に実行する。
// 呼び出し元のキャンセルでシーケンスが途中で止まらないよう、キャンセルは引き継がない。
func (s *Synchronizer) run(parent context.Context, op Op, user model.User, project model.Project) (*Result, error) {
	start := time.Now()
	ctx, cancel := s.sequenceContext(parent)
	defer cancel()

	res := &Result{
		Op:         op,
		ProjectID:  project.ProjectID,
		UserID:     user.UserID,
		SequenceID: uuid.NewString(),
	}
	logger := s.logger.With(
		slog.String("sequence_id", res.SequenceID),
		slog.String("op", string(op)),
		slog.String("project_id", project.ProjectID),
		slog.String("user_id", user.UserID),
	)

	// 1. プロジェクトの購読者集合を計算
	prevUsers := model.NewIDSet(project.SubscribedUsers...)
	nextUsers := apply(op, prevUsers, user.UserID)

	// 2. プロジェクトの部分更新
	updated, err := s.store.UpdatePartialProject(ctx, project.ProjectID, model.ProjectPatch{SubscribedUsers: &nextUsers})
	if err != nil {
		return s.fail(logger, res, start, &StepError{Step: StepUpdateProject, Op: op, Err: err}, nil)
	}
	res.Project = updated

	// 3. プロジェクト一覧を再取得
	// 読み取りの失敗なので、ステップ2の書き込みは取り消さない。
	if err := s.store.RefreshProjects(ctx); err != nil {
		return s.fail(logger, res, start, &StepError{Step: StepRefreshProjects, Op: op, Err: err}, nil)
	}

	// 4. ユーザーの購読プロジェクト集合を計算
	nextProjects := apply(op, user.SubscribedProjects, project.ProjectID)

	// 5. ユーザーの部分更新
	updatedUser, err := s.store.UpdateUser(ctx, user.GithubUsername, model.UserPatch{SubscribedProjects: &nextProjects})
	if err != nil {
		compErr := s.compensate(parent, logger, res, prevUsers)
		return s.fail(logger, res, start, &StepError{Step: StepUpdateUser, Op: op, Err: err}, compErr)
	}
	res.User = updatedUser

	// 6. 永続化済みトークンがあれば現在のユーザーを再取得
	token, ok, err := s.session.PersistedToken(ctx)
	switch {
	case err != nil:
		logger.Warn("failed to read persisted token", slog.String("error", err.Error()))
	case ok:
		if err := s.session.RefreshCurrentUser(ctx, token); err != nil {
			logger.Warn("failed to refresh current user", slog.String("error", err.Error()))
		}
	}

	// 7. ステップ5の結果で現在のユーザーを置き換え
	s.session.SetCurrentUser(*updatedUser)

	// 8. 通知（ベストエフォート）
	s.sendNotification(ctx, logger, res, user, project)

	s.recorder.RecordSequence(string(op), OutcomeSuccess, time.Since(start))
	logger.Info("subscription sequence completed",
		slog.Bool("notified", res.Notified),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (s *Synchronizer) sequenceContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// sendNotification は通知ゲートウェイを呼び出す。失敗してもシーケンスは成功として扱う。
func (s *Synchronizer) sendNotification(ctx context.Context, logger *slog.Logger, res *Result, user model.User, project model.Project) {
	req := notify.Request{
		GithubUsername: user.GithubUsername,
		ProjectOwnerID: project.ProjectOwner,
		ProjectName:    project.ProjectName,
	}

	var (
		ok  bool
		err error
	)
	if res.Op == OpSubscribe {
		ok, err = s.notifier.Subscribe(ctx, req)
	} else {
		ok, err = s.notifier.Unsubscribe(ctx, req)
	}

	res.Notified = ok
	res.NotifyErr = err
	s.recorder.RecordNotification(string(res.Op), ok)

	if !ok {
		attrs := []any{}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.Warn("notification was not delivered", attrs...)
	}
}

// compensate はプロジェクトの購読者集合をシーケンス開始前の状態に戻す。
// 補償処理が無効の場合は何もしない。
func (s *Synchronizer) compensate(parent context.Context, logger *slog.Logger, res *Result, prevUsers model.IDSet) error {
	if !s.cfg.Compensate {
		return nil
	}

	ctx, cancel := s.sequenceContext(parent)
	defer cancel()

	if _, err := s.store.UpdatePartialProject(ctx, res.ProjectID, model.ProjectPatch{SubscribedUsers: &prevUsers}); err != nil {
		s.recorder.RecordCompensation(string(res.Op), false)
		logger.Error("compensation failed", slog.String("error", err.Error()))
		return fmt.Errorf("プロジェクトの購読者の復元に失敗しました: %w", err)
	}
	res.Compensated = true
	s.recorder.RecordCompensation(string(res.Op), true)

	if err := s.store.RefreshProjects(ctx); err != nil {
		logger.Warn("failed to refresh projects after compensation", slog.String("error", err.Error()))
	}
	logger.Info("compensated project subscribers")
	return nil
}

func (s *Synchronizer) fail(logger *slog.Logger, res *Result, start time.Time, stepErr *StepError, compErr error) (*Result, error) {
	outcome := OutcomeStoreError
	if res.Compensated {
		outcome = OutcomeCompensated
	}
	s.recorder.RecordSequence(string(res.Op), outcome, time.Since(start))

	logger.Error("subscription sequence aborted",
		slog.Int("step", stepErr.Step),
		slog.String("step_name", StepName(stepErr.Step)),
		slog.String("error", stepErr.Err.Error()),
		slog.Bool("compensated", res.Compensated),
	)

	if compErr != nil {
		return res, errors.Join(stepErr, compErr)
	}
	return res, stepErr
}

// apply は操作に応じて集合に要素を加える、または取り除く。
func apply(op Op, set model.IDSet, id string) model.IDSet {
	if op == OpSubscribe {
		return set.Union(id)
	}
	return set.Without(id)
}
