package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/hitoshi/reporelay/internal/model"
	"github.com/hitoshi/reporelay/internal/subscription"
)

// projectLine はprojectsコマンドが出力する1プロジェクト分の情報。
type projectLine struct {
	ProjectID    string       `json:"projectID"`
	ProjectName  string       `json:"projectName"`
	ProjectOwner string       `json:"projectOwner"`
	Subscribers  int          `json:"subscribers"`
	ViewerAction model.Action `json:"viewerAction"`
}

// syncLine はjoin/leaveコマンドの出力。
type syncLine struct {
	Op         subscription.Op `json:"op"`
	ProjectID  string          `json:"projectID"`
	SequenceID string          `json:"sequenceID"`
	Notified   bool            `json:"notified"`
}

// prepareSession は保存済みトークンでセッションを復元し、現在のユーザーとプロジェクト一覧を読み込む。
// ワンショットコマンドではいずれの失敗もエラーとして返す。
func prepareSession(ctx context.Context, a *App) error {
	if _, err := a.Session.Resolve(ctx, nil); err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	if !a.Session.IsAuthenticated() {
		return model.NewUnauthenticatedError()
	}
	if err := a.Session.RefreshCurrentUser(ctx, a.Session.Token()); err != nil {
		return err
	}
	if err := a.Cache.RefreshProjects(ctx); err != nil {
		return err
	}
	return nil
}

func runProjects(ctx context.Context, a *App, out io.Writer) error {
	if err := prepareSession(ctx, a); err != nil {
		return err
	}

	var viewer *model.User
	if u, ok := a.Session.CurrentUser(); ok {
		viewer = &u
	}

	projects := a.Cache.Projects()
	lines := make([]projectLine, 0, len(projects))
	for _, p := range projects {
		lines = append(lines, projectLine{
			ProjectID:    p.ProjectID,
			ProjectName:  p.ProjectName,
			ProjectOwner: p.ProjectOwner,
			Subscribers:  len(p.SubscribedUsers),
			ViewerAction: model.ViewerAction(p, viewer),
		})
	}
	return writeOutput(out, lines)
}

func runJoin(ctx context.Context, a *App, out io.Writer, projectID string) error {
	if err := prepareSession(ctx, a); err != nil {
		return err
	}
	res, err := a.Synchronizer.Subscribe(ctx, projectID)
	if err != nil {
		return err
	}
	return writeOutput(out, newSyncLine(res))
}

func runLeave(ctx context.Context, a *App, out io.Writer, projectID string) error {
	if err := prepareSession(ctx, a); err != nil {
		return err
	}
	res, err := a.Synchronizer.Unsubscribe(ctx, projectID)
	if err != nil {
		return err
	}
	return writeOutput(out, newSyncLine(res))
}

// runLogin はトークンを保存し、トークンに紐づくユーザーを確認する。
func runLogin(ctx context.Context, a *App, out io.Writer, token string) error {
	if token == "" {
		return model.NewUnauthenticatedError()
	}

	u := &url.URL{RawQuery: url.Values{"token": {token}}.Encode()}
	if _, err := a.Session.Resolve(ctx, u); err != nil {
		return err
	}
	if err := a.Session.RefreshCurrentUser(ctx, token); err != nil {
		return fmt.Errorf("token was stored but the current user could not be loaded: %w", err)
	}
	return writeOutput(out, a.Session.Snapshot())
}

func runLogout(ctx context.Context, a *App, out io.Writer) error {
	if err := a.Session.Logout(ctx); err != nil {
		return err
	}
	return writeOutput(out, a.Session.Snapshot())
}

func newSyncLine(res *subscription.Result) syncLine {
	return syncLine{
		Op:         res.Op,
		ProjectID:  res.ProjectID,
		SequenceID: res.SequenceID,
		Notified:   res.Notified,
	}
}

func writeOutput(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
