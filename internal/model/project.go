// Package model はドメインモデルを定義する。
package model

import "time"

// Project は投稿されたプロジェクトを表す。
// ProjectOwner は作成後に変更されず、SubscribedUsers に含まれることはない。
type Project struct {
	ProjectID          string    `json:"projectID"`
	ProjectOwner       string    `json:"projectOwner"`
	SubscribedUsers    IDSet     `json:"subscribedUsers"`
	ProjectName        string    `json:"projectName"`
	ProjectImg         string    `json:"projectImg,omitempty"`
	ProjectDescription string    `json:"projectDescription,omitempty"`
	PostedDate         time.Time `json:"postedDate"`
	LastActivityDate   time.Time `json:"lastActivityDate"`
}

// ProjectPatch はプロジェクトの部分更新リクエストのボディ。
// nilのフィールドは送信しない。
type ProjectPatch struct {
	SubscribedUsers    *IDSet  `json:"subscribedUsers,omitempty"`
	ProjectName        *string `json:"projectName,omitempty"`
	ProjectImg         *string `json:"projectImg,omitempty"`
	ProjectDescription *string `json:"projectDescription,omitempty"`
}

// Clone はSubscribedUsersを複製したProjectを返す。
func (p Project) Clone() Project {
	p.SubscribedUsers = p.SubscribedUsers.Clone()
	return p
}

// Action は閲覧者に提示するプロジェクト参加操作を表す。
type Action string

const (
	// ActionJoin はチームへの参加を提示する。
	ActionJoin Action = "join"
	// ActionLeave はチームからの離脱を提示する。
	ActionLeave Action = "leave"
	// ActionNone は操作を提示しない（オーナーまたは未ログイン）。
	ActionNone Action = "none"
)

// IsSubscriber は user がプロジェクトの購読者かを返す。
func IsSubscriber(p Project, user *User) bool {
	return user != nil && user.UserID != "" && p.SubscribedUsers.Contains(user.UserID)
}

// IsOwner は user がプロジェクトのオーナーかを返す。
func IsOwner(p Project, user *User) bool {
	return user != nil && user.UserID != "" && user.UserID == p.ProjectOwner
}

// ViewerAction はキャッシュ状態から閲覧者に提示する操作を導出する。
// 結果は保持せず、描画のたびに再計算する。
func ViewerAction(p Project, user *User) Action {
	switch {
	case user == nil || user.UserID == "":
		return ActionNone
	case IsOwner(p, user):
		return ActionNone
	case IsSubscriber(p, user):
		return ActionLeave
	default:
		return ActionJoin
	}
}
