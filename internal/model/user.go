// Package model はドメインモデルを定義する。
package model

// User はプラットフォームの利用ユーザーを表す。
// UserID と GithubUsername は作成後に変更されない。
type User struct {
	UserID             string `json:"userID"`
	GithubUsername     string `json:"githubUsername"`
	SubscribedProjects IDSet  `json:"subscribedProjects"`
	UserImage          string `json:"userImage,omitempty"`
}

// UserPatch はユーザーの部分更新リクエストのボディ。
// nilのフィールドは送信しない。
type UserPatch struct {
	SubscribedProjects *IDSet  `json:"subscribedProjects,omitempty"`
	UserImage          *string `json:"userImage,omitempty"`
}

// Clone はSubscribedProjectsを複製したUserを返す。
// キャッシュの外へ渡すときに共有スライスを書き換えられないようにする。
func (u User) Clone() User {
	u.SubscribedProjects = u.SubscribedProjects.Clone()
	return u
}

// IsComplete は購読操作に必要な情報がそろっているかを返す。
// SubscribedProjects がnil（未初期化）の場合は不完全とみなす。
func (u *User) IsComplete() bool {
	return u != nil && u.UserID != "" && u.SubscribedProjects != nil
}
