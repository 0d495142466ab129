package models

// PullRequest はキャッシュ対象のオープンなPRのスナップショット
// 取得後に書き換えることはない
type PullRequest struct {
	Number             int
	Title              string
	URL                string
	Repository         string
	Author             string
	RequestedReviewers []string
	Assignees          []string
	RequestedTeams     []string
}

// HasParticipants はレビュワー・アサイン・チームのいずれかが設定されているかを返す
func (pr PullRequest) HasParticipants() bool {
	return len(pr.RequestedReviewers) > 0 || len(pr.Assignees) > 0 || len(pr.RequestedTeams) > 0
}

// ReviewStatus はPRのレビューイベントから導出した状態
// Unknown はレビュー一覧を取得できなかったことを表す（レビューがまだ無い場合は両方false）
type ReviewStatus struct {
	HasApprovals        bool
	HasChangesRequested bool
	Unknown             bool
}
