package models

// Bucket はユーザーごとのPR分類
type Bucket int

const (
	BucketAssigned Bucket = iota
	BucketAuthoredUnassigned
	BucketAuthoredApproved
	BucketAuthoredChangesRequested
	BucketAuthoredPendingReview
	BucketAuthoredUnknownStatus
)

// AllBuckets は全ての分類（表示順ではなく定義順）
var AllBuckets = []Bucket{
	BucketAssigned,
	BucketAuthoredUnassigned,
	BucketAuthoredApproved,
	BucketAuthoredChangesRequested,
	BucketAuthoredPendingReview,
	BucketAuthoredUnknownStatus,
}

func (b Bucket) String() string {
	switch b {
	case BucketAssigned:
		return "assigned"
	case BucketAuthoredUnassigned:
		return "authored_unassigned"
	case BucketAuthoredApproved:
		return "authored_approved"
	case BucketAuthoredChangesRequested:
		return "authored_changes_requested"
	case BucketAuthoredPendingReview:
		return "authored_pending_review"
	case BucketAuthoredUnknownStatus:
		return "authored_unknown_status"
	default:
		return "unknown"
	}
}

// IsAuthored は作成者側の分類かどうか
func (b Bucket) IsAuthored() bool {
	return b != BucketAssigned
}

// Role は assigned に入った理由
type Role string

const (
	RoleReviewer Role = "reviewer"
	RoleAssignee Role = "assignee"
)

// Entry はバケット内の1件
// Roles は assigned の場合のみ設定される
type Entry struct {
	PullRequest PullRequest
	Roles       []Role
}

// UserPRs はユーザー1人分のバケット→PR一覧
type UserPRs map[Bucket][]Entry

// NewUserPRs は全バケットが空リストの UserPRs を作る
func NewUserPRs() UserPRs {
	prs := make(UserPRs, len(AllBuckets))
	for _, b := range AllBuckets {
		prs[b] = []Entry{}
	}
	return prs
}

// Total は全バケットの件数合計
func (u UserPRs) Total() int {
	total := 0
	for _, entries := range u {
		total += len(entries)
	}
	return total
}
