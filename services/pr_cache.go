package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"slack-pr-index/models"

	"go.uber.org/zap"
)

// PullRequestSource は PR インデックスが使う取得元
// GitHubClient が実装する
type PullRequestSource interface {
	ListRepositories(ctx context.Context) ([]string, error)
	ListOpenPullRequests(ctx context.Context, repo string) ([]models.PullRequest, error)
	FetchReviewStatus(ctx context.Context, repo string, number int) models.ReviewStatus
}

// CacheStats はキャッシュの概要
// LastRefreshed がゼロ値なら一度もリフレッシュされていない
type CacheStats struct {
	Repositories       int
	PullRequests       int
	FailedRepositories []string
	LastRefreshed      time.Time
}

// prSnapshot は1回のリフレッシュ結果。公開後は変更しない
type prSnapshot struct {
	users              map[string]models.UserPRs
	repositories       int
	pullRequests       int
	failedRepositories []string
	refreshedAt        time.Time
}

// PRCache はオープンな PR をユーザー・分類ごとにインデックスしたキャッシュ
type PRCache struct {
	source      PullRequestSource
	repos       []string
	repoTimeout time.Duration
	log         *zap.SugaredLogger
	now         func() time.Time

	// refreshMu はリフレッシュ同士を直列化する。読み取りはロックしない
	refreshMu sync.Mutex
	current   atomic.Pointer[prSnapshot]
}

// NewPRCache は空のスナップショットを持つキャッシュを作る
// repos が空の場合はリフレッシュ毎に Org の全リポジトリを列挙する
func NewPRCache(source PullRequestSource, repos []string, repoTimeout time.Duration, log *zap.SugaredLogger) *PRCache {
	c := &PRCache{
		source:      source,
		repos:       append([]string(nil), repos...),
		repoTimeout: repoTimeout,
		log:         log,
		now:         time.Now,
	}
	c.current.Store(&prSnapshot{
		users:        map[string]models.UserPRs{},
		repositories: len(repos),
	})
	return c
}

// Refresh は全リポジトリから PR を取得し直してスナップショットを丸ごと差し替える
// 一部のリポジトリの失敗ではエラーにならない（そのリポジトリの PR が今回は含まれないだけ）
func (c *PRCache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	started := c.now()

	repos, err := c.repositories(ctx)
	if err != nil {
		c.log.Errorw("pr cache refresh aborted", "error", err)
		return err
	}

	builder := newSnapshotBuilder()
	var failed []string
	for _, repo := range repos {
		if err := c.indexRepository(ctx, builder, repo); err != nil {
			c.log.Warnw("failed to index repository", "repo", repo, "error", err)
			failed = append(failed, repo)
			continue
		}
	}

	// 途中でキャンセルされた結果は公開せず、前回のスナップショットを残す
	if err := ctx.Err(); err != nil {
		c.log.Warnw("pr cache refresh canceled", "indexed", len(repos)-len(failed), "error", err)
		return err
	}

	snap := builder.build(len(repos), failed, c.now())
	c.current.Store(snap)

	c.log.Infow("pr cache refreshed",
		"repositories", snap.repositories,
		"pull_requests", snap.pullRequests,
		"users", len(snap.users),
		"duration", c.now().Sub(started))
	if len(failed) > 0 {
		c.log.Warnw("some repositories could not be indexed",
			"failed", len(failed), "repositories", failed)
	}
	return nil
}

func (c *PRCache) repositories(ctx context.Context) ([]string, error) {
	if len(c.repos) > 0 {
		return c.repos, nil
	}
	repos, err := c.source.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate repositories: %w", err)
	}
	return repos, nil
}

func (c *PRCache) indexRepository(ctx context.Context, builder *snapshotBuilder, repo string) error {
	if c.repoTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.repoTimeout)
		defer cancel()
	}

	prs, err := c.source.ListOpenPullRequests(ctx, repo)
	if err != nil {
		return err
	}

	for _, pr := range prs {
		c.categorize(ctx, builder, pr)
	}
	return nil
}

// categorize は PR を関係者ごとのバケットに振り分ける
// レビュワー/アサインに含まれるユーザーは assigned、それ以外の作成者は authored_* のいずれか1つ
func (c *PRCache) categorize(ctx context.Context, builder *snapshotBuilder, pr models.PullRequest) {
	builder.countPullRequest()

	var order []string
	roles := make(map[string][]models.Role)
	addRole := func(login string, role models.Role) {
		user := normalizeUsername(login)
		if user == "" {
			return
		}
		if _, ok := roles[user]; !ok {
			order = append(order, user)
		}
		for _, r := range roles[user] {
			if r == role {
				return
			}
		}
		roles[user] = append(roles[user], role)
	}
	for _, reviewer := range pr.RequestedReviewers {
		addRole(reviewer, models.RoleReviewer)
	}
	for _, assignee := range pr.Assignees {
		addRole(assignee, models.RoleAssignee)
	}

	for _, user := range order {
		builder.add(user, models.BucketAssigned, models.Entry{PullRequest: pr, Roles: roles[user]})
	}

	author := normalizeUsername(pr.Author)
	if author == "" {
		return
	}
	if _, assigned := roles[author]; assigned {
		return
	}
	builder.add(author, c.authoredBucket(ctx, pr), models.Entry{PullRequest: pr})
}

func (c *PRCache) authoredBucket(ctx context.Context, pr models.PullRequest) models.Bucket {
	// 誰もアサインされていなければレビュー状態を取りに行かない
	if !pr.HasParticipants() {
		return models.BucketAuthoredUnassigned
	}

	status := c.source.FetchReviewStatus(ctx, pr.Repository, pr.Number)
	switch {
	case status.Unknown:
		return models.BucketAuthoredUnknownStatus
	case status.HasChangesRequested:
		return models.BucketAuthoredChangesRequested
	case status.HasApprovals:
		return models.BucketAuthoredApproved
	default:
		return models.BucketAuthoredPendingReview
	}
}

// PRsForUser は現在のスナップショットからユーザーの PR を返す
// 該当がなければ全バケット空のものを返す。ネットワークには一切アクセスしない
// 返す値はスナップショットのコピーなので呼び出し側で変更してよい
func (c *PRCache) PRsForUser(username string) models.UserPRs {
	snap := c.current.Load()
	result := models.NewUserPRs()

	prs, ok := snap.users[normalizeUsername(username)]
	if !ok {
		return result
	}
	for bucket, entries := range prs {
		copied := make([]models.Entry, len(entries))
		for i, entry := range entries {
			copied[i] = cloneEntry(entry)
		}
		result[bucket] = copied
	}
	return result
}

func cloneEntry(entry models.Entry) models.Entry {
	pr := entry.PullRequest
	pr.RequestedReviewers = cloneStrings(pr.RequestedReviewers)
	pr.Assignees = cloneStrings(pr.Assignees)
	pr.RequestedTeams = cloneStrings(pr.RequestedTeams)

	var roles []models.Role
	if entry.Roles != nil {
		roles = append([]models.Role{}, entry.Roles...)
	}
	return models.Entry{PullRequest: pr, Roles: roles}
}

// cloneStrings は nil を nil のまま返す
func cloneStrings(items []string) []string {
	if items == nil {
		return nil
	}
	return append([]string{}, items...)
}

// Stats は現在のスナップショットの概要を返す
func (c *PRCache) Stats() CacheStats {
	snap := c.current.Load()
	return CacheStats{
		Repositories:       snap.repositories,
		PullRequests:       snap.pullRequests,
		FailedRepositories: append([]string(nil), snap.failedRepositories...),
		LastRefreshed:      snap.refreshedAt,
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

type snapshotBuilder struct {
	users        map[string]models.UserPRs
	pullRequests int
}

func newSnapshotBuilder() *snapshotBuilder {
	return &snapshotBuilder{users: make(map[string]models.UserPRs)}
}

func (b *snapshotBuilder) countPullRequest() {
	b.pullRequests++
}

func (b *snapshotBuilder) add(user string, bucket models.Bucket, entry models.Entry) {
	prs, ok := b.users[user]
	if !ok {
		prs = models.NewUserPRs()
		b.users[user] = prs
	}
	prs[bucket] = append(prs[bucket], entry)
}

func (b *snapshotBuilder) build(repositories int, failed []string, refreshedAt time.Time) *prSnapshot {
	return &prSnapshot{
		users:              b.users,
		repositories:       repositories,
		pullRequests:       b.pullRequests,
		failedRepositories: failed,
		refreshedAt:        refreshedAt,
	}
}
