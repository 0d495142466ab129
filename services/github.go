package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slack-pr-index/models"

	"github.com/google/go-github/v71/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const defaultPageSize = 100

// GitHubOptions は GitHub クライアントの設定
type GitHubOptions struct {
	Token    string
	Org      string
	BaseURL  string // GitHub Enterprise の場合のみ
	PageSize int
	Timeout  time.Duration
}

// GitHubClient は PR インデックスに必要な GitHub API 呼び出しをまとめたもの
type GitHubClient struct {
	client   *github.Client
	org      string
	pageSize int
	log      *zap.SugaredLogger
}

// NewGitHubClient は GitHub クライアントを作成する
func NewGitHubClient(opts GitHubOptions, log *zap.SugaredLogger) (*GitHubClient, error) {
	var httpClient *http.Client
	if opts.Token == "" {
		log.Warn("github token is not set, using unauthenticated client")
		httpClient = &http.Client{}
	} else {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	// ハングしたバックエンドでリフレッシュが止まらないように必ずタイムアウトを付ける
	httpClient.Timeout = opts.Timeout
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 10 * time.Second
	}

	client := github.NewClient(httpClient)
	if opts.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url %s: %w", opts.BaseURL, err)
		}
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	return &GitHubClient{
		client:   client,
		org:      opts.Org,
		pageSize: pageSize,
		log:      log,
	}, nil
}

// paginate は返ってきたページが pageSize 未満になるまで順にページを取得する
func paginate[T any](ctx context.Context, pageSize int, fetch func(ctx context.Context, opts github.ListOptions) ([]T, error)) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		items, err := fetch(ctx, github.ListOptions{Page: page, PerPage: pageSize})
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, items...)
		if len(items) < pageSize {
			return all, nil
		}
	}
}

// ListRepositories は Org の全リポジトリ名を返す
func (g *GitHubClient) ListRepositories(ctx context.Context) ([]string, error) {
	repos, err := paginate(ctx, g.pageSize, func(ctx context.Context, opts github.ListOptions) ([]*github.Repository, error) {
		repos, _, err := g.client.Repositories.ListByOrg(ctx, g.org, &github.RepositoryListByOrgOptions{
			Type:        "all",
			ListOptions: opts,
		})
		return repos, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories of %s: %w", g.org, err)
	}

	names := make([]string, 0, len(repos))
	for _, repo := range repos {
		if repo.GetArchived() {
			continue
		}
		names = append(names, repo.GetName())
	}
	return names, nil
}

// ListOpenPullRequests はリポジトリのオープンな PR を全て返す
func (g *GitHubClient) ListOpenPullRequests(ctx context.Context, repo string) ([]models.PullRequest, error) {
	prs, err := paginate(ctx, g.pageSize, func(ctx context.Context, opts github.ListOptions) ([]*github.PullRequest, error) {
		prs, _, err := g.client.PullRequests.List(ctx, g.org, repo, &github.PullRequestListOptions{
			State:       "open",
			ListOptions: opts,
		})
		return prs, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests of %s/%s: %w", g.org, repo, err)
	}

	result := make([]models.PullRequest, 0, len(prs))
	for _, pr := range prs {
		result = append(result, convertPullRequest(repo, pr))
	}
	return result, nil
}

// FetchReviewStatus は PR のレビュー一覧から承認・変更要求の有無を判定する
// 取得に失敗した場合はエラーを返さず Unknown を立てる
func (g *GitHubClient) FetchReviewStatus(ctx context.Context, repo string, number int) models.ReviewStatus {
	reviews, err := paginate(ctx, g.pageSize, func(ctx context.Context, opts github.ListOptions) ([]*github.PullRequestReview, error) {
		reviews, _, err := g.client.PullRequests.ListReviews(ctx, g.org, repo, number, &opts)
		return reviews, err
	})
	if err != nil {
		g.log.Warnw("failed to fetch review status",
			"repo", repo, "pr", number, "error", err)
		return models.ReviewStatus{Unknown: true}
	}

	return classifyReviews(reviews)
}

func classifyReviews(reviews []*github.PullRequestReview) models.ReviewStatus {
	var status models.ReviewStatus
	for _, review := range reviews {
		switch strings.ToUpper(review.GetState()) {
		case "APPROVED":
			status.HasApprovals = true
		case "CHANGES_REQUESTED":
			status.HasChangesRequested = true
		}
	}
	return status
}

func convertPullRequest(repo string, pr *github.PullRequest) models.PullRequest {
	converted := models.PullRequest{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		URL:        pr.GetHTMLURL(),
		Repository: repo,
		Author:     pr.GetUser().GetLogin(),
	}
	for _, user := range pr.RequestedReviewers {
		if login := user.GetLogin(); login != "" {
			converted.RequestedReviewers = append(converted.RequestedReviewers, login)
		}
	}
	for _, user := range pr.Assignees {
		if login := user.GetLogin(); login != "" {
			converted.Assignees = append(converted.Assignees, login)
		}
	}
	for _, team := range pr.RequestedTeams {
		name := team.GetName()
		if name == "" {
			name = team.GetSlug()
		}
		if name != "" {
			converted.RequestedTeams = append(converted.RequestedTeams, name)
		}
	}
	return converted
}
