package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

var slackUserIDPattern = regexp.MustCompile(`^[UW][A-Z0-9]{2,}$`)

// SlackDirectory は Slack API をユーザーディレクトリとして使う
// handle は Slack のユーザーID（U...）もしくはユーザー名
// timeout は1回の問い合わせ全体（レート制限による再試行の待ちも含む）の上限
type SlackDirectory struct {
	api     *slack.Client
	timeout time.Duration
}

// NewSlackDirectory は Slack のユーザーディレクトリを作る
// apiURL が空の場合は https://slack.com/api/ を使う
func NewSlackDirectory(token, apiURL string, timeout time.Duration) *SlackDirectory {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	options := []slack.Option{slack.OptionHTTPClient(&http.Client{Timeout: timeout})}
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		options = append(options, slack.OptionAPIURL(apiURL))
	}
	return &SlackDirectory{api: slack.New(token, options...), timeout: timeout}
}

// EmailByHandle はハンドルに対応するユーザーのメールアドレスを返す
func (d *SlackDirectory) EmailByHandle(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if slackUserIDPattern.MatchString(handle) {
		user, err := d.api.GetUserInfoContext(ctx, handle)
		if err != nil {
			if isSlackUserNotFound(err) {
				return "", ErrNotFound
			}
			return "", fmt.Errorf("slack users.info failed for %s: %w", handle, err)
		}
		return profileEmail(user)
	}

	// ユーザー名での検索APIは無いので一覧から探す
	users, err := d.api.GetUsersContext(ctx)
	if err != nil {
		return "", fmt.Errorf("slack users.list failed: %w", err)
	}
	for i := range users {
		user := &users[i]
		if user.Deleted {
			continue
		}
		if strings.EqualFold(user.Name, handle) || strings.EqualFold(user.Profile.DisplayName, handle) {
			return profileEmail(user)
		}
	}
	return "", ErrNotFound
}

// HandleByEmail はメールアドレスに対応する Slack のユーザーIDを返す
func (d *SlackDirectory) HandleByEmail(ctx context.Context, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	user, err := d.api.GetUserByEmailContext(ctx, email)
	if err != nil {
		if isSlackUserNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("slack users.lookupByEmail failed: %w", err)
	}
	if user.ID == "" {
		return "", ErrNotFound
	}
	return user.ID, nil
}

func profileEmail(user *slack.User) (string, error) {
	if user == nil || user.Profile.Email == "" {
		return "", ErrNotFound
	}
	return user.Profile.Email, nil
}

func isSlackUserNotFound(err error) bool {
	var slackErr slack.SlackErrorResponse
	if !errors.As(err, &slackErr) {
		return false
	}
	return slackErr.Err == "users_not_found" || slackErr.Err == "user_not_found"
}
