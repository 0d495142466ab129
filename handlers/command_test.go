package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"slack-pr-index/models"
	"slack-pr-index/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "サブコマンドと引数",
			input:    "user octocat",
			expected: []string{"user", "octocat"},
		},
		{
			name:     "ダブルクォートで囲まれた引数",
			input:    "for \"@alice smith\"",
			expected: []string{"for", "@alice smith"},
		},
		{
			name:     "シングルクォートで囲まれた引数",
			input:    "map 'octo cat'",
			expected: []string{"map", "octo cat"},
		},
		{
			name:     "クォート内にクォート文字",
			input:    "\"label's name\" 'param \"value\"' test",
			expected: []string{"label's name", "param \"value\"", "test"},
		},
		{
			name:     "連続したスペース",
			input:    "user    octocat",
			expected: []string{"user", "octocat"},
		},
		{
			name:     "空文字列",
			input:    "",
			expected: nil,
		},
		{
			name:     "スペースのみ",
			input:    "   ",
			expected: nil,
		},
		{
			name:     "単一の要素",
			input:    "stats",
			expected: []string{"stats"},
		},
		{
			name:     "クォートが閉じられていない場合",
			input:    "\"octo cat",
			expected: []string{"octo cat"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseCommand(tt.input)

			// nilと空のスライスを同等として扱う
			if len(tt.expected) == 0 && len(result) == 0 {
				return
			}

			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("parseCommand(%q) = %v, expected %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestCleanUserID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"<@U12345|alice>", "U12345"},
		{"<@U12345>", "U12345"},
		{"@alice", "alice"},
		{"U12345", "U12345"},
		{"  <@W999>  ", "W999"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, cleanUserID(tt.input))
		})
	}
}

// stubIndex は固定の PR を返す PRIndex
type stubIndex struct {
	prs   map[string]models.UserPRs
	stats services.CacheStats
}

func (s *stubIndex) PRsForUser(username string) models.UserPRs {
	if prs, ok := s.prs[strings.ToLower(username)]; ok {
		return prs
	}
	return models.NewUserPRs()
}

func (s *stubIndex) Stats() services.CacheStats {
	return s.stats
}

// stubResolver は固定の対応表で解決する IdentityResolver
type stubResolver struct {
	usernames map[string]string // handle -> username
}

func (s *stubResolver) ResolveExternalUsername(ctx context.Context, handle string) (string, bool) {
	username, ok := s.usernames[handle]
	return username, ok
}

func (s *stubResolver) ResolveHandle(ctx context.Context, username string) (string, bool) {
	for handle, u := range s.usernames {
		if u == username {
			return handle, true
		}
	}
	return "", false
}

type stubTrigger struct {
	accept bool
	calls  int
}

func (s *stubTrigger) Trigger() bool {
	s.calls++
	return s.accept
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("fail to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("fail to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	// マイグレーションを実行
	if err := db.AutoMigrate(&models.UserMapping{}); err != nil {
		t.Fatalf("fail to migrate test db: %v", err)
	}

	return db
}

func newTestIndex() *stubIndex {
	alice := models.NewUserPRs()
	alice[models.BucketAuthoredPendingReview] = []models.Entry{
		{PullRequest: models.PullRequest{Number: 5, Title: "Add feature", URL: "https://github.com/acme/r1/pull/5", Repository: "r1", Author: "alice"}},
	}
	bob := models.NewUserPRs()
	bob[models.BucketAssigned] = []models.Entry{
		{
			PullRequest: models.PullRequest{Number: 5, Title: "Add feature", URL: "https://github.com/acme/r1/pull/5", Repository: "r1", Author: "alice"},
			Roles:       []models.Role{models.RoleReviewer},
		},
	}
	return &stubIndex{
		prs:   map[string]models.UserPRs{"alice": alice, "bob": bob},
		stats: services.CacheStats{Repositories: 1, PullRequests: 1},
	}
}

func setupTestRouter(handler *CommandHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/slack/commands", handler.HandleSlackCommand)
	return r
}

func postCommand(router *gin.Engine, command, text, userID string) *httptest.ResponseRecorder {
	form := url.Values{}
	form.Add("command", command)
	form.Add("text", text)
	form.Add("channel_id", "C12345")
	form.Add("user_id", userID)

	req, _ := http.NewRequest("POST", "/slack/commands", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleSlackCommand(t *testing.T) {
	resolver := &stubResolver{usernames: map[string]string{"U001": "alice", "U002": "bob"}}

	tests := []struct {
		name     string
		command  string
		text     string
		userID   string
		contains []string
		excludes []string
	}{
		{
			name:     "自分の PR",
			command:  "/prs",
			text:     "",
			userID:   "U001",
			contains: []string{"*`alice` のオープンな PR*", "⏳ *レビュー待ちの PR* (1)", "<https://github.com/acme/r1/pull/5|r1#5> Add feature"},
			excludes: []string{"<@U001>"},
		},
		{
			name:     "mine サブコマンド",
			command:  "/prs",
			text:     "mine",
			userID:   "U002",
			contains: []string{"👀 *レビュー/対応をお願いされている PR* (1)", "(reviewer)"},
		},
		{
			name:     "GitHub ユーザー名を直接指定",
			command:  "/prs",
			text:     "user @bob",
			userID:   "U999",
			contains: []string{"*`bob` (<@U002>) のオープンな PR*", "r1#5"},
		},
		{
			name:     "Slack ユーザーを指定",
			command:  "/prs",
			text:     "for <@U001|alice>",
			userID:   "U002",
			contains: []string{"`alice` (<@U001>)", "レビュー待ち"},
		},
		{
			name:     "関係する PR がない",
			command:  "/prs",
			text:     "user carol",
			userID:   "U001",
			contains: []string{"`carol` に関係するオープンな PR はありません。"},
		},
		{
			name:     "解決できないユーザー",
			command:  "/prs",
			text:     "",
			userID:   "U404",
			contains: []string{"あなたの GitHub ユーザー名を特定できませんでした。", "/prs map"},
		},
		{
			name:     "解決できない指定ユーザー",
			command:  "/prs",
			text:     "for <@U404>",
			userID:   "U001",
			contains: []string{"<@U404> さんの GitHub ユーザー名を特定できませんでした。"},
		},
		{
			name:     "引数なしの user",
			command:  "/prs",
			text:     "user",
			userID:   "U001",
			contains: []string{"GitHub のユーザー名を指定してください。"},
		},
		{
			name:     "stats",
			command:  "/prs",
			text:     "stats",
			userID:   "U001",
			contains: []string{"*PR キャッシュの状態*", "- 対象リポジトリ数: 1", "- 最終更新: 未実行"},
		},
		{
			name:     "whoami",
			command:  "/prs",
			text:     "whoami",
			userID:   "U001",
			contains: []string{"<@U001> さんの GitHub ユーザー名は `alice` です。"},
		},
		{
			name:     "help",
			command:  "/prs",
			text:     "HELP",
			userID:   "U001",
			contains: []string{"*PR 一覧 Bot コマンド*"},
		},
		{
			name:     "不明なサブコマンド",
			command:  "/prs",
			text:     "dance",
			userID:   "U001",
			contains: []string{"不明なコマンドです。/prs help"},
		},
		{
			name:     "別のコマンド",
			command:  "/review",
			text:     "help",
			userID:   "U001",
			contains: []string{"不明なコマンドです。"},
			excludes: []string{"PR 一覧 Bot"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewCommandHandler(newTestIndex(), resolver, nil, nil, "", zap.NewNop().Sugar())
			router := setupTestRouter(handler)

			w := postCommand(router, tt.command, tt.text, tt.userID)

			assert.Equal(t, 200, w.Code)
			for _, s := range tt.contains {
				assert.Contains(t, w.Body.String(), s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, w.Body.String(), s)
			}
		})
	}
}

func TestHandleSlackCommand_Refresh(t *testing.T) {
	resolver := &stubResolver{}

	trigger := &stubTrigger{accept: true}
	router := setupTestRouter(NewCommandHandler(newTestIndex(), resolver, nil, trigger, "", zap.NewNop().Sugar()))
	w := postCommand(router, "/prs", "refresh", "U001")
	assert.Contains(t, w.Body.String(), "PR キャッシュの更新をリクエストしました。")
	assert.Equal(t, 1, trigger.calls)

	trigger.accept = false
	w = postCommand(router, "/prs", "refresh", "U001")
	assert.Contains(t, w.Body.String(), "更新は既にリクエスト済みです。")

	router = setupTestRouter(NewCommandHandler(newTestIndex(), resolver, nil, nil, "", zap.NewNop().Sugar()))
	w = postCommand(router, "/prs", "refresh", "U001")
	assert.Contains(t, w.Body.String(), "手動更新は無効になっています。")
}

func TestHandleSlackCommand_MapAndUnmap(t *testing.T) {
	db := setupTestDB(t)
	store := services.NewUserMappingStore(db)
	// 手動マッピングを先に見る Resolver
	resolver := services.NewResolver(services.ResolverBackends{Mappings: store}, zap.NewNop().Sugar())
	router := setupTestRouter(NewCommandHandler(newTestIndex(), resolver, store, nil, "", zap.NewNop().Sugar()))

	w := postCommand(router, "/prs", "", "U001")
	assert.Contains(t, w.Body.String(), "特定できませんでした")

	w = postCommand(router, "/prs", "map Alice", "U001")
	assert.Contains(t, w.Body.String(), "<@U001> さんの GitHub ユーザー名を `alice` に設定しました。")

	var mapping models.UserMapping
	err := db.Where("slack_user_id = ?", "U001").First(&mapping).Error
	assert.NoError(t, err)
	assert.Equal(t, "alice", mapping.GithubUsername)

	w = postCommand(router, "/prs", "", "U001")
	assert.Contains(t, w.Body.String(), "*`alice` のオープンな PR*")

	w = postCommand(router, "/prs", "whoami", "U001")
	assert.Contains(t, w.Body.String(), "`alice` です。")

	w = postCommand(router, "/prs", "map alice", "U002")
	assert.Contains(t, w.Body.String(), "既に別のユーザーに登録されています。")

	w = postCommand(router, "/prs", "map", "U002")
	assert.Contains(t, w.Body.String(), "GitHub のユーザー名を指定してください。")

	w = postCommand(router, "/prs", "unmap", "U001")
	assert.Contains(t, w.Body.String(), "手動マッピングを削除しました。")

	w = postCommand(router, "/prs", "unmap", "U001")
	assert.Contains(t, w.Body.String(), "手動マッピングは登録されていません。")

	w = postCommand(router, "/prs", "", "U001")
	assert.Contains(t, w.Body.String(), "特定できませんでした")
}

func TestHandleSlackCommand_MappingDisabled(t *testing.T) {
	router := setupTestRouter(NewCommandHandler(newTestIndex(), &stubResolver{}, nil, nil, "", zap.NewNop().Sugar()))

	w := postCommand(router, "/prs", "map alice", "U001")
	assert.Contains(t, w.Body.String(), "手動マッピングは無効になっています。")

	w = postCommand(router, "/prs", "unmap", "U001")
	assert.Contains(t, w.Body.String(), "手動マッピングは無効になっています。")
}

func TestHandleSlackCommand_InvalidSignature(t *testing.T) {
	handler := NewCommandHandler(newTestIndex(), &stubResolver{}, nil, nil, "signing-secret", zap.NewNop().Sugar())
	router := setupTestRouter(handler)

	w := postCommand(router, "/prs", "stats", "U001")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
