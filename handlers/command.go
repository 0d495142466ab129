package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"slack-pr-index/models"
	"slack-pr-index/services"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

const commandName = "/prs"

// PRIndex は PR キャッシュの読み取り側
type PRIndex interface {
	PRsForUser(username string) models.UserPRs
	Stats() services.CacheStats
}

// IdentityResolver は Slack ユーザーと GitHub ユーザー名の相互解決
type IdentityResolver interface {
	ResolveExternalUsername(ctx context.Context, handle string) (string, bool)
	ResolveHandle(ctx context.Context, username string) (string, bool)
}

// MappingEditor は /prs map で使う手動マッピングの編集
type MappingEditor interface {
	Save(ctx context.Context, handle, username string) error
	Delete(ctx context.Context, handle string) (bool, error)
}

// RefreshTrigger はキャッシュの再取得を要求する
type RefreshTrigger interface {
	Trigger() bool
}

type CommandHandler struct {
	cache         PRIndex
	resolver      IdentityResolver
	mappings      MappingEditor
	refresher     RefreshTrigger
	signingSecret string
	log           *zap.SugaredLogger
}

// NewCommandHandler は /prs コマンドのハンドラを作る
// mappings と refresher は nil でもよい（該当サブコマンドが使えなくなるだけ）
func NewCommandHandler(cache PRIndex, resolver IdentityResolver, mappings MappingEditor, refresher RefreshTrigger, signingSecret string, log *zap.SugaredLogger) *CommandHandler {
	if signingSecret == "" {
		log.Warn("slack signing secret is not set, slash command requests are not verified")
	}
	return &CommandHandler{
		cache:         cache,
		resolver:      resolver,
		mappings:      mappings,
		refresher:     refresher,
		signingSecret: signingSecret,
		log:           log,
	}
}

// HandleSlackCommand は Slack のスラッシュコマンドを処理する
// 応答は常に 200 の文字列で返す（エラーも文言で伝える）
func (h *CommandHandler) HandleSlackCommand(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorw("panic while handling slash command", "panic", r)
			c.String(http.StatusOK, "処理中にエラーが発生しました。しばらくしてから再度お試しください。")
		}
	}()

	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Errorw("failed to read request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	// ボディを復元
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	if h.signingSecret != "" && !services.ValidateSlackRequest(c.Request, bodyBytes, h.signingSecret) {
		h.log.Warn("invalid slack signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid slack signature"})
		return
	}

	cmd, err := slack.SlashCommandParse(c.Request)
	if err != nil {
		h.log.Warnw("invalid slash command payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	h.log.Infow("slack command received",
		"command", cmd.Command, "text", cmd.Text, "channel", cmd.ChannelID, "user", cmd.UserID)

	if cmd.Command != commandName {
		c.String(http.StatusOK, "不明なコマンドです。")
		return
	}

	c.String(http.StatusOK, h.dispatch(c.Request.Context(), cmd.UserID, parseCommand(cmd.Text)))
}

func (h *CommandHandler) dispatch(ctx context.Context, userID string, parts []string) string {
	subCommand := ""
	var args []string
	if len(parts) > 0 {
		subCommand = strings.ToLower(parts[0])
		args = parts[1:]
	}

	switch subCommand {
	case "", "mine":
		return h.showPRsForHandle(ctx, userID, true)

	case "user":
		if len(args) == 0 {
			return "GitHub のユーザー名を指定してください。例: " + commandName + " user octocat"
		}
		username := strings.TrimPrefix(args[0], "@")
		// Slack ユーザーが分からなくても一覧は出す
		handle, _ := h.resolver.ResolveHandle(ctx, username)
		return services.FormatUserPRs(services.UserLabel(username, handle), h.cache.PRsForUser(username), h.cache.Stats())

	case "for":
		if len(args) == 0 {
			return "Slack のユーザーを指定してください。例: " + commandName + " for @user"
		}
		return h.showPRsForHandle(ctx, cleanUserID(args[0]), false)

	case "stats":
		return services.FormatStats(h.cache.Stats())

	case "refresh":
		if h.refresher == nil {
			return "このボットでは手動更新は無効になっています。"
		}
		if !h.refresher.Trigger() {
			return "更新は既にリクエスト済みです。完了までしばらくお待ちください。"
		}
		return "PR キャッシュの更新をリクエストしました。"

	case "map":
		if len(args) == 0 {
			return "GitHub のユーザー名を指定してください。例: " + commandName + " map octocat"
		}
		return h.saveMapping(ctx, userID, strings.TrimPrefix(args[0], "@"))

	case "unmap":
		return h.deleteMapping(ctx, userID)

	case "whoami":
		username, ok := h.resolver.ResolveExternalUsername(ctx, userID)
		if !ok {
			return notResolvedMessage("あなた")
		}
		return fmt.Sprintf("<@%s> さんの GitHub ユーザー名は `%s` です。", userID, username)

	case "help":
		return helpText()

	default:
		return "不明なコマンドです。" + commandName + " help で使い方を確認してください。"
	}
}

func (h *CommandHandler) showPRsForHandle(ctx context.Context, handle string, self bool) string {
	username, ok := h.resolver.ResolveExternalUsername(ctx, handle)
	if !ok {
		if self {
			return notResolvedMessage("あなた")
		}
		return notResolvedMessage(fmt.Sprintf("<@%s> さん", handle))
	}
	label := services.UserLabel(username, "")
	if !self {
		label = services.UserLabel(username, handle)
	}
	return services.FormatUserPRs(label, h.cache.PRsForUser(username), h.cache.Stats())
}

func (h *CommandHandler) saveMapping(ctx context.Context, userID, username string) string {
	if h.mappings == nil {
		return "このボットでは手動マッピングは無効になっています。"
	}
	if err := h.mappings.Save(ctx, userID, username); err != nil {
		if errors.Is(err, services.ErrUsernameTaken) {
			return fmt.Sprintf("GitHub ユーザー名 `%s` は既に別のユーザーに登録されています。", username)
		}
		h.log.Errorw("failed to save user mapping", "user", userID, "username", username, "error", err)
		return "マッピングの保存中にエラーが発生しました。"
	}
	return fmt.Sprintf("<@%s> さんの GitHub ユーザー名を `%s` に設定しました。", userID, strings.ToLower(username))
}

func (h *CommandHandler) deleteMapping(ctx context.Context, userID string) string {
	if h.mappings == nil {
		return "このボットでは手動マッピングは無効になっています。"
	}
	deleted, err := h.mappings.Delete(ctx, userID)
	if err != nil {
		h.log.Errorw("failed to delete user mapping", "user", userID, "error", err)
		return "マッピングの削除中にエラーが発生しました。"
	}
	if !deleted {
		return "手動マッピングは登録されていません。"
	}
	return "手動マッピングを削除しました。"
}

func notResolvedMessage(who string) string {
	return fmt.Sprintf("%sの GitHub ユーザー名を特定できませんでした。%s map <GitHubユーザー名> で登録するか、%s user <GitHubユーザー名> で直接指定してください。",
		who, commandName, commandName)
}

// parseCommand はコマンドテキストをクォート対応で解析する
func parseCommand(text string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	quoteChar := byte(0)

	for i := 0; i < len(text); i++ {
		char := text[i]

		switch {
		case char == '"' || char == '\'':
			if !inQuote {
				inQuote = true
				quoteChar = char
			} else if char == quoteChar {
				inQuote = false
				quoteChar = 0
			} else {
				// 異なるクォート文字は普通の文字として扱う
				current.WriteByte(char)
			}
		case char == ' ' && !inQuote:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(char)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}

// cleanUserID はメンション形式 <@ID|name> や @name からユーザーIDを取り出す
func cleanUserID(userID string) string {
	userID = strings.TrimSpace(userID)

	if strings.HasPrefix(userID, "<@") && strings.HasSuffix(userID, ">") {
		userID = strings.TrimPrefix(strings.TrimSuffix(userID, ">"), "<@")
		if i := strings.Index(userID, "|"); i >= 0 {
			userID = userID[:i]
		}
		return userID
	}

	return strings.TrimPrefix(userID, "@")
}

func helpText() string {
	return `*PR 一覧 Bot コマンド*
コマンド形式: /prs [サブコマンド] [引数]

• /prs - 自分に関係するオープンな PR を表示
• /prs user GitHubユーザー名 - 指定した GitHub ユーザーの PR を表示
• /prs for @user - 指定した Slack ユーザーの PR を表示
• /prs stats - PR キャッシュの状態を表示
• /prs refresh - PR キャッシュを今すぐ更新
• /prs map GitHubユーザー名 - 自分の GitHub ユーザー名を登録
• /prs unmap - 登録した GitHub ユーザー名を削除
• /prs whoami - 自分の GitHub ユーザー名を確認

PR の分類:
• レビュー/対応をお願いされている PR - レビュワーまたはアサインに含まれているもの
• 自分が作成した PR - 変更リクエスト / 承認済み / レビュー待ち / 状態不明 / レビュワー未設定`
}
