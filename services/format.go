package services

import (
	"fmt"
	"strings"
	"time"

	"slack-pr-index/models"
)

// bucketSection は表示順とその見出し
type bucketSection struct {
	bucket models.Bucket
	title  string
}

var bucketSections = []bucketSection{
	{models.BucketAssigned, "👀 *レビュー/対応をお願いされている PR*"},
	{models.BucketAuthoredChangesRequested, "✏️ *変更をリクエストされた PR*"},
	{models.BucketAuthoredApproved, "✅ *承認済みの PR*"},
	{models.BucketAuthoredPendingReview, "⏳ *レビュー待ちの PR*"},
	{models.BucketAuthoredUnknownStatus, "❓ *レビュー状態を取得できなかった PR*"},
	{models.BucketAuthoredUnassigned, "🙋 *レビュワー未設定の PR*"},
}

// FormatUserPRs はユーザーの PR 一覧を Slack の mrkdwn で整形する
// label は UserLabel で作った表示名
func FormatUserPRs(label string, prs models.UserPRs, stats CacheStats) string {
	if prs.Total() == 0 {
		return fmt.Sprintf("%s に関係するオープンな PR はありません。（%s）", label, formatCacheContext(stats))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s のオープンな PR*\n", label)
	for _, section := range bucketSections {
		entries := prs[section.bucket]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d)\n", section.title, len(entries))
		for _, entry := range entries {
			b.WriteString(formatEntry(entry))
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "\n_%s_", formatCacheContext(stats))
	return b.String()
}

func formatEntry(entry models.Entry) string {
	pr := entry.PullRequest
	line := fmt.Sprintf("• <%s|%s#%d> %s", pr.URL, pr.Repository, pr.Number, pr.Title)
	if len(entry.Roles) > 0 {
		roles := make([]string, len(entry.Roles))
		for i, role := range entry.Roles {
			roles[i] = string(role)
		}
		line += fmt.Sprintf(" (%s)", strings.Join(roles, ", "))
	}
	return line
}

// FormatStats はキャッシュの状態を整形する
func FormatStats(stats CacheStats) string {
	response := fmt.Sprintf(`*PR キャッシュの状態*
- 対象リポジトリ数: %d
- インデックス済み PR 数: %d
- 最終更新: %s`,
		stats.Repositories, stats.PullRequests, formatRefreshedAt(stats.LastRefreshed))
	if len(stats.FailedRepositories) > 0 {
		response += fmt.Sprintf("\n- 前回取得に失敗したリポジトリ: %s", strings.Join(stats.FailedRepositories, ", "))
	}
	return response
}

func formatCacheContext(stats CacheStats) string {
	return fmt.Sprintf("%d リポジトリ / %d PR をインデックス済み, 最終更新: %s",
		stats.Repositories, stats.PullRequests, formatRefreshedAt(stats.LastRefreshed))
}

func formatRefreshedAt(t time.Time) string {
	if t.IsZero() {
		return "未実行"
	}
	return t.Format("2006-01-02 15:04:05")
}
