package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v71/github"
	"go.uber.org/zap"
)

// PR の関係者やレビュー状態が変わるアクション
var refreshingPullRequestActions = map[string]bool{
	"opened":                 true,
	"reopened":               true,
	"closed":                 true,
	"assigned":               true,
	"unassigned":             true,
	"review_requested":       true,
	"review_request_removed": true,
	"ready_for_review":       true,
	"edited":                 true,
}

// HandleGitHubWebhook は PR に関するイベントを受けたらキャッシュの更新を要求する
// secret が空の場合は署名を検証しない
func HandleGitHubWebhook(secret string, refresher RefreshTrigger, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := github.ValidatePayload(c.Request, []byte(secret))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		event, err := github.ParseWebHook(github.WebHookType(c.Request), payload)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot parse webhook"})
			return
		}

		refresh := false
		switch e := event.(type) {
		case *github.PullRequestEvent:
			refresh = refreshingPullRequestActions[e.GetAction()]
			log.Debugw("pull request event received",
				"repo", e.GetRepo().GetFullName(), "pr", e.GetNumber(), "action", e.GetAction())
		case *github.PullRequestReviewEvent:
			refresh = e.GetAction() == "submitted" || e.GetAction() == "dismissed"
			log.Debugw("pull request review event received",
				"repo", e.GetRepo().GetFullName(), "pr", e.GetPullRequest().GetNumber(), "action", e.GetAction())
		}

		if refresh && refresher != nil {
			if refresher.Trigger() {
				log.Infow("pr cache refresh requested by webhook", "event", github.WebHookType(c.Request))
			}
		}

		c.Status(http.StatusOK)
	}
}
