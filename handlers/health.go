package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleHealth はキャッシュの状態を含めたヘルスチェック
func HandleHealth(cache PRIndex) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := cache.Stats()
		body := gin.H{
			"status":              "ok",
			"repositories":        stats.Repositories,
			"pull_requests":       stats.PullRequests,
			"failed_repositories": stats.FailedRepositories,
			"last_refreshed":      nil,
		}
		if !stats.LastRefreshed.IsZero() {
			body["last_refreshed"] = stats.LastRefreshed
		}
		c.JSON(http.StatusOK, body)
	}
}
