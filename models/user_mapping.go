package models

import (
	"time"

	"gorm.io/gorm"
)

// UserMapping は Slack User ID と GitHub username の手動マッピングを保持する
// ディレクトリで解決できないユーザーのために /prs map で登録する
type UserMapping struct {
	ID             string `gorm:"primaryKey"`
	SlackUserID    string `gorm:"uniqueIndex"` // Slack のユーザーID
	GithubUsername string `gorm:"uniqueIndex"` // GitHub のユーザー名（小文字で保存）
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}
