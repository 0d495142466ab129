package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slack-pr-index/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrUsernameTaken は GitHub ユーザー名が別の Slack ユーザーに登録済みであることを表す
var ErrUsernameTaken = errors.New("github username is already mapped to another user")

// UserMappingStore は手動マッピングを DB に保存する
type UserMappingStore struct {
	db *gorm.DB
}

func NewUserMappingStore(db *gorm.DB) *UserMappingStore {
	return &UserMappingStore{db: db}
}

// UsernameByHandle は Slack ユーザーIDに登録された GitHub ユーザー名を返す
func (s *UserMappingStore) UsernameByHandle(ctx context.Context, handle string) (string, error) {
	var mapping models.UserMapping
	err := s.db.WithContext(ctx).Where("slack_user_id = ?", handle).First(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return mapping.GithubUsername, nil
}

// HandleByUsername は GitHub ユーザー名に登録された Slack ユーザーIDを返す
func (s *UserMappingStore) HandleByUsername(ctx context.Context, username string) (string, error) {
	var mapping models.UserMapping
	err := s.db.WithContext(ctx).Where("github_username = ?", normalizeUsername(username)).First(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return mapping.SlackUserID, nil
}

// Save は Slack ユーザーIDと GitHub ユーザー名の対応を登録・更新する
func (s *UserMappingStore) Save(ctx context.Context, handle, username string) error {
	handle = strings.TrimSpace(handle)
	username = normalizeUsername(username)
	if handle == "" || username == "" {
		return fmt.Errorf("handle and username are required")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.UserMapping
		err := tx.Where("github_username = ?", username).First(&owner).Error
		if err == nil && owner.SlackUserID != handle {
			return ErrUsernameTaken
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var mapping models.UserMapping
		err = tx.Where("slack_user_id = ?", handle).First(&mapping).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			mapping = models.UserMapping{
				ID:             uuid.NewString(),
				SlackUserID:    handle,
				GithubUsername: username,
				CreatedAt:      time.Now(),
				UpdatedAt:      time.Now(),
			}
			return tx.Create(&mapping).Error
		}
		if err != nil {
			return err
		}

		mapping.GithubUsername = username
		mapping.UpdatedAt = time.Now()
		return tx.Save(&mapping).Error
	})
}

// Delete は Slack ユーザーIDの登録を削除する。削除したかどうかを返す
func (s *UserMappingStore) Delete(ctx context.Context, handle string) (bool, error) {
	// ユニークインデックスがあるので論理削除ではなく物理削除する
	result := s.db.WithContext(ctx).Unscoped().Where("slack_user_id = ?", handle).Delete(&models.UserMapping{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
