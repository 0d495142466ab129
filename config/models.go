package config

import (
	"errors"
	"fmt"
	"time"
)

// Config はアプリケーション全体の設定
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Slack    SlackConfig    `mapstructure:"slack"`
	LDAP     LDAPConfig     `mapstructure:"ldap"`
	Database DatabaseConfig `mapstructure:"database"`
}

// Validate は必須項目をチェックする
// Slack と LDAP は任意（未設定ならユーザー解決のその段が常に未解決になる）
func (c Config) Validate() error {
	if c.Server.Port == 0 {
		return errors.New("server.port is required")
	}
	if c.GitHub.Token == "" || c.GitHub.Org == "" {
		return errors.New("github.token and github.org are required")
	}
	if c.GitHub.PageSize <= 0 || c.GitHub.PageSize > 100 {
		return fmt.Errorf("github.page_size must be between 1 and 100, got %d", c.GitHub.PageSize)
	}
	if c.Cache.RefreshInterval <= 0 {
		return errors.New("cache.refresh_interval must be positive")
	}
	return nil
}

// ServerAddr は待ち受けアドレス
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// GitHubConfig は PR を集計する対象の設定
// Repositories が空の場合は Org の全リポジトリを対象にする
type GitHubConfig struct {
	Token         string        `mapstructure:"token"`
	Org           string        `mapstructure:"org"`
	Repositories  []string      `mapstructure:"repositories"`
	BaseURL       string        `mapstructure:"base_url"`
	PageSize      int           `mapstructure:"page_size"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RepoTimeout   time.Duration `mapstructure:"repo_timeout"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
}

type CacheConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type SlackConfig struct {
	BotToken      string        `mapstructure:"bot_token"`
	SigningSecret string        `mapstructure:"signing_secret"`
	APIURL        string        `mapstructure:"api_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Enabled はユーザーディレクトリとして Slack API を使えるか
func (s SlackConfig) Enabled() bool {
	return s.BotToken != ""
}

type LDAPConfig struct {
	URL               string        `mapstructure:"url"`
	BindDN            string        `mapstructure:"bind_dn"`
	BindPassword      string        `mapstructure:"bind_password"`
	BaseDN            string        `mapstructure:"base_dn"`
	EmailAttribute    string        `mapstructure:"email_attribute"`
	UsernameAttribute string        `mapstructure:"username_attribute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// Enabled は接続情報とバインド情報が揃っているか
func (l LDAPConfig) Enabled() bool {
	return l.URL != "" && l.BaseDN != "" && l.BindDN != "" && l.BindPassword != ""
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}
