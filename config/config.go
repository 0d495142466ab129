// Package config loads application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envFile = ".env"

// NewConfig は .env と環境変数から設定を読み込む
// 既に設定されている環境変数は .env で上書きしない
func NewConfig() (*Config, error) {
	if envMap, err := godotenv.Read(envFile); err == nil {
		for k, v := range envMap {
			if _, exists := os.LookupEnv(k); !exists {
				_ = os.Setenv(k, v)
			}
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvs(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.GitHub.Repositories = cleanList(cfg.GitHub.Repositories)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("github.page_size", 100)
	v.SetDefault("github.timeout", 10*time.Second)
	v.SetDefault("github.repo_timeout", 60*time.Second)

	v.SetDefault("cache.refresh_interval", 10*time.Minute)

	v.SetDefault("slack.timeout", 5*time.Second)

	v.SetDefault("ldap.email_attribute", "mail")
	v.SetDefault("ldap.username_attribute", "githubUsername")
	v.SetDefault("ldap.timeout", 5*time.Second)

	v.SetDefault("database.path", "pr_index.db")
}

func bindEnvs(v *viper.Viper) {
	keys := []string{
		"logging.level",
		"server.host",
		"server.port",
		"server.shutdown_timeout",
		"github.token",
		"github.org",
		"github.repositories",
		"github.base_url",
		"github.page_size",
		"github.timeout",
		"github.repo_timeout",
		"github.webhook_secret",
		"cache.refresh_interval",
		"slack.bot_token",
		"slack.signing_secret",
		"slack.api_url",
		"slack.timeout",
		"ldap.url",
		"ldap.bind_dn",
		"ldap.bind_password",
		"ldap.base_dn",
		"ldap.email_attribute",
		"ldap.username_attribute",
		"ldap.timeout",
		"database.path",
	}

	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// cleanList はカンマ区切りで渡されたリストの空白と空要素を取り除く
func cleanList(items []string) []string {
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
	}
	return cleaned
}
