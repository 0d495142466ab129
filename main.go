package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"slack-pr-index/config"
	"slack-pr-index/handlers"
	"slack-pr-index/logger"
	"slack-pr-index/models"
	"slack-pr-index/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr, err := logger.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logr.Sync() }()

	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{})
	if err != nil {
		logr.Fatalw("failed to open database", "path", cfg.Database.Path, "error", err)
	}
	if err := db.AutoMigrate(&models.UserMapping{}); err != nil {
		logr.Fatalw("failed to migrate database", "error", err)
	}
	mappings := services.NewUserMappingStore(db)

	gh, err := services.NewGitHubClient(services.GitHubOptions{
		Token:    cfg.GitHub.Token,
		Org:      cfg.GitHub.Org,
		BaseURL:  cfg.GitHub.BaseURL,
		PageSize: cfg.GitHub.PageSize,
		Timeout:  cfg.GitHub.Timeout,
	}, logr)
	if err != nil {
		logr.Fatalw("failed to create github client", "error", err)
	}

	cache := services.NewPRCache(gh, cfg.GitHub.Repositories, cfg.GitHub.RepoTimeout, logr)
	resolver := services.NewResolver(resolverBackends(cfg, mappings, logr), logr)

	scheduler := services.NewScheduler(cfg.Cache.RefreshInterval, cache.Refresh, logr)
	go scheduler.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	commands := handlers.NewCommandHandler(cache, resolver, mappings, scheduler, cfg.Slack.SigningSecret, logr)
	r.POST("/slack/commands", commands.HandleSlackCommand)
	r.POST("/webhook", handlers.HandleGitHubWebhook(cfg.GitHub.WebhookSecret, scheduler, logr))
	r.GET("/healthz", handlers.HandleHealth(cache))

	srv := &http.Server{Addr: cfg.ServerAddr(), Handler: r}
	go func() {
		logr.Infow("server started", "addr", cfg.ServerAddr(), "org", cfg.GitHub.Org)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Errorw("failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warnw("server shutdown error", "error", err)
	}
}

// resolverBackends は設定済みの参照先だけを Resolver に渡す
func resolverBackends(cfg *config.Config, mappings *services.UserMappingStore, logr *zap.SugaredLogger) services.ResolverBackends {
	backends := services.ResolverBackends{Mappings: mappings}

	if cfg.Slack.Enabled() {
		backends.Chat = services.NewSlackDirectory(cfg.Slack.BotToken, cfg.Slack.APIURL, cfg.Slack.Timeout)
	} else {
		logr.Warn("SLACK_BOT_TOKEN is not set, chat handle to email lookup is disabled")
	}

	if cfg.LDAP.Enabled() {
		backends.Directory = services.NewLDAPDirectory(services.LDAPOptions{
			URL:               cfg.LDAP.URL,
			BindDN:            cfg.LDAP.BindDN,
			BindPassword:      cfg.LDAP.BindPassword,
			BaseDN:            cfg.LDAP.BaseDN,
			EmailAttribute:    cfg.LDAP.EmailAttribute,
			UsernameAttribute: cfg.LDAP.UsernameAttribute,
			Timeout:           cfg.LDAP.Timeout,
		})
	} else {
		logr.Warn("ldap is not configured, email to github username lookup is disabled")
	}

	return backends
}
