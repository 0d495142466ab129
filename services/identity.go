package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNotFound は参照先に該当するユーザーがいないことを表す
var ErrNotFound = errors.New("not found")

// ChatDirectory はチャットのユーザーディレクトリ（Slack）
type ChatDirectory interface {
	EmailByHandle(ctx context.Context, handle string) (string, error)
	HandleByEmail(ctx context.Context, email string) (string, error)
}

// CorporateDirectory は社内ディレクトリ（LDAP）
type CorporateDirectory interface {
	UsernameByEmail(ctx context.Context, email string) (string, error)
	EmailByUsername(ctx context.Context, username string) (string, error)
}

// MappingStore は手動登録したマッピング
type MappingStore interface {
	UsernameByHandle(ctx context.Context, handle string) (string, error)
	HandleByUsername(ctx context.Context, username string) (string, error)
}

// ResolverBackends は Resolver が使う参照先。どれも nil（未設定）でよい
type ResolverBackends struct {
	Chat      ChatDirectory
	Directory CorporateDirectory
	Mappings  MappingStore
}

// resolutionStrategy は名前付きの解決方法。見つかった場合だけ ok=true を返す
type resolutionStrategy struct {
	name    string
	resolve func(ctx context.Context, key string) (string, bool)
}

// Resolver は Slack のハンドルと GitHub ユーザー名を相互に解決する
// 各段の結果（見つからなかった結果も含む）はプロセスが終わるまでキャッシュする
type Resolver struct {
	chat      ChatDirectory
	directory CorporateDirectory
	mappings  MappingStore
	log       *zap.SugaredLogger

	handleEmails    *lookupCache // handle -> email
	handleUsernames *lookupCache // handle -> GitHub username
	usernameEmails  *lookupCache // GitHub username -> email
	emailHandles    *lookupCache // email -> handle

	toUsername []resolutionStrategy
	toHandle   []resolutionStrategy
}

// NewResolver は Resolver を作る
func NewResolver(backends ResolverBackends, log *zap.SugaredLogger) *Resolver {
	r := &Resolver{
		chat:            backends.Chat,
		directory:       backends.Directory,
		mappings:        backends.Mappings,
		log:             log,
		handleEmails:    newLookupCache(),
		handleUsernames: newLookupCache(),
		usernameEmails:  newLookupCache(),
		emailHandles:    newLookupCache(),
	}

	if r.mappings != nil {
		r.toUsername = append(r.toUsername, resolutionStrategy{name: "manual-mapping", resolve: r.usernameFromMapping})
		r.toHandle = append(r.toHandle, resolutionStrategy{name: "manual-mapping", resolve: r.handleFromMapping})
	}
	r.toUsername = append(r.toUsername, resolutionStrategy{name: "directory-chain", resolve: r.usernameFromDirectories})
	r.toHandle = append(r.toHandle, resolutionStrategy{name: "directory-chain", resolve: r.handleFromDirectories})

	return r
}

// ResolveExternalUsername は Slack のハンドルから GitHub ユーザー名を解決する
func (r *Resolver) ResolveExternalUsername(ctx context.Context, handle string) (string, bool) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", false
	}
	return r.run(ctx, r.toUsername, handle, "github username")
}

// ResolveHandle は GitHub ユーザー名から Slack のハンドルを解決する
func (r *Resolver) ResolveHandle(ctx context.Context, username string) (string, bool) {
	username = normalizeUsername(username)
	if username == "" {
		return "", false
	}
	return r.run(ctx, r.toHandle, username, "chat handle")
}

func (r *Resolver) run(ctx context.Context, strategies []resolutionStrategy, key, target string) (string, bool) {
	for _, s := range strategies {
		if value, ok := s.resolve(ctx, key); ok {
			r.log.Debugw("identity resolved", "key", key, "target", target, "strategy", s.name)
			return value, true
		}
	}
	r.log.Warnw("identity not resolved", "key", key, "target", target)
	return "", false
}

// ResolveEmailFromExternalUsername は GitHub ユーザー名からメールアドレスを解決する
func (r *Resolver) ResolveEmailFromExternalUsername(ctx context.Context, username string) (string, bool) {
	username = normalizeUsername(username)
	if username == "" {
		return "", false
	}
	if cached, hit := r.usernameEmails.get(username); hit {
		return cached.value, cached.found
	}
	if r.directory == nil {
		return "", false
	}

	email, err := r.directory.EmailByUsername(ctx, username)
	if err != nil || email == "" {
		r.logLookupFailure("directory email lookup failed", "username", username, err)
		r.usernameEmails.put(username, "", false)
		return "", false
	}
	r.usernameEmails.put(username, email, true)
	return email, true
}

func (r *Resolver) usernameFromMapping(ctx context.Context, handle string) (string, bool) {
	username, err := r.mappings.UsernameByHandle(ctx, handle)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.Errorw("manual mapping lookup failed", "handle", handle, "error", err)
		}
		return "", false
	}
	return username, username != ""
}

func (r *Resolver) handleFromMapping(ctx context.Context, username string) (string, bool) {
	handle, err := r.mappings.HandleByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.Errorw("manual mapping lookup failed", "username", username, "error", err)
		}
		return "", false
	}
	return handle, handle != ""
}

// usernameFromDirectories は handle -> email (Slack) -> GitHub username (LDAP) の順に辿る
func (r *Resolver) usernameFromDirectories(ctx context.Context, handle string) (string, bool) {
	email, ok := r.emailForHandle(ctx, handle)
	if !ok {
		r.log.Warnw("no email found for chat handle", "handle", handle)
		return "", false
	}

	// キャッシュキーはメールではなく元のハンドル
	if cached, hit := r.handleUsernames.get(handle); hit {
		return cached.value, cached.found
	}
	if r.directory == nil {
		return "", false
	}

	username, err := r.directory.UsernameByEmail(ctx, email)
	if err != nil || username == "" {
		r.logLookupFailure("directory username lookup failed", "handle", handle, err)
		r.handleUsernames.put(handle, "", false)
		return "", false
	}
	r.handleUsernames.put(handle, username, true)
	return username, true
}

func (r *Resolver) emailForHandle(ctx context.Context, handle string) (string, bool) {
	if cached, hit := r.handleEmails.get(handle); hit {
		return cached.value, cached.found
	}
	if r.chat == nil {
		return "", false
	}

	email, err := r.chat.EmailByHandle(ctx, handle)
	if err != nil || email == "" {
		r.logLookupFailure("chat email lookup failed", "handle", handle, err)
		r.handleEmails.put(handle, "", false)
		return "", false
	}
	r.handleEmails.put(handle, email, true)
	return email, true
}

// handleFromDirectories は GitHub username -> email (LDAP) -> handle (Slack) の順に辿る
func (r *Resolver) handleFromDirectories(ctx context.Context, username string) (string, bool) {
	email, ok := r.ResolveEmailFromExternalUsername(ctx, username)
	if !ok {
		return "", false
	}

	if cached, hit := r.emailHandles.get(email); hit {
		return cached.value, cached.found
	}
	if r.chat == nil {
		return "", false
	}

	handle, err := r.chat.HandleByEmail(ctx, email)
	if err != nil || handle == "" {
		r.logLookupFailure("chat handle lookup failed", "email", email, err)
		r.emailHandles.put(email, "", false)
		return "", false
	}
	r.emailHandles.put(email, handle, true)
	return handle, true
}

// logLookupFailure は見つからなかっただけなら warn、それ以外は error で出す
func (r *Resolver) logLookupFailure(msg, keyName, key string, err error) {
	if err == nil || errors.Is(err, ErrNotFound) {
		r.log.Warnw(msg, keyName, key, "reason", "not found")
		return
	}
	r.log.Errorw(msg, keyName, key, "error", err)
}

type cachedLookup struct {
	value string
	found bool
}

// lookupCache は否定結果も保持する単純なキャッシュ
// 同じキーへの同時書き込みは同じ値になるので、取得と書き込みの間はロックしない
type lookupCache struct {
	mu      sync.Mutex
	entries map[string]cachedLookup
}

func newLookupCache() *lookupCache {
	return &lookupCache{entries: make(map[string]cachedLookup)}
}

func (c *lookupCache) get(key string) (cachedLookup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *lookupCache) put(key, value string, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedLookup{value: value, found: found}
}
