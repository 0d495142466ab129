package services

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// LDAPOptions は社内ディレクトリへの接続設定
type LDAPOptions struct {
	URL               string
	BindDN            string
	BindPassword      string
	BaseDN            string
	EmailAttribute    string
	UsernameAttribute string // GitHub ユーザー名を持つ属性
	Timeout           time.Duration
}

// LDAPDirectory は LDAP で社内ディレクトリを検索する
// 問い合わせ毎に接続してバインドする
type LDAPDirectory struct {
	opts LDAPOptions
}

func NewLDAPDirectory(opts LDAPOptions) *LDAPDirectory {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.EmailAttribute == "" {
		opts.EmailAttribute = "mail"
	}
	return &LDAPDirectory{opts: opts}
}

// UsernameByEmail はメールアドレスから GitHub ユーザー名を引く
func (d *LDAPDirectory) UsernameByEmail(ctx context.Context, email string) (string, error) {
	return d.lookup(ctx, d.opts.EmailAttribute, email, d.opts.UsernameAttribute)
}

// EmailByUsername は GitHub ユーザー名からメールアドレスを引く
func (d *LDAPDirectory) EmailByUsername(ctx context.Context, username string) (string, error) {
	return d.lookup(ctx, d.opts.UsernameAttribute, username, d.opts.EmailAttribute)
}

func (d *LDAPDirectory) lookup(ctx context.Context, filterAttr, value, wantAttr string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if filterAttr == "" || wantAttr == "" {
		return "", fmt.Errorf("ldap attribute is not configured")
	}

	conn, err := ldap.DialURL(d.opts.URL, ldap.DialWithDialer(&net.Dialer{Timeout: d.opts.Timeout}))
	if err != nil {
		return "", fmt.Errorf("ldap dial %s: %w", d.opts.URL, err)
	}
	defer conn.Close()
	conn.SetTimeout(d.opts.Timeout)

	if err := conn.Bind(d.opts.BindDN, d.opts.BindPassword); err != nil {
		return "", fmt.Errorf("ldap bind as %s: %w", d.opts.BindDN, err)
	}

	req := ldap.NewSearchRequest(
		d.opts.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		int(d.opts.Timeout/time.Second),
		false,
		equalityFilter(filterAttr, value),
		[]string{wantAttr},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return "", fmt.Errorf("ldap search %s=%s: %w", filterAttr, value, err)
	}

	for _, entry := range res.Entries {
		if v := entry.GetAttributeValue(wantAttr); v != "" {
			return v, nil
		}
	}
	return "", ErrNotFound
}

// equalityFilter は値をエスケープした (attr=value) フィルタを作る
func equalityFilter(attr, value string) string {
	return fmt.Sprintf("(%s=%s)", attr, ldap.EscapeFilter(value))
}
