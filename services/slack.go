package services

import (
	"net/http"

	"github.com/slack-go/slack"
)

// ValidateSlackRequest は Slack からのリクエスト署名を検証する
// body はリクエストボディをそのまま渡す
func ValidateSlackRequest(r *http.Request, body []byte, signingSecret string) bool {
	verifier, err := slack.NewSecretsVerifier(r.Header, signingSecret)
	if err != nil {
		return false
	}
	if _, err := verifier.Write(body); err != nil {
		return false
	}
	return verifier.Ensure() == nil
}
