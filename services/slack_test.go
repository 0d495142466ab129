package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func signedSlackRequest(t *testing.T, secret, body string, ts time.Time) *http.Request {
	t.Helper()
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":" + body))

	req, err := http.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(body))
	if err != nil {
		t.Fatalf("fail to create request: %v", err)
	}
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestValidateSlackRequest(t *testing.T) {
	body := "command=%2Fprs&text=stats&user_id=U001"

	tests := []struct {
		name     string
		secret   string
		body     string
		ts       time.Time
		expected bool
	}{
		{"valid signature", "secret", body, time.Now(), true},
		{"wrong secret", "other", body, time.Now(), false},
		{"tampered body", "secret", body + "&x=1", time.Now(), false},
		{"stale timestamp", "secret", body, time.Now().Add(-10 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedSlackRequest(t, tt.secret, body, tt.ts)
			assert.Equal(t, tt.expected, ValidateSlackRequest(req, []byte(tt.body), "secret"))
		})
	}
}

func TestValidateSlackRequestMissingHeaders(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "/slack/commands", nil)

	assert.False(t, ValidateSlackRequest(req, []byte("text=stats"), "secret"))
}
