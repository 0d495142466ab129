package services

import "fmt"

// UserLabel は GitHub ユーザー名を表示用に整形する
// Slack のユーザーIDが分かっている場合はメンションを添える
func UserLabel(username, handle string) string {
	if username == "" {
		return ""
	}
	if handle == "" {
		return fmt.Sprintf("`%s`", username)
	}
	return fmt.Sprintf("`%s` (<@%s>)", username, handle)
}
