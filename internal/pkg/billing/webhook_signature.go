package billing

import (
	"crypto/subtle"
	"strings"
)

// VerifyBearerSecret checks an Authorization header against the shared
// webhook secret. Both "Bearer <secret>" and the bare secret are accepted.
func VerifyBearerSecret(authorizationHeader, webhookSecret string) bool {
	secret := strings.TrimSpace(webhookSecret)
	got := strings.TrimSpace(authorizationHeader)
	if secret == "" || got == "" {
		return false
	}
	if len(got) > 7 && strings.EqualFold(got[:7], "bearer ") {
		got = strings.TrimSpace(got[7:])
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
