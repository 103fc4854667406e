package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// WebhookAuth verifies inbound webhook requests against a shared secret.
// The provider either echoes the secret in an Authorization header or signs
// the body with HMAC-SHA256; both schemes are accepted.
type WebhookAuth struct {
	Secret string
}

// VerifyHeader checks a bare shared-secret header in constant time.
func (w *WebhookAuth) VerifyHeader(header string) bool {
	if w.Secret == "" {
		// No secret configured means auth is disabled.
		return true
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(w.Secret)) == 1
}

// VerifySignature checks a base64 HMAC-SHA256 signature over the body.
func (w *WebhookAuth) VerifySignature(signature string, body []byte) bool {
	if w.Secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(w.Secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// Sign computes the base64 HMAC-SHA256 signature of a body, used by tests
// and replay tooling.
func (w *WebhookAuth) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(w.Secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (w *WebhookAuth) String() string {
	if len(w.Secret) <= 4 {
		return "WebhookAuth{secret=****}"
	}
	return fmt.Sprintf("WebhookAuth{secret=%s****}", w.Secret[:4])
}
