package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC of the raw request body.
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature checks an X-Hub-Signature-256 value ("sha256=<hex>")
// against body using the app secret.
func VerifySignature(body []byte, signature, appSecret string) bool {
	expected, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(Sign(body, appSecret)))
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
