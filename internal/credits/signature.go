package credits

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// VerifySignature checks a Cashfree-style webhook signature.
// The signed payload is the raw body concatenated with the client secret and
// the x-webhook-timestamp header value, HMAC-SHA256 keyed by the same secret
// and base64 encoded.
func VerifySignature(secret string, body []byte, timestamp, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := computeSignature(secret, body, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func computeSignature(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(secret))
	mac.Write([]byte(timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
