package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader заголовок с подписью тела вебхука
const SignatureHeader = "X-Webhook-Signature"

// Sign считает base64(HMAC-SHA256(payload, secret)) по точным байтам тела.
// Без секрета подписи нет и заголовок не отправляется.
func Sign(payload []byte, secret string) (string, bool) {
	if secret == "" {
		return "", false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), true
}

// Verify проверяет подпись вебхука, для получателей и тестов
func Verify(payload []byte, secret, signature string) bool {
	expected, ok := Sign(payload, secret)
	if !ok {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
