package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSignature = errors.New("webhook: invalid signature")

// WebhookVerifier checks the provider's x-signature header, which signs
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;" with HMAC-SHA256.
type WebhookVerifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

const DefaultWebhookMaxAge = 5 * time.Minute

// NewWebhookVerifier rejects signatures whose ts is further than maxAge from
// the current time. A maxAge of zero or less accepts any ts.
func NewWebhookVerifier(secret string, maxAge time.Duration) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret), maxAge: maxAge, now: time.Now}
}

func (v *WebhookVerifier) Verify(h http.Header, dataID string) error {
	ts, sig := parseSignature(h.Get("x-signature"))
	if ts == "" || sig == "" {
		return fmt.Errorf("%w: malformed x-signature", ErrInvalidSignature)
	}

	want, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: v1 is not hex", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(Manifest(dataID, h.Get("x-request-id"), ts)))
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrInvalidSignature
	}
	return v.checkAge(ts)
}

func (v *WebhookVerifier) checkAge(ts string) error {
	if v.maxAge <= 0 {
		return nil
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: ts is not a number", ErrInvalidSignature)
	}

	// The provider sends seconds, some integrations send milliseconds.
	signedAt := time.Unix(n, 0)
	if n > 1e12 {
		signedAt = time.UnixMilli(n)
	}

	age := v.now().Sub(signedAt)
	if age < 0 {
		age = -age
	}
	if age > v.maxAge {
		return fmt.Errorf("%w: ts is %s away from now", ErrInvalidSignature, age.Truncate(time.Second))
	}
	return nil
}

// Manifest is the string the provider signs.
func Manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func parseSignature(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	return ts, v1
}
