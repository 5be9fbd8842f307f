// Package token inspects bearer tokens issued by the platform backend.
// Signatures are never verified here; the client holds no secret.
package token

import (
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpiryWindow is how early a token counts as expiring soon.
const DefaultExpiryWindow = 5 * time.Minute

// segmentParser only decodes segments; padding is accepted so both padded
// and unpadded base64url pass.
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

func segments(tok string) ([]string, bool) {
	if tok == "" {
		return nil, false
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return nil, false
	}
	return parts, true
}

// ValidateFormat reports whether tok has exactly three dot separated
// segments that each decode as base64url.
func ValidateFormat(tok string) bool {
	parts, ok := segments(tok)
	if !ok {
		return false
	}
	for _, part := range parts {
		if _, err := segmentParser.DecodeSegment(part); err != nil {
			return false
		}
	}
	return true
}

// Claims decodes the payload segment. It returns false for any decoding
// failure.
func Claims(tok string) (jwt.MapClaims, bool) {
	parts, ok := segments(tok)
	if !ok {
		return nil, false
	}
	raw, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if err := sonic.Unmarshal(raw, &claims); err != nil {
		return nil, false
	}
	return claims, true
}

// Expiration returns the exp claim as an absolute time. ok is false when the
// token cannot be decoded or carries no usable exp; callers must then treat
// the lifetime as unknown rather than unlimited.
func Expiration(tok string) (exp time.Time, ok bool) {
	claims, ok := Claims(tok)
	if !ok {
		return time.Time{}, false
	}
	date, err := claims.GetExpirationTime()
	if err != nil || date == nil || date.Unix() == 0 {
		return time.Time{}, false
	}
	return date.Time, true
}

// IsExpired reports whether the token has a known expiration at or before now.
func IsExpired(tok string, now time.Time) bool {
	exp, ok := Expiration(tok)
	return ok && !exp.After(now)
}

// IsExpiringSoon reports whether an expiration is known and
// now + window >= expiration. A non-positive window uses DefaultExpiryWindow.
func IsExpiringSoon(tok string, window time.Duration, now time.Time) bool {
	if window <= 0 {
		window = DefaultExpiryWindow
	}
	exp, ok := Expiration(tok)
	if !ok {
		return false
	}
	return !now.Add(window).Before(exp)
}

// Subject returns the sub claim, if any.
func Subject(tok string) string {
	claims, ok := Claims(tok)
	if !ok {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// Redact shortens a token for log output.
func Redact(tok string) string {
	if len(tok) <= 20 {
		return strings.Repeat("*", len(tok))
	}
	return tok[:20] + "..."
}
