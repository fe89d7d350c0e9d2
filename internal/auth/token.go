package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidToken covers every malformed, forged or expired admin token.
var ErrInvalidToken = errors.New("invalid token")

// Claims identify a control API caller.
type Claims struct {
	ID      string `json:"jti"`
	Subject string `json:"sub"`
	Exp     int64  `json:"exp"`
}

// DefaultTokenExpiry is the lifetime of control API tokens.
const DefaultTokenExpiry = 12 * time.Hour

// GenerateToken creates an HMAC-SHA256 signed token for subject.
// Format: base64url(payload).base64url(signature).
func GenerateToken(subject string, secret []byte, expiry time.Duration) (token string, expiresAt time.Time, err error) {
	if len(secret) == 0 {
		return "", time.Time{}, fmt.Errorf("token secret is required")
	}
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("token subject is required")
	}
	expiresAt = time.Now().UTC().Add(expiry)
	claims := Claims{
		ID:      uuid.NewString(),
		Subject: subject,
		Exp:     expiresAt.Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal claims: %w", err)
	}
	b64Payload := base64.RawURLEncoding.EncodeToString(payload)
	return b64Payload + "." + sign(b64Payload, secret), expiresAt, nil
}

func sign(b64Payload string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(b64Payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyToken checks the signature and expiry and returns the claims.
func VerifyToken(token string, secret []byte) (*Claims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: format", ErrInvalidToken)
	}
	b64Payload, b64Sig := parts[0], parts[1]

	sig, err := base64.RawURLEncoding.DecodeString(b64Sig)
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding: %v", ErrInvalidToken, err)
	}
	expected, _ := base64.RawURLEncoding.DecodeString(sign(b64Payload, secret))
	if !hmac.Equal(sig, expected) {
		return nil, fmt.Errorf("%w: signature", ErrInvalidToken)
	}

	payload, err := base64.RawURLEncoding.DecodeString(b64Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload encoding: %v", ErrInvalidToken, err)
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidToken, err)
	}

	if time.Now().UTC().Unix() > claims.Exp {
		return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &claims, nil
}
