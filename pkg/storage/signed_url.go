package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid download token")
	ErrTokenExpired = errors.New("download token expired")
)

// SignedURLSigner creates and validates HMAC-signed download tokens for stored artifacts.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type tokenClaims struct {
	Subject string `json:"sub"`
	Path    string `json:"path"`
	Expires int64  `json:"exp"`
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate returns a token binding subject (a certificate public id) to a stored path.
func (s *SignedURLSigner) Generate(subject, relPath string) (string, time.Time, error) {
	if subject == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("subject and path required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	payload, err := json.Marshal(tokenClaims{Subject: subject, Path: relPath, Expires: expiresAt.Unix()})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode token: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.sign(encoded), expiresAt, nil
}

// Parse validates a token and returns the embedded subject and path.
func (s *SignedURLSigner) Parse(token string) (subject, relPath string, expiresAt time.Time, err error) {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || signature == "" {
		return "", "", time.Time{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(s.sign(encoded)), []byte(signature)) {
		return "", "", time.Time{}, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", time.Time{}, ErrInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return "", "", time.Time{}, ErrInvalidToken
	}
	expiresAt = time.Unix(claims.Expires, 0)
	if s.now().After(expiresAt) {
		return "", "", time.Time{}, ErrTokenExpired
	}
	return claims.Subject, claims.Path, expiresAt, nil
}

func (s *SignedURLSigner) sign(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
