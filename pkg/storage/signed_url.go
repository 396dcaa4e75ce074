package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTokenInvalid covers malformed or tampered tokens.
	ErrTokenInvalid = errors.New("invalid download token")
	// ErrTokenExpired marks a well-formed token past its expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// SignedURLSigner mints and verifies HMAC-signed download tokens. A token
// binds a job ID to a file path for a limited time, so download links work
// without a session.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl}
}

// Generate returns a signed token referencing the job and file path.
func (s *SignedURLSigner) Generate(jobID, relPath string) (string, time.Time, error) {
	if jobID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("job id and path are required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	body := encode(fmt.Sprintf("%s\n%d\n%s", jobID, expiresAt.Unix(), relPath))
	return body + "." + s.sign(body), expiresAt, nil
}

// Parse verifies a token and returns the embedded metadata. With
// allowExpired the expiry check is skipped; cleanup paths use that.
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	body, signature, ok := strings.Cut(token, ".")
	if !ok || !hmac.Equal([]byte(s.sign(body)), []byte(signature)) {
		return "", "", time.Time{}, ErrTokenInvalid
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", "", time.Time{}, ErrTokenInvalid
	}
	fields := strings.SplitN(string(raw), "\n", 3)
	if len(fields) != 3 {
		return "", "", time.Time{}, ErrTokenInvalid
	}
	unix, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", "", time.Time{}, ErrTokenInvalid
	}

	expiresAt = time.Unix(unix, 0)
	if !allowExpired && time.Now().After(expiresAt) {
		return "", "", time.Time{}, ErrTokenExpired
	}
	return fields[0], fields[2], expiresAt, nil
}

func (s *SignedURLSigner) sign(body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func encode(payload string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}
