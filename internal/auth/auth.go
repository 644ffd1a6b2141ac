package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrInvalidToken = errors.New("invalid token")

// Service validates bearer tokens against the configured set.
type Service struct {
	sessions map[string]string
}

// NewService builds a validator from static tokens. Each token maps to a
// stable session id derived from its SHA-256, so every configured token owns
// an isolated session and rotating a token starts a fresh one.
func NewService(tokens []string) *Service {
	sessions := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		sessions[tok] = SessionID(tok)
	}
	return &Service{sessions: sessions}
}

// SessionID derives the stable session identifier for a token.
func SessionID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "s-" + hex.EncodeToString(sum[:8])
}

// Validate checks a bearer token and returns its session id.
// Uses constant-time comparison to prevent timing attacks; all stored
// tokens are compared even after a match.
func (s *Service) Validate(token string) (string, error) {
	if s == nil || len(s.sessions) == 0 {
		return "", ErrInvalidToken
	}
	input := strings.TrimSpace(token)
	var matched string
	for stored, sessionID := range s.sessions {
		if subtle.ConstantTimeCompare([]byte(input), []byte(stored)) == 1 {
			matched = sessionID
		}
	}
	if matched == "" {
		return "", ErrInvalidToken
	}
	return matched, nil
}
