package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
)

const (
	CSRFHeader    = "X-CSRF-Token"
	CSRFFormField = "csrf_token"
)

// ErrCSRFMismatch is returned when a mutating request carries a wrong or no token
var ErrCSRFMismatch = errors.New("csrf token mismatch")

type saver interface {
	Save(ctx context.Context, sess *Session) error
}

// CSRF issues one random token per session and checks it on mutating requests
type CSRF struct {
	sessions saver
}

// NewCSRF creates a token service that persists tokens through sessions
func NewCSRF(sessions saver) *CSRF {
	return &CSRF{sessions: sessions}
}

// GetOrCreate returns the session token, generating and storing one on first use
func (c *CSRF) GetOrCreate(ctx context.Context, sess *Session) (string, error) {
	if sess.CSRFToken != "" {
		return sess.CSRFToken, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	sess.CSRFToken = hex.EncodeToString(b)
	if err := c.sessions.Save(ctx, sess); err != nil {
		return "", err
	}
	return sess.CSRFToken, nil
}

// Validate compares candidate with the session token in constant time
func (c *CSRF) Validate(sess *Session, candidate string) bool {
	if sess == nil || sess.CSRFToken == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sess.CSRFToken), []byte(candidate)) == 1
}

// TokenFromRequest reads the token from the header, falling back to the form field
func TokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(CSRFHeader); token != "" {
		return token
	}
	return r.PostFormValue(CSRFFormField)
}

// IsSafeMethod reports whether method never mutates state
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
