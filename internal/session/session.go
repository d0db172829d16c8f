// Package session mints the per-visitor session key and the continuity token
// the browser script must echo back to confirm a page view.
//
// The session key travels in an HttpOnly cookie. The continuity token is an
// HMAC of the key and is set in a script-readable cookie, so only a client
// that executes the page script can return it in the /track body.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionCookie carries the session key.
	SessionCookie = "gw_session"
	// ContinuityCookie carries the token the page script posts back.
	ContinuityCookie = "gw_continuity"

	cookieMaxAge = 24 * time.Hour
)

// Manager issues and verifies session keys and continuity tokens.
type Manager struct {
	secret []byte
	secure bool
}

// NewManager creates a Manager. An empty secret is replaced by 32 random
// bytes, so tokens issued before a restart no longer verify.
func NewManager(secret string, secureCookies bool) (*Manager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
	}
	return &Manager{secret: key, secure: secureCookies}, nil
}

// NewKey returns a fresh random session key.
func (m *Manager) NewKey() string {
	return uuid.NewString()
}

// ValidKey reports whether key has the shape of a key this package mints.
func ValidKey(key string) bool {
	id, err := uuid.Parse(key)
	return err == nil && id.Version() == 4 && len(key) == 36
}

// Token derives the continuity token for key.
func (m *Manager) Token(key string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks token against key in constant time.
func (m *Manager) Verify(key, token string) bool {
	if key == "" || token == "" {
		return false
	}
	return hmac.Equal([]byte(m.Token(key)), []byte(token))
}

// KeyFromRequest returns the session key carried by r, if it is well formed.
func (m *Manager) KeyFromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || !ValidKey(c.Value) {
		return "", false
	}
	return c.Value, true
}

// Issue returns the request's session key, minting a new one when absent,
// and writes both cookies.
func (m *Manager) Issue(w http.ResponseWriter, r *http.Request) string {
	key, ok := m.KeyFromRequest(r)
	if !ok {
		key = m.NewKey()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    key,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     ContinuityCookie,
		Value:    m.Token(key),
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: false,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return key
}
