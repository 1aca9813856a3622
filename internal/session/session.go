// Package session implements cookie sessions backed by a server-side
// kv.Store. The browser holds only a signed session id; values live in the
// store and expire with the session.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	"github.com/BradyMeighan/WhoopGPT/internal/kv"
	"github.com/BradyMeighan/WhoopGPT/internal/secret"
)

const (
	// CookieName is the session cookie name.
	CookieName = "whoopgpt.session"

	// MaxAge is how long a saved session lives after its last save.
	MaxAge = 30 * 24 * time.Hour

	// idBytes is the random length of a session id.
	idBytes = 32
)

// Session is one caller's session. Values are only persisted by
// Manager.Save.
type Session struct {
	ID     string
	values map[string]string
	isNew  bool
}

// Get returns the value for key, or "".
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Set stores value under key.
func (s *Session) Set(key, value string) {
	s.values[key] = value
}

// Delete removes key.
func (s *Session) Delete(key string) {
	delete(s.values, key)
}

// IsNew reports whether the session was created for this request rather
// than loaded from the store.
func (s *Session) IsNew() bool {
	return s.isNew
}

// New returns an empty unsaved session with a fresh id.
func New() *Session {
	return &Session{
		ID:     secret.RandomHex(idBytes),
		values: make(map[string]string),
		isNew:  true,
	}
}

type contextKey struct{}

// NewContext returns ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored in ctx, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}

// Manager loads, saves and destroys sessions.
type Manager struct {
	store  kv.Store
	key    []byte
	secure bool
	logger *slog.Logger
}

// NewManager creates a session manager. key signs session cookies; secure
// sets the cookie Secure flag.
func NewManager(store kv.Store, key []byte, secure bool, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		key:    key,
		secure: secure,
		logger: logger,
	}
}

// Load returns the caller's session, or a new unsaved one when the cookie
// is missing, forged or points at an expired record.
func (m *Manager) Load(r *http.Request) *Session {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return New()
	}

	id, ok := m.verify(c.Value)
	if !ok {
		m.logger.Debug("session: invalid cookie signature", slog.String("path", r.URL.Path))
		return New()
	}

	raw, err := m.store.Get(id)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			m.logger.Warn("session: store read failed", slog.String("error", err.Error()))
		}

		return New()
	}

	values := make(map[string]string)
	if err := json.Unmarshal(raw, &values); err != nil {
		m.logger.Warn("session: corrupt record", slog.String("error", err.Error()))
		return New()
	}

	return &Session{ID: id, values: values}
}

// Save persists the session and (re)sets the cookie, restarting MaxAge.
func (m *Manager) Save(w http.ResponseWriter, s *Session) error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	expires := time.Now().Add(MaxAge)
	if err := m.store.Put(s.ID, data, expires); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	s.isNew = false

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    m.sign(s.ID),
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(MaxAge / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Destroy deletes the session record and expires the cookie.
func (m *Manager) Destroy(w http.ResponseWriter, s *Session) error {
	for k := range s.values {
		delete(s.values, k)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	if err := m.store.Delete(s.ID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	return nil
}

// Middleware loads the session into the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Load(r)
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
	})
}

func (m *Manager) sign(id string) string {
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(id))

	return id + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verify(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}

	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(id))

	if !hmac.Equal(got, mac.Sum(nil)) {
		return "", false
	}

	return id, true
}
