// Package auth brokers the WHOOP OAuth handshake and resolves which
// credential applies to a request. CSRF state and handle-bound credentials
// live in injected kv stores; session-bound credentials live in the
// caller's session.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	"github.com/BradyMeighan/WhoopGPT/internal/kv"
	"github.com/BradyMeighan/WhoopGPT/internal/models"
	"github.com/BradyMeighan/WhoopGPT/internal/secret"
	"github.com/BradyMeighan/WhoopGPT/internal/session"
)

const (
	// csrfExpiry controls how long a CSRF state token remains valid.
	csrfExpiry = 10 * time.Minute

	// CleanupInterval controls how often expired state, handles and
	// sessions are reaped.
	CleanupInterval = 15 * time.Minute

	// HandleTTL is the retention window of a handle-bound credential.
	HandleTTL = 7 * 24 * time.Hour

	// tokenBytes is the random length of state tokens and handles
	// (hex-encoded to twice this length).
	tokenBytes = 16

	// sessionTokenKey is the session value holding the sealed credential.
	sessionTokenKey = "whoop_token"
)

// StateRegistry issues and consumes single-use CSRF state tokens. It is
// not keyed by session: the callback may arrive on a different connection
// than the one that started the flow.
type StateRegistry struct {
	store kv.Store
}

// NewStateRegistry creates a registry over store.
func NewStateRegistry(store kv.Store) *StateRegistry {
	return &StateRegistry{store: store}
}

// Issue generates a state token valid for ten minutes.
func (r *StateRegistry) Issue() (string, error) {
	token := secret.RandomHex(tokenBytes)
	if err := r.store.Put(token, nil, time.Now().Add(csrfExpiry)); err != nil {
		return "", fmt.Errorf("saving state: %w", err)
	}

	return token, nil
}

// Consume deletes the token and reports whether it was present and
// unexpired. Returns false for an empty token.
func (r *StateRegistry) Consume(token string) bool {
	if token == "" {
		return false
	}

	_, err := r.store.Take(token)

	return err == nil
}

// Sealer seals and opens credential blobs.
type Sealer interface {
	Seal(v any) (string, error)
	Open(blob string, v any) error
}

// Source identifies where a resolved credential came from.
type Source int

const (
	SourceNone Source = iota
	SourceHandle
	SourceSession
)

func (s Source) String() string {
	switch s {
	case SourceHandle:
		return "handle"
	case SourceSession:
		return "session"
	default:
		return "none"
	}
}

// CredentialStore keeps sealed credentials under handles and in sessions.
// Cleartext credentials never leave this type.
type CredentialStore struct {
	handles kv.Store
	sealer  Sealer
	logger  *slog.Logger
}

// NewCredentialStore creates a credential store. handles holds sealed
// blobs keyed by handle.
func NewCredentialStore(handles kv.Store, sealer Sealer, logger *slog.Logger) *CredentialStore {
	return &CredentialStore{
		handles: handles,
		sealer:  sealer,
		logger:  logger,
	}
}

// PutHandle seals cred under a fresh handle retained for HandleTTL.
func (c *CredentialStore) PutHandle(cred *models.Credential) (string, error) {
	handle := secret.RandomHex(tokenBytes)
	if err := c.ReplaceHandle(handle, cred); err != nil {
		return "", err
	}

	return handle, nil
}

// ReplaceHandle seals cred under an existing handle and restarts its
// retention window.
func (c *CredentialStore) ReplaceHandle(handle string, cred *models.Credential) error {
	blob, err := c.sealer.Seal(cred)
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}

	if err := c.handles.Put(handle, []byte(blob), time.Now().Add(HandleTTL)); err != nil {
		return fmt.Errorf("storing handle: %w", err)
	}

	return nil
}

// GetByHandle returns the credential for handle. Absent or expired handles
// return ErrNoCredential; a corrupt blob returns a DecryptionError.
func (c *CredentialStore) GetByHandle(handle string) (*models.Credential, error) {
	if handle == "" {
		return nil, apperrors.ErrNoCredential
	}

	blob, err := c.handles.Get(handle)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNoCredential
		}

		return nil, fmt.Errorf("reading handle: %w", err)
	}

	return c.open(string(blob))
}

// DeleteHandle forgets handle.
func (c *CredentialStore) DeleteHandle(handle string) error {
	return c.handles.Delete(handle)
}

// PutSession seals cred into sess. The caller saves the session.
func (c *CredentialStore) PutSession(sess *session.Session, cred *models.Credential) error {
	blob, err := c.sealer.Seal(cred)
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}

	sess.Set(sessionTokenKey, blob)

	return nil
}

// GetSession returns the credential held in sess.
func (c *CredentialStore) GetSession(sess *session.Session) (*models.Credential, error) {
	if sess == nil {
		return nil, apperrors.ErrNoCredential
	}

	return c.open(sess.Get(sessionTokenKey))
}

// Resolve returns the credential for a request. A handle that resolves
// wins over the session; otherwise the session is tried. Corrupt blobs
// are logged and treated as absent.
func (c *CredentialStore) Resolve(handle string, sess *session.Session) (*models.Credential, Source, error) {
	if handle != "" {
		cred, err := c.GetByHandle(handle)
		if err == nil && cred.Valid() {
			return cred, SourceHandle, nil
		}

		c.logUnresolved("handle", err)
	}

	cred, err := c.GetSession(sess)
	if err == nil && cred.Valid() {
		return cred, SourceSession, nil
	}

	c.logUnresolved("session", err)

	return nil, SourceNone, apperrors.ErrNoCredential
}

func (c *CredentialStore) open(blob string) (*models.Credential, error) {
	var cred models.Credential
	if err := c.sealer.Open(blob, &cred); err != nil {
		return nil, err
	}

	return &cred, nil
}

func (c *CredentialStore) logUnresolved(source string, err error) {
	switch {
	case err == nil, errors.Is(err, apperrors.ErrNoCredential):
		return
	case apperrors.IsDecryption(err):
		c.logger.Warn("discarding unreadable credential",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
	default:
		c.logger.Error("credential lookup failed",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
	}
}
