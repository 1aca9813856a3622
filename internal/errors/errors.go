package errors

import (
	"errors"
	"fmt"
)

// Credential errors.
var (
	ErrNoCredential  = errors.New("no credential available")
	ErrCSRFInvalid   = errors.New("state validation failed")
	ErrNotFound      = errors.New("not found")
	ErrMissingConfig = errors.New("missing required configuration")
)

// Upstream/transport errors.
var (
	ErrUpstreamUnauthorized = errors.New("upstream rejected credential")
	ErrUpstreamTimeout      = errors.New("upstream request timed out")
)

// ConfigError reports a required configuration value that is absent.
type ConfigError struct {
	Var string
}

func (e *ConfigError) Error() string { return e.Var + " is required" }
func (e *ConfigError) Unwrap() error { return ErrMissingConfig }

// CSRFValidationError is returned when a callback carries a missing,
// unknown or expired state token.
type CSRFValidationError struct {
	State string
}

func (e *CSRFValidationError) Error() string {
	if e.State == "" {
		return "state validation failed: missing state"
	}
	return "state validation failed: unknown or expired state"
}

func (e *CSRFValidationError) Unwrap() error { return ErrCSRFInvalid }

// UpstreamAuthError is returned when the authorization server rejects a
// code or refresh grant.
type UpstreamAuthError struct {
	Status int
	Body   string
}

func (e *UpstreamAuthError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d: %s", e.Status, e.Body)
}

// Unwrap exposes ErrUpstreamUnauthorized for 401 responses so callers can
// treat them as a re-auth signal.
func (e *UpstreamAuthError) Unwrap() error {
	if e.Status == 401 {
		return ErrUpstreamUnauthorized
	}
	return nil
}

// NotAuthenticatedError is returned when no credential resolves for a
// request. AuthURL is where the caller should start the flow again.
type NotAuthenticatedError struct {
	AuthURL string
}

func (e *NotAuthenticatedError) Error() string { return "not authenticated" }
func (e *NotAuthenticatedError) Unwrap() error { return ErrNoCredential }

// UpstreamDataError wraps a failed data endpoint call. Status is zero for
// transport failures.
type UpstreamDataError struct {
	Resource string
	Status   int
	Err      error
}

func (e *UpstreamDataError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching %s: status %d: %v", e.Resource, e.Status, e.Err)
	}
	return fmt.Sprintf("fetching %s: %v", e.Resource, e.Err)
}

func (e *UpstreamDataError) Unwrap() error { return e.Err }

// DecryptionError is returned for a blob that cannot be opened. Callers
// treat it as "no credential".
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return "decrypting credential: " + e.Reason + ": " + e.Err.Error()
	}
	return "decrypting credential: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// IsDecryption reports whether err is a DecryptionError.
func IsDecryption(err error) bool {
	var de *DecryptionError
	return errors.As(err, &de)
}
