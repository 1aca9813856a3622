package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/BradyMeighan/WhoopGPT/internal/models"
	"github.com/BradyMeighan/WhoopGPT/internal/session"
)

// HandleParam is the query parameter carrying a credential handle.
const HandleParam = "token_id"

type contextKey int

const (
	ctxCredential contextKey = iota
	ctxSource
	ctxHandle
)

// RequestCredential returns the credential resolved by Gate, or nil.
func RequestCredential(ctx context.Context) *models.Credential {
	v, _ := ctx.Value(ctxCredential).(*models.Credential)
	return v
}

// RequestSource returns where the request's credential came from.
func RequestSource(ctx context.Context) Source {
	v, _ := ctx.Value(ctxSource).(Source)
	return v
}

// RequestHandle returns the handle the credential resolved from, or "".
func RequestHandle(ctx context.Context) string {
	v, _ := ctx.Value(ctxHandle).(string)
	return v
}

// WithCredential returns ctx carrying a resolved credential. Used by Gate
// and by tests of gated handlers.
func WithCredential(ctx context.Context, cred *models.Credential, src Source, handle string) context.Context {
	ctx = context.WithValue(ctx, ctxCredential, cred)
	ctx = context.WithValue(ctx, ctxSource, src)
	ctx = context.WithValue(ctx, ctxHandle, handle)

	return ctx
}

// Challenge is the body of a 401 re-authorization response.
type Challenge struct {
	Error        string `json:"error"`
	AuthRequired bool   `json:"auth_required"`
	AuthURL      string `json:"auth_url"`
}

// WriteChallenge writes a 401 JSON challenge pointing at authURL.
func WriteChallenge(w http.ResponseWriter, message, authURL string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(Challenge{
		Error:        message,
		AuthRequired: true,
		AuthURL:      authURL,
	})
}

// Gate returns middleware that resolves the caller's credential from the
// token_id query parameter, then the session in the request context.
// Unresolved requests get a 401 challenge and never reach next.
func Gate(creds *CredentialStore, authURL string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle := r.URL.Query().Get(HandleParam)

			cred, src, err := creds.Resolve(handle, session.FromContext(r.Context()))
			if err != nil {
				logger.Debug("gate: no credential",
					slog.String("ip", remoteIP(r)),
					slog.String("path", r.URL.Path),
					slog.Bool("handle_presented", handle != ""),
				)
				WriteChallenge(w, "not authenticated", authURL)

				return
			}

			logger.Debug("gate: credential resolved",
				slog.String("source", src.String()),
				slog.String("path", r.URL.Path),
			)

			if src != SourceHandle {
				handle = ""
			}

			next.ServeHTTP(w, r.WithContext(WithCredential(r.Context(), cred, src, handle)))
		})
	}
}

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
