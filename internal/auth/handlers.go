package auth

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	"github.com/BradyMeighan/WhoopGPT/internal/models"
	"github.com/BradyMeighan/WhoopGPT/internal/session"
)

// Exchanger performs the upstream OAuth grants.
type Exchanger interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*models.Credential, error)
	Refresh(ctx context.Context, refreshToken string) (*models.Credential, error)
}

// Sessions loads and persists caller sessions.
type Sessions interface {
	Save(w http.ResponseWriter, s *session.Session) error
	Destroy(w http.ResponseWriter, s *session.Session) error
}

// callbackPage is shown after a successful handshake. The handle lets
// clients that drop cookies keep using the credential.
var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>WhoopGPT</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; max-width: 560px; margin: 4rem auto; padding: 0 1rem; color: #1a1a1a; }
  code { background: #f3f3f3; border-radius: 4px; padding: 0.2rem 0.4rem; word-break: break-all; }
  pre { background: #fef2f2; border: 1px solid #fecaca; border-radius: 6px; padding: 0.75rem; white-space: pre-wrap; }
</style>
</head>
<body>
{{if .Error}}
<h1>Could not connect to WHOOP</h1>
<p>{{.Error}}</p>
{{if .Detail}}<pre>{{.Detail}}</pre>{{end}}
<p><a href="/auth">Try again</a></p>
{{else}}
<h1>Successfully connected to WHOOP!</h1>
<p>You can now close this window and return to the GPT to access your WHOOP data.</p>
{{if .Handle}}<p>If the GPT asks for a token ID, give it: <code>{{.Handle}}</code></p>
<p>This ID stays valid for 7 days.</p>{{end}}
{{end}}
</body>
</html>
`))

type callbackData struct {
	Handle string
	Error  string
	Detail string
}

func renderCallback(w http.ResponseWriter, status int, data callbackData, logger *slog.Logger) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if err := callbackPage.Execute(w, data); err != nil {
		logger.Error("rendering callback page", slog.String("error", err.Error()))
	}
}

// HandleAuth returns the /auth handler. It issues a state token and
// redirects to the WHOOP authorization page.
func HandleAuth(states *StateRegistry, oauth Exchanger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		state, err := states.Issue()
		if err != nil {
			logger.Error("issuing state", slog.String("error", err.Error()))
			http.Error(w, "could not start authorization", http.StatusInternalServerError)

			return
		}

		logger.Debug("authorization started", slog.String("ip", remoteIP(r)))
		http.Redirect(w, r, oauth.AuthorizeURL(state), http.StatusFound)
	}
}

// HandleCallback returns the /callback handler. It validates state,
// exchanges the code and stores the credential both in the session and
// under a new handle.
func HandleCallback(states *StateRegistry, oauth Exchanger, creds *CredentialStore, sessions Sessions, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()

		state := q.Get("state")
		if !states.Consume(state) {
			err := &apperrors.CSRFValidationError{State: state}
			logger.Warn("callback rejected",
				slog.String("ip", remoteIP(r)),
				slog.String("error", err.Error()),
			)
			http.Error(w, "State validation failed. Please try the authorization flow again by visiting /auth", http.StatusForbidden)

			return
		}

		if denied := q.Get("error"); denied != "" {
			logger.Info("authorization denied upstream", slog.String("error", denied))
			renderCallback(w, http.StatusBadRequest, callbackData{
				Error:  "Authorization was not granted.",
				Detail: q.Get("error_description"),
			}, logger)

			return
		}

		code := q.Get("code")
		if code == "" {
			http.Error(w, "Authorization code is missing", http.StatusBadRequest)
			return
		}

		cred, err := oauth.Exchange(r.Context(), code)
		if err != nil {
			logger.Error("code exchange failed", slog.String("error", err.Error()))

			data := callbackData{Error: "Error obtaining access token."}

			var ae *apperrors.UpstreamAuthError
			if errors.As(err, &ae) {
				data.Detail = ae.Body
			}

			renderCallback(w, http.StatusInternalServerError, data, logger)

			return
		}

		sess := session.FromContext(r.Context())
		if sess == nil {
			sess = session.New()
		}

		if err := creds.PutSession(sess, cred); err != nil {
			logger.Error("storing session credential", slog.String("error", err.Error()))
		} else if err := sessions.Save(w, sess); err != nil {
			// The handle still works without the session.
			logger.Warn("saving session", slog.String("error", err.Error()))
		}

		handle, err := creds.PutHandle(cred)
		if err != nil {
			logger.Error("storing handle credential", slog.String("error", err.Error()))
		}

		logger.Info("whoop account connected", slog.Bool("handle_issued", handle != ""))
		renderCallback(w, http.StatusOK, callbackData{Handle: handle}, logger)
	}
}

type refreshResponse struct {
	Success   bool   `json:"success"`
	TokenID   string `json:"token_id,omitempty"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
}

// HandleRefresh returns the /refresh handler. It must sit behind Gate.
// The refreshed credential replaces the one it was resolved from.
func HandleRefresh(oauth Exchanger, creds *CredentialStore, sessions Sessions, authURL string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ctx := r.Context()

		cred := RequestCredential(ctx)
		if cred == nil {
			WriteChallenge(w, "not authenticated", authURL)
			return
		}

		if cred.RefreshToken == "" {
			writeJSONError(w, http.StatusBadRequest, "no refresh token available")
			return
		}

		refreshed, err := oauth.Refresh(ctx, cred.RefreshToken)
		if err != nil {
			logger.Warn("token refresh failed", slog.String("error", err.Error()))

			var ae *apperrors.UpstreamAuthError
			if errors.As(err, &ae) && (ae.Status == http.StatusUnauthorized || ae.Status == http.StatusBadRequest) {
				WriteChallenge(w, "authentication error", authURL)
				return
			}

			writeJSONError(w, http.StatusBadGateway, "failed to refresh token")

			return
		}

		if refreshed.RefreshToken == "" {
			refreshed.RefreshToken = cred.RefreshToken
		}

		resp := refreshResponse{Success: true, ExpiresIn: refreshed.ExpiresIn}

		switch RequestSource(ctx) {
		case SourceHandle:
			handle := RequestHandle(ctx)
			if err := creds.ReplaceHandle(handle, refreshed); err != nil {
				logger.Error("storing refreshed handle", slog.String("error", err.Error()))
				writeJSONError(w, http.StatusInternalServerError, "failed to store refreshed token")

				return
			}

			resp.TokenID = handle
		default:
			sess := session.FromContext(ctx)
			if sess == nil {
				writeJSONError(w, http.StatusInternalServerError, "no session")
				return
			}

			if err := creds.PutSession(sess, refreshed); err != nil {
				logger.Error("storing refreshed session credential", slog.String("error", err.Error()))
				writeJSONError(w, http.StatusInternalServerError, "failed to store refreshed token")

				return
			}

			if err := sessions.Save(w, sess); err != nil {
				logger.Error("saving session", slog.String("error", err.Error()))
				writeJSONError(w, http.StatusInternalServerError, "failed to store refreshed token")

				return
			}
		}

		logger.Info("token refreshed", slog.String("source", RequestSource(ctx).String()))
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleLogout returns the /logout handler. It destroys the session and
// forgets the handle named by token_id, if any.
func HandleLogout(creds *CredentialStore, sessions Sessions, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if handle := r.URL.Query().Get(HandleParam); handle != "" {
			if err := creds.DeleteHandle(handle); err != nil {
				logger.Warn("deleting handle", slog.String("error", err.Error()))
			}
		}

		if sess := session.FromContext(r.Context()); sess != nil && !sess.IsNew() {
			if err := sessions.Destroy(w, sess); err != nil {
				logger.Error("destroying session", slog.String("error", err.Error()))
				http.Error(w, "Error logging out", http.StatusInternalServerError)

				return
			}
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Logged out successfully"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
