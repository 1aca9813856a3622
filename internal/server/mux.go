// Package server assembles the WhoopGPT HTTP surface.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BradyMeighan/WhoopGPT/internal/api"
	"github.com/BradyMeighan/WhoopGPT/internal/auth"
	"github.com/BradyMeighan/WhoopGPT/internal/logging"
	"github.com/BradyMeighan/WhoopGPT/internal/session"
)

// MuxConfig holds dependencies for building the HTTP handler.
type MuxConfig struct {
	States   *auth.StateRegistry
	OAuth    auth.Exchanger
	Creds    *auth.CredentialStore
	Sessions *session.Manager
	Reader   api.Reader

	// MCPHandler is mounted at /mcp behind the gate. Nil leaves /mcp
	// unrouted.
	MCPHandler http.Handler

	Logger  *slog.Logger
	BaseURL string
	Version string
}

// NewMux builds the full handler: health, the OAuth handshake, the gated
// /api reads, refresh, logout, the OpenAPI document and, when configured,
// MCP. Every request passes through request logging, panic recovery, CORS
// and session loading.
func NewMux(cfg MuxConfig) (http.Handler, error) {
	authURL := cfg.BaseURL + "/auth"
	gate := auth.Gate(cfg.Creds, authURL, cfg.Logger)

	openapi, err := HandleOpenAPI(cfg.BaseURL, cfg.Version, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("building openapi handler: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", handleRoot)
	mux.HandleFunc("/healthz", handleHealth(cfg.Version))
	mux.HandleFunc("/auth", auth.HandleAuth(cfg.States, cfg.OAuth, cfg.Logger))
	mux.HandleFunc("/callback", auth.HandleCallback(cfg.States, cfg.OAuth, cfg.Creds, cfg.Sessions, cfg.Logger))
	mux.Handle("/refresh", gate(auth.HandleRefresh(cfg.OAuth, cfg.Creds, cfg.Sessions, authURL, cfg.Logger)))
	mux.HandleFunc("/logout", auth.HandleLogout(cfg.Creds, cfg.Sessions, cfg.Logger))
	mux.HandleFunc("/openapi.yaml", openapi)

	api.New(cfg.Reader, authURL, cfg.Logger).Routes(mux, gate)

	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", gate(cfg.MCPHandler))
	}

	var h http.Handler = mux
	h = cfg.Sessions.Middleware(h)
	h = corsMiddleware(h)
	h = recoverMiddleware(cfg.Logger)(h)
	h = logging.Middleware(cfg.Logger)(h)

	return h, nil
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("WHOOP GPT Backend is running!"))
}

func handleHealth(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version})
	}
}
