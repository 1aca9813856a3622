// Package api serves the gated WHOOP read endpoints under /api.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradyMeighan/WhoopGPT/internal/aggregate"
	"github.com/BradyMeighan/WhoopGPT/internal/auth"
	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	"github.com/BradyMeighan/WhoopGPT/internal/whoop"
)

// Reader is the read side of the broker. *aggregate.Service implements it.
type Reader interface {
	LatestRecovery(ctx context.Context, accessToken string) (*whoop.Recovery, error)
	LatestSleep(ctx context.Context, accessToken string) (*whoop.Sleep, error)
	LatestWorkout(ctx context.Context, accessToken string) (*whoop.Workout, error)
	Profile(ctx context.Context, accessToken string) (*whoop.Profile, error)
	BodyMeasurement(ctx context.Context, accessToken string) (*whoop.BodyMeasurement, error)
	RecoveryHistory(ctx context.Context, accessToken string, days int) (*aggregate.RecoveryHistory, error)
	SleepHistory(ctx context.Context, accessToken string, days int) (*aggregate.SleepHistory, error)
	WorkoutHistory(ctx context.Context, accessToken string, days int) (*aggregate.WorkoutHistory, error)
}

var _ Reader = (*aggregate.Service)(nil)

// Handlers builds the /api handlers. Every handler expects auth.Gate to
// have resolved a credential.
type Handlers struct {
	reader  Reader
	authURL string
	logger  *slog.Logger
}

// New creates the /api handlers. authURL is returned in re-auth challenges.
func New(reader Reader, authURL string, logger *slog.Logger) *Handlers {
	return &Handlers{
		reader:  reader,
		authURL: authURL,
		logger:  logger,
	}
}

// Routes registers every handler on mux under /api.
func (h *Handlers) Routes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"/api/recovery":         h.Recovery(),
		"/api/sleep":            h.Sleep(),
		"/api/workout":          h.Workout(),
		"/api/profile":          h.Profile(),
		"/api/body_measurement": h.BodyMeasurement(),
		"/api/recovery/history": h.RecoveryHistory(),
		"/api/sleep/history":    h.SleepHistory(),
		"/api/workout/history":  h.WorkoutHistory(),
	}

	for pattern, handler := range routes {
		mux.Handle(pattern, wrap(handler))
	}
}

// Recovery serves the latest recovery.
func (h *Handlers) Recovery() http.HandlerFunc {
	return read(h, "recovery", func(ctx context.Context, token string, _ *http.Request) (*whoop.Recovery, error) {
		return h.reader.LatestRecovery(ctx, token)
	})
}

// Sleep serves the latest sleep.
func (h *Handlers) Sleep() http.HandlerFunc {
	return read(h, "sleep", func(ctx context.Context, token string, _ *http.Request) (*whoop.Sleep, error) {
		return h.reader.LatestSleep(ctx, token)
	})
}

// Workout serves the latest workout.
func (h *Handlers) Workout() http.HandlerFunc {
	return read(h, "workout", func(ctx context.Context, token string, _ *http.Request) (*whoop.Workout, error) {
		return h.reader.LatestWorkout(ctx, token)
	})
}

// Profile serves the basic profile.
func (h *Handlers) Profile() http.HandlerFunc {
	return read(h, "profile", func(ctx context.Context, token string, _ *http.Request) (*whoop.Profile, error) {
		return h.reader.Profile(ctx, token)
	})
}

// BodyMeasurement serves the body measurements.
func (h *Handlers) BodyMeasurement() http.HandlerFunc {
	return read(h, "body measurement", func(ctx context.Context, token string, _ *http.Request) (*whoop.BodyMeasurement, error) {
		return h.reader.BodyMeasurement(ctx, token)
	})
}

// RecoveryHistory serves a summarized recovery history for ?days.
func (h *Handlers) RecoveryHistory() http.HandlerFunc {
	return read(h, "historical recovery", func(ctx context.Context, token string, r *http.Request) (*aggregate.RecoveryHistory, error) {
		return h.reader.RecoveryHistory(ctx, token, days(r))
	})
}

// SleepHistory serves a summarized sleep history for ?days.
func (h *Handlers) SleepHistory() http.HandlerFunc {
	return read(h, "historical sleep", func(ctx context.Context, token string, r *http.Request) (*aggregate.SleepHistory, error) {
		return h.reader.SleepHistory(ctx, token, days(r))
	})
}

// WorkoutHistory serves a summarized workout history for ?days.
func (h *Handlers) WorkoutHistory() http.HandlerFunc {
	return read(h, "historical workout", func(ctx context.Context, token string, r *http.Request) (*aggregate.WorkoutHistory, error) {
		return h.reader.WorkoutHistory(ctx, token, days(r))
	})
}

func days(r *http.Request) int {
	return aggregate.ClampDays(r.URL.Query().Get("days"))
}

// read wraps fetch with the method check, credential lookup and error
// mapping shared by every endpoint. label names the data in messages.
func read[T any](h *Handlers, label string, fetch func(ctx context.Context, token string, r *http.Request) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		cred := auth.RequestCredential(r.Context())
		if cred == nil {
			auth.WriteChallenge(w, "not authenticated", h.authURL)
			return
		}

		out, err := fetch(r.Context(), cred.AccessToken, r)
		if err != nil {
			h.writeError(w, r, label, err)
			return
		}

		writeJSON(w, http.StatusOK, out)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, label string, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "no "+label+" data found")
	case errors.Is(err, apperrors.ErrUpstreamUnauthorized):
		h.logger.Info("upstream rejected credential",
			slog.String("path", r.URL.Path),
			slog.String("source", auth.RequestSource(r.Context()).String()),
		)
		auth.WriteChallenge(w, "authentication error", h.authURL)
	case errors.Is(err, context.Canceled):
		h.logger.Debug("request cancelled", slog.String("path", r.URL.Path))
	default:
		h.logger.Error("fetching "+label+" data",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSONError(w, http.StatusBadGateway, "failed to fetch "+label+" data")
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
