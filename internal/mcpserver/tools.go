// Package mcpserver exposes the broker's WHOOP reads as MCP tools. Each
// MCP request gets a server bound to the credential the gate resolved for
// it, so tool handlers never see other callers' tokens.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BradyMeighan/WhoopGPT/internal/aggregate"
	"github.com/BradyMeighan/WhoopGPT/internal/auth"
	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	"github.com/BradyMeighan/WhoopGPT/internal/whoop"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Reader is the read side the tools call. *aggregate.Service implements it.
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

// Options configures the MCP endpoint.
type Options struct {
	Name    string
	Version string

	// AuthURL is reported when the upstream rejects the credential.
	AuthURL string
	Logger  *slog.Logger
}

// NewHandler returns the /mcp handler. It must sit behind auth.Gate;
// requests without a resolved credential are refused.
func NewHandler(reader Reader, opts Options) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		cred := auth.RequestCredential(r.Context())
		if cred == nil {
			return nil
		}

		server := mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, nil)
		RegisterTools(server, reader, cred.AccessToken, opts.AuthURL, opts.Logger)

		return server
	}, &mcp.StreamableHTTPOptions{Stateless: true})
}

// RegisterTools adds every WHOOP tool to server, reading with accessToken.
func RegisterTools(server *mcp.Server, reader Reader, accessToken, authURL string, logger *slog.Logger) {
	t := &tools{
		token:   accessToken,
		authURL: authURL,
		logger:  logger,
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoop_recovery",
		Description: "Latest WHOOP recovery from the last 24 hours: recovery score (0-100), HRV in milliseconds, resting heart rate, sleep performance and calibration status.",
	}, latest(t, "recovery", reader.LatestRecovery))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoop_sleep",
		Description: "Latest WHOOP sleep from the last 24 hours: performance score, total duration, efficiency, disturbances and minutes per sleep stage.",
	}, latest(t, "sleep", reader.LatestSleep))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoop_workout",
		Description: "Latest WHOOP workout from the last 24 hours: sport, duration, strain (0-21), heart rate, energy and distance.",
	}, latest(t, "workout", reader.LatestWorkout))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoop_profile",
		Description: "The WHOOP member's name and email.",
	}, latest(t, "profile", reader.Profile))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoop_body_measurement",
		Description: "The WHOOP member's height, weight and maximum heart rate.",
	}, latest(t, "body measurement", reader.BodyMeasurement))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoop_recovery_history",
		Description: "Recovery records over the last N days (1-180, default 30) with averages, highest and lowest score, and weekly breakdowns. possibly_incomplete is true when the window needed more pages than allowed.",
	}, history(t, "historical recovery", reader.RecoveryHistory))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoop_sleep_history",
		Description: "Sleep records over the last N days (1-180, default 30) with averages per metric and weekly breakdowns.",
	}, history(t, "historical sleep", reader.SleepHistory))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoop_workout_history",
		Description: "Workouts over the last N days (1-180, default 30) with average and extreme strain and weekly workout counts.",
	}, history(t, "historical workout", reader.WorkoutHistory))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// LatestInput has no parameters.
type LatestInput struct{}

// HistoryInput holds parameters for the history tools.
type HistoryInput struct {
	Days int `json:"days,omitempty" jsonschema:"number of days to look back, 1 to 180, defaults to 30"`
}

// --- Handlers ---

type tools struct {
	token   string
	authURL string
	logger  *slog.Logger
}

func latest[T any](t *tools, label string, read func(context.Context, string) (*T, error)) mcp.ToolHandlerFor[LatestInput, *T] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ LatestInput) (*mcp.CallToolResult, *T, error) {
		result, err := read(ctx, t.token)
		if err != nil {
			return nil, nil, t.toolError(label, err)
		}
		return textResult(result), result, nil
	}
}

func history[T any](t *tools, label string, read func(context.Context, string, int) (*T, error)) mcp.ToolHandlerFor[HistoryInput, *T] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input HistoryInput) (*mcp.CallToolResult, *T, error) {
		result, err := read(ctx, t.token, aggregate.Clamp(input.Days))
		if err != nil {
			return nil, nil, t.toolError(label, err)
		}
		return textResult(result), result, nil
	}
}

// toolError turns a read failure into the message the model sees. Upstream
// details are logged, never returned.
func (t *tools) toolError(label string, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return fmt.Errorf("no %s data found", label)
	case errors.Is(err, apperrors.ErrUpstreamUnauthorized):
		return fmt.Errorf("authentication error: the WHOOP authorization has expired, re-authorize at %s", t.authURL)
	default:
		t.logger.Error("mcp tool failed", slog.String("data", label), slog.String("error", err.Error()))
		return fmt.Errorf("failed to fetch %s data", label)
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
