package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BradyMeighan/WhoopGPT/internal/aggregate"
	"github.com/BradyMeighan/WhoopGPT/internal/auth"
	"gopkg.in/yaml.v3"
)

// The OpenAPI document describes the /api surface for GPT actions. It is
// built once from these types and served as YAML.

type openAPIDoc struct {
	OpenAPI    string              `yaml:"openapi"`
	Info       openAPIInfo         `yaml:"info"`
	Servers    []openAPIServer     `yaml:"servers"`
	Paths      map[string]pathItem `yaml:"paths"`
	Components components          `yaml:"components"`
}

type openAPIInfo struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

type openAPIServer struct {
	URL string `yaml:"url"`
}

type pathItem struct {
	Get  *operation `yaml:"get,omitempty"`
	Post *operation `yaml:"post,omitempty"`
}

type operation struct {
	OperationID string              `yaml:"operationId"`
	Summary     string              `yaml:"summary"`
	Parameters  []parameter         `yaml:"parameters,omitempty"`
	Responses   map[string]response `yaml:"responses"`
}

type parameter struct {
	Name        string `yaml:"name"`
	In          string `yaml:"in"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Schema      schema `yaml:"schema"`
}

type response struct {
	Description string               `yaml:"description"`
	Content     map[string]mediaType `yaml:"content,omitempty"`
}

type mediaType struct {
	Schema schema `yaml:"schema"`
}

type components struct {
	Schemas map[string]schema `yaml:"schemas"`
}

type schema struct {
	Ref                  string            `yaml:"$ref,omitempty"`
	Type                 string            `yaml:"type,omitempty"`
	Format               string            `yaml:"format,omitempty"`
	Nullable             bool              `yaml:"nullable,omitempty"`
	Description          string            `yaml:"description,omitempty"`
	Minimum              *int              `yaml:"minimum,omitempty"`
	Maximum              *int              `yaml:"maximum,omitempty"`
	Default              any               `yaml:"default,omitempty"`
	Properties           map[string]schema `yaml:"properties,omitempty"`
	Items                *schema           `yaml:"items,omitempty"`
	AdditionalProperties *schema           `yaml:"additionalProperties,omitempty"`
}

func ref(name string) schema { return schema{Ref: "#/components/schemas/" + name} }
func str() schema            { return schema{Type: "string"} }
func boolean() schema        { return schema{Type: "boolean"} }
func integer() schema        { return schema{Type: "integer"} }
func nullableNumber() schema { return schema{Type: "number", Nullable: true} }
func nullableInt() schema    { return schema{Type: "integer", Nullable: true} }

func object(props map[string]schema) schema {
	return schema{Type: "object", Properties: props}
}

func arrayOf(s schema) schema {
	return schema{Type: "array", Items: &s}
}

func mapOf(s schema) schema {
	return schema{Type: "object", AdditionalProperties: &s}
}

func jsonResponse(description string, s schema) response {
	return response{
		Description: description,
		Content:     map[string]mediaType{"application/json": {Schema: s}},
	}
}

// window carries the fields every history summary shares.
func window(props map[string]schema) schema {
	props["total_records"] = integer()
	props["days_requested"] = integer()
	props["pages_fetched"] = integer()
	props["possibly_incomplete"] = boolean()

	return object(props)
}

func buildOpenAPI(baseURL, version string) *openAPIDoc {
	minDays, maxDays := aggregate.MinDays, aggregate.MaxDays

	handleParam := parameter{
		Name:        auth.HandleParam,
		In:          "query",
		Description: "Credential handle shown after authorization. Optional when the session cookie is present.",
		Schema:      str(),
	}
	daysParam := parameter{
		Name:        "days",
		In:          "query",
		Description: "Number of days to look back.",
		Schema:      schema{Type: "integer", Minimum: &minDays, Maximum: &maxDays, Default: aggregate.DefaultDays},
	}

	errorResponses := func(ok response) map[string]response {
		return map[string]response{
			"200": ok,
			"401": jsonResponse("Not authenticated, or WHOOP rejected the credential", ref("Challenge")),
			"404": jsonResponse("No data in the window", ref("Error")),
			"502": jsonResponse("WHOOP request failed", ref("Error")),
		}
	}

	get := func(id, summary, schemaName string, params ...parameter) pathItem {
		return pathItem{Get: &operation{
			OperationID: id,
			Summary:     summary,
			Parameters:  append([]parameter{handleParam}, params...),
			Responses:   errorResponses(jsonResponse("OK", ref(schemaName))),
		}}
	}

	return &openAPIDoc{
		OpenAPI: "3.0.3",
		Info: openAPIInfo{
			Title:       "WhoopGPT API",
			Description: "Read WHOOP recovery, sleep, workout and profile data on behalf of an authorized member.",
			Version:     version,
		},
		Servers: []openAPIServer{{URL: baseURL}},
		Paths: map[string]pathItem{
			"/api/recovery":         get("getRecovery", "Latest recovery from the last 24 hours", "Recovery"),
			"/api/sleep":            get("getSleep", "Latest sleep from the last 24 hours", "Sleep"),
			"/api/workout":          get("getWorkout", "Latest workout from the last 24 hours", "Workout"),
			"/api/profile":          get("getProfile", "Basic member profile", "Profile"),
			"/api/body_measurement": get("getBodyMeasurement", "Height, weight and maximum heart rate", "BodyMeasurement"),
			"/api/recovery/history": get("getRecoveryHistory", "Recovery history with summary", "RecoveryHistory", daysParam),
			"/api/sleep/history":    get("getSleepHistory", "Sleep history with summary", "SleepHistory", daysParam),
			"/api/workout/history":  get("getWorkoutHistory", "Workout history with summary", "WorkoutHistory", daysParam),
			"/refresh": {Post: &operation{
				OperationID: "refreshToken",
				Summary:     "Refresh the WHOOP access token",
				Parameters:  []parameter{handleParam},
				Responses: map[string]response{
					"200": jsonResponse("Refreshed", ref("RefreshResult")),
					"400": jsonResponse("No refresh token available", ref("Error")),
					"401": jsonResponse("Re-authorization required", ref("Challenge")),
					"502": jsonResponse("WHOOP request failed", ref("Error")),
				},
			}},
		},
		Components: components{Schemas: map[string]schema{
			"Error": object(map[string]schema{"error": str()}),
			"Challenge": object(map[string]schema{
				"error":         str(),
				"auth_required": boolean(),
				"auth_url":      str(),
			}),
			"RefreshResult": object(map[string]schema{
				"success":    boolean(),
				"token_id":   str(),
				"expires_in": integer(),
			}),
			"Recovery": object(map[string]schema{
				"date":           str(),
				"recovery_score": nullableNumber(),
				"hrv":            nullableNumber(),
				"rhr":            nullableNumber(),
				"sleep_quality":  nullableNumber(),
				"user_status":    str(),
			}),
			"Sleep": object(map[string]schema{
				"date":                   str(),
				"score":                  nullableNumber(),
				"total_duration_minutes": nullableInt(),
				"efficiency":             nullableNumber(),
				"disturbances":           integer(),
				"deep_sleep_minutes":     nullableInt(),
				"rem_sleep_minutes":      nullableInt(),
				"light_sleep_minutes":    nullableInt(),
			}),
			"Workout": object(map[string]schema{
				"date":               str(),
				"sport_id":           nullableInt(),
				"duration_minutes":   nullableInt(),
				"strain":             nullableNumber(),
				"average_heart_rate": nullableNumber(),
				"max_heart_rate":     nullableNumber(),
				"kilojoule":          nullableNumber(),
				"distance_meter":     nullableNumber(),
			}),
			"Profile": object(map[string]schema{
				"first_name": str(),
				"last_name":  str(),
				"email":      str(),
			}),
			"BodyMeasurement": object(map[string]schema{
				"height_meter":    nullableNumber(),
				"weight_kilogram": nullableNumber(),
				"max_heart_rate":  nullableInt(),
			}),
			"RecoveryHistory": object(map[string]schema{
				"summary": window(map[string]schema{
					"avg_recovery_score":     nullableNumber(),
					"avg_hrv":                nullableNumber(),
					"avg_rhr":                nullableNumber(),
					"highest_recovery_score": nullableNumber(),
					"lowest_recovery_score":  nullableNumber(),
					"data_by_week": mapOf(object(map[string]schema{
						"avg_recovery_score": nullableNumber(),
						"avg_hrv":            nullableNumber(),
						"avg_rhr":            nullableNumber(),
					})),
				}),
				"records": arrayOf(ref("Recovery")),
			}),
			"SleepHistory": object(map[string]schema{
				"summary": window(map[string]schema{
					"avg_score":                  nullableNumber(),
					"avg_total_duration_minutes": nullableNumber(),
					"avg_efficiency":             nullableNumber(),
					"avg_disturbances":           nullableNumber(),
					"avg_deep_sleep_minutes":     nullableNumber(),
					"avg_rem_sleep_minutes":      nullableNumber(),
					"avg_light_sleep_minutes":    nullableNumber(),
					"data_by_week": mapOf(object(map[string]schema{
						"avg_score":                  nullableNumber(),
						"avg_total_duration_minutes": nullableNumber(),
						"avg_efficiency":             nullableNumber(),
					})),
				}),
				"records": arrayOf(ref("Sleep")),
			}),
			"WorkoutHistory": object(map[string]schema{
				"summary": window(map[string]schema{
					"avg_strain":             nullableNumber(),
					"avg_duration_minutes":   nullableNumber(),
					"avg_average_heart_rate": nullableNumber(),
					"avg_kilojoule":          nullableNumber(),
					"highest_strain":         nullableNumber(),
					"lowest_strain":          nullableNumber(),
					"data_by_week": mapOf(object(map[string]schema{
						"workouts":             integer(),
						"avg_strain":           nullableNumber(),
						"avg_duration_minutes": nullableNumber(),
					})),
				}),
				"records": arrayOf(ref("Workout")),
			}),
		}},
	}
}

// HandleOpenAPI returns the /openapi.yaml handler. The document is
// rendered once.
func HandleOpenAPI(baseURL, version string, logger *slog.Logger) (http.HandlerFunc, error) {
	data, err := yaml.Marshal(buildOpenAPI(baseURL, version))
	if err != nil {
		return nil, fmt.Errorf("rendering openapi document: %w", err)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/yaml")
		if _, err := w.Write(data); err != nil {
			logger.Debug("writing openapi document", slog.String("error", err.Error()))
		}
	}, nil
}
