package whoop

import (
	"math"
	"time"

	"github.com/tidwall/gjson"
)

// Recovery is a flattened recovery record. Numeric fields are nil when the
// upstream omits them.
type Recovery struct {
	Date          string   `json:"date"`
	RecoveryScore *float64 `json:"recovery_score"`
	HRV           *float64 `json:"hrv"`
	RHR           *float64 `json:"rhr"`
	SleepQuality  *float64 `json:"sleep_quality"`
	UserStatus    string   `json:"user_status"`
}

// Sleep is a flattened sleep record. Disturbances is zero when absent.
type Sleep struct {
	Date                 string   `json:"date"`
	Score                *float64 `json:"score"`
	TotalDurationMinutes *int     `json:"total_duration_minutes"`
	Efficiency           *float64 `json:"efficiency"`
	Disturbances         int      `json:"disturbances"`
	DeepSleepMinutes     *int     `json:"deep_sleep_minutes"`
	RemSleepMinutes      *int     `json:"rem_sleep_minutes"`
	LightSleepMinutes    *int     `json:"light_sleep_minutes"`
}

// Workout is a flattened workout record.
type Workout struct {
	Date             string   `json:"date"`
	SportID          *int     `json:"sport_id"`
	DurationMinutes  *int     `json:"duration_minutes"`
	Strain           *float64 `json:"strain"`
	AverageHeartRate *float64 `json:"average_heart_rate"`
	MaxHeartRate     *float64 `json:"max_heart_rate"`
	Kilojoule        *float64 `json:"kilojoule"`
	DistanceMeter    *float64 `json:"distance_meter"`
}

// Profile is the basic user profile.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// BodyMeasurement is the user's body measurement record.
type BodyMeasurement struct {
	HeightMeter    *float64 `json:"height_meter"`
	WeightKilogram *float64 `json:"weight_kilogram"`
	MaxHeartRate   *int     `json:"max_heart_rate"`
}

// NormalizeRecovery flattens a recovery record.
func NormalizeRecovery(rec gjson.Result) Recovery {
	score := rec.Get("score")

	status := "Normal"
	if score.Get("user_calibrating").Bool() {
		status = "Calibrating"
	}

	return Recovery{
		Date:          rec.Get("created_at").String(),
		RecoveryScore: number(score.Get("recovery_score")),
		HRV:           number(score.Get("hrv_rmssd_milli")),
		RHR:           number(score.Get("resting_heart_rate")),
		SleepQuality:  number(score.Get("sleep_performance_percentage")),
		UserStatus:    status,
	}
}

// NormalizeSleep flattens a sleep record. Stage durations are converted
// from seconds to whole minutes, rounding down.
func NormalizeSleep(rec gjson.Result) Sleep {
	score := rec.Get("score")
	stages := score.Get("stage_summary")

	s := Sleep{
		Date:                 rec.Get("start").String(),
		Score:                number(score.Get("sleep_performance_percentage")),
		TotalDurationMinutes: spanMinutes(rec.Get("start").String(), rec.Get("end").String()),
		Efficiency:           number(score.Get("sleep_efficiency_percentage")),
		DeepSleepMinutes:     minutes(stages.Get("deep_sleep_duration_seconds")),
		RemSleepMinutes:      minutes(stages.Get("rem_sleep_duration_seconds")),
		LightSleepMinutes:    minutes(stages.Get("light_sleep_duration_seconds")),
	}

	if d := number(score.Get("disturbances_count")); d != nil {
		s.Disturbances = int(*d)
	}

	return s
}

// NormalizeWorkout flattens a workout record.
func NormalizeWorkout(rec gjson.Result) Workout {
	score := rec.Get("score")

	return Workout{
		Date:             rec.Get("start").String(),
		SportID:          integer(rec.Get("sport_id")),
		DurationMinutes:  spanMinutes(rec.Get("start").String(), rec.Get("end").String()),
		Strain:           number(score.Get("strain")),
		AverageHeartRate: number(score.Get("average_heart_rate")),
		MaxHeartRate:     number(score.Get("max_heart_rate")),
		Kilojoule:        number(score.Get("kilojoule")),
		DistanceMeter:    number(score.Get("distance_meter")),
	}
}

// NormalizeProfile extracts the basic profile fields.
func NormalizeProfile(doc gjson.Result) Profile {
	return Profile{
		FirstName: doc.Get("first_name").String(),
		LastName:  doc.Get("last_name").String(),
		Email:     doc.Get("email").String(),
	}
}

// NormalizeBodyMeasurement extracts the body measurement fields.
func NormalizeBodyMeasurement(doc gjson.Result) BodyMeasurement {
	return BodyMeasurement{
		HeightMeter:    number(doc.Get("height_meter")),
		WeightKilogram: number(doc.Get("weight_kilogram")),
		MaxHeartRate:   integer(doc.Get("max_heart_rate")),
	}
}

// ParseDate parses a record date. Invalid dates report false.
func ParseDate(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

// number returns the field's value, or nil unless it is a JSON number.
func number(r gjson.Result) *float64 {
	if r.Type != gjson.Number {
		return nil
	}

	v := r.Float()

	return &v
}

func integer(r gjson.Result) *int {
	if r.Type != gjson.Number {
		return nil
	}

	v := int(r.Int())

	return &v
}

// minutes converts a seconds field to whole minutes, rounding down.
func minutes(r gjson.Result) *int {
	secs := number(r)
	if secs == nil {
		return nil
	}

	v := int(math.Floor(*secs / 60))

	return &v
}

// spanMinutes is the whole minutes between two timestamps, or nil if
// either is missing or unparseable.
func spanMinutes(start, end string) *int {
	from, ok := ParseDate(start)
	if !ok {
		return nil
	}

	to, ok := ParseDate(end)
	if !ok {
		return nil
	}

	v := int(math.Floor(to.Sub(from).Minutes()))

	return &v
}
