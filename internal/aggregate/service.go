package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	"github.com/BradyMeighan/WhoopGPT/internal/whoop"
	"github.com/tidwall/gjson"
)

// latestWindow is how far back the latest-record reads look.
const latestWindow = 24 * time.Hour

// Service answers the broker's read operations for one access token per
// call. It holds no per-user state.
type Service struct {
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a service reading through f.
func NewService(f Fetcher, logger *slog.Logger) *Service {
	return &Service{
		fetcher: f,
		logger:  logger,
		now:     time.Now,
	}
}

// --- Latest records ---

// LatestRecovery returns the most recent recovery of the last 24 hours,
// or ErrNotFound.
func (s *Service) LatestRecovery(ctx context.Context, accessToken string) (*whoop.Recovery, error) {
	rec, err := s.latest(ctx, accessToken, whoop.ResourceRecovery)
	if err != nil {
		return nil, err
	}

	r := whoop.NormalizeRecovery(rec)

	return &r, nil
}

// LatestSleep returns the most recent sleep of the last 24 hours, or
// ErrNotFound.
func (s *Service) LatestSleep(ctx context.Context, accessToken string) (*whoop.Sleep, error) {
	rec, err := s.latest(ctx, accessToken, whoop.ResourceSleep)
	if err != nil {
		return nil, err
	}

	r := whoop.NormalizeSleep(rec)

	return &r, nil
}

// LatestWorkout returns the most recent workout of the last 24 hours, or
// ErrNotFound.
func (s *Service) LatestWorkout(ctx context.Context, accessToken string) (*whoop.Workout, error) {
	rec, err := s.latest(ctx, accessToken, whoop.ResourceWorkout)
	if err != nil {
		return nil, err
	}

	r := whoop.NormalizeWorkout(rec)

	return &r, nil
}

func (s *Service) latest(ctx context.Context, accessToken, resource string) (gjson.Result, error) {
	page, err := s.fetcher.FetchPage(ctx, accessToken, resource, whoop.PageQuery{
		Limit: 1,
		Start: s.now().Add(-latestWindow),
	})
	if err != nil {
		return gjson.Result{}, err
	}

	if len(page.Records) == 0 {
		return gjson.Result{}, fmt.Errorf("latest %s: %w", resource, apperrors.ErrNotFound)
	}

	return page.Records[0], nil
}

// --- Singletons ---

// Profile returns the basic user profile.
func (s *Service) Profile(ctx context.Context, accessToken string) (*whoop.Profile, error) {
	doc, err := s.fetcher.FetchOne(ctx, accessToken, whoop.ResourceProfile)
	if err != nil {
		return nil, err
	}

	p := whoop.NormalizeProfile(doc)

	return &p, nil
}

// BodyMeasurement returns the user's body measurements.
func (s *Service) BodyMeasurement(ctx context.Context, accessToken string) (*whoop.BodyMeasurement, error) {
	doc, err := s.fetcher.FetchOne(ctx, accessToken, whoop.ResourceBodyMeasurement)
	if err != nil {
		return nil, err
	}

	b := whoop.NormalizeBodyMeasurement(doc)

	return &b, nil
}

// --- Histories ---

// Window describes a history read. Its fields lead every summary.
type Window struct {
	TotalRecords       int  `json:"total_records"`
	DaysRequested      int  `json:"days_requested"`
	PagesFetched       int  `json:"pages_fetched"`
	PossiblyIncomplete bool `json:"possibly_incomplete"`
}

// collect reads the window of days for resource.
func (s *Service) collect(ctx context.Context, accessToken, resource string, days int) (*Collected, error) {
	start := s.now().AddDate(0, 0, -days)
	budget := PageBudget(days)

	got, err := Collect(ctx, s.fetcher, accessToken, resource, start, budget)
	if err != nil {
		return nil, err
	}

	attrs := []any{
		slog.String("resource", resource),
		slog.Int("days", days),
		slog.Int("pages", got.PagesFetched),
		slog.Int("records", len(got.Records)),
	}
	if got.Truncated {
		s.logger.Warn("history truncated at page budget", attrs...)
	} else {
		s.logger.Debug("history collected", attrs...)
	}

	return got, nil
}

func window(got *Collected, days int) Window {
	return Window{
		TotalRecords:       len(got.Records),
		DaysRequested:      days,
		PagesFetched:       got.PagesFetched,
		PossiblyIncomplete: got.Truncated,
	}
}

// RecoveryWeek is the per-week recovery summary.
type RecoveryWeek struct {
	AvgRecoveryScore *float64 `json:"avg_recovery_score"`
	AvgHRV           *float64 `json:"avg_hrv"`
	AvgRHR           *float64 `json:"avg_rhr"`
}

// RecoverySummary summarizes a recovery history.
type RecoverySummary struct {
	TotalRecords       int  `json:"total_records"`
	DaysRequested      int  `json:"days_requested"`
	PagesFetched       int  `json:"pages_fetched"`
	PossiblyIncomplete bool `json:"possibly_incomplete"`

	AvgRecoveryScore     *float64                `json:"avg_recovery_score"`
	AvgHRV               *float64                `json:"avg_hrv"`
	AvgRHR               *float64                `json:"avg_rhr"`
	HighestRecoveryScore *float64                `json:"highest_recovery_score"`
	LowestRecoveryScore  *float64                `json:"lowest_recovery_score"`
	DataByWeek           map[string]RecoveryWeek `json:"data_by_week"`
}

// RecoveryHistory is a recovery history response.
type RecoveryHistory struct {
	Summary RecoverySummary  `json:"summary"`
	Records []whoop.Recovery `json:"records"`
}

type recoveryAcc struct {
	score, hrv, rhr mean
}

func (a *recoveryAcc) add(r whoop.Recovery) {
	a.score.add(r.RecoveryScore)
	a.hrv.add(r.HRV)
	a.rhr.add(r.RHR)
}

// RecoveryHistory reads and summarizes days of recoveries.
func (s *Service) RecoveryHistory(ctx context.Context, accessToken string, days int) (*RecoveryHistory, error) {
	got, err := s.collect(ctx, accessToken, whoop.ResourceRecovery, days)
	if err != nil {
		return nil, err
	}

	records := make([]whoop.Recovery, 0, len(got.Records))
	for _, rec := range got.Records {
		records = append(records, whoop.NormalizeRecovery(rec))
	}

	return &RecoveryHistory{
		Summary: SummarizeRecovery(records, window(got, days)),
		Records: records,
	}, nil
}

// SummarizeRecovery computes null-safe averages, the score extent and
// weekly buckets. Recovery score and RHR are whole numbers; HRV has two
// decimals.
func SummarizeRecovery(records []whoop.Recovery, w Window) RecoverySummary {
	var all recoveryAcc

	scores := newExtent(0, 100)
	weeks := newBuckets(func() *recoveryAcc { return &recoveryAcc{} })

	for _, r := range records {
		all.add(r)
		scores.add(r.RecoveryScore)

		if wk := weeks.at(r.Date); wk != nil {
			wk.add(r)
		}
	}

	return RecoverySummary{
		TotalRecords:       w.TotalRecords,
		DaysRequested:      w.DaysRequested,
		PagesFetched:       w.PagesFetched,
		PossiblyIncomplete: w.PossiblyIncomplete,

		AvgRecoveryScore:     all.score.whole(),
		AvgHRV:               all.hrv.hundredths(),
		AvgRHR:               all.rhr.whole(),
		HighestRecoveryScore: scores.highest(),
		LowestRecoveryScore:  scores.lowest(),
		DataByWeek: finish(weeks, func(a *recoveryAcc) RecoveryWeek {
			return RecoveryWeek{
				AvgRecoveryScore: a.score.whole(),
				AvgHRV:           a.hrv.hundredths(),
				AvgRHR:           a.rhr.whole(),
			}
		}),
	}
}

// SleepWeek is the per-week sleep summary.
type SleepWeek struct {
	AvgScore                *float64 `json:"avg_score"`
	AvgTotalDurationMinutes *float64 `json:"avg_total_duration_minutes"`
	AvgEfficiency           *float64 `json:"avg_efficiency"`
}

// SleepSummary summarizes a sleep history.
type SleepSummary struct {
	TotalRecords       int  `json:"total_records"`
	DaysRequested      int  `json:"days_requested"`
	PagesFetched       int  `json:"pages_fetched"`
	PossiblyIncomplete bool `json:"possibly_incomplete"`

	AvgScore                *float64             `json:"avg_score"`
	AvgTotalDurationMinutes *float64             `json:"avg_total_duration_minutes"`
	AvgEfficiency           *float64             `json:"avg_efficiency"`
	AvgDisturbances         *float64             `json:"avg_disturbances"`
	AvgDeepSleepMinutes     *float64             `json:"avg_deep_sleep_minutes"`
	AvgRemSleepMinutes      *float64             `json:"avg_rem_sleep_minutes"`
	AvgLightSleepMinutes    *float64             `json:"avg_light_sleep_minutes"`
	DataByWeek              map[string]SleepWeek `json:"data_by_week"`
}

// SleepHistory is a sleep history response.
type SleepHistory struct {
	Summary SleepSummary  `json:"summary"`
	Records []whoop.Sleep `json:"records"`
}

type sleepAcc struct {
	score, duration, efficiency mean
}

func (a *sleepAcc) add(r whoop.Sleep) {
	a.score.add(r.Score)
	a.duration.addInt(r.TotalDurationMinutes)
	a.efficiency.add(r.Efficiency)
}

// SleepHistory reads and summarizes days of sleeps.
func (s *Service) SleepHistory(ctx context.Context, accessToken string, days int) (*SleepHistory, error) {
	got, err := s.collect(ctx, accessToken, whoop.ResourceSleep, days)
	if err != nil {
		return nil, err
	}

	records := make([]whoop.Sleep, 0, len(got.Records))
	for _, rec := range got.Records {
		records = append(records, whoop.NormalizeSleep(rec))
	}

	return &SleepHistory{
		Summary: SummarizeSleep(records, window(got, days)),
		Records: records,
	}, nil
}

// SummarizeSleep computes null-safe averages and weekly buckets, all to
// two decimals.
func SummarizeSleep(records []whoop.Sleep, w Window) SleepSummary {
	var (
		all              sleepAcc
		disturbances     mean
		deep, rem, light mean
	)

	weeks := newBuckets(func() *sleepAcc { return &sleepAcc{} })

	for _, r := range records {
		all.add(r)

		d := r.Disturbances
		disturbances.addInt(&d)
		deep.addInt(r.DeepSleepMinutes)
		rem.addInt(r.RemSleepMinutes)
		light.addInt(r.LightSleepMinutes)

		if wk := weeks.at(r.Date); wk != nil {
			wk.add(r)
		}
	}

	return SleepSummary{
		TotalRecords:       w.TotalRecords,
		DaysRequested:      w.DaysRequested,
		PagesFetched:       w.PagesFetched,
		PossiblyIncomplete: w.PossiblyIncomplete,

		AvgScore:                all.score.hundredths(),
		AvgTotalDurationMinutes: all.duration.hundredths(),
		AvgEfficiency:           all.efficiency.hundredths(),
		AvgDisturbances:         disturbances.hundredths(),
		AvgDeepSleepMinutes:     deep.hundredths(),
		AvgRemSleepMinutes:      rem.hundredths(),
		AvgLightSleepMinutes:    light.hundredths(),
		DataByWeek: finish(weeks, func(a *sleepAcc) SleepWeek {
			return SleepWeek{
				AvgScore:                a.score.hundredths(),
				AvgTotalDurationMinutes: a.duration.hundredths(),
				AvgEfficiency:           a.efficiency.hundredths(),
			}
		}),
	}
}

// WorkoutWeek is the per-week workout summary.
type WorkoutWeek struct {
	Workouts           int      `json:"workouts"`
	AvgStrain          *float64 `json:"avg_strain"`
	AvgDurationMinutes *float64 `json:"avg_duration_minutes"`
}

// WorkoutSummary summarizes a workout history.
type WorkoutSummary struct {
	TotalRecords       int  `json:"total_records"`
	DaysRequested      int  `json:"days_requested"`
	PagesFetched       int  `json:"pages_fetched"`
	PossiblyIncomplete bool `json:"possibly_incomplete"`

	AvgStrain           *float64               `json:"avg_strain"`
	AvgDurationMinutes  *float64               `json:"avg_duration_minutes"`
	AvgAverageHeartRate *float64               `json:"avg_average_heart_rate"`
	AvgKilojoule        *float64               `json:"avg_kilojoule"`
	HighestStrain       *float64               `json:"highest_strain"`
	LowestStrain        *float64               `json:"lowest_strain"`
	DataByWeek          map[string]WorkoutWeek `json:"data_by_week"`
}

// WorkoutHistory is a workout history response.
type WorkoutHistory struct {
	Summary WorkoutSummary  `json:"summary"`
	Records []whoop.Workout `json:"records"`
}

type workoutAcc struct {
	count            int
	strain, duration mean
}

func (a *workoutAcc) add(r whoop.Workout) {
	a.count++
	a.strain.add(r.Strain)
	a.duration.addInt(r.DurationMinutes)
}

// WorkoutHistory reads and summarizes days of workouts.
func (s *Service) WorkoutHistory(ctx context.Context, accessToken string, days int) (*WorkoutHistory, error) {
	got, err := s.collect(ctx, accessToken, whoop.ResourceWorkout, days)
	if err != nil {
		return nil, err
	}

	records := make([]whoop.Workout, 0, len(got.Records))
	for _, rec := range got.Records {
		records = append(records, whoop.NormalizeWorkout(rec))
	}

	return &WorkoutHistory{
		Summary: SummarizeWorkouts(records, window(got, days)),
		Records: records,
	}, nil
}

// SummarizeWorkouts computes null-safe averages, the strain extent and
// weekly buckets, all to two decimals. Strain is on WHOOP's 0-21 scale.
func SummarizeWorkouts(records []whoop.Workout, w Window) WorkoutSummary {
	var (
		all       workoutAcc
		heartRate mean
		kilojoule mean
	)

	strains := newExtent(0, 21)
	weeks := newBuckets(func() *workoutAcc { return &workoutAcc{} })

	for _, r := range records {
		all.add(r)
		heartRate.add(r.AverageHeartRate)
		kilojoule.add(r.Kilojoule)
		strains.add(r.Strain)

		if wk := weeks.at(r.Date); wk != nil {
			wk.add(r)
		}
	}

	return WorkoutSummary{
		TotalRecords:       w.TotalRecords,
		DaysRequested:      w.DaysRequested,
		PagesFetched:       w.PagesFetched,
		PossiblyIncomplete: w.PossiblyIncomplete,

		AvgStrain:           all.strain.hundredths(),
		AvgDurationMinutes:  all.duration.hundredths(),
		AvgAverageHeartRate: heartRate.hundredths(),
		AvgKilojoule:        kilojoule.hundredths(),
		HighestStrain:       strains.highest(),
		LowestStrain:        strains.lowest(),
		DataByWeek: finish(weeks, func(a *workoutAcc) WorkoutWeek {
			return WorkoutWeek{
				Workouts:           a.count,
				AvgStrain:          a.strain.hundredths(),
				AvgDurationMinutes: a.duration.hundredths(),
			}
		}),
	}
}
