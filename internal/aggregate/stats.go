package aggregate

import (
	"fmt"
	"math"
	"time"

	"github.com/BradyMeighan/WhoopGPT/internal/whoop"
)

// mean accumulates a null-safe average. Nil values count toward neither
// the sum nor the count.
type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v == nil {
		return
	}

	m.sum += *v
	m.n++
}

func (m *mean) addInt(v *int) {
	if v == nil {
		return
	}

	m.sum += float64(*v)
	m.n++
}

// whole is the average rounded to an integer, or nil with no values.
func (m mean) whole() *float64 {
	if m.n == 0 {
		return nil
	}

	v := math.Round(m.sum / float64(m.n))

	return &v
}

// hundredths is the average rounded to two decimals, or nil with no values.
func (m mean) hundredths() *float64 {
	if m.n == 0 {
		return nil
	}

	v := math.Round(m.sum/float64(m.n)*100) / 100

	return &v
}

// extent folds the highest and lowest of a metric whose values lie in
// [floor, ceil].
type extent struct {
	hi, lo float64
	n      int
}

func newExtent(floor, ceil float64) extent {
	return extent{hi: floor, lo: ceil}
}

func (e *extent) add(v *float64) {
	if v == nil {
		return
	}

	e.hi = max(e.hi, *v)
	e.lo = min(e.lo, *v)
	e.n++
}

func (e extent) highest() *float64 {
	if e.n == 0 {
		return nil
	}

	return &e.hi
}

func (e extent) lowest() *float64 {
	if e.n == 0 {
		return nil
	}

	return &e.lo
}

// weekKey buckets a record date as "Week N (M/YYYY)", where week N of a
// month starts on Sunday. Dates are read in UTC. Unparseable dates report
// false and are left out of every bucket.
func weekKey(date string) (string, bool) {
	t, ok := whoop.ParseDate(date)
	if !ok {
		return "", false
	}

	t = t.UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	week := (t.Day() + int(first.Weekday()) + 6) / 7

	return fmt.Sprintf("Week %d (%d/%d)", week, int(t.Month()), t.Year()), true
}

// buckets groups per-week accumulators by week key.
type buckets[T any] struct {
	byKey map[string]*T
	init  func() *T
}

func newBuckets[T any](init func() *T) *buckets[T] {
	return &buckets[T]{byKey: make(map[string]*T), init: init}
}

// at returns the accumulator for date, or nil when date has no week.
func (b *buckets[T]) at(date string) *T {
	key, ok := weekKey(date)
	if !ok {
		return nil
	}

	acc, found := b.byKey[key]
	if !found {
		acc = b.init()
		b.byKey[key] = acc
	}

	return acc
}

// finish converts every accumulator into its reported form.
func finish[T, R any](b *buckets[T], report func(*T) R) map[string]R {
	out := make(map[string]R, len(b.byKey))
	for k, acc := range b.byKey {
		out[k] = report(acc)
	}

	return out
}
