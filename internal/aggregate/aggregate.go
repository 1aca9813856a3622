// Package aggregate pages through WHOOP collections within a bounded
// budget and summarizes the normalized records.
package aggregate

//go:generate mockgen -source=aggregate.go -destination=mock_fetcher_test.go -package=aggregate

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/BradyMeighan/WhoopGPT/internal/whoop"
	"github.com/tidwall/gjson"
)

const (
	// DefaultDays is the lookback window when none is requested.
	DefaultDays = 30

	// MinDays and MaxDays bound the lookback window.
	MinDays = 1
	MaxDays = 180

	// PageLimit is the largest page the upstream serves.
	PageLimit = 25

	// MaxPages caps page fetches per history request.
	MaxPages = 8
)

// Fetcher reads the WHOOP data API. *whoop.Client implements it.
type Fetcher interface {
	FetchPage(ctx context.Context, accessToken, resource string, q whoop.PageQuery) (*whoop.Page, error)
	FetchOne(ctx context.Context, accessToken, resource string) (gjson.Result, error)
}

// ClampDays parses a days query value. Anything unparseable or zero means
// DefaultDays; the result is clamped to [MinDays, MaxDays]. Trailing
// garbage after the leading integer is ignored.
func ClampDays(raw string) int {
	days, ok := leadingInt(strings.TrimSpace(raw))
	if !ok {
		return DefaultDays
	}

	return Clamp(days)
}

// Clamp bounds days to [MinDays, MaxDays], treating zero as DefaultDays.
func Clamp(days int) int {
	if days == 0 {
		return DefaultDays
	}

	return min(max(days, MinDays), MaxDays)
}

func leadingInt(s string) (int, bool) {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}

	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}

	if end == digits {
		return 0, false
	}

	n, err := strconv.Atoi(s[:end])
	if err != nil {
		// Overflow. Saturate so clamping still applies.
		if s[0] == '-' {
			return -1, true
		}

		return MaxDays + 1, true
	}

	return n, true
}

// PageBudget is the number of pages a window of days may fetch.
func PageBudget(days int) int {
	return min((days+PageLimit-1)/PageLimit+1, MaxPages)
}

// Collected is the raw outcome of a paginated read.
type Collected struct {
	Records      []gjson.Result
	PagesFetched int

	// Truncated is set when the budget ran out while the upstream still
	// offered a continuation token.
	Truncated bool
}

// Collect reads pages of resource starting at start, following
// continuation tokens sequentially until none is returned or budget pages
// have been fetched. An upstream error aborts the whole read.
func Collect(ctx context.Context, f Fetcher, accessToken, resource string, start time.Time, budget int) (*Collected, error) {
	out := &Collected{}

	var next string

	for out.PagesFetched < budget {
		page, err := f.FetchPage(ctx, accessToken, resource, whoop.PageQuery{
			Limit:     PageLimit,
			Start:     start,
			NextToken: next,
		})
		if err != nil {
			return nil, err
		}

		out.PagesFetched++
		out.Records = append(out.Records, page.Records...)

		next = page.NextToken
		if next == "" {
			return out, nil
		}
	}

	out.Truncated = next != ""

	return out, nil
}
