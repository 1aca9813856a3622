// Package whoop talks to the WHOOP OAuth and developer APIs and flattens
// their records into the shapes the broker serves.
package whoop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/BradyMeighan/WhoopGPT/internal/errors"
	"github.com/tidwall/gjson"
)

// BaseURL is the v1 developer API root.
const BaseURL = "https://api.prod.whoop.com/developer/v1/"

// Data API resources, relative to BaseURL.
const (
	ResourceRecovery        = "recovery"
	ResourceSleep           = "activity/sleep"
	ResourceWorkout         = "activity/workout"
	ResourceProfile         = "user/profile/basic"
	ResourceBodyMeasurement = "user/measurement/body"
)

const (
	// DefaultTimeout bounds every upstream call when no client is given.
	DefaultTimeout = 30 * time.Second

	// maxRedirects matches the default net/http limit.
	maxRedirects = 10

	// maxAPIResponseBytes caps response body reads. A page of 25
	// records is a few tens of kilobytes.
	maxAPIResponseBytes = 1024 * 1024

	// startLayout is the millisecond ISO-8601 form the API accepts.
	startLayout = "2006-01-02T15:04:05.000Z07:00"
)

// PageQuery selects one page of a collection resource.
type PageQuery struct {
	Limit     int
	Start     time.Time
	NextToken string
}

// Page is one page of a collection resource. Records are left raw so
// callers pick the fields they normalize.
type Page struct {
	Records   []gjson.Result
	NextToken string
}

// Client reads the WHOOP developer API on behalf of a bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// sameHostRedirectPolicy follows redirects only to the original host so
// bearer tokens never reach a third party.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 && req.URL.Host != via[0].URL.Host {
		return fmt.Errorf("redirect to different host blocked: %s -> %s", via[0].URL.Host, req.URL.Host)
	}

	return nil
}

// NewHTTPClient returns an upstream client with the given timeout that
// only follows same-host redirects.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// NewClient creates a data API client. A nil httpClient gets the default
// timeout and same-host redirect policy; an empty baseURL means BaseURL.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}

	if baseURL == "" {
		baseURL = BaseURL
	}

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// FetchPage reads one page of a collection resource.
func (c *Client) FetchPage(ctx context.Context, accessToken, resource string, q PageQuery) (*Page, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	if !q.Start.IsZero() {
		params.Set("start", q.Start.UTC().Format(startLayout))
	}

	if q.NextToken != "" {
		params.Set("nextToken", q.NextToken)
	}

	body, err := c.get(ctx, accessToken, resource, params)
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(body)

	page := &Page{NextToken: doc.Get("next_token").String()}
	for _, rec := range doc.Get("records").Array() {
		if rec.IsObject() {
			page.Records = append(page.Records, rec)
		}
	}

	return page, nil
}

// FetchOne reads a singleton resource such as the profile.
func (c *Client) FetchOne(ctx context.Context, accessToken, resource string) (gjson.Result, error) {
	body, err := c.get(ctx, accessToken, resource, nil)
	if err != nil {
		return gjson.Result{}, err
	}

	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return gjson.Result{}, &apperrors.UpstreamDataError{Resource: resource, Err: errors.New("response is not an object")}
	}

	return doc, nil
}

// get performs an authenticated GET and returns the validated JSON body.
func (c *Client) get(ctx context.Context, accessToken, resource string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + resource
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			err = fmt.Errorf("%w: %w", apperrors.ErrUpstreamTimeout, err)
		}

		return nil, &apperrors.UpstreamDataError{Resource: resource, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, &apperrors.UpstreamDataError{Resource: resource, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &apperrors.UpstreamDataError{Resource: resource, Status: resp.StatusCode, Err: apperrors.ErrUpstreamUnauthorized}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &apperrors.UpstreamDataError{Resource: resource, Status: resp.StatusCode, Err: errors.New(sanitizeResponseBody(body))}
	}

	if !gjson.ValidBytes(body) {
		return nil, &apperrors.UpstreamDataError{Resource: resource, Status: resp.StatusCode, Err: errors.New("invalid JSON in response")}
	}

	return body, nil
}
