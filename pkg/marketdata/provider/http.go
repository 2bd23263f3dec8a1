package provider

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/tidwall/gjson"
)

const defaultTimeout = 30 * time.Second

// newRestClient builds the resty client used by the HTTP proxies.
// Retries are handled by the market data client, not here.
func newRestClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

// classify maps a transport error to the provider error taxonomy.
func classify(ctx context.Context, source string, err error) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return errors.Wrapf(errors.ErrCodeCancelled, ctx.Err(), "%s request cancelled", source)
	}

	// connection resets, timeouts and DNS failures are all worth another attempt
	return errors.Wrapf(errors.ErrCodeMarketDataTransient, err, "%s request failed", source)
}

// checkStatus maps an HTTP status to the provider error taxonomy.
func checkStatus(source string, resp *resty.Response) error {
	code := resp.StatusCode()

	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return errors.Newf(errors.ErrCodeDataUnavailable, "%s returned 404 for %s", source, resp.Request.URL)
	case code == http.StatusTooManyRequests || code >= 500:
		return errors.Newf(errors.ErrCodeMarketDataTransient, "%s returned %d", source, code)
	default:
		return errors.Newf(errors.ErrCodeMarketDataFetchFailed, "%s returned %d: %s", source, code, truncate(resp.String(), 200))
	}
}

// barFields names the JSON keys of one record.
type barFields struct {
	Date, Open, High, Low, Close, Volume string
}

// parseBars reads an array of records, either at the document root or under
// "data", into bars. A record without a parsable date or close is a schema error.
func parseBars(source string, body []byte, fields barFields) ([]types.Bar, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.Newf(errors.ErrCodeMarketDataParseFailed, "%s returned invalid JSON", source)
	}

	doc := gjson.ParseBytes(body)

	records := doc
	if !records.IsArray() {
		records = doc.Get("data")
	}

	if !records.IsArray() {
		return nil, errors.Newf(errors.ErrCodeMarketDataParseFailed, "%s response has no record array", source)
	}

	var (
		bars   []types.Bar
		failed error
	)

	records.ForEach(func(_, item gjson.Result) bool {
		date, err := parseDate(item.Get(fields.Date))
		if err != nil {
			failed = errors.Wrapf(errors.ErrCodeMarketDataParseFailed, err, "%s record has a bad %q field", source, fields.Date)

			return false
		}

		closeValue := item.Get(fields.Close)
		if !closeValue.Exists() {
			failed = errors.Newf(errors.ErrCodeMarketDataParseFailed, "%s record on %s has no %q field", source, date.Format(time.DateOnly), fields.Close)

			return false
		}

		bars = append(bars, types.Bar{
			Date:   date,
			Open:   item.Get(fields.Open).Float(),
			High:   item.Get(fields.High).Float(),
			Low:    item.Get(fields.Low).Float(),
			Close:  closeValue.Float(),
			Volume: item.Get(fields.Volume).Float(),
		})

		return true
	})

	if failed != nil {
		return nil, failed
	}

	return bars, nil
}

var dateLayouts = []string{time.DateOnly, "20060102", "2006-01-02T15:04:05", time.RFC3339, "2006/01/02"}

// parseDate accepts the date layouts seen from the proxies and epoch milliseconds.
func parseDate(v gjson.Result) (time.Time, error) {
	if v.Type == gjson.Number {
		ms := v.Int()
		if ms > 1e11 {
			return types.Day(time.UnixMilli(ms).In(cst)), nil
		}

		v = gjson.Result{Type: gjson.String, Str: strconv.FormatInt(ms, 10)}
	}

	s := strings.TrimSpace(v.String())
	if s == "" {
		return time.Time{}, errors.New(errors.ErrCodeMarketDataParseFailed, "empty date")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return types.Day(t), nil
		}
	}

	return time.Time{}, errors.Newf(errors.ErrCodeMarketDataParseFailed, "unrecognized date %q", s)
}

var cst = time.FixedZone("CST", 8*60*60)

// pacer spaces out requests to one source.
type pacer struct {
	mu     sync.Mutex
	delay  time.Duration
	jitter float64
	next   time.Time
}

func newPacer(delay time.Duration, jitter float64) *pacer {
	return &pacer{delay: delay, jitter: jitter}
}

// Wait blocks until the source may be called again.
func (p *pacer) Wait(ctx context.Context) error {
	if p == nil || p.delay <= 0 {
		return nil
	}

	p.mu.Lock()
	now := time.Now()

	at := p.next
	if at.Before(now) {
		at = now
	}

	d := p.delay
	if p.jitter > 0 {
		d = time.Duration(float64(d) * (1 - p.jitter + 2*p.jitter*rand.Float64())) //nolint:gosec // jitter only
	}

	p.next = at.Add(d)
	p.mu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeCancelled, "cancelled while pacing requests", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
