package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"tradeloop/internal/logger"
)

// HTTPSource 从外部行情 API 拉取日线。接口约定:
// GET {base_url}/daily?symbol=X&from=YYYY-MM-DD&to=YYYY-MM-DD
// 返回 {"bars":[{"date","open","high","low","close","volume"}]}。
type HTTPSource struct {
	baseURL string
	apiKey  string

	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetry   time.Duration
}

type HTTPSourceOptions struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RequestsPerSec int
	MaxRetry       time.Duration
}

func NewHTTPSource(opts HTTPSourceOptions) *HTTPSource {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 30 * time.Second
	}
	return &HTTPSource{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), opts.RequestsPerSec),
		maxRetry:   opts.MaxRetry,
	}
}

// GetBars 实现 Source。
func (h *HTTPSource) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("symbol", normalizeSymbol(symbol))
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(DateLayout))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(DateLayout))
	}
	endpoint := fmt.Sprintf("%s/daily?%s", h.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	var resp *http.Response
	operation := func() error {
		var err error
		resp, err = h.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("non-200 status code: %d", resp.StatusCode)
		}
		return nil
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = h.maxRetry

	if err := backoff.Retry(operation, backoff.WithContext(backoffStrategy, ctx)); err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return parseBarsJSON(body, symbol)
}

// LatestClose 实现 Source。
func (h *HTTPSource) LatestClose(ctx context.Context, symbol string) (float64, error) {
	return LatestCloseOf(ctx, h, symbol)
}

func parseBarsJSON(body []byte, symbol string) ([]Bar, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json for %s", symbol)
	}
	items := gjson.GetBytes(body, "bars")
	if !items.Exists() {
		// 部分服务直接返回数组
		items = gjson.ParseBytes(body)
	}
	if !items.IsArray() {
		return nil, fmt.Errorf("unexpected payload for %s", symbol)
	}
	var bars []Bar
	items.ForEach(func(_, item gjson.Result) bool {
		date, err := ParseDate(item.Get("date").String())
		if err != nil {
			logger.Warnf("http source %s: bad date %q, skipped", symbol, item.Get("date").String())
			return true
		}
		volume := item.Get("volume").Float()
		if volume <= 0 {
			volume = defaultVolume
		}
		bars = append(bars, Bar{
			Date:   date,
			Open:   item.Get("open").Float(),
			High:   item.Get("high").Float(),
			Low:    item.Get("low").Float(),
			Close:  item.Get("close").Float(),
			Volume: volume,
		})
		return true
	})
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return SortBars(bars), nil
}
