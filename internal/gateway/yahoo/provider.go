package yahoo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
	_ "time/tzdata"

	"candlefeed/internal/logger"
	"candlefeed/internal/market"
	"candlefeed/internal/pkg/symbol"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var nativeIntervals = map[string]string{
	"1m": "1m", "2m": "2m", "5m": "5m", "15m": "15m", "30m": "30m", "90m": "90m",
	"1h": "60m", "1d": "1d", "5d": "5d", "1w": "1wk",
}

const (
	minuteSpan   = 7 * 24 * time.Hour
	intradaySpan = 60 * 24 * time.Hour
	dailySpan    = 365 * 24 * time.Hour
)

// Provider is the vendor variant of market.CandleProvider, backed by the
// public v8 chart endpoint.
type Provider struct {
	cfg       Config
	http      *http.Client
	equityLoc *time.Location
}

func New(cfg Config) (*Provider, error) {
	final := cfg.withDefaults()
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	loc, err := time.LoadLocation(final.EquityTimezone)
	if err != nil {
		logger.Warnf("yahoo: unknown timezone %s, falling back to UTC: %v", final.EquityTimezone, err)
		loc = time.UTC
	}
	return &Provider{cfg: final, http: httpClient, equityLoc: loc}, nil
}

func (p *Provider) Name() string { return market.ProviderYahoo }

func (p *Provider) NativeSymbol(sym string) string {
	return symbol.Yahoo.ToProvider(sym)
}

func (p *Provider) NativeInterval(iv market.Interval) (string, error) {
	native, ok := nativeIntervals[iv.Key]
	if !ok {
		return "", market.NewConfigurationError("interval", iv.Key, "not offered by yahoo")
	}
	return native, nil
}

// MaxWindow: 7 days of 1m bars, 60 days of other intraday bars, a year of
// daily or coarser bars.
func (p *Provider) MaxWindow(iv market.Interval) time.Duration {
	switch {
	case iv.Duration <= time.Minute:
		return minuteSpan
	case iv.Intraday():
		return intradaySpan
	default:
		return dailySpan
	}
}

func (p *Provider) Location(sym string) *time.Location {
	if symbol.IsPair(sym) {
		return time.UTC
	}
	return p.equityLoc
}

func (p *Provider) FetchRaw(ctx context.Context, sym string, iv market.Interval, start, end time.Time) ([]market.RawBar, error) {
	native, err := p.NativeInterval(iv)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", native)
	q.Set("includePrePost", "false")
	window := market.FetchWindow{Start: start, End: end}
	body, err := p.get(ctx, sym, q, window)
	if err != nil {
		return nil, err
	}
	bars, err := p.parse(sym, body, window)
	if err != nil {
		return nil, err
	}
	out := bars[:0]
	for _, b := range bars {
		if window.Contains(b.Timestamp) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (p *Provider) Latest(ctx context.Context, sym string, iv market.Interval, n int) ([]market.RawBar, error) {
	native, err := p.NativeInterval(iv)
	if err != nil {
		return nil, err
	}
	rng := "5d"
	if !iv.Intraday() {
		rng = "3mo"
	}
	q := url.Values{}
	q.Set("range", rng)
	q.Set("interval", native)
	body, err := p.get(ctx, sym, q, market.FetchWindow{})
	if err != nil {
		return nil, err
	}
	bars, err := p.parse(sym, body, market.FetchWindow{})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

func (p *Provider) get(ctx context.Context, sym string, q url.Values, window market.FetchWindow) ([]byte, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.cfg.BaseURL, url.PathEscape(sym), q.Encode())
	fail := func(status int, err error) error {
		return &market.ProviderRequestError{
			Provider:    market.ProviderYahoo,
			Symbol:      sym,
			Window:      window,
			StatusCode:  status,
			RateLimited: status == http.StatusTooManyRequests,
			Err:         err,
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fail(0, err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		desc := gjson.GetBytes(body, "chart.error.description").String()
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return nil, fail(resp.StatusCode, fmt.Errorf("chart: %s", desc))
	}
	if errObj := gjson.GetBytes(body, "chart.error"); errObj.Exists() && errObj.Type != gjson.Null {
		return nil, fail(0, fmt.Errorf("chart: %s", errObj.Get("description").String()))
	}
	return body, nil
}

// parse turns a chart payload into ascending rows. A result without a
// timestamp array is an empty window, not an error.
func (p *Provider) parse(sym string, body []byte, window market.FetchWindow) ([]market.RawBar, error) {
	result := gjson.GetBytes(body, "chart.result.0")
	if !result.Exists() {
		return nil, &market.ProviderRequestError{
			Provider: market.ProviderYahoo,
			Symbol:   sym,
			Window:   window,
			Err:      fmt.Errorf("chart: missing result"),
		}
	}
	stamps := result.Get("timestamp").Array()
	if len(stamps) == 0 {
		return nil, nil
	}
	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()

	out := make([]market.RawBar, 0, len(stamps))
	for i, ts := range stamps {
		closeVal := p.price(closes, i)
		if closeVal == nil {
			continue
		}
		out = append(out, market.RawBar{
			Timestamp: time.Unix(ts.Int(), 0).UTC(),
			Open:      p.price(opens, i),
			High:      p.price(highs, i),
			Low:       p.price(lows, i),
			Close:     closeVal,
			Volume:    number(volumes, i),
		})
	}
	return out, nil
}

func (p *Provider) price(values []gjson.Result, i int) any {
	v := number(values, i)
	f, ok := v.(float64)
	if !ok || p.cfg.PricePrecision < 0 {
		return v
	}
	return decimal.NewFromFloat(f).Round(int32(p.cfg.PricePrecision)).InexactFloat64()
}

func number(values []gjson.Result, i int) any {
	if i >= len(values) {
		return nil
	}
	v := values[i]
	if v.Type != gjson.Number {
		return nil
	}
	return v.Float()
}
