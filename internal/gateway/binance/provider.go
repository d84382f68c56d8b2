package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"candlefeed/internal/market"
	"candlefeed/internal/pkg/symbol"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

var nativeIntervals = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "2h": "2h", "4h": "4h", "6h": "6h", "8h": "8h", "12h": "12h",
	"1d": "1d", "3d": "3d", "1w": "1w",
}

// Provider is the exchange variant of market.CandleProvider, backed by the
// spot klines endpoint.
type Provider struct {
	cfg    Config
	client *gobinance.Client
}

func New(cfg Config) (*Provider, error) {
	final := cfg.withDefaults()
	client := gobinance.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Provider{cfg: final, client: client}, nil
}

func (p *Provider) Name() string { return market.ProviderBinance }

func (p *Provider) NativeSymbol(sym string) string {
	return symbol.Binance.ToProvider(sym)
}

func (p *Provider) NativeInterval(iv market.Interval) (string, error) {
	native, ok := nativeIntervals[iv.Key]
	if !ok {
		return "", market.NewConfigurationError("interval", iv.Key, "not offered by binance")
	}
	return native, nil
}

// MaxWindow is RowLimit bars of iv.
func (p *Provider) MaxWindow(iv market.Interval) time.Duration {
	return time.Duration(p.cfg.RowLimit) * iv.Duration
}

func (p *Provider) FetchRaw(ctx context.Context, sym string, iv market.Interval, start, end time.Time) ([]market.RawBar, error) {
	native, err := p.NativeInterval(iv)
	if err != nil {
		return nil, err
	}
	// endTime is inclusive on the exchange side.
	kls, err := p.client.NewKlinesService().
		Symbol(sym).
		Interval(native).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli() - 1).
		Limit(p.cfg.RowLimit).
		Do(ctx)
	if err != nil {
		return nil, p.wrap(sym, start, end, err)
	}
	return toRawBars(kls), nil
}

func (p *Provider) Latest(ctx context.Context, sym string, iv market.Interval, n int) ([]market.RawBar, error) {
	native, err := p.NativeInterval(iv)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 2
	}
	kls, err := p.client.NewKlinesService().Symbol(sym).Interval(native).Limit(n).Do(ctx)
	if err != nil {
		return nil, p.wrap(sym, time.Time{}, time.Time{}, err)
	}
	return toRawBars(kls), nil
}

func (p *Provider) Location(string) *time.Location { return time.UTC }

func toRawBars(kls []*gobinance.Kline) []market.RawBar {
	out := make([]market.RawBar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.RawBar{
			Timestamp: time.UnixMilli(kl.OpenTime).UTC(),
			Open:      kl.Open,
			High:      kl.High,
			Low:       kl.Low,
			Close:     kl.Close,
			Volume:    kl.Volume,
		})
	}
	return out
}

func (p *Provider) wrap(sym string, start, end time.Time, err error) error {
	reqErr := &market.ProviderRequestError{
		Provider: market.ProviderBinance,
		Symbol:   sym,
		Window:   market.FetchWindow{Start: start, End: end},
		Err:      err,
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == -1003 || apiErr.Code == -1015:
			reqErr.StatusCode = http.StatusTooManyRequests
			reqErr.RateLimited = true
		case apiErr.Code <= -1100 && apiErr.Code > -1200:
			reqErr.StatusCode = http.StatusBadRequest
		}
	}
	return reqErr
}
