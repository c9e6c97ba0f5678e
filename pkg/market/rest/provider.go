package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketspine/pkg/market"
	"marketspine/pkg/ohlcv"
)

const defaultProviderTimeout = 8 * time.Second

// Provider adapts the gateway client to the market.Provider contract.
type Provider struct {
	client  *Client
	timeout time.Duration
}

type providerConfig struct {
	timeout       time.Duration
	clientOptions []Option
}

// ProviderOption customises the REST provider.
type ProviderOption func(*providerConfig)

// WithTimeout overrides the default per-call timeout.
func WithTimeout(timeout time.Duration) ProviderOption {
	return func(cfg *providerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithClientOptions passes options to the underlying gateway client.
func WithClientOptions(options ...Option) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.clientOptions = append(cfg.clientOptions, options...)
	}
}

// NewProvider constructs a REST market provider for the given gateway URL.
func NewProvider(baseURL string, opts ...ProviderOption) (*Provider, error) {
	cfg := &providerConfig{timeout: defaultProviderTimeout}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := NewClient(baseURL, cfg.clientOptions...)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, timeout: cfg.timeout}, nil
}

func init() {
	market.RegisterProvider("rest", func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		var clientOpts []Option
		if cfg.APIKey != "" || cfg.AccessToken != "" {
			clientOpts = append(clientOpts, WithCredentials(cfg.APIKey, cfg.AccessToken))
		}
		if cfg.MaxRetries > 0 {
			clientOpts = append(clientOpts, WithMaxRetries(cfg.MaxRetries))
		}
		if cfg.HTTPTimeout > 0 {
			clientOpts = append(clientOpts, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
		}
		var provOpts []ProviderOption
		if cfg.Timeout > 0 {
			provOpts = append(provOpts, WithTimeout(cfg.Timeout))
		}
		if len(clientOpts) > 0 {
			provOpts = append(provOpts, WithClientOptions(clientOpts...))
		}
		return NewProvider(cfg.BaseURL, provOpts...)
	})
}

type barPayload struct {
	Symbol    string  `json:"symbol"`
	Timestamp string  `json:"ts"`
	Timeframe string  `json:"tf"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    int64   `json:"v"`
}

type ohlcvResponse struct {
	Bars []barPayload `json:"bars"`
}

type futOIPayload struct {
	Symbol      string  `json:"symbol"`
	Timestamp   string  `json:"ts"`
	Price       float64 `json:"price"`
	OI          int64   `json:"oi"`
	BaselineTag string  `json:"baseline_tag"`
}

type futOIResponse struct {
	Rows []futOIPayload `json:"rows"`
}

type optionPayload struct {
	Timestamp string   `json:"ts"`
	Expiry    string   `json:"expiry"`
	Strike    float64  `json:"strike"`
	Side      string   `json:"side"`
	LTP       float64  `json:"ltp"`
	IV        *float64 `json:"iv"`
	OI        *int64   `json:"oi"`
	DOI       *int64   `json:"doi"`
	Volume    *int64   `json:"volume"`
	Delta     *float64 `json:"delta"`
	Gamma     *float64 `json:"gamma"`
	Theta     *float64 `json:"theta"`
	Vega      *float64 `json:"vega"`
}

type optionChainResponse struct {
	Underlying string          `json:"underlying"`
	Rows       []optionPayload `json:"rows"`
}

type breadthResponse struct {
	Timestamp string `json:"ts"`
	Advances  int    `json:"adv"`
	Declines  int    `json:"dec"`
	Unchanged int    `json:"unchanged"`
}

type vixResponse struct {
	Timestamp string  `json:"ts"`
	Value     float64 `json:"value"`
}

type ltpResponse struct {
	LTP map[string]float64 `json:"ltp"`
}

func parseTimestamp(raw, field string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("rest: %s timestamp %q: %w", field, raw, err)
	}
	return ts, nil
}

// FetchOHLCV returns completed bars for the given symbols and timeframe.
func (p *Provider) FetchOHLCV(ctx context.Context, symbols []string, tf ohlcv.Timeframe, since time.Time) ([]ohlcv.Bar, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))
	query.Set("tf", string(tf))
	if !since.IsZero() {
		query.Set("since", since.Format(time.RFC3339))
	}

	var resp ohlcvResponse
	if err := p.client.getJSON(ctx, "/ohlcv", query, &resp); err != nil {
		return nil, err
	}

	bars := make([]ohlcv.Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		end, err := parseTimestamp(b.Timestamp, "bar")
		if err != nil {
			return nil, err
		}
		barTf, err := ohlcv.ParseTimeframe(b.Timeframe)
		if err != nil {
			return nil, err
		}
		bars = append(bars, ohlcv.Bar{
			Symbol:    b.Symbol,
			Timeframe: barTf,
			End:       end,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return bars, nil
}

// FetchFutOI returns the latest futures open-interest snapshot.
func (p *Provider) FetchFutOI(ctx context.Context, symbols []string) ([]market.FutOIRow, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))

	var resp futOIResponse
	if err := p.client.getJSON(ctx, "/futoi", query, &resp); err != nil {
		return nil, err
	}

	rows := make([]market.FutOIRow, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		ts, err := parseTimestamp(r.Timestamp, "futoi")
		if err != nil {
			return nil, err
		}
		rows = append(rows, market.FutOIRow{
			Symbol:      r.Symbol,
			Time:        ts,
			Price:       r.Price,
			OI:          r.OI,
			BaselineTag: r.BaselineTag,
		})
	}
	return rows, nil
}

// FetchOptionChain returns the current chain for one underlying.
func (p *Provider) FetchOptionChain(ctx context.Context, underlying string) ([]market.OptionRow, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("underlying", underlying)

	var resp optionChainResponse
	if err := p.client.getJSON(ctx, "/options", query, &resp); err != nil {
		return nil, err
	}

	rows := make([]market.OptionRow, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		ts, err := parseTimestamp(r.Timestamp, "option")
		if err != nil {
			return nil, err
		}
		side := market.OptionSide(strings.ToUpper(strings.TrimSpace(r.Side)))
		if side != market.SideCall && side != market.SidePut {
			return nil, fmt.Errorf("rest: option side %q for %s", r.Side, underlying)
		}
		rows = append(rows, market.OptionRow{
			Underlying: underlying,
			Time:       ts,
			Expiry:     r.Expiry,
			Strike:     r.Strike,
			Side:       side,
			LTP:        r.LTP,
			IV:         r.IV,
			OI:         r.OI,
			DOI:        r.DOI,
			Volume:     r.Volume,
			Delta:      r.Delta,
			Gamma:      r.Gamma,
			Theta:      r.Theta,
			Vega:       r.Vega,
		})
	}
	return rows, nil
}

// FetchBreadth returns the market-wide advance/decline snapshot.
func (p *Provider) FetchBreadth(ctx context.Context) (market.BreadthRow, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp breadthResponse
	if err := p.client.getJSON(ctx, "/breadth", nil, &resp); err != nil {
		return market.BreadthRow{}, err
	}
	ts, err := parseTimestamp(resp.Timestamp, "breadth")
	if err != nil {
		return market.BreadthRow{}, err
	}
	return market.BreadthRow{
		Time:      ts,
		Advances:  resp.Advances,
		Declines:  resp.Declines,
		Unchanged: resp.Unchanged,
	}, nil
}

// FetchVIX returns the latest volatility-index reading.
func (p *Provider) FetchVIX(ctx context.Context) (market.VIXRow, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp vixResponse
	if err := p.client.getJSON(ctx, "/vix", nil, &resp); err != nil {
		return market.VIXRow{}, err
	}
	ts, err := parseTimestamp(resp.Timestamp, "vix")
	if err != nil {
		return market.VIXRow{}, err
	}
	return market.VIXRow{Time: ts, Value: resp.Value}, nil
}

// FetchLTP returns last traded prices keyed by symbol.
func (p *Provider) FetchLTP(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))

	var resp ltpResponse
	if err := p.client.getJSON(ctx, "/ltp", query, &resp); err != nil {
		return nil, err
	}
	if resp.LTP == nil {
		resp.LTP = map[string]float64{}
	}
	return resp.LTP, nil
}
