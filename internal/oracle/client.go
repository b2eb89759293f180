package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"perpdex/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ticker - снимок рыночных данных от оракула
type Ticker struct {
	Symbol        string
	LastPrice     float64
	HighPrice24h  float64
	LowPrice24h   float64
	Volume24h     float64
	PriceChange24 float64 // изменение за 24ч в процентах
	Timestamp     time.Time
}

// Client опрашивает внешний REST API с тикерами (формат Binance)
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
}

// NewClient создает клиент оракула
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPClientConfig())
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		retryCfg:   retry.OracleConfig(),
	}
}

// tickerResponse - ответ /api/v3/ticker/24hr (числа приходят строками)
type tickerResponse struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	QuoteVolume        string `json:"quoteVolume"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// FetchTicker запрашивает 24ч тикер для рыночного символа.
// Символ рынка (BTC-USDC) транслируется в символ оракула (BTCUSDT).
func (c *Client) FetchTicker(ctx context.Context, marketSymbol string) (*Ticker, error) {
	oracleSymbol := toOracleSymbol(marketSymbol)

	return retry.DoWithResult(ctx, func() (*Ticker, error) {
		return c.fetchTickerOnce(ctx, oracleSymbol)
	}, c.retryCfg)
}

func (c *Client) fetchTickerOnce(ctx context.Context, oracleSymbol string) (*Ticker, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", c.baseURL, oracleSymbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Тело не читаем целиком - достаточно кода
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("oracle returned status %d for %s", resp.StatusCode, oracleSymbol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oracle read body: %w", err)
	}

	var tr tickerResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("oracle parse body: %w", err)
	}

	last, err := strconv.ParseFloat(tr.LastPrice, 64)
	if err != nil || last <= 0 {
		return nil, fmt.Errorf("oracle bad price %q for %s", tr.LastPrice, oracleSymbol)
	}

	high, _ := strconv.ParseFloat(tr.HighPrice, 64)
	low, _ := strconv.ParseFloat(tr.LowPrice, 64)
	volume, _ := strconv.ParseFloat(tr.QuoteVolume, 64)
	change, _ := strconv.ParseFloat(tr.PriceChangePercent, 64)

	return &Ticker{
		Symbol:        tr.Symbol,
		LastPrice:     last,
		HighPrice24h:  high,
		LowPrice24h:   low,
		Volume24h:     volume,
		PriceChange24: change,
		Timestamp:     time.Now(),
	}, nil
}

// toOracleSymbol транслирует символ рынка в символ оракула.
// Котировка всегда USDT: у оракула нет USDC-пар с нужной ликвидностью.
func toOracleSymbol(marketSymbol string) string {
	base := marketSymbol
	if i := strings.Index(marketSymbol, "-"); i > 0 {
		base = marketSymbol[:i]
	}
	return base + "USDT"
}
