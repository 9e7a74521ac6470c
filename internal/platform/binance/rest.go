// Package binance provides the REST and WebSocket market-data clients for
// Binance spot.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscan/internal/crypto"
	"github.com/alanyoungcy/arbscan/internal/domain"
)

// RestClient is the REST client for the Binance spot API. Market-data
// endpoints are public; an HMACAuth is only needed for signed endpoints.
type RestClient struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewRestClient creates a new REST client.
//
// baseURL is the API root, e.g. "https://api.binance.com". auth may be nil
// for public market-data use.
func NewRestClient(baseURL string, auth *crypto.HMACAuth) *RestClient {
	return &RestClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth: auth,
	}
}

// ExchangeInfo fetches descriptors for the given native symbols. Symbols
// not currently TRADING are skipped.
func (r *RestClient) ExchangeInfo(ctx context.Context, natives []string, takerFee decimal.Decimal) ([]*domain.Market, error) {
	symbolsJSON, err := json.Marshal(natives)
	if err != nil {
		return nil, fmt.Errorf("binance: encode symbols: %w", err)
	}
	params := url.Values{}
	params.Set("symbols", string(symbolsJSON))

	body, err := r.doGet(ctx, "/api/v3/exchangeInfo?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("binance: exchange info: %w", err)
	}

	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("binance: decode exchange info: %w", err)
	}

	markets := make([]*domain.Market, 0, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Status != "TRADING" {
			continue
		}
		m, err := s.ToDomainMarket(takerFee)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}

	return markets, nil
}

// Depth fetches a full order-book snapshot for a market. The response's
// lastUpdateId becomes the snapshot sequence, aligning it with the diff
// stream's update ids.
func (r *RestClient) Depth(ctx context.Context, m *domain.Market, limit int) (*domain.BookSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("symbol", m.Native)
	params.Set("limit", strconv.Itoa(limit))

	body, err := r.doGet(ctx, "/api/v3/depth?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("binance: depth %s: %w", m.Native, err)
	}

	var depth depthResponse
	if err := json.Unmarshal(body, &depth); err != nil {
		return nil, fmt.Errorf("binance: decode depth %s: %w", m.Native, err)
	}

	bids, err := parseLevels(depth.Bids)
	if err != nil {
		return nil, fmt.Errorf("binance: depth %s bids: %w", m.Native, err)
	}
	asks, err := parseLevels(depth.Asks)
	if err != nil {
		return nil, fmt.Errorf("binance: depth %s asks: %w", m.Native, err)
	}

	return &domain.BookSnapshot{
		Exchange:  m.Exchange,
		Symbol:    m.Symbol,
		Bids:      bids,
		Asks:      asks,
		Sequence:  depth.LastUpdateID,
		UpdatedAt: time.Now(),
	}, nil
}

// tradeFeeEntry is one row of the signed tradeFee response.
type tradeFeeEntry struct {
	Symbol          string `json:"symbol"`
	TakerCommission string `json:"takerCommission"`
}

// TradeFees fetches the account's actual per-symbol taker fees from the
// signed tradeFee endpoint, keyed by native symbol. Requires credentials.
func (r *RestClient) TradeFees(ctx context.Context) (map[string]decimal.Decimal, error) {
	if r.auth == nil {
		return nil, fmt.Errorf("binance: trade fees require API credentials")
	}

	params := url.Values{}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + r.auth.BinanceSign(query)

	body, err := r.doGet(ctx, "/sapi/v1/asset/tradeFee?"+query)
	if err != nil {
		return nil, fmt.Errorf("binance: trade fees: %w", err)
	}

	var entries []tradeFeeEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("binance: decode trade fees: %w", err)
	}

	fees := make(map[string]decimal.Decimal, len(entries))
	for _, e := range entries {
		fee, err := decimal.NewFromString(e.TakerCommission)
		if err != nil {
			return nil, fmt.Errorf("binance: trade fee %s: %w", e.Symbol, err)
		}
		fees[e.Symbol] = fee
	}
	return fees, nil
}

// Ping checks connectivity to the REST API.
func (r *RestClient) Ping(ctx context.Context) error {
	_, err := r.doGet(ctx, "/api/v3/ping")
	if err != nil {
		return fmt.Errorf("binance: ping: %w", err)
	}
	return nil
}

// doGet sends a GET request. The API key header is attached when auth is
// configured; market-data endpoints ignore it.
func (r *RestClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.auth != nil {
		for k, v := range r.auth.BinanceHeaders() {
			req.Header.Set(k, v)
		}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 256))
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
