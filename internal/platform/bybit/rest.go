// Package bybit provides the REST and WebSocket market-data clients for
// Bybit v5 spot.
package bybit

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

// recvWindowMs is the signed-request validity window.
const recvWindowMs = 5000

// apiResponse is the v5 REST envelope.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// RestClient is the REST client for the Bybit v5 API. Market-data
// endpoints are public; an HMACAuth is only needed for signed endpoints.
type RestClient struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewRestClient creates a new REST client.
//
// baseURL is the API root, e.g. "https://api.bybit.com". auth may be nil
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

// InstrumentsInfo fetches spot descriptors for the given native symbols.
// Instruments not currently Trading are skipped. An empty natives slice
// fetches the whole spot universe.
func (r *RestClient) InstrumentsInfo(ctx context.Context, natives []string, takerFee decimal.Decimal) ([]*domain.Market, error) {
	wanted := make(map[string]bool, len(natives))
	for _, n := range natives {
		wanted[n] = true
	}

	params := url.Values{}
	params.Set("category", "spot")
	params.Set("limit", "1000")

	body, err := r.doGet(ctx, "/v5/market/instruments-info?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("bybit: instruments info: %w", err)
	}

	var result instrumentsResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("bybit: decode instruments info: %w", err)
	}

	markets := make([]*domain.Market, 0, len(natives))
	for i := range result.List {
		inst := &result.List[i]
		if inst.Status != "Trading" {
			continue
		}
		if len(wanted) > 0 && !wanted[inst.Symbol] {
			continue
		}
		m, err := inst.ToDomainMarket(takerFee)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}

	return markets, nil
}

// Depth fetches a full order-book snapshot for a market.
func (r *RestClient) Depth(ctx context.Context, m *domain.Market, limit int) (*domain.BookSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", m.Native)
	params.Set("limit", strconv.Itoa(limit))

	body, err := r.doGet(ctx, "/v5/market/orderbook?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("bybit: orderbook %s: %w", m.Native, err)
	}

	var ob orderbookResult
	if err := json.Unmarshal(body, &ob); err != nil {
		return nil, fmt.Errorf("bybit: decode orderbook %s: %w", m.Native, err)
	}

	bids, err := parseLevels(ob.Bids)
	if err != nil {
		return nil, fmt.Errorf("bybit: orderbook %s bids: %w", m.Native, err)
	}
	asks, err := parseLevels(ob.Asks)
	if err != nil {
		return nil, fmt.Errorf("bybit: orderbook %s asks: %w", m.Native, err)
	}

	return &domain.BookSnapshot{
		Exchange:  m.Exchange,
		Symbol:    m.Symbol,
		Bids:      bids,
		Asks:      asks,
		Sequence:  ob.Update,
		UpdatedAt: time.UnixMilli(ob.Ts),
	}, nil
}

// feeRateResult is the payload of the signed fee-rate endpoint.
type feeRateResult struct {
	List []struct {
		Symbol       string `json:"symbol"`
		TakerFeeRate string `json:"takerFeeRate"`
	} `json:"list"`
}

// FeeRates fetches the account's actual per-symbol spot taker fees from
// the signed fee-rate endpoint, keyed by native symbol. Requires
// credentials.
func (r *RestClient) FeeRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	if r.auth == nil {
		return nil, fmt.Errorf("bybit: fee rates require API credentials")
	}

	params := url.Values{}
	params.Set("category", "spot")

	body, err := r.doGet(ctx, "/v5/account/fee-rate?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("bybit: fee rates: %w", err)
	}

	var result feeRateResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("bybit: decode fee rates: %w", err)
	}

	fees := make(map[string]decimal.Decimal, len(result.List))
	for _, e := range result.List {
		fee, err := decimal.NewFromString(e.TakerFeeRate)
		if err != nil {
			return nil, fmt.Errorf("bybit: fee rate %s: %w", e.Symbol, err)
		}
		fees[e.Symbol] = fee
	}
	return fees, nil
}

// doGet sends a GET request and unwraps the v5 envelope, returning the raw
// result payload.
func (r *RestClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.auth != nil {
		query := ""
		if u := req.URL; u != nil {
			query = u.RawQuery
		}
		for k, v := range r.auth.BybitHeaders(query, recvWindowMs) {
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

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.RetCode != 0 {
		return nil, fmt.Errorf("api error %d: %s", envelope.RetCode, envelope.RetMsg)
	}

	return envelope.Result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
