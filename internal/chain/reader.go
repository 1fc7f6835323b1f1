package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/phunks-mini/internal/config"
	"github.com/phunks-mini/internal/logging"
	"github.com/phunks-mini/internal/types"
)

// Conservative defaults used when the RPC batch fails and no cached value
// exists. The on-chain maxSupply() is authoritative; this constant is a
// last resort only.
const (
	fallbackMaxSupply = 11305
	fallbackPriceETH  = 0.002
)

// rpcCodeRateLimited is returned by public Base endpoints when a key is
// over quota. It means "temporarily unavailable", not a hard failure.
const rpcCodeRateLimited = -32016

// Call is one eth_call in a batch. ID correlates requests to responses.
type Call struct {
	ID   int
	To   common.Address
	Data string
}

// RPCError is a JSON-RPC error object for a single batch item.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RateLimited reports whether the error is the provider's rate-limit code.
func (e *RPCError) RateLimited() bool {
	return e.Code == rpcCodeRateLimited
}

// CallResult is the outcome of one batch item: a hex result or an error,
// never both.
type CallResult struct {
	Result string
	Err    *RPCError
}

// Reader issues read-only contract calls as raw, batched JSON-RPC
// eth_call requests. It rotates across the configured endpoints and keeps
// a short-lived cache of the collection stats.
type Reader struct {
	endpoints  []string
	contract   common.Address
	usdc       common.Address
	httpClient *http.Client
	logger     *logging.Logger

	rotMu    sync.Mutex
	rpcIndex int

	// statsMu is held for the whole stats fetch so concurrent callers
	// share one underlying batch per TTL window.
	statsMu     sync.Mutex
	cachedStats *types.CollectionStats
	cachedAt    time.Time
	cacheTTL    time.Duration
	nowFn       func() time.Time
}

// NewReader creates a chain reader. The selector table is validated before
// any call can be issued.
func NewReader(cfg *config.ChainConfig, logger *logging.Logger) (*Reader, error) {
	if err := ValidateSelectors(); err != nil {
		return nil, err
	}
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("chain: at least one RPC endpoint is required")
	}
	if !types.ValidAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("chain: invalid contract address %q", cfg.ContractAddress)
	}
	if !types.ValidAddress(cfg.USDCAddress) {
		return nil, fmt.Errorf("chain: invalid USDC address %q", cfg.USDCAddress)
	}

	return &Reader{
		endpoints:  cfg.RPCEndpoints,
		contract:   common.HexToAddress(cfg.ContractAddress),
		usdc:       common.HexToAddress(cfg.USDCAddress),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
		cacheTTL:   cfg.StatsCacheTTL,
		nowFn:      time.Now,
	}, nil
}

// nextEndpoint rotates through the endpoint list, one step per batch.
func (r *Reader) nextEndpoint() string {
	r.rotMu.Lock()
	defer r.rotMu.Unlock()
	url := r.endpoints[r.rpcIndex]
	r.rpcIndex = (r.rpcIndex + 1) % len(r.endpoints)
	return url
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     int       `json:"id"`
	Result string    `json:"result"`
	Error  *RPCError `json:"error"`
}

// BatchCall issues all calls as a single JSON-RPC array request. Each
// item succeeds or fails independently; the returned map is keyed by the
// caller-supplied call ID. The error return covers whole-batch failures
// only (transport, malformed response).
func (r *Reader) BatchCall(ctx context.Context, calls []Call) (map[int]CallResult, error) {
	if len(calls) == 0 {
		return map[int]CallResult{}, nil
	}

	reqs := make([]rpcRequest, 0, len(calls))
	for _, c := range calls {
		reqs = append(reqs, rpcRequest{
			JSONRPC: "2.0",
			ID:      c.ID,
			Method:  "eth_call",
			Params: []interface{}{
				map[string]string{"to": c.To.Hex(), "data": c.Data},
				"latest",
			},
		})
	}

	payload, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("chain: failed to marshal batch: %w", err)
	}

	url := r.nextEndpoint()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("chain: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chain: batch request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("chain: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chain: unexpected status %d from %s", resp.StatusCode, url)
	}

	var responses []rpcResponse
	if err := json.Unmarshal(body, &responses); err != nil {
		return nil, fmt.Errorf("chain: failed to parse batch response: %w", err)
	}

	results := make(map[int]CallResult, len(responses))
	for _, item := range responses {
		if item.Error != nil {
			results[item.ID] = CallResult{Err: item.Error}
			continue
		}
		results[item.ID] = CallResult{Result: item.Result}
	}
	return results, nil
}

// Batch item ids for the stats request.
const (
	statsIDTotalSupply = 1
	statsIDMaxSupply   = 2
	statsIDCost        = 3
)

// FetchCollectionStats returns the collection counters, serving a cached
// value for up to the configured TTL. On failure it degrades to the last
// good value, then to conservative defaults. It never returns an error:
// stats are display data and staleness is acceptable.
func (r *Reader) FetchCollectionStats(ctx context.Context) types.CollectionStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	if r.cachedStats != nil && r.nowFn().Sub(r.cachedAt) < r.cacheTTL {
		return *r.cachedStats
	}

	supplyData, _ := EncodeCall(FnTotalSupply)
	maxData, _ := EncodeCall(FnMaxSupply)
	costData, _ := EncodeCall(FnCost)

	results, err := r.BatchCall(ctx, []Call{
		{ID: statsIDTotalSupply, To: r.contract, Data: supplyData},
		{ID: statsIDMaxSupply, To: r.contract, Data: maxData},
		{ID: statsIDCost, To: r.contract, Data: costData},
	})

	if err != nil {
		r.logger.WithError(err).Warn("Stats batch failed, serving fallback")
		return r.statsFallbackLocked()
	}

	stats := r.statsFallbackLocked()
	if v, ok := r.statsValue(results, statsIDTotalSupply); ok {
		stats.TotalSupply = v.Int64()
	}
	if v, ok := r.statsValue(results, statsIDMaxSupply); ok && v.Sign() > 0 {
		stats.MaxSupply = v.Int64()
	}
	if v, ok := r.statsValue(results, statsIDCost); ok && v.Sign() > 0 {
		stats.PriceETH = FnCost.ResultUnit().ToFloat(v)
	}

	r.cachedStats = &stats
	r.cachedAt = r.nowFn()
	return stats
}

// statsValue extracts and decodes one batch item, logging per-item errors
// without failing siblings.
func (r *Reader) statsValue(results map[int]CallResult, id int) (*big.Int, bool) {
	item, ok := results[id]
	if !ok {
		return nil, false
	}
	if item.Err != nil {
		if item.Err.RateLimited() {
			r.logger.WithField("id", id).Warn("RPC rate limited, keeping cached value")
		} else {
			r.logger.WithFields(map[string]interface{}{
				"id": id, "code": item.Err.Code,
			}).Warn("RPC call error")
		}
		return nil, false
	}
	v, err := DecodeUint(item.Result)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to decode RPC result")
		return nil, false
	}
	return v, true
}

// statsFallbackLocked returns the last good stats, or hard defaults when
// nothing was ever fetched. Callers must hold r.statsMu.
func (r *Reader) statsFallbackLocked() types.CollectionStats {
	if r.cachedStats != nil {
		return *r.cachedStats
	}
	return types.CollectionStats{
		TotalSupply: 0,
		MaxSupply:   fallbackMaxSupply,
		PriceETH:    fallbackPriceETH,
	}
}

// WalletOfOwner returns the token ids held by an address, decoded from the
// dynamic-array return of walletOfOwner(address).
func (r *Reader) WalletOfOwner(ctx context.Context, owner common.Address) ([]*big.Int, error) {
	data, err := EncodeCall(FnWalletOfOwner, PadAddress(owner))
	if err != nil {
		return nil, err
	}
	results, err := r.BatchCall(ctx, []Call{{ID: 1, To: r.contract, Data: data}})
	if err != nil {
		return nil, err
	}
	item := results[1]
	if item.Err != nil {
		return nil, item.Err
	}
	return DecodeUintArray(item.Result)
}

// BalanceOf returns the token count held by an address.
func (r *Reader) BalanceOf(ctx context.Context, owner common.Address) (int64, error) {
	data, err := EncodeCall(FnBalanceOf, PadAddress(owner))
	if err != nil {
		return 0, err
	}
	results, err := r.BatchCall(ctx, []Call{{ID: 1, To: r.contract, Data: data}})
	if err != nil {
		return 0, err
	}
	item := results[1]
	if item.Err != nil {
		return 0, item.Err
	}
	v, err := DecodeUint(item.Result)
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// USDCAllowance returns the USDC allowance an owner granted a spender,
// converted to whole USDC.
func (r *Reader) USDCAllowance(ctx context.Context, owner, spender common.Address) (float64, error) {
	data, err := EncodeCall(FnAllowance, PadAddress(owner), PadAddress(spender))
	if err != nil {
		return 0, err
	}
	results, err := r.BatchCall(ctx, []Call{{ID: 1, To: r.usdc, Data: data}})
	if err != nil {
		return 0, err
	}
	item := results[1]
	if item.Err != nil {
		return 0, item.Err
	}
	v, err := DecodeUint(item.Result)
	if err != nil {
		return 0, err
	}
	return FnAllowance.ResultUnit().ToFloat(v), nil
}
