// Package raffle integrates the jackpot provider: round stats, past
// winners and the call data for on-chain ticket purchases.
package raffle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/phunks-mini/internal/chain"
	"github.com/phunks-mini/internal/config"
	svcerrors "github.com/phunks-mini/internal/errors"
	"github.com/phunks-mini/internal/logging"
	"github.com/phunks-mini/internal/types"
)

// statsCacheTTL matches the provider's own refresh cadence.
const statsCacheTTL = 60 * time.Second

// Stats is the active jackpot round as shown to users.
type Stats struct {
	PrizeUSD       float64 `json:"prizeUsd"`
	TicketPriceUSD float64 `json:"ticketPrice"`
	EndTimestamp   int64   `json:"endTimestamp"`
	TicketsSold    int64   `json:"ticketsSold"`
	Mock           bool    `json:"mock,omitempty"`
}

// Winner is one past giveaway winner.
type Winner struct {
	Address  string  `json:"address"`
	PrizeUSD float64 `json:"prizeUsd"`
	Date     string  `json:"date"`
}

// PurchaseCall is a prepared on-chain ticket purchase: the target
// contract and the encoded call data the wallet should sign.
type PurchaseCall struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	ChainID  int    `json:"chainId"`
	ValueUSD string `json:"valueUsd"`
}

// Client talks to the jackpot provider API. Without an API key it serves
// deterministic mock data so the rest of the app stays usable in
// development.
type Client struct {
	apiURL   string
	apiKey   string
	chainID  int
	referral common.Address
	contract string

	httpClient *http.Client
	logger     *logging.Logger

	mu          sync.Mutex
	cachedStats *Stats
	cachedAt    time.Time
	nowFn       func() time.Time
}

// NewClient creates a jackpot provider client.
func NewClient(cfg *config.RaffleConfig, logger *logging.Logger) (*Client, error) {
	if cfg.ContractAddress != "" && !types.ValidAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("raffle: invalid contract address %q", cfg.ContractAddress)
	}
	var referral common.Address
	if cfg.ReferralAddress != "" {
		if !types.ValidAddress(cfg.ReferralAddress) {
			return nil, fmt.Errorf("raffle: invalid referral address %q", cfg.ReferralAddress)
		}
		referral = common.HexToAddress(cfg.ReferralAddress)
	}
	return &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		apiKey:     cfg.APIKey,
		chainID:    cfg.ChainID,
		referral:   referral,
		contract:   cfg.ContractAddress,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		nowFn:      time.Now,
	}, nil
}

// mockStats is what development and provider-outage traffic sees: a
// plausible round ending at the next midnight UTC.
func (c *Client) mockStats() Stats {
	now := c.nowFn().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return Stats{
		PrizeUSD:       50000,
		TicketPriceUSD: 1,
		EndTimestamp:   midnight.UnixMilli(),
		TicketsSold:    0,
		Mock:           true,
	}
}

type providerStats struct {
	PrizeUSD       float64 `json:"prizeUsd"`
	TicketPriceUSD float64 `json:"ticketPrice"`
	EndTimestamp   int64   `json:"endTimestamp"`
	TicketsSold    int64   `json:"ticketsSoldCount"`
}

// ActiveStats returns the active round, cached for a minute. Provider
// failures degrade to mock data, never to an error.
func (c *Client) ActiveStats(ctx context.Context) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedStats != nil && c.nowFn().Sub(c.cachedAt) < statsCacheTTL {
		return *c.cachedStats
	}
	if c.apiKey == "" {
		return c.mockStats()
	}

	var parsed providerStats
	err := c.getJSON(ctx, "/jackpot-round-stats/active", &parsed)
	if err != nil {
		c.logger.WithError(err).Warn("Jackpot stats fetch failed, serving mock data")
		if c.cachedStats != nil {
			return *c.cachedStats
		}
		return c.mockStats()
	}

	stats := Stats{
		PrizeUSD:       parsed.PrizeUSD,
		TicketPriceUSD: parsed.TicketPriceUSD,
		EndTimestamp:   parsed.EndTimestamp,
		TicketsSold:    parsed.TicketsSold,
	}
	c.cachedStats = &stats
	c.cachedAt = c.nowFn()
	return stats
}

type providerWinner struct {
	Address  string  `json:"walletAddress"`
	PrizeUSD float64 `json:"prizeUsd"`
	Date     string  `json:"date"`
}

// DailyWinners returns recent giveaway winners. Failures degrade to an
// empty list.
func (c *Client) DailyWinners(ctx context.Context) []Winner {
	if c.apiKey == "" {
		return []Winner{}
	}

	var parsed []providerWinner
	if err := c.getJSON(ctx, "/giveaways/daily-giveaway-winners", &parsed); err != nil {
		c.logger.WithError(err).Warn("Giveaway winners fetch failed")
		return []Winner{}
	}

	winners := make([]Winner, 0, len(parsed))
	for _, w := range parsed {
		winners = append(winners, Winner{
			Address:  types.NormalizeAddress(w.Address),
			PrizeUSD: w.PrizeUSD,
			Date:     w.Date,
		})
	}
	return winners
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return svcerrors.NewProviderError("megapot", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return svcerrors.NewProviderError("megapot",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return svcerrors.NewProviderError("megapot", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return svcerrors.NewProviderError("megapot",
			fmt.Errorf("invalid response: %w", err))
	}
	return nil
}

// TicketPurchaseCall prepares the on-chain purchase for a recipient. The
// configured referral address rides along on every purchase.
func (c *Client) TicketPurchaseCall(recipient string, valueUSD float64) (*PurchaseCall, error) {
	if c.contract == "" {
		return nil, svcerrors.NewInternalError("raffle contract address not configured", nil)
	}
	if !types.ValidAddress(recipient) {
		return nil, svcerrors.NewInvalidAddressError(recipient)
	}
	if valueUSD <= 0 {
		return nil, svcerrors.NewInvalidParameterError("value", "must be positive")
	}

	data, err := chain.EncodePurchaseTickets(c.referral, valueUSD, common.HexToAddress(recipient))
	if err != nil {
		return nil, svcerrors.NewInternalError("failed to encode ticket purchase", err)
	}
	return &PurchaseCall{
		To:       c.contract,
		Data:     data,
		ChainID:  c.chainID,
		ValueUSD: fmt.Sprintf("%.2f", valueUSD),
	}, nil
}
