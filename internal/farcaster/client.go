// Package farcaster looks up the Farcaster profile attached to a wallet
// address through the Neynar API.
package farcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/phunks-mini/internal/config"
	svcerrors "github.com/phunks-mini/internal/errors"
	"github.com/phunks-mini/internal/logging"
	"github.com/phunks-mini/internal/types"
)

// profileCacheTTL bounds how long lookups, including misses, are reused.
const profileCacheTTL = 15 * time.Minute

type cacheEntry struct {
	profile   *types.FarcasterProfile // nil = address has no profile
	fetchedAt time.Time
}

// Client resolves wallet addresses to Farcaster profiles with a small
// in-process cache. Negative results are cached too: most addresses have
// no profile and asking again every check-in would waste the API quota.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	nowFn func() time.Time
}

// NewClient creates a Neynar-backed profile client.
func NewClient(cfg *config.FarcasterConfig, logger *logging.Logger) *Client {
	return &Client{
		apiURL:     strings.TrimRight(cfg.NeynarAPIURL, "/"),
		apiKey:     cfg.NeynarAPIKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		cache:      make(map[string]cacheEntry),
		nowFn:      time.Now,
	}
}

// neynarUser is the subset of the bulk-by-address response we keep.
type neynarUser struct {
	FID      int64  `json:"fid"`
	Username string `json:"username"`
	PfpURL   string `json:"pfp_url"`
}

// ProfileByAddress returns the profile registered for an address, or
// (nil, nil) when there is none.
func (c *Client) ProfileByAddress(ctx context.Context, address string) (*types.FarcasterProfile, error) {
	if c.apiKey == "" {
		return nil, nil
	}
	address = types.NormalizeAddress(address)

	c.mu.Lock()
	if entry, ok := c.cache[address]; ok && c.nowFn().Sub(entry.fetchedAt) < profileCacheTTL {
		c.mu.Unlock()
		return entry.profile, nil
	}
	c.mu.Unlock()

	profile, err := c.fetch(ctx, address)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[address] = cacheEntry{profile: profile, fetchedAt: c.nowFn()}
	c.mu.Unlock()
	return profile, nil
}

func (c *Client) fetch(ctx context.Context, address string) (*types.FarcasterProfile, error) {
	endpoint := fmt.Sprintf("%s/farcaster/user/bulk-by-address?addresses=%s",
		c.apiURL, url.QueryEscape(address))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, svcerrors.NewProviderError("neynar", err)
	}
	defer resp.Body.Close()

	// 404 means no profile for this address, which is a valid answer.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, svcerrors.NewProviderError("neynar",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, svcerrors.NewProviderError("neynar", err)
	}

	// The response maps each queried address to its user list.
	var byAddress map[string][]neynarUser
	if err := json.Unmarshal(body, &byAddress); err != nil {
		return nil, svcerrors.NewProviderError("neynar",
			fmt.Errorf("invalid response: %w", err))
	}

	users := byAddress[address]
	if len(users) == 0 {
		// Keys can come back checksummed; fall back to a scan.
		for key, list := range byAddress {
			if types.NormalizeAddress(key) == address {
				users = list
				break
			}
		}
	}
	if len(users) == 0 {
		return nil, nil
	}

	user := users[0]
	return &types.FarcasterProfile{
		Username: user.Username,
		FID:      user.FID,
		PfpURL:   user.PfpURL,
	}, nil
}
