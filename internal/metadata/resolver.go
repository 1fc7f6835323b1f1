// Package metadata resolves token metadata through a chain of sources:
// a local directory, the pinned IPFS gateways, the collection API, and
// finally a generated placeholder.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/phunks-mini/internal/config"
	"github.com/phunks-mini/internal/logging"
	"github.com/phunks-mini/internal/types"
)

// ipfsRewriteBase is where ipfs:// image URIs are made fetchable.
const ipfsRewriteBase = "https://ipfs.io/ipfs/"

// rawMetadata is the on-disk and on-gateway metadata shape. The collection
// API uses the same shape plus an imageArweave mirror.
type rawMetadata struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Image        string            `json:"image"`
	ImageArweave string            `json:"imageArweave"`
	Attributes   []types.Attribute `json:"attributes"`
}

// Resolver fetches and caches token metadata. Resolution never fails: when
// every source is exhausted a placeholder record is returned and cached.
type Resolver struct {
	localDir        string
	gateways        []string
	collectionAPI   string
	placeholderBase string
	backoff         time.Duration
	batchSize       int

	httpClient *http.Client
	logger     *logging.Logger

	mu    sync.Mutex
	cache map[string]types.NFT
}

// NewResolver creates a metadata resolver from configuration.
func NewResolver(cfg *config.MetadataConfig, logger *logging.Logger) *Resolver {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Resolver{
		localDir:        cfg.LocalDir,
		gateways:        cfg.Gateways,
		collectionAPI:   strings.TrimRight(cfg.CollectionAPI, "/"),
		placeholderBase: strings.TrimRight(cfg.PlaceholderBase, "/"),
		backoff:         cfg.GatewayBackoff,
		batchSize:       batchSize,
		httpClient:      &http.Client{Timeout: cfg.GatewayTimeout},
		logger:          logger,
		cache:           make(map[string]types.NFT),
	}
}

// Resolve returns the metadata for one token id, walking the source chain
// on a cache miss. The result, placeholder included, is memoized.
func (r *Resolver) Resolve(ctx context.Context, id string) types.NFT {
	r.mu.Lock()
	if nft, ok := r.cache[id]; ok {
		r.mu.Unlock()
		return nft
	}
	r.mu.Unlock()

	nft := r.resolve(ctx, id)

	r.mu.Lock()
	r.cache[id] = nft
	r.mu.Unlock()
	return nft
}

func (r *Resolver) resolve(ctx context.Context, id string) types.NFT {
	if raw, ok := r.fromLocal(id); ok {
		return r.build(id, raw)
	}

	for i, gateway := range r.gateways {
		if i > 0 && r.backoff > 0 {
			select {
			case <-time.After(r.backoff):
			case <-ctx.Done():
				return r.placeholder(id)
			}
		}
		url := fmt.Sprintf("%s/%s.json", strings.TrimRight(gateway, "/"), id)
		raw, err := r.fetch(ctx, url)
		if err != nil {
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"tokenId": id, "gateway": gateway,
			}).Warn("Gateway fetch failed")
			continue
		}
		return r.build(id, raw)
	}

	if raw, err := r.fetch(ctx, fmt.Sprintf("%s/%s", r.collectionAPI, id)); err == nil {
		// The collection API mirrors images on Arweave; prefer that copy
		// since the IPFS gateways just failed.
		if raw.ImageArweave != "" {
			raw.Image = raw.ImageArweave
		}
		return r.build(id, raw)
	} else {
		r.logger.WithError(err).WithField("tokenId", id).Warn("Collection API fetch failed")
	}

	return r.placeholder(id)
}

// fromLocal reads <localDir>/<id>.json when the directory is configured.
func (r *Resolver) fromLocal(id string) (rawMetadata, bool) {
	if r.localDir == "" {
		return rawMetadata{}, false
	}
	data, err := os.ReadFile(filepath.Join(r.localDir, id+".json"))
	if err != nil {
		return rawMetadata{}, false
	}
	var raw rawMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		r.logger.WithError(err).WithField("tokenId", id).Warn("Corrupt local metadata file")
		return rawMetadata{}, false
	}
	return raw, true
}

func (r *Resolver) fetch(ctx context.Context, url string) (rawMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return rawMetadata{}, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return rawMetadata{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rawMetadata{}, fmt.Errorf("metadata: unexpected status %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawMetadata{}, err
	}
	var raw rawMetadata
	if err := json.Unmarshal(body, &raw); err != nil {
		return rawMetadata{}, fmt.Errorf("metadata: invalid JSON from %s: %w", url, err)
	}
	return raw, nil
}

// build turns raw metadata into the resolved record, rewriting ipfs://
// image URIs and deriving the animated flag from the trait list.
func (r *Resolver) build(id string, raw rawMetadata) types.NFT {
	image := raw.Image
	if strings.HasPrefix(image, "ipfs://") {
		image = ipfsRewriteBase + strings.TrimPrefix(image, "ipfs://")
	}
	name := raw.Name
	if name == "" {
		name = fmt.Sprintf("Phunk #%s", id)
	}
	return types.NFT{
		ID:          id,
		Name:        name,
		Image:       image,
		Description: raw.Description,
		Attributes:  raw.Attributes,
		IsAnimated:  types.ComputeAnimated(raw.Attributes),
	}
}

func (r *Resolver) placeholder(id string) types.NFT {
	return types.NFT{
		ID:    id,
		Name:  fmt.Sprintf("Phunk #%s", id),
		Image: fmt.Sprintf("%s/%s.webp", r.placeholderBase, id),
	}
}

// ResolveBatch resolves many ids with bounded concurrency. The result has
// exactly one slot per input id, in input order.
func (r *Resolver) ResolveBatch(ctx context.Context, ids []string) []types.NFT {
	out := make([]types.NFT, len(ids))
	sem := make(chan struct{}, r.batchSize)
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out[i] = r.Resolve(ctx, id)
		}(i, id)
	}
	wg.Wait()
	return out
}
