package api

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/phunks-mini/internal/logging"
	"github.com/phunks-mini/internal/types"
)

// metadataBatchLimit caps one batch request; larger wallets page.
const metadataBatchLimit = 50

func toCommonAddress(address string) common.Address {
	return common.HexToAddress(types.NormalizeAddress(address))
}

func validTokenID(id string) bool {
	if id == "" || len(id) > 10 {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// handleCollectionStats returns supply, max supply and mint price, plus
// the app-side mint counter.
func (s *Server) handleCollectionStats(w http.ResponseWriter, r *http.Request) {
	stats := s.reader.FetchCollectionStats(r.Context())

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"totalSupply": stats.TotalSupply,
		"maxSupply":   stats.MaxSupply,
		"price":       stats.PriceETH,
		"appMinted":   s.ledger.TotalMinted(r.Context()),
	})
}

// handleGetMetadata resolves one token's metadata.
func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !validTokenID(id) {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Token id must be numeric", nil)
		return
	}
	respondJSON(w, http.StatusOK, s.resolver.Resolve(r.Context(), id))
}

// handleGetMetadataBatch resolves a comma-separated id list, preserving
// order.
func (s *Server) handleGetMetadataBatch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Query parameter 'ids' is required", nil)
		return
	}

	ids := strings.Split(raw, ",")
	if len(ids) > metadataBatchLimit {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Too many token ids in one request", map[string]interface{}{
			"limit": metadataBatchLimit,
		})
		return
	}
	for i, id := range ids {
		ids[i] = strings.TrimSpace(id)
		if !validTokenID(ids[i]) {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Token ids must be numeric", nil)
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": s.resolver.ResolveBatch(r.Context(), ids),
	})
}

// handleGetTokens returns the wallet's on-chain holdings with resolved
// metadata.
func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !types.ValidAddress(address) {
		respondError(w, http.StatusBadRequest, "INVALID_ADDRESS", "Path segment must be a 0x-prefixed address", nil)
		return
	}

	ids, err := s.reader.WalletOfOwner(r.Context(), toCommonAddress(address))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	tokenIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		tokenIDs = append(tokenIDs, id.String())
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"address": types.NormalizeAddress(address),
		"tokens":  s.resolver.ResolveBatch(r.Context(), tokenIDs),
	})
}

// handleGetMints returns the tokens this app recorded as minted by an
// address. Unlike /tokens this reflects the mint ledger, not current
// on-chain ownership.
func (s *Server) handleGetMints(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	tokens, err := s.ledger.GetTokensByOwner(r.Context(), address)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"address": types.NormalizeAddress(address),
		"mints":   tokens,
	})
}

type mintRequest struct {
	Address  string `json:"address"`
	Quantity int    `json:"quantity"`
}

// handleMint records newly minted units for an address. Token ids come
// from the global counter; a mid-batch storage failure returns the units
// that did get minted alongside the error.
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	tokens, err := s.ledger.Mint(r.Context(), resolveAddress(r, req.Address), req.Quantity)
	if err != nil {
		if len(tokens) > 0 {
			logging.FromContext(r.Context()).WithError(err).WithField("minted", len(tokens)).Error("Mint batch incomplete")
			respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"success": false,
				"message": "Mint partially recorded",
				"tokens":  tokens,
			})
			return
		}
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tokens":  tokens,
	})
}
