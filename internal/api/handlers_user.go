package api

import (
	"net/http"
	"strconv"

	"github.com/phunks-mini/internal/logging"
	"github.com/phunks-mini/internal/types"
)

const defaultLeaderboardLimit = 10

// addressRequest is the body shared by the user mutation endpoints. When
// the address is omitted the authenticated user's wallet is used.
type addressRequest struct {
	Address string `json:"address"`
}

// resolveAddress picks the request body address or falls back to the
// authenticated wallet.
func resolveAddress(r *http.Request, bodyAddress string) string {
	if bodyAddress != "" {
		return bodyAddress
	}
	if user := authUser(r); user != nil {
		return user.Address
	}
	return ""
}

// handleGetUserData returns the reward record and settings for an address.
func (s *Server) handleGetUserData(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !types.ValidAddress(address) {
		respondError(w, http.StatusBadRequest, "INVALID_ADDRESS", "Query parameter 'address' must be a 0x-prefixed address", nil)
		return
	}

	record := s.ledger.GetUserRecord(r.Context(), address)
	settings := s.ledger.GetSettings(r.Context(), address)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user":     record,
		"settings": settings,
	})
}

// handleCheckIn performs the daily check-in. A cooldown rejection is a
// business outcome and still responds 200, with success false and a
// user-facing message.
func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}

	result, err := s.ledger.CheckIn(r.Context(), resolveAddress(r, req.Address))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": result.Success,
		"user":    result.Record,
		"message": result.Message,
	})
}

// handleRewardShare grants the share reward.
func (s *Server) handleRewardShare(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}

	result, err := s.ledger.RewardShare(r.Context(), resolveAddress(r, req.Address))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": result.Success,
		"xpAdded": result.XPAdded,
		"user":    result.Record,
	})
}

// handleGetSettings returns the notification settings for an address.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !types.ValidAddress(address) {
		respondError(w, http.StatusBadRequest, "INVALID_ADDRESS", "Query parameter 'address' must be a 0x-prefixed address", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"settings": s.ledger.GetSettings(r.Context(), address),
	})
}

type saveSettingsRequest struct {
	Address  string             `json:"address"`
	Settings types.UserSettings `json:"settings"`
}

// handleSaveSettings stores the notification settings for an address.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req saveSettingsRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}

	address := resolveAddress(r, req.Address)
	if err := s.ledger.SaveSettings(r.Context(), address, req.Settings); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"settings": req.Settings})
}

// handleGetLeaderboard returns the top scores.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Query parameter 'limit' must be between 1 and 100", nil)
			return
		}
		limit = parsed
	}

	entries, err := s.ledger.GetLeaderboard(r.Context(), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

// handleUpdateLeaderboard recomputes an address's score from its current
// XP and on-chain holdings.
func (s *Server) handleUpdateLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}

	address := resolveAddress(r, req.Address)
	if !types.ValidAddress(address) {
		respondError(w, http.StatusBadRequest, "INVALID_ADDRESS", "A wallet address is required", nil)
		return
	}

	nftCount, animatedCount := s.holdingCounts(r, address)

	score, err := s.ledger.UpdateLeaderboardScore(r.Context(), address, nftCount, animatedCount)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"address": types.NormalizeAddress(address),
		"score":   score,
	})
}

// holdingCounts fetches the wallet's token ids and counts how many of the
// held tokens are animated. A chain failure counts the wallet as empty so
// the XP portion of the score still updates.
func (s *Server) holdingCounts(r *http.Request, address string) (int, int) {
	ids, err := s.reader.WalletOfOwner(r.Context(), toCommonAddress(address))
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("Wallet lookup failed, scoring XP only")
		return 0, 0
	}

	tokenIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		tokenIDs = append(tokenIDs, id.String())
	}

	animated := 0
	for _, nft := range s.resolver.ResolveBatch(r.Context(), tokenIDs) {
		if nft.IsAnimated {
			animated++
		}
	}
	return len(tokenIDs), animated
}
