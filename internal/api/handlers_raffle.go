package api

import (
	"net/http"

	"github.com/phunks-mini/internal/types"
)

// handleRaffleStats returns the active jackpot round.
func (s *Server) handleRaffleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.raffle.ActiveStats(r.Context()))
}

// handleRaffleWinners returns recent giveaway winners.
func (s *Server) handleRaffleWinners(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"winners": s.raffle.DailyWinners(r.Context()),
	})
}

// handleRaffleUser returns the per-address raffle state.
func (s *Server) handleRaffleUser(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !types.ValidAddress(address) {
		respondError(w, http.StatusBadRequest, "INVALID_ADDRESS", "Query parameter 'address' must be a 0x-prefixed address", nil)
		return
	}

	state, err := s.ledger.GetRaffleState(r.Context(), address)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// handleRaffleClaim grants the daily free ticket. A cooldown rejection
// responds 200 with success false, like check-ins.
func (s *Server) handleRaffleClaim(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}

	result, err := s.ledger.ClaimFreeTicket(r.Context(), resolveAddress(r, req.Address))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type raffleTicketRequest struct {
	Address  string  `json:"address"`
	ValueUSD float64 `json:"value"`
}

// handleRaffleTicket prepares the on-chain call data for a ticket
// purchase; signing and submission stay in the user's wallet.
func (s *Server) handleRaffleTicket(w http.ResponseWriter, r *http.Request) {
	var req raffleTicketRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
		return
	}

	call, err := s.raffle.TicketPurchaseCall(resolveAddress(r, req.Address), req.ValueUSD)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, call)
}
