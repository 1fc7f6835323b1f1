package storage

import (
	"context"
	"encoding/json"
	"time"

	svcerrors "github.com/phunks-mini/internal/errors"
	"github.com/phunks-mini/internal/types"
)

func userRaffleKey(address string) string { return "user:" + address + ":raffle" }

// One free raffle ticket per address per day.
const freeTicketCooldown = 24 * time.Hour

// RaffleUserState is the per-address raffle view: tickets claimed through
// the app and the daily free-ticket claim status.
type RaffleUserState struct {
	Tickets            int   `json:"tickets"`
	FreeTicketClaimed  bool  `json:"freeTicketClaimed"`
	LastClaimTimestamp int64 `json:"lastClaimTimestamp"`
}

// ClaimResult reports a free-ticket claim attempt. Like check-ins, a
// cooldown rejection is a business outcome, not an error.
type ClaimResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type raffleRecord struct {
	Tickets   int   `json:"tickets"`
	LastClaim int64 `json:"lastClaim"`
}

func (l *Ledger) loadRaffleRecord(ctx context.Context, address string) raffleRecord {
	raw, found, err := l.kv.Get(ctx, userRaffleKey(address))
	if err != nil {
		l.logger.WithError(err).WithField("address", address).Warn("Failed to load raffle record, serving defaults")
		return raffleRecord{}
	}
	if !found {
		return raffleRecord{}
	}
	var record raffleRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		l.logger.WithError(err).WithField("address", address).Warn("Corrupt raffle record, serving defaults")
		return raffleRecord{}
	}
	return record
}

// GetRaffleState returns the raffle view for an address. FreeTicketClaimed
// reflects whether the daily claim is still on cooldown.
func (l *Ledger) GetRaffleState(ctx context.Context, address string) (RaffleUserState, error) {
	if !types.ValidAddress(address) {
		return RaffleUserState{}, svcerrors.NewInvalidAddressError(address)
	}
	address = types.NormalizeAddress(address)

	record := l.loadRaffleRecord(ctx, address)
	onCooldown := record.LastClaim > 0 &&
		time.Duration(l.nowFn().UnixMilli()-record.LastClaim)*time.Millisecond < freeTicketCooldown

	return RaffleUserState{
		Tickets:            record.Tickets,
		FreeTicketClaimed:  onCooldown,
		LastClaimTimestamp: record.LastClaim,
	}, nil
}

// ClaimFreeTicket grants the daily free raffle ticket, once per cooldown
// window per address.
func (l *Ledger) ClaimFreeTicket(ctx context.Context, address string) (ClaimResult, error) {
	if !types.ValidAddress(address) {
		return ClaimResult{}, svcerrors.NewInvalidAddressError(address)
	}
	address = types.NormalizeAddress(address)

	record := l.loadRaffleRecord(ctx, address)
	nowMs := l.nowFn().UnixMilli()

	if record.LastClaim > 0 &&
		time.Duration(nowMs-record.LastClaim)*time.Millisecond < freeTicketCooldown {
		return ClaimResult{
			Success:   false,
			Message:   "Free ticket already claimed today. Come back tomorrow!",
			Timestamp: record.LastClaim,
		}, nil
	}

	record.Tickets++
	record.LastClaim = nowMs

	payload, err := json.Marshal(record)
	if err != nil {
		return ClaimResult{}, svcerrors.NewInternalError("failed to encode raffle record", err)
	}
	if err := l.kv.Set(ctx, userRaffleKey(address), string(payload)); err != nil {
		l.logger.WithError(err).WithField("address", address).Warn("Failed to save raffle record")
	}
	return ClaimResult{Success: true, Message: "Ticket Claimed!", Timestamp: nowMs}, nil
}
