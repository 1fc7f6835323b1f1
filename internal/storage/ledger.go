package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	svcerrors "github.com/phunks-mini/internal/errors"
	"github.com/phunks-mini/internal/logging"
	"github.com/phunks-mini/internal/types"
)

// Key layout. User keys embed the lowercased address.
const (
	totalMintedKey = "total_minted"
	leaderboardKey = "leaderboard"
)

func userDataKey(address string) string     { return "user:" + address + ":data" }
func userSettingsKey(address string) string { return "user:" + address + ":settings" }
func userTokensKey(address string) string   { return "user:" + address + ":tokens" }
func tokenKey(id string) string             { return "token:" + id }

// Check-in tuning. A check-in is allowed once per cooldown window; missing
// more than streakResetAfter since the last one resets the streak.
const (
	checkInCooldown  = 24 * time.Hour
	streakResetAfter = 48 * time.Hour
	checkInXP        = 50
	shareXP          = 1
	animatedWeight   = 4
)

// MaxMintQuantity bounds one mint call.
const MaxMintQuantity = 20

// ProfileFetcher resolves the Farcaster profile attached to an address.
// Implementations return (nil, nil) when the address has no profile.
type ProfileFetcher interface {
	ProfileByAddress(ctx context.Context, address string) (*types.FarcasterProfile, error)
}

// CheckInResult reports a check-in attempt. A cooldown rejection is a
// business outcome, not an error: Success is false and Message carries
// the user-facing text.
type CheckInResult struct {
	Success bool             `json:"success"`
	Record  types.UserRecord `json:"record"`
	Message string           `json:"message,omitempty"`
}

// RewardResult reports a share reward grant.
type RewardResult struct {
	Success bool             `json:"success"`
	XPAdded int64            `json:"xpAdded"`
	Record  types.UserRecord `json:"record"`
}

// Ledger owns the user reward state, the minted-token records and the
// leaderboard, all persisted in the KV store.
//
// KV degradation policy: reads fall back to safe defaults (zero record,
// empty list) and log; writes outside of minting log and no-op. Minting
// is the exception: a mid-batch failure is surfaced so the caller knows
// the batch is incomplete.
type Ledger struct {
	kv       KV
	logger   *logging.Logger
	profiles ProfileFetcher
	nowFn    func() time.Time
}

// NewLedger creates a ledger. profiles may be nil, in which case check-ins
// skip Farcaster enrichment.
func NewLedger(kv KV, logger *logging.Logger, profiles ProfileFetcher) *Ledger {
	return &Ledger{
		kv:       kv,
		logger:   logger,
		profiles: profiles,
		nowFn:    time.Now,
	}
}

// GetUserRecord loads the reward state for an address. Missing or corrupt
// records degrade to the zero record.
func (l *Ledger) GetUserRecord(ctx context.Context, address string) types.UserRecord {
	address = types.NormalizeAddress(address)

	raw, found, err := l.kv.Get(ctx, userDataKey(address))
	if err != nil {
		l.logger.WithError(err).WithField("address", address).Warn("Failed to load user record, serving defaults")
		return types.UserRecord{}
	}
	if !found {
		return types.UserRecord{}
	}

	var record types.UserRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		l.logger.WithError(err).WithField("address", address).Warn("Corrupt user record, serving defaults")
		return types.UserRecord{}
	}
	return record
}

// saveUserRecord persists a record; failures are logged and swallowed per
// the degradation policy.
func (l *Ledger) saveUserRecord(ctx context.Context, address string, record types.UserRecord) {
	payload, err := json.Marshal(record)
	if err != nil {
		l.logger.WithError(err).WithField("address", address).Error("Failed to encode user record")
		return
	}
	if err := l.kv.Set(ctx, userDataKey(address), string(payload)); err != nil {
		l.logger.WithError(err).WithField("address", address).Warn("Failed to save user record")
	}
}

// CheckIn performs the daily check-in for an address: enforces the
// cooldown, advances or resets the streak, and grants check-in XP. The
// first successful check-in also attaches the Farcaster profile when a
// fetcher is configured.
//
// Two concurrent check-ins for one address race on read-modify-write;
// last write wins. Accepted: the stake is one 50 XP grant.
func (l *Ledger) CheckIn(ctx context.Context, address string) (CheckInResult, error) {
	if !types.ValidAddress(address) {
		return CheckInResult{}, svcerrors.NewInvalidAddressError(address)
	}
	address = types.NormalizeAddress(address)

	record := l.GetUserRecord(ctx, address)
	now := l.nowFn()
	nowMs := now.UnixMilli()

	if record.LastCheckIn > 0 {
		elapsed := time.Duration(nowMs-record.LastCheckIn) * time.Millisecond
		if elapsed < checkInCooldown {
			hoursLeft := int(math.Ceil((checkInCooldown - elapsed).Hours()))
			return CheckInResult{
				Success: false,
				Record:  record,
				Message: fmt.Sprintf("Already checked in. Come back in %d hours!", hoursLeft),
			}, nil
		}
		if elapsed > streakResetAfter {
			record.Streak = 1
		} else {
			record.Streak++
		}
	} else {
		record.Streak = 1
	}

	record.LastCheckIn = nowMs
	record.XP += checkInXP

	// Enrichment is best effort; a profile lookup failure never blocks
	// the check-in itself.
	if record.Farcaster == nil && l.profiles != nil {
		profile, err := l.profiles.ProfileByAddress(ctx, address)
		if err != nil {
			l.logger.WithError(err).WithField("address", address).Warn("Farcaster profile lookup failed")
		} else if profile != nil {
			record.Farcaster = profile
		}
	}

	l.saveUserRecord(ctx, address, record)
	return CheckInResult{Success: true, Record: record}, nil
}

// RewardShare grants the share reward XP to an address. Not idempotent:
// deduplicating repeat shares is the caller's responsibility.
func (l *Ledger) RewardShare(ctx context.Context, address string) (RewardResult, error) {
	if !types.ValidAddress(address) {
		return RewardResult{}, svcerrors.NewInvalidAddressError(address)
	}
	address = types.NormalizeAddress(address)

	record := l.GetUserRecord(ctx, address)
	record.XP += shareXP

	l.saveUserRecord(ctx, address, record)
	return RewardResult{Success: true, XPAdded: shareXP, Record: record}, nil
}

// GetSettings loads the notification settings for an address, falling back
// to the defaults when none were ever saved.
func (l *Ledger) GetSettings(ctx context.Context, address string) types.UserSettings {
	address = types.NormalizeAddress(address)

	raw, found, err := l.kv.Get(ctx, userSettingsKey(address))
	if err != nil {
		l.logger.WithError(err).WithField("address", address).Warn("Failed to load settings, serving defaults")
		return types.DefaultSettings()
	}
	if !found {
		return types.DefaultSettings()
	}

	var settings types.UserSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		l.logger.WithError(err).WithField("address", address).Warn("Corrupt settings, serving defaults")
		return types.DefaultSettings()
	}
	return settings
}

// SaveSettings stores the notification settings for an address.
func (l *Ledger) SaveSettings(ctx context.Context, address string, settings types.UserSettings) error {
	if !types.ValidAddress(address) {
		return svcerrors.NewInvalidAddressError(address)
	}
	address = types.NormalizeAddress(address)

	payload, err := json.Marshal(settings)
	if err != nil {
		return svcerrors.NewInternalError("failed to encode settings", err)
	}
	if err := l.kv.Set(ctx, userSettingsKey(address), string(payload)); err != nil {
		l.logger.WithError(err).WithField("address", address).Warn("Failed to save settings")
	}
	return nil
}

// Mint records quantity newly minted units for an owner. Each unit takes
// its id from an atomic counter increment, so ids are sequential across
// the collection and contiguous within one call. A failure mid-batch is
// returned along with the units already minted; those are not rolled
// back.
func (l *Ledger) Mint(ctx context.Context, owner string, quantity int) ([]types.MintedToken, error) {
	if !types.ValidAddress(owner) {
		return nil, svcerrors.NewInvalidAddressError(owner)
	}
	if quantity < 1 || quantity > MaxMintQuantity {
		return nil, svcerrors.NewInvalidParameterError("quantity",
			fmt.Sprintf("must be between 1 and %d", MaxMintQuantity))
	}
	owner = types.NormalizeAddress(owner)

	minted := make([]types.MintedToken, 0, quantity)
	for i := 0; i < quantity; i++ {
		seq, err := l.kv.Incr(ctx, totalMintedKey)
		if err != nil {
			return minted, svcerrors.NewStorageError("increment mint counter", err)
		}

		token := types.MintedToken{
			ID:        strconv.FormatInt(seq, 10),
			Owner:     owner,
			Timestamp: l.nowFn().UnixMilli(),
		}
		payload, err := json.Marshal(token)
		if err != nil {
			return minted, svcerrors.NewInternalError("failed to encode token record", err)
		}
		if err := l.kv.Set(ctx, tokenKey(token.ID), string(payload)); err != nil {
			return minted, svcerrors.NewStorageError("save token record", err)
		}
		if err := l.kv.RPush(ctx, userTokensKey(owner), token.ID); err != nil {
			return minted, svcerrors.NewStorageError("append owner token list", err)
		}
		minted = append(minted, token)
	}
	return minted, nil
}

// TotalMinted returns the global mint counter. Missing key and read
// failures both read as zero.
func (l *Ledger) TotalMinted(ctx context.Context) int64 {
	raw, found, err := l.kv.Get(ctx, totalMintedKey)
	if err != nil {
		l.logger.WithError(err).Warn("Failed to read mint counter")
		return 0
	}
	if !found {
		return 0
	}
	total, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		l.logger.WithError(err).WithField("value", raw).Warn("Corrupt mint counter")
		return 0
	}
	return total
}

// GetTokensByOwner returns the minted-token records for an address.
// Token ids whose record is missing or corrupt are skipped, and a list
// read failure degrades to an empty result.
func (l *Ledger) GetTokensByOwner(ctx context.Context, owner string) ([]types.MintedToken, error) {
	if !types.ValidAddress(owner) {
		return nil, svcerrors.NewInvalidAddressError(owner)
	}
	owner = types.NormalizeAddress(owner)

	ids, err := l.kv.LRange(ctx, userTokensKey(owner), 0, -1)
	if err != nil {
		l.logger.WithError(err).WithField("address", owner).Warn("Failed to read owner token list")
		return []types.MintedToken{}, nil
	}

	tokens := make([]types.MintedToken, 0, len(ids))
	for _, id := range ids {
		raw, found, err := l.kv.Get(ctx, tokenKey(id))
		if err != nil {
			l.logger.WithError(err).WithField("tokenId", id).Warn("Failed to read token record, skipping")
			continue
		}
		if !found {
			l.logger.WithField("tokenId", id).Warn("Token id in owner list has no record, skipping")
			continue
		}
		var token types.MintedToken
		if err := json.Unmarshal([]byte(raw), &token); err != nil {
			l.logger.WithError(err).WithField("tokenId", id).Warn("Corrupt token record, skipping")
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// TotalScore computes the leaderboard score for a user: accumulated XP
// plus one point per held token, with animated tokens counted at a
// premium.
func TotalScore(xp int64, nftCount, animatedCount int) float64 {
	return float64(xp) + float64(nftCount) + float64(animatedWeight*animatedCount)
}

// UpdateLeaderboardScore recomputes and stores an address's score from its
// current XP and holdings. A write failure keeps the previous score.
func (l *Ledger) UpdateLeaderboardScore(ctx context.Context, address string, nftCount, animatedCount int) (float64, error) {
	if !types.ValidAddress(address) {
		return 0, svcerrors.NewInvalidAddressError(address)
	}
	address = types.NormalizeAddress(address)

	record := l.GetUserRecord(ctx, address)
	score := TotalScore(record.XP, nftCount, animatedCount)

	if err := l.kv.ZAdd(ctx, leaderboardKey, ZEntry{Member: address, Score: score}); err != nil {
		l.logger.WithError(err).WithField("address", address).Warn("Failed to update leaderboard")
	}
	return score, nil
}

// GetLeaderboard returns the top entries by descending score. The set can
// hold historical mixed-case duplicates of the same address, so it
// overfetches, keeps the best-ranked occurrence of each normalized
// address, and truncates to the limit. A read failure degrades to an
// empty board.
func (l *Ledger) GetLeaderboard(ctx context.Context, limit int) ([]types.LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, svcerrors.NewInvalidParameterError("limit", "must be positive")
	}

	entries, err := l.kv.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit+9))
	if err != nil {
		l.logger.WithError(err).Warn("Failed to read leaderboard")
		return []types.LeaderboardEntry{}, nil
	}

	seen := make(map[string]bool, len(entries))
	out := make([]types.LeaderboardEntry, 0, limit)
	for _, e := range entries {
		address := types.NormalizeAddress(e.Member)
		if seen[address] {
			continue
		}
		seen[address] = true
		out = append(out, types.LeaderboardEntry{Address: address, Score: e.Score})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
