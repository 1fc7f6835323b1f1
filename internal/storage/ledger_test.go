package storage

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/phunks-mini/internal/errors"
	"github.com/phunks-mini/internal/logging"
	"github.com/phunks-mini/internal/types"
)

const (
	testAddr  = "0x5872286f932E5b015Ef74B2f9c8723022D1B5e1B"
	testAddr2 = "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045"
)

type stubProfiles struct {
	profile *types.FarcasterProfile
	err     error
	calls   int
}

func (s *stubProfiles) ProfileByAddress(ctx context.Context, address string) (*types.FarcasterProfile, error) {
	s.calls++
	return s.profile, s.err
}

func newTestLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	kv := NewRedisKVFromClient(client)
	return NewLedger(kv, logging.NewLogger(logging.LevelError, logging.FormatText), nil), mr
}

func TestGetUserRecordDefaults(t *testing.T) {
	ledger, mr := newTestLedger(t)
	ctx := context.Background()

	record := ledger.GetUserRecord(ctx, testAddr)
	assert.Equal(t, types.UserRecord{}, record)

	// Corrupt data also degrades to the zero record.
	mr.Set(userDataKey(types.NormalizeAddress(testAddr)), "{not json")
	record = ledger.GetUserRecord(ctx, testAddr)
	assert.Equal(t, types.UserRecord{}, record)
}

func TestCheckInFirstTime(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	now := time.Now()
	ledger.nowFn = func() time.Time { return now }

	result, err := ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Record.Streak)
	assert.Equal(t, int64(50), result.Record.XP)
	assert.Equal(t, now.UnixMilli(), result.Record.LastCheckIn)

	// Persisted under the lowercased address.
	stored := ledger.GetUserRecord(ctx, testAddr)
	assert.Equal(t, result.Record, stored)
}

func TestCheckInCooldown(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	now := time.Now()
	ledger.nowFn = func() time.Time { return now }

	_, err := ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)

	// 10 hours later: still on cooldown, 14 hours remaining. A cooldown
	// rejection is a business outcome, not an error.
	now = now.Add(10 * time.Hour)
	result, err := ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Already checked in. Come back in 14 hours!", result.Message)

	// XP unchanged by the rejected attempt.
	record := ledger.GetUserRecord(ctx, testAddr)
	assert.Equal(t, int64(50), record.XP)
}

func TestCheckInStreakAdvance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	now := time.Now()
	ledger.nowFn = func() time.Time { return now }

	_, err := ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)

	// 30 hours later: within the 48h window, streak advances.
	now = now.Add(30 * time.Hour)
	result, err := ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Record.Streak)
	assert.Equal(t, int64(100), result.Record.XP)
}

func TestCheckInStreakReset(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	now := time.Now()
	ledger.nowFn = func() time.Time { return now }

	_, err := ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)

	now = now.Add(30 * time.Hour)
	_, err = ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)

	// 72 hours gap: streak resets to 1, XP keeps accumulating.
	now = now.Add(72 * time.Hour)
	result, err := ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Record.Streak)
	assert.Equal(t, int64(150), result.Record.XP)
}

func TestCheckInInvalidAddress(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.CheckIn(context.Background(), "not-an-address")
	require.Error(t, err)
	ce, ok := svcerrors.AsCategorized(err)
	require.True(t, ok)
	assert.Equal(t, "INVALID_ADDRESS", ce.Code)
}

func TestCheckInFarcasterEnrichment(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	profiles := &stubProfiles{profile: &types.FarcasterProfile{Username: "degen", FID: 1234}}
	ledger.profiles = profiles

	now := time.Now()
	ledger.nowFn = func() time.Time { return now }

	result, err := ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)
	require.NotNil(t, result.Record.Farcaster)
	assert.Equal(t, "degen", result.Record.Farcaster.Username)
	assert.Equal(t, 1, profiles.calls)

	// Profile already attached: no second lookup.
	now = now.Add(25 * time.Hour)
	_, err = ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, 1, profiles.calls)
}

func TestCheckInProfileLookupFailureIsNonFatal(t *testing.T) {
	ledger, _ := newTestLedger(t)

	ledger.profiles = &stubProfiles{err: assert.AnError}

	result, err := ledger.CheckIn(context.Background(), testAddr)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Nil(t, result.Record.Farcaster)
	assert.Equal(t, int64(50), result.Record.XP)
}

func TestRewardShare(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	result, err := ledger.RewardShare(ctx, testAddr)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(1), result.XPAdded)
	assert.Equal(t, int64(1), result.Record.XP)

	result, err = ledger.RewardShare(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Record.XP)
}

func TestSettingsRoundTrip(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// Never saved: defaults.
	settings := ledger.GetSettings(ctx, testAddr)
	assert.Equal(t, types.DefaultSettings(), settings)

	want := types.UserSettings{NewMints: false, Airdrops: true, Updates: true}
	require.NoError(t, ledger.SaveSettings(ctx, testAddr, want))

	got := ledger.GetSettings(ctx, testAddr)
	assert.Equal(t, want, got)
}

func TestMintAssignsSequentialIDs(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	now := time.Now()
	ledger.nowFn = func() time.Time { return now }

	tokens, err := ledger.Mint(ctx, testAddr, 3)
	require.NoError(t, err)
	require.Len(t, tokens, 3)

	// Ids are contiguous and strictly increasing within one call.
	for i, token := range tokens {
		assert.Equal(t, strconv.Itoa(i+1), token.ID)
		assert.Equal(t, types.NormalizeAddress(testAddr), token.Owner)
		assert.Equal(t, now.UnixMilli(), token.Timestamp)
	}

	// The counter keeps advancing on a second mint.
	tokens, err = ledger.Mint(ctx, testAddr2, 1)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "4", tokens[0].ID)

	assert.Equal(t, int64(4), ledger.TotalMinted(ctx))
}

func TestMintValidation(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Mint(ctx, "bogus", 1)
	require.Error(t, err)

	_, err = ledger.Mint(ctx, testAddr, 0)
	require.Error(t, err)

	_, err = ledger.Mint(ctx, testAddr, MaxMintQuantity+1)
	require.Error(t, err)
}

// flakyKV fails Set calls after a budget is spent, to exercise mid-batch
// failures.
type flakyKV struct {
	KV
	setBudget int
}

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	if f.setBudget <= 0 {
		return assert.AnError
	}
	f.setBudget--
	return f.KV.Set(ctx, key, value)
}

func TestMintPartialFailureKeepsMintedUnits(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// The second token record write fails: the first unit stays minted
	// and the error is surfaced.
	ledger.kv = &flakyKV{KV: ledger.kv, setBudget: 1}

	tokens, err := ledger.Mint(ctx, testAddr, 3)
	require.Error(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "1", tokens[0].ID)

	remaining, err := ledger.GetTokensByOwner(ctx, testAddr)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "1", remaining[0].ID)
}

func TestGetTokensByOwnerSkipsMissing(t *testing.T) {
	ledger, mr := newTestLedger(t)
	ctx := context.Background()

	tokens, err := ledger.Mint(ctx, testAddr, 2)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	// The first token loses its record; the listing still returns the rest.
	mr.Del(tokenKey(tokens[0].ID))

	remaining, err := ledger.GetTokensByOwner(ctx, testAddr)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, tokens[1].ID, remaining[0].ID)
}

func TestTotalMintedMissingKey(t *testing.T) {
	ledger, _ := newTestLedger(t)
	assert.Equal(t, int64(0), ledger.TotalMinted(context.Background()))
}

func TestTotalScore(t *testing.T) {
	assert.Equal(t, float64(0), TotalScore(0, 0, 0))
	// 100 XP, 3 tokens of which 2 animated: 100 + 3 + 8
	assert.Equal(t, float64(111), TotalScore(100, 3, 2))
}

func TestLeaderboard(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)
	_, err = ledger.RewardShare(ctx, testAddr2)
	require.NoError(t, err)

	score, err := ledger.UpdateLeaderboardScore(ctx, testAddr, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(50+3+4), score)

	_, err = ledger.UpdateLeaderboardScore(ctx, testAddr2, 0, 0)
	require.NoError(t, err)

	entries, err := ledger.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.NormalizeAddress(testAddr), entries[0].Address)
	assert.Equal(t, float64(57), entries[0].Score)
	assert.Equal(t, types.NormalizeAddress(testAddr2), entries[1].Address)
	assert.Equal(t, float64(1), entries[1].Score)
}

func TestLeaderboardLastWriteWins(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.CheckIn(ctx, testAddr)
	require.NoError(t, err)

	// 50 XP + 3 tokens + 4 animated premium.
	score, err := ledger.UpdateLeaderboardScore(ctx, testAddr, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(57), score)

	// Holdings gone: the recomputed, lower score replaces the stored one
	// outright. No max-take, no accumulation.
	score, err = ledger.UpdateLeaderboardScore(ctx, testAddr, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(50), score)

	entries, err := ledger.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(50), entries[0].Score)
}

func TestLeaderboardDeduplicatesMixedCase(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// Historical entries stored with mixed casing for the same address.
	require.NoError(t, ledger.kv.ZAdd(ctx, leaderboardKey,
		ZEntry{Member: types.NormalizeAddress(testAddr), Score: 90},
		ZEntry{Member: testAddr, Score: 40},
		ZEntry{Member: types.NormalizeAddress(testAddr2), Score: 60},
	))

	entries, err := ledger.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.NormalizeAddress(testAddr), entries[0].Address)
	assert.Equal(t, float64(90), entries[0].Score)
	assert.Equal(t, types.NormalizeAddress(testAddr2), entries[1].Address)
}

func TestLeaderboardLimit(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		member := types.NormalizeAddress(testAddr[:len(testAddr)-2]) + string(rune('a'+i%6)) + string(rune('0'+i%10))
		require.NoError(t, ledger.kv.ZAdd(ctx, leaderboardKey, ZEntry{Member: member, Score: float64(i)}))
	}

	entries, err := ledger.GetLeaderboard(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
	assert.Equal(t, float64(14), entries[0].Score)

	_, err = ledger.GetLeaderboard(ctx, 0)
	require.Error(t, err)
}

func TestLeaderboardReadFailureDegradesToEmpty(t *testing.T) {
	ledger, mr := newTestLedger(t)
	mr.Close()

	entries, err := ledger.GetLeaderboard(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
