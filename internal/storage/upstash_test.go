package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phunks-mini/internal/config"
	"github.com/phunks-mini/internal/retry"
)

// fakeKVStore answers KV commands the way the command-over-HTTP store
// does, backed by in-memory maps.
type fakeKVStore struct {
	t        *testing.T
	token    string
	strings  map[string]string
	lists    map[string][]string
	zsets    map[string]map[string]float64
	requests int64
}

func newFakeKVStore(t *testing.T) *fakeKVStore {
	return &fakeKVStore{
		t:       t,
		token:   "secret-token",
		strings: map[string]string{},
		lists:   map[string][]string{},
		zsets:   map[string]map[string]float64{},
	}
}

func (f *fakeKVStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.requests, 1)

		require.Equal(f.t, "Bearer "+f.token, r.Header.Get("Authorization"))

		var command []interface{}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&command))
		require.NotEmpty(f.t, command)

		reply := func(result interface{}) {
			json.NewEncoder(w).Encode(map[string]interface{}{"result": result})
		}

		name, _ := command[0].(string)
		switch name {
		case "PING":
			reply("PONG")
		case "GET":
			key := command[1].(string)
			if val, ok := f.strings[key]; ok {
				reply(val)
			} else {
				reply(nil)
			}
		case "SET":
			f.strings[command[1].(string)] = command[2].(string)
			reply("OK")
		case "INCR":
			key := command[1].(string)
			val := int64(0)
			if raw, ok := f.strings[key]; ok {
				json.Unmarshal([]byte(raw), &val)
			}
			val++
			f.strings[key] = jsonNumber(val)
			reply(val)
		case "RPUSH":
			key := command[1].(string)
			for _, v := range command[2:] {
				f.lists[key] = append(f.lists[key], v.(string))
			}
			reply(len(f.lists[key]))
		case "LRANGE":
			key := command[1].(string)
			reply(f.lists[key])
		case "ZADD":
			key := command[1].(string)
			if f.zsets[key] == nil {
				f.zsets[key] = map[string]float64{}
			}
			for i := 2; i+1 < len(command); i += 2 {
				score := command[i].(float64)
				member := command[i+1].(string)
				f.zsets[key][member] = score
			}
			reply(1)
		default:
			json.NewEncoder(w).Encode(map[string]string{"error": "unknown command " + name})
		}
	}
}

func jsonNumber(v int64) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func newTestRESTKV(t *testing.T, url string) *RESTKV {
	t.Helper()
	kv, err := NewRESTKV(&config.RESTKVConfig{
		URL:     url,
		Token:   "secret-token",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	// No backoff in tests.
	kv.retryCfg = &retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return kv
}

func TestRESTKVGetSet(t *testing.T) {
	store := newFakeKVStore(t)
	server := httptest.NewServer(store.handler())
	defer server.Close()

	kv := newTestRESTKV(t, server.URL)
	ctx := context.Background()

	require.NoError(t, kv.Ping(ctx))

	_, found, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Set(ctx, "greeting", "hello"))

	val, found, err := kv.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", val)
}

func TestRESTKVIncr(t *testing.T) {
	store := newFakeKVStore(t)
	server := httptest.NewServer(store.handler())
	defer server.Close()

	kv := newTestRESTKV(t, server.URL)
	ctx := context.Background()

	n, err := kv.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = kv.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRESTKVListOps(t *testing.T) {
	store := newFakeKVStore(t)
	server := httptest.NewServer(store.handler())
	defer server.Close()

	kv := newTestRESTKV(t, server.URL)
	ctx := context.Background()

	require.NoError(t, kv.RPush(ctx, "tokens", "1", "2"))
	require.NoError(t, kv.RPush(ctx, "tokens", "3"))

	vals, err := kv.LRange(ctx, "tokens", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, vals)
}

func TestRESTKVZRevRangeWithScores(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var command []interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&command))
		require.Equal(t, "ZREVRANGE", command[0])
		require.Equal(t, "WITHSCORES", command[len(command)-1])

		// Flat member/score pairs, scores as strings.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []string{"0xaaa", "57", "0xbbb", "1.5"},
		})
	}))
	defer server.Close()

	kv := newTestRESTKV(t, server.URL)

	entries, err := kv.ZRevRangeWithScores(context.Background(), "leaderboard", 0, 9)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ZEntry{Member: "0xaaa", Score: 57}, entries[0])
	assert.Equal(t, ZEntry{Member: "0xbbb", Score: 1.5}, entries[1])
}

func TestRESTKVRetriesTransientFailures(t *testing.T) {
	var attempts int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			http.Error(w, "upstream hiccup", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"result": "PONG"})
	}))
	defer server.Close()

	kv := newTestRESTKV(t, server.URL)

	require.NoError(t, kv.Ping(context.Background()))
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
}

func TestRESTKVCommandErrorNotRetried(t *testing.T) {
	var attempts int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		json.NewEncoder(w).Encode(map[string]string{"error": "WRONGTYPE Operation against a key"})
	}))
	defer server.Close()

	kv := newTestRESTKV(t, server.URL)

	_, err := kv.Incr(context.Background(), "tokens")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WRONGTYPE")
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts))
}

func TestNewRESTKVValidation(t *testing.T) {
	_, err := NewRESTKV(&config.RESTKVConfig{Token: "x"})
	require.Error(t, err)
	_, err = NewRESTKV(&config.RESTKVConfig{URL: "http://kv"})
	require.Error(t, err)
}
