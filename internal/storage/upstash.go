package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/phunks-mini/internal/config"
	"github.com/phunks-mini/internal/retry"
)

// RESTKV implements KV against a command-over-HTTP store: each command is
// POSTed as a JSON array ["GET", "key"] and the reply is {"result": ...}.
type RESTKV struct {
	url        string
	token      string
	httpClient *http.Client
	retryCfg   *retry.Config
}

// NewRESTKV creates a REST-backed KV store.
func NewRESTKV(cfg *config.RESTKVConfig) (*RESTKV, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("storage: KV REST URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("storage: KV REST token is required")
	}
	return &RESTKV{
		url:        cfg.URL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryCfg:   retry.DefaultConfig(),
	}, nil
}

type restResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// transientError marks failures worth retrying (transport, 5xx). Command
// errors from the store are returned as-is without retry.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// do executes one command and returns the raw result payload.
func (r *RESTKV) do(ctx context.Context, command ...interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to marshal command: %w", err)
	}

	// Only transport-level failures are retried. A command error from the
	// store is terminal: it is captured in cmdErr and the attempt reports
	// success so the retry loop stops.
	var result json.RawMessage
	var cmdErr error
	err = retry.Do(ctx, r.retryCfg, func(ctx context.Context, attempt int) error {
		cmdErr = nil
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+r.token)

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return &transientError{err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &transientError{err}
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return &transientError{fmt.Errorf("storage: KV store returned status %d", resp.StatusCode)}
		}

		var parsed restResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			cmdErr = fmt.Errorf("storage: failed to parse KV response: %w", err)
			return nil
		}
		if parsed.Error != "" {
			cmdErr = fmt.Errorf("storage: KV command failed: %s", parsed.Error)
			return nil
		}
		result = parsed.Result
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cmdErr != nil {
		return nil, cmdErr
	}
	return result, nil
}

// Ping issues a PING command.
func (r *RESTKV) Ping(ctx context.Context) error {
	_, err := r.do(ctx, "PING")
	return err
}

// Close is a no-op: the store is stateless HTTP.
func (r *RESTKV) Close() error { return nil }

// Get retrieves a value. A JSON null result means the key is missing.
func (r *RESTKV) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := r.do(ctx, "GET", key)
	if err != nil {
		return "", false, err
	}
	if isNull(raw) {
		return "", false, nil
	}
	var val string
	if err := json.Unmarshal(raw, &val); err != nil {
		return "", false, fmt.Errorf("storage: unexpected GET result %s: %w", raw, err)
	}
	return val, true, nil
}

// Set stores a value without expiry.
func (r *RESTKV) Set(ctx context.Context, key, value string) error {
	_, err := r.do(ctx, "SET", key, value)
	return err
}

// Incr atomically increments a counter and returns the new value.
func (r *RESTKV) Incr(ctx context.Context, key string) (int64, error) {
	raw, err := r.do(ctx, "INCR", key)
	if err != nil {
		return 0, err
	}
	var val int64
	if err := json.Unmarshal(raw, &val); err != nil {
		return 0, fmt.Errorf("storage: unexpected INCR result %s: %w", raw, err)
	}
	return val, nil
}

// RPush appends values to a list.
func (r *RESTKV) RPush(ctx context.Context, key string, values ...string) error {
	command := make([]interface{}, 0, len(values)+2)
	command = append(command, "RPUSH", key)
	for _, v := range values {
		command = append(command, v)
	}
	_, err := r.do(ctx, command...)
	return err
}

// LRange returns a range of list elements.
func (r *RESTKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	raw, err := r.do(ctx, "LRANGE", key, start, stop)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var vals []string
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, fmt.Errorf("storage: unexpected LRANGE result %s: %w", raw, err)
	}
	return vals, nil
}

// ZAdd adds members to a sorted set.
func (r *RESTKV) ZAdd(ctx context.Context, key string, entries ...ZEntry) error {
	command := make([]interface{}, 0, len(entries)*2+2)
	command = append(command, "ZADD", key)
	for _, e := range entries {
		command = append(command, e.Score, e.Member)
	}
	_, err := r.do(ctx, command...)
	return err
}

// ZRevRangeWithScores returns members by descending score. The store
// replies with a flat [member, score, member, score, ...] array where
// scores are strings.
func (r *RESTKV) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZEntry, error) {
	raw, err := r.do(ctx, "ZREVRANGE", key, start, stop, "WITHSCORES")
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var flat []string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("storage: unexpected ZREVRANGE result %s: %w", raw, err)
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("storage: ZREVRANGE WITHSCORES returned odd-length array")
	}
	out := make([]ZEntry, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		score, err := strconv.ParseFloat(flat[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("storage: invalid score %q: %w", flat[i+1], err)
		}
		out = append(out, ZEntry{Member: flat[i], Score: score})
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
