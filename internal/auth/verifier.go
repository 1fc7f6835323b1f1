// Package auth verifies Quick Auth session tokens. Tokens are ES256 JWTs
// signed by the auth server and scoped to this app's domain; signing keys
// are discovered through the server's JWKS document.
package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/phunks-mini/internal/config"
	svcerrors "github.com/phunks-mini/internal/errors"
	"github.com/phunks-mini/internal/logging"
	"github.com/phunks-mini/internal/types"
)

// jwksMinRefreshInterval throttles refetches triggered by unknown key ids
// so a flood of bad tokens cannot hammer the auth server.
const jwksMinRefreshInterval = time.Minute

// VerifiedUser is the identity carried by a valid session token.
type VerifiedUser struct {
	FID     int64
	Address string
}

// Verifier validates session tokens against the auth server's JWKS.
type Verifier struct {
	jwksURL    string
	domain     string
	httpClient *http.Client
	logger     *logging.Logger

	mu        sync.Mutex
	keys      map[string]*ecdsa.PublicKey
	fetchedAt time.Time
}

// NewVerifier creates a token verifier. Keys are fetched lazily on first
// use and refreshed when a token references an unknown key id.
func NewVerifier(cfg *config.AuthConfig, logger *logging.Logger) *Verifier {
	return &Verifier{
		jwksURL:    cfg.JWKSURL,
		domain:     cfg.Domain,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		keys:       make(map[string]*ecdsa.PublicKey),
	}
}

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// refreshKeys fetches the JWKS document and replaces the key cache.
// Callers must hold v.mu.
func (v *Verifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth: JWKS fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: JWKS fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("auth: invalid JWKS document: %w", err)
	}

	keys := make(map[string]*ecdsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "EC" || k.Crv != "P-256" {
			continue
		}
		pub, err := parseECKey(k)
		if err != nil {
			v.logger.WithError(err).WithField("kid", k.Kid).Warn("Skipping unparseable JWKS key")
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("auth: JWKS document contains no usable keys")
	}

	v.keys = keys
	v.fetchedAt = time.Now()
	return nil
}

func parseECKey(k jwksKey) (*ecdsa.PublicKey, error) {
	xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("bad x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("bad y coordinate: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// keyForID returns the key for a kid, refetching the JWKS once when the
// kid is unknown (key rotation).
func (v *Verifier) keyForID(ctx context.Context, kid string) (*ecdsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	if time.Since(v.fetchedAt) < jwksMinRefreshInterval {
		return nil, fmt.Errorf("auth: unknown key id %q", kid)
	}
	if err := v.refreshKeys(ctx); err != nil {
		return nil, err
	}
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("auth: unknown key id %q", kid)
	}
	return key, nil
}

type sessionClaims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Verify validates a session token and returns the authenticated user.
// All failures map to an UNAUTHORIZED service error; the underlying cause
// is logged, not exposed.
func (v *Verifier) Verify(ctx context.Context, token string) (*VerifiedUser, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keyForID(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithAudience(v.domain),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		v.logger.WithError(err).Debug("Token verification failed")
		return nil, svcerrors.NewUnauthorizedError("invalid session token")
	}
	if !parsed.Valid {
		return nil, svcerrors.NewUnauthorizedError("invalid session token")
	}

	fid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || fid <= 0 {
		return nil, svcerrors.NewUnauthorizedError("session token carries no user id")
	}
	if claims.Address != "" && !types.ValidAddress(claims.Address) {
		return nil, svcerrors.NewUnauthorizedError("session token carries a malformed address")
	}

	return &VerifiedUser{
		FID:     fid,
		Address: types.NormalizeAddress(claims.Address),
	}, nil
}
