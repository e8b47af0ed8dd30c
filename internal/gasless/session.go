/**
 * @description
 * Package gasless issues sponsored-transaction sessions. A session is a signed
 * HS256 token naming the wallet and network a relayer may pay gas for. Issuing
 * never fails on the payment path; only randomness or signing failures surface.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token signing and verification.
 */
package gasless

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ValenciaLim/arcdrop/internal/domain"
	"github.com/ValenciaLim/arcdrop/internal/randid"
)

const (
	issuer     = "arcdrop"
	defaultTTL = 15 * time.Minute
)

var ErrInvalidSession = errors.New("invalid gasless session token")

// Session is a sponsored-gas session handed back to the caller.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Claims are carried in the session token.
type Claims struct {
	WalletID string         `json:"wallet_id"`
	Network  domain.Network `json:"network"`
	jwt.RegisteredClaims
}

// Issuer creates and verifies session tokens.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer builds an issuer. An empty signingKey gets a random per-process key, so tokens
// verify only within this process.
func NewIssuer(signingKey string, ttl time.Duration) (*Issuer, error) {
	key := []byte(signingKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Issuer{key: key, ttl: ttl, now: time.Now}, nil
}

// SessionID formats an id as arc-session-<wallet>-<network>-<suffix>.
func SessionID(walletID string, network domain.Network, suffix string) string {
	return fmt.Sprintf("arc-session-%s-%s-%s", walletID, network, suffix)
}

// BeginSession opens a session for a wallet on a network.
func (i *Issuer) BeginSession(_ context.Context, walletID string, network domain.Network) (*Session, error) {
	suffix, err := randid.String(6, randid.URLAlphabet)
	if err != nil {
		return nil, fmt.Errorf("generate session suffix: %w", err)
	}
	id := SessionID(walletID, network, suffix)
	now := i.now().UTC()
	expires := now.Add(i.ttl)

	claims := Claims{
		WalletID: walletID,
		Network:  network,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    issuer,
			Subject:   walletID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	return &Session{ID: id, Token: token, ExpiresAt: expires}, nil
}

// Verify parses a session token and returns its claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return claims, nil
}
