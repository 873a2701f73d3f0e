package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// ErrNoSecret is returned when no signing secret is configured.
var ErrNoSecret = errors.New("status API secret is not configured")

// DefaultTTL is how long a minted token stays valid unless told otherwise.
const DefaultTTL = 24 * time.Hour

// Claims defines the JWT claims structure.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

type contextKey string

// ClaimsKey is the context key for validated claims.
const ClaimsKey = contextKey("opsClaims")

// Issuer mints and validates HS256 tokens for the status API.
type Issuer struct {
	key []byte
	now func() time.Time
}

// NewIssuer creates an Issuer signing with secret.
func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Issuer{key: []byte(secret), now: time.Now}, nil
}

// Generate creates a new JWT for subject that expires after ttl.
func (i *Issuer) Generate(subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := i.now()
	claims := &Claims{
		Scope: "ops",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.key)
}

// Validate parses and validates a JWT string.
func (i *Issuer) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token.
func (i *Issuer) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(tokenStr) == "" {
				http.Error(w, "Missing auth token", http.StatusUnauthorized)
				return
			}

			claims, err := i.Validate(strings.TrimSpace(tokenStr))
			if err != nil {
				log.Debug().Err(err).Msg("Rejected status API token")
				http.Error(w, "Invalid auth token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFrom returns the claims stored by Middleware.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ClaimsKey).(*Claims)
	return c, ok
}
