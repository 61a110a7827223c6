package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"docqa-engine/internal/infra/logging"
)

// ClientIDHeader carries the caller identity when no JWT secret is configured.
const ClientIDHeader = "X-Client-Id"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

type ClientClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Authenticator mints and verifies HS256 client tokens. With an empty secret
// it trusts the X-Client-Id header, which is only suitable for development.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

func (a *Authenticator) Mint(clientID string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(clientID) == "" {
		return "", errors.New("client id required")
	}
	if ttl <= 0 {
		ttl = a.ttl
	}
	now := a.now()
	claims := ClientClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   clientID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Parse(tok string) (string, error) {
	claims := &ClientClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !tkn.Valid || claims.ClientID == "" {
		return "", ErrInvalidToken
	}
	return claims.ClientID, nil
}

// ClientFromRequest resolves the calling client.
func (a *Authenticator) ClientFromRequest(r *http.Request) (string, error) {
	if !a.Enabled() {
		id := strings.TrimSpace(r.Header.Get(ClientIDHeader))
		if id == "" {
			return "", ErrMissingToken
		}
		return id, nil
	}
	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return "", ErrMissingToken
	}
	return a.Parse(strings.TrimSpace(hdr[7:]))
}

// Middleware rejects unauthenticated requests and stores the client id in the
// request context.
func (a *Authenticator) Middleware(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.ClientFromRequest(r)
			if err != nil {
				logging.With(r.Context(), logger).Debug().Err(err).Msg("unauthenticated request")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(logging.WithClientID(r.Context(), id)))
		})
	}
}
