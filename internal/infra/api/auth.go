package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskstream/internal/infra/logging"
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

type principalKey struct{}

// Claims identify a task owner; the subject is the owner id.
type Claims struct {
	jwt.RegisteredClaims
}

type AuthManager struct {
	secret     []byte
	cookieName string
}

func NewAuthManager(secret, cookieName string) *AuthManager {
	if cookieName == "" {
		cookieName = "session"
	}
	return &AuthManager{secret: []byte(secret), cookieName: cookieName}
}

// Mint signs a token for ownerID. Used by operators and tests.
func (a *AuthManager) Mint(ownerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) ParseFromRequest(r *http.Request) (*Claims, error) {
	// Authorization: Bearer <jwt>
	if hdr := r.Header.Get("Authorization"); hdr != "" {
		if strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
			return a.parse(strings.TrimSpace(hdr[7:]))
		}
		return nil, errInvalidToken
	}
	if c, err := r.Cookie(a.cookieName); err == nil {
		return a.parse(c.Value)
	}
	return nil, errMissingToken
}

func (a *AuthManager) parse(tok string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid || claims.Subject == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

// Principal attaches the caller's owner id when a token is present. A
// missing token leaves the request anonymous; a bad one is rejected.
func (a *AuthManager) Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.ParseFromRequest(r)
		switch {
		case errors.Is(err, errMissingToken):
			next.ServeHTTP(w, r)
		case err != nil:
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		default:
			ctx := context.WithValue(r.Context(), principalKey{}, claims.Subject)
			ctx = logging.WithOwnerID(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// OwnerFrom returns the authenticated owner id, or "" for anonymous callers.
func OwnerFrom(ctx context.Context) string {
	s, _ := ctx.Value(principalKey{}).(string)
	return s
}
