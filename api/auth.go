/*
auth.go - Bearer token authentication

PURPOSE:
  Every engine call takes an explicit Actor. At the HTTP boundary the actor
  comes from an HS256 JWT: "sub" is the user id and "role" the role. The
  middleware puts the Actor on the request context; handlers read it with
  ActorFrom.

TOKENS:
  Issued by IssueToken (used by `reservectl token` and the tests). The
  server never looks the user up again; the directory is only consulted by
  the engine for the requester's location and limits.

SEE ALSO:
  - server.go: Which routes are protected
  - cmd/reservectl: token command
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/reservation-engine/generic"
)

type actorKey struct{}

// Claims is the token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for actor that expires after ttl.
func IssueToken(secret []byte, actor generic.Actor, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now().UTC()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(actor.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates a signed token and returns its actor.
func ParseToken(secret []byte, raw string) (generic.Actor, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return generic.Actor{}, err
	}
	if !tok.Valid {
		return generic.Actor{}, errors.New("invalid token")
	}
	actor := generic.Actor{ID: generic.UserID(claims.Subject), Role: generic.Role(claims.Role)}
	if actor.ID == "" {
		return generic.Actor{}, errors.New("token has no subject")
	}
	if !actor.Role.Valid() || actor.Role == generic.RoleSystem {
		return generic.Actor{}, fmt.Errorf("token has invalid role %q", claims.Role)
	}
	return actor, nil
}

// Authenticate rejects requests without a valid bearer token.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}
			actor, err := ParseToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func WithActor(ctx context.Context, actor generic.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the authenticated actor.
func ActorFrom(ctx context.Context) (generic.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(generic.Actor)
	return a, ok
}
