package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opensource-finance/sanctiond/internal/domain"
)

// ActorClaims are the bearer token claims. The subject is the actor id.
type ActorClaims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// NewActorToken signs an HS256 token for actor valid for ttl.
func NewActorToken(secret string, actor domain.Actor, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is required")
	}
	now := time.Now()
	claims := ActorClaims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// resolveActor reads the actor from the request. ok is false when the
// request carries no credentials at all.
func resolveActor(r *http.Request, auth domain.AuthConfig) (actor domain.Actor, ok bool, err error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			return actor, false, errors.New("authorization header must use the Bearer scheme")
		}
		actor, err = parseActorToken(auth.JWTSecret, token)
		if err != nil {
			return actor, false, err
		}
		return actor, true, nil
	}

	if !auth.AllowHeaderActors {
		return actor, false, nil
	}

	id := r.Header.Get(ActorIDHeader)
	if id == "" {
		return actor, false, nil
	}
	actor = domain.Actor{ID: id, Role: domain.Role(r.Header.Get(ActorRoleHeader))}
	if !actor.Role.IsUser() {
		return domain.Actor{}, false, fmt.Errorf("invalid actor role %q", actor.Role)
	}
	return actor, true, nil
}

func parseActorToken(secret, raw string) (domain.Actor, error) {
	if secret == "" {
		return domain.Actor{}, errors.New("bearer tokens are not accepted")
	}

	claims := &ActorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return domain.Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	if claims.Subject == "" {
		return domain.Actor{}, errors.New("token has no subject")
	}
	if !claims.Role.IsUser() {
		return domain.Actor{}, fmt.Errorf("invalid actor role %q", claims.Role)
	}
	return domain.Actor{ID: claims.Subject, Role: claims.Role}, nil
}
