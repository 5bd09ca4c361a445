package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const ctxCallerKey contextKey = "caller"

// Caller is the authenticated identity attached to a request: the person and,
// when they act on behalf of a team, the team.
type Caller struct {
	PersonID uuid.UUID
	TeamID   *uuid.UUID
}

// Identity authenticates requests by validating the Bearer JWT (HS256) and
// setting the caller into request context. Claims: sub = person id, team_id
// optional.
func Identity(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			caller, err := parseCaller(raw, secret)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// CallerFromCtx returns the authenticated caller or nil.
func CallerFromCtx(ctx context.Context) *Caller {
	c, _ := ctx.Value(ctxCallerKey).(*Caller)
	return c
}

// WithCaller returns a context carrying the given caller.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, ctxCallerKey, c)
}

func parseCaller(raw string, secret []byte) (*Caller, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return nil, err
	}
	personID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("subject is not a uuid: %w", err)
	}

	caller := &Caller{PersonID: personID}
	if raw, ok := claims["team_id"].(string); ok && raw != "" {
		teamID, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("team_id is not a uuid: %w", err)
		}
		caller.TeamID = &teamID
	}
	return caller, nil
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
