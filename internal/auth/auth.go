package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrUnauthorized means the request carried no valid session token.
var ErrUnauthorized = errors.New("authentication credentials were not provided or are invalid")

// SessionPrefix namespaces session keys written by the login service.
const SessionPrefix = "session:"

// Resolver maps a token to a user id.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// RedisSessions looks up sessions issued elsewhere.
type RedisSessions struct {
	client *redis.Client
}

// NewRedisSessions wraps client.
func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client}
}

// Resolve returns the user id stored under session:<token>.
func (s *RedisSessions) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	userID, err := s.client.Get(ctx, SessionPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	if userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}

type ctxKey struct{}

// WithUserID stores the authenticated user id on ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFromContext returns the id stored by Middleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// TokenFromHeader accepts "Token <t>" and "Bearer <t>".
func TokenFromHeader(h string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "token", "bearer":
		return strings.TrimSpace(token)
	}
	return ""
}

// Middleware rejects unauthenticated requests. onError writes the response for failures
// so the API keeps a single error format.
func Middleware(res Resolver, onError func(w http.ResponseWriter, r *http.Request, status int, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := res.Resolve(r.Context(), TokenFromHeader(r.Header.Get("Authorization")))
			switch {
			case errors.Is(err, ErrUnauthorized):
				onError(w, r, http.StatusUnauthorized, err)
				return
			case err != nil:
				onError(w, r, http.StatusServiceUnavailable, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
