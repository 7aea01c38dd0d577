// internal/auth/auth.go
// Bearer-token authentication. A request is resolved to a username here,
// before the hub ever sees the connection; the hub itself never authenticates.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cardroom/switchboard/internal/logger"
	"github.com/cardroom/switchboard/internal/util"
)

type ctxKey int

const usernameKey ctxKey = 0

// TokenStore maps bearer tokens to usernames. The table is loaded once at
// startup; rotating tokens means restarting the server.
type TokenStore struct {
	tokens map[string]string
	logger *logger.Logger
}

// NewTokenStore loads the token table from the JSON file at path and
// validates every entry.
func NewTokenStore(path string, logger *logger.Logger) (*TokenStore, error) {
	tokens := make(map[string]string)
	if err := util.LoadJSON(path, &tokens); err != nil {
		return nil, fmt.Errorf("unable to load token table %s: %w", path, err)
	}
	for token, username := range tokens {
		if token == "" {
			return nil, fmt.Errorf("empty token for username %q in token table", username)
		}
		if !ValidUsername(username) {
			return nil, fmt.Errorf("invalid username %q in token table", username)
		}
	}
	if len(tokens) == 0 {
		logger.Warn("Token table is empty, every request will be rejected")
	} else {
		logger.Infof("Loaded %d tokens from %s", len(tokens), path)
	}
	return &TokenStore{tokens: tokens, logger: logger}, nil
}

// Resolve returns the username a token authenticates as.
func (s *TokenStore) Resolve(token string) (string, bool) {
	username, ok := s.tokens[token]
	return username, ok
}

// Middleware rejects requests without a resolvable token and stores the
// resolved username on the request context. The token is taken from the
// Authorization header, or from the token query parameter for WebSocket
// handshakes where browser clients cannot set headers; the header wins when
// both are present.
func (s *TokenStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		username, ok := s.Resolve(token)
		if !ok {
			s.logger.Debugf("Rejected request to %s: invalid or missing token", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid or missing token"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), username)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// WithUsername returns a context carrying the resolved username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

// Username returns the username resolved by the middleware, or empty.
func Username(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

// ValidUsername reports whether the username is 3-20 characters of letters,
// digits and underscore.
func ValidUsername(username string) bool {
	if len(username) < 3 || len(username) > 20 {
		return false
	}
	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '_') {
			return false
		}
	}
	return true
}
