package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type callerKey struct{}

// CallerFromContext returns the authenticated user id, or "" when the
// request carried no valid bearer token.
func CallerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// WithCaller returns a context carrying the authenticated user id.
func WithCaller(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey{}, userID)
}

// Authenticator verifies HS256 bearer tokens. The token subject is the user id.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an Authenticator. An empty secret disables
// verification and every caller is anonymous.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Verify parses token and returns its subject.
func (a *Authenticator) Verify(token string) (string, error) {
	if len(a.secret) == 0 {
		return "", eris.New("api: auth not configured")
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", eris.Wrap(err, "api: parse token")
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", eris.New("api: token has no subject")
	}
	return sub, nil
}

// Sign issues a token for userID valid for ttl.
func (a *Authenticator) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	s, err := tok.SignedString(a.secret)
	if err != nil {
		return "", eris.Wrap(err, "api: sign token")
	}
	return s, nil
}

// Middleware attaches the caller to the request context. Auth is optional:
// a missing or invalid token leaves the caller anonymous and ownership
// checks downstream decide between 401 and 403.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) {
			next.ServeHTTP(w, r)
			return
		}
		sub, err := a.Verify(strings.TrimSpace(header[len(prefix):]))
		if err != nil {
			zap.L().Debug("api: rejected bearer token", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), sub)))
	})
}
