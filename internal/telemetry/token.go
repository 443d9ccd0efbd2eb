package telemetry

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer credential for API calls. Refresh is
// called after an auth rejection (or a pre-flight expiry check) and
// should return a fresh token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token and cannot refresh past it.
// Useful for tests and short-lived tooling.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error)   { return string(s), nil }
func (s StaticTokenSource) Refresh(ctx context.Context) (string, error) { return string(s), nil }

// FileTokenSource reads the token from a file on every refresh. A
// sidecar (the OIDC session holder) keeps the file current; this
// process just re-reads it.
type FileTokenSource struct {
	Path string

	mu     sync.Mutex
	cached string
}

func (f *FileTokenSource) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != "" {
		return f.cached, nil
	}
	return f.readLocked()
}

func (f *FileTokenSource) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *FileTokenSource) readLocked() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	f.cached = strings.TrimSpace(string(data))
	return f.cached, nil
}

// tokenExpiryLeeway refreshes tokens slightly before their exp claim so
// a request does not race the cutoff.
const tokenExpiryLeeway = 30 * time.Second

// tokenExpired reports whether a JWT is past (or within leeway of) its
// expiry. Claims are read without signature verification; the remote
// API is the authority, this check only avoids burning a request on a
// token that cannot succeed. Tokens that do not parse as JWTs are left
// for the server to judge.
func tokenExpired(token string, now time.Time) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now.Add(tokenExpiryLeeway))
}
