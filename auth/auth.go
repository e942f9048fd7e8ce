// Package auth carries the acting user's identity through a request. The
// session is an HS256 JWT stored in an HttpOnly cookie; Middleware decodes it
// and places the user id in the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/diewo77/go-blog/httpx"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const (
	sessionCookieName = "session"
	userIDCtxKey      = ctxKey("userID")
	issuer            = "go-blog"
)

// LoginPath is where unauthenticated visitors are sent.
const LoginPath = "/login/"

// UserVerifier is an optional callback to validate that a session's user still exists/is allowed.
// Set it during app bootstrap via SetUserVerifier. If nil, no extra verification is performed.
type UserVerifier func(ctx context.Context, uid uint) bool

var (
	mu       sync.RWMutex
	verifier UserVerifier
	secret   []byte
	ttl      = 14 * 24 * time.Hour
)

// ErrInvalidSession is returned by ParseToken for any token that does not verify.
var ErrInvalidSession = errors.New("invalid session")

// SetUserVerifier configures the global verifier used by RequireAuth.
func SetUserVerifier(v UserVerifier) {
	mu.Lock()
	verifier = v
	mu.Unlock()
}

// Configure sets the signing secret and the session lifetime.
// An empty secret falls back to SESSION_SECRET; a non-positive ttl keeps the current one.
func Configure(s string, d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	if s != "" {
		secret = []byte(s)
	}
	if d > 0 {
		ttl = d
	}
}

// Secret returns the configured secret, SESSION_SECRET, or a dev value.
func Secret() []byte {
	mu.RLock()
	s := secret
	mu.RUnlock()
	if len(s) > 0 {
		return s
	}
	if env := os.Getenv("SESSION_SECRET"); env != "" {
		return []byte(env)
	}
	return []byte("devsessionsecret")
}

func sessionTTL() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return ttl
}

// IssueToken signs a session token for userID.
func IssueToken(userID uint, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   strconv.FormatUint(uint64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL())),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(Secret())
}

// ParseToken verifies a session token and returns its user id.
func ParseToken(raw string) (uint, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return Secret(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	id64, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id64 == 0 {
		return 0, ErrInvalidSession
	}
	return uint(id64), nil
}

// CreateSession sets the session cookie for userID.
func CreateSession(w http.ResponseWriter, userID uint) error {
	now := time.Now()
	token, err := IssueToken(userID, now)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  now.Add(sessionTTL()),
	})
	return nil
}

// ClearSession deletes the session cookie.
func ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1, HttpOnly: true, SameSite: http.SameSiteLaxMode})
}

// ParseSession validates the cookie and returns the user id.
func ParseSession(r *http.Request) (uint, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return 0, false
	}
	uid, err := ParseToken(c.Value)
	if err != nil {
		return 0, false
	}
	return uid, true
}

// WithUserID stores user id in context.
func WithUserID(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, userIDCtxKey, userID)
}

// UserIDFromContext extracts user id.
func UserIDFromContext(ctx context.Context) (uint, bool) {
	v := ctx.Value(userIDCtxKey)
	if v == nil {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

// Middleware attaches user id to request context if present.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid, ok := ParseSession(r); ok {
			r = r.WithContext(WithUserID(r.Context(), uid))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth sends anonymous visitors to the login page (HTML) or answers 401 JSON.
// The original path is passed along as ?next= so login can return there.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if ok {
			mu.RLock()
			v := verifier
			mu.RUnlock()
			if v == nil || v(r.Context(), uid) {
				next.ServeHTTP(w, r)
				return
			}
			// Session refers to a non-existing/disabled user.
			ClearSession(w)
		}
		if httpx.WantsJSON(r) {
			httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		http.Redirect(w, r, LoginURL(r.URL.RequestURI()), http.StatusSeeOther)
	})
}

// LoginURL builds the login redirect for next.
func LoginURL(next string) string {
	if next == "" || next == "/" {
		return LoginPath
	}
	return LoginPath + "?next=" + url.QueryEscape(next)
}

// SafeNext returns next when it is a local absolute path, otherwise fallback.
func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return fallback
	}
	return next
}
