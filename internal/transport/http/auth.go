package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const studentKey ctxKey = iota

// Authenticator resolves the calling student from a bearer token. Without a
// secret it trusts the X-Student-ID header, which is only meant for local runs.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// IssueToken signs a short-lived token for studentID; used by tests and tooling.
func (a *Authenticator) IssueToken(studentID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   studentID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parse(tokenStr string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a student identity.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var studentID string
		if len(a.secret) == 0 {
			studentID = r.Header.Get("X-Student-ID")
		} else {
			var tokenStr string
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				tokenStr = strings.TrimPrefix(h, "Bearer ")
			} else {
				// Browsers cannot set headers on websocket upgrades.
				tokenStr = r.URL.Query().Get("access_token")
			}
			if tokenStr != "" {
				sub, err := a.parse(tokenStr)
				if err != nil {
					writeErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
					return
				}
				studentID = sub
			}
		}
		if studentID == "" {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "missing student identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), studentKey, studentID)))
	})
}

// StudentID returns the identity stored by Authenticator.Middleware.
func StudentID(ctx context.Context) string {
	id, _ := ctx.Value(studentKey).(string)
	return id
}
