// Package auth identifies the owner of a screening form from a bearer token.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ownerKey contextKey = "formOwner"

var (
	errMissingHeader  = errors.New("authorization header required")
	errMalformedToken = errors.New("invalid authorization header")
	errEmptyToken     = errors.New("token missing")
	errInvalidToken   = errors.New("invalid token")
	errAudience       = errors.New("invalid audience")
	errNoSubject      = errors.New("missing subject")
)

// Owner returns the form owner stored by Middleware.
func Owner(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	owner, ok := ctx.Value(ownerKey).(string)
	return owner, ok && owner != ""
}

// WithOwner stores owner in ctx.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// Verifier checks HMAC-signed JWTs and extracts their subject.
type Verifier struct {
	secret   []byte
	audience string
}

// NewVerifier builds a verifier. An empty audience accepts any audience.
func NewVerifier(secret, audience string) *Verifier {
	return &Verifier{
		secret:   []byte(strings.TrimSpace(secret)),
		audience: strings.TrimSpace(audience),
	}
}

// Subject validates tokenString and returns its subject claim.
func (v *Verifier) Subject(tokenString string) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("missing JWT secret")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	if v.audience != "" && !containsAudience(claims.Audience, v.audience) {
		return "", errAudience
	}
	if claims.Subject == "" {
		return "", errNoSubject
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject as the form owner.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			unauthorized(c, err)
			return
		}
		owner, err := v.Subject(tokenString)
		if err != nil {
			unauthorized(c, err)
			return
		}

		c.Request = c.Request.WithContext(WithOwner(c.Request.Context(), owner))
		c.Set(string(ownerKey), owner)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMalformedToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

func unauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
