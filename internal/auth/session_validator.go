package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// API clients send the session token as a bearer header; the browser app carries it in a cookie.
const bearerPrefix = "Bearer "

var (
	// ErrMissingSessionToken means the request carried neither a bearer header nor the cookie.
	ErrMissingSessionToken = errors.New("auth: session token missing")
	// ErrInvalidSessionToken wraps every rejection of a presented token. Expiry stays detectable
	// through jwt.ErrTokenExpired.
	ErrInvalidSessionToken = errors.New("auth: session token rejected")
	// ErrValidatorConfig reports an unusable SessionValidatorConfig.
	ErrValidatorConfig = errors.New("auth: session validator misconfigured")
)

// SessionClaims is the JWT payload identifying the acting user.
type SessionClaims struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	jwt.RegisteredClaims
}

func (c SessionClaims) hasActor() bool {
	return strings.TrimSpace(c.Subject) != "" || strings.TrimSpace(c.UserID) != ""
}

// SessionValidatorConfig names the secret, issuer and cookie shared with the auth service.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator authenticates requests against HS256 session tokens.
type SessionValidator struct {
	secret     []byte
	cookieName string
	parser     *jwt.Parser
}

func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	cookieName := strings.TrimSpace(cfg.CookieName)
	switch {
	case len(cfg.SigningSecret) == 0:
		return nil, fmt.Errorf("%w: signing secret required", ErrValidatorConfig)
	case issuer == "":
		return nil, fmt.Errorf("%w: issuer required", ErrValidatorConfig)
	case cookieName == "":
		return nil, fmt.Errorf("%w: cookie name required", ErrValidatorConfig)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	}
	if cfg.Clock != nil {
		options = append(options, jwt.WithTimeFunc(cfg.Clock))
	}
	return &SessionValidator{
		secret:     append([]byte(nil), cfg.SigningSecret...),
		cookieName: cookieName,
		parser:     jwt.NewParser(options...),
	}, nil
}

// ValidateToken verifies a raw token and returns its claims.
func (v *SessionValidator) ValidateToken(raw string) (SessionClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}
	var claims SessionClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, v.signingKey); err != nil {
		return SessionClaims{}, fmt.Errorf("%w: %w", ErrInvalidSessionToken, err)
	}
	if !claims.hasActor() {
		return SessionClaims{}, fmt.Errorf("%w: no subject or user id", ErrInvalidSessionToken)
	}
	return claims, nil
}

// ValidateRequest validates the bearer token of r, or the session cookie when there is none.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	raw, ok := v.tokenFrom(r)
	if !ok {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return v.ValidateToken(raw)
}

func (v *SessionValidator) tokenFrom(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimPrefix(header, bearerPrefix), true
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

func (v *SessionValidator) signingKey(*jwt.Token) (any, error) {
	return v.secret, nil
}
