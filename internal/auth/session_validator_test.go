package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionIssuer        = "ipvault-auth"
	testSessionCookieName    = "app_session"
	testSessionUserID        = "user-123"
	testSessionUserEmail     = "user@example.com"
)

func newTestValidator(t *testing.T, clockNow time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signTestToken(t *testing.T, issuer string, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:    testSessionUserID,
		UserEmail: testSessionUserEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	})
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	claims, err := validator.ValidateToken(signTestToken(t, testSessionIssuer, clockNow.Add(-time.Minute), time.Hour))
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID {
		t.Fatalf("unexpected user id: %s", claims.UserID)
	}
	if claims.UserEmail != testSessionUserEmail {
		t.Fatalf("unexpected email: %s", claims.UserEmail)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	_, err := validator.ValidateToken(signTestToken(t, testSessionIssuer, clockNow.Add(-2*time.Hour), time.Hour))
	if !errors.Is(err, ErrInvalidSessionToken) || !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignIssuer(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	_, err := validator.ValidateToken(signTestToken(t, "someone-else", clockNow, time.Hour))
	if !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestSessionValidatorRejectsBadSignature(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testSessionUserID,
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestSessionValidatorValidateRequestUsesCookie(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	request := httptest.NewRequest(http.MethodGet, "/api/disclosures", nil)
	request.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signTestToken(t, testSessionIssuer, clockNow, time.Hour)})

	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.Subject != testSessionUserID {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
}

func TestSessionValidatorValidateRequestPrefersBearer(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	request := httptest.NewRequest(http.MethodGet, "/api/disclosures", nil)
	request.Header.Set("Authorization", "Bearer "+signTestToken(t, testSessionIssuer, clockNow, time.Hour))
	request.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: "garbage"})

	if _, err := validator.ValidateRequest(request); err != nil {
		t.Fatalf("expected bearer token to be used, got %v", err)
	}
}

func TestSessionValidatorValidateRequestWithoutToken(t *testing.T) {
	validator := newTestValidator(t, time.Now())
	request := httptest.NewRequest(http.MethodGet, "/api/disclosures", nil)
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestSessionValidatorRejectsTokenWithoutExpiry(t *testing.T) {
	validator := newTestValidator(t, time.Now())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:           testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: testSessionIssuer, Subject: testSessionUserID},
	})
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected token without expiry to be rejected, got %v", err)
	}
}

func TestSessionValidatorRejectsTokenWithoutActor(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: testSessionIssuer, ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour))},
	})
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected token without subject to be rejected, got %v", err)
	}
}

func TestNewSessionValidatorRequiresConfiguration(t *testing.T) {
	testCases := []struct {
		name   string
		config SessionValidatorConfig
	}{
		{name: "missing-secret", config: SessionValidatorConfig{Issuer: testSessionIssuer, CookieName: testSessionCookieName}},
		{name: "missing-issuer", config: SessionValidatorConfig{SigningSecret: []byte("s"), CookieName: testSessionCookieName}},
		{name: "missing-cookie", config: SessionValidatorConfig{SigningSecret: []byte("s"), Issuer: testSessionIssuer}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewSessionValidator(testCase.config); !errors.Is(err, ErrValidatorConfig) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}
