package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssuerIssuesSessionTokens(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		TokenTTL:      30 * time.Minute,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("issuer init failed: %v", err)
	}

	token, expiresAt, err := issuer.IssueSessionToken(testSessionUserID, testSessionUserEmail)
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	if !expiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	validator := newTestValidator(t, now.Add(time.Minute))
	claims, err := validator.ValidateToken(token)
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if claims.UserID != testSessionUserID || claims.Subject != testSessionUserID {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.UserEmail != testSessionUserEmail {
		t.Fatalf("unexpected email %q", claims.UserEmail)
	}
}

func TestTokenIssuerRejectsEmptyUser(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("issuer init failed: %v", err)
	}
	if _, _, err := issuer.IssueSessionToken("  ", ""); !errors.Is(err, errMissingSubjectClaim) {
		t.Fatalf("expected missing subject error, got %v", err)
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	testCases := []struct {
		name   string
		config TokenIssuerConfig
		want   error
	}{
		{name: "missing-secret", config: TokenIssuerConfig{Issuer: testSessionIssuer, TokenTTL: time.Minute}, want: errMissingSigningSecret},
		{name: "missing-issuer", config: TokenIssuerConfig{SigningSecret: []byte("s"), TokenTTL: time.Minute}, want: errMissingIssuer},
		{name: "zero-ttl", config: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: testSessionIssuer}, want: errInvalidTTL},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewTokenIssuer(testCase.config); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}
