package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcoPoloResearchLab/ipvault/internal/auth"
	"github.com/MarcoPoloResearchLab/ipvault/internal/identity"
)

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubResolver struct {
	user identity.User
	err  error
}

func (s stubResolver) Resolve(auth.SessionClaims) (identity.User, error) {
	return s.user, s.err
}

func newAuthTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/disclosures", http.NoBody)
	request.Header.Set("Authorization", "Bearer some-token")
	ctx.Request = request
	return ctx, recorder
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	ctx, recorder := newAuthTestContext()
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: fmt.Errorf("%w: %w", auth.ErrInvalidSessionToken, jwt.ErrTokenExpired)},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), jwt.ErrTokenExpired) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	ctx, recorder := newAuthTestContext()
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: errors.New("signature mismatch")},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestTreatsJWTExpiryAsInfo(t *testing.T) {
	ctx, _ := newAuthTestContext()
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: jwt.ErrTokenExpired},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if logs.Len() != 1 || logs.All()[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected a single info entry, got %v", logs.All())
	}
}

func TestAuthorizeRequestStoresResolvedUser(t *testing.T) {
	ctx, recorder := newAuthTestContext()
	user := identity.User{ID: "user-1", Email: "user@example.com"}
	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "google:user-1"}},
		resolver: stubResolver{user: user},
		logger:   zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected request to pass, got %d", recorder.Code)
	}
	current, ok := handler.session(ctx).Current()
	if !ok || current != user {
		t.Fatalf("expected resolved user in context, got %+v", current)
	}
}

func TestAuthorizeRequestRejectsUnresolvableIdentity(t *testing.T) {
	ctx, recorder := newAuthTestContext()
	handler := &httpHandler{
		sessions: stubSessionValidator{},
		resolver: stubResolver{err: identity.ErrInvalidIdentity},
		logger:   zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
	if !ctx.IsAborted() {
		t.Fatalf("expected the chain to be aborted")
	}
}
