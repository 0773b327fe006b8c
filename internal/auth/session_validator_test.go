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
	testSessionCookieName    = "app_session"
	testSessionIssuer        = "lettuce-auth"
	testSessionUserID        = "184467440737"
)

func newTestValidator(t *testing.T, now time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock: func() time.Time {
			return now
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signClaims(t *testing.T, claims SessionClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestNewSessionValidatorRequiresConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      SessionValidatorConfig
		expected error
	}{
		{name: "secret", cfg: SessionValidatorConfig{Issuer: "i", CookieName: "c"}, expected: ErrMissingSessionSigningKey},
		{name: "issuer", cfg: SessionValidatorConfig{SigningSecret: []byte("s"), CookieName: "c"}, expected: ErrMissingSessionIssuer},
		{name: "cookie", cfg: SessionValidatorConfig{SigningSecret: []byte("s"), Issuer: "i"}, expected: ErrMissingSessionCookieName},
	}
	for _, tc := range tests {
		if _, err := NewSessionValidator(tc.cfg); !errors.Is(err, tc.expected) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.expected, err)
		}
	}
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)

	signed := signClaims(t, SessionClaims{
		UserID:          testSessionUserID,
		UserDisplayName: "Alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testSessionUserID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	}, testSessionSigningSecret)

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.UserID != testSessionUserID || claims.UserDisplayName != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSessionValidatorRejectsBadTokens(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, clockNow)
	valid := jwt.RegisteredClaims{
		Issuer:    testSessionIssuer,
		Subject:   testSessionUserID,
		IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(clockNow.Add(-time.Hour))
	foreign := valid
	foreign.Issuer = "someone-else"

	tests := []struct {
		name     string
		token    string
		expected error
	}{
		{name: "empty", token: " ", expected: ErrMissingSessionToken},
		{name: "expired", token: signClaims(t, SessionClaims{UserID: testSessionUserID, RegisteredClaims: expired}, testSessionSigningSecret), expected: ErrExpiredSessionToken},
		{name: "wrong-secret", token: signClaims(t, SessionClaims{UserID: testSessionUserID, RegisteredClaims: valid}, "other"), expected: ErrInvalidSessionToken},
		{name: "wrong-issuer", token: signClaims(t, SessionClaims{UserID: testSessionUserID, RegisteredClaims: foreign}, testSessionSigningSecret), expected: ErrInvalidSessionToken},
		{name: "missing-user", token: signClaims(t, SessionClaims{RegisteredClaims: valid}, testSessionSigningSecret), expected: ErrMissingSessionSubject},
		{name: "garbage", token: "not-a-jwt", expected: ErrInvalidSessionToken},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := validator.ValidateToken(tc.token); !errors.Is(err, tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, err)
			}
		})
	}
}

func TestSessionValidatorValidateRequest(t *testing.T) {
	validator := newTestValidator(t, time.Now().Add(time.Minute))
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	signed, _, err := issuer.Issue(SessionIdentity{UserID: testSessionUserID})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	cookieRequest := httptest.NewRequest(http.MethodGet, "/api/me", http.NoBody)
	cookieRequest.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})
	if claims, err := validator.ValidateRequest(cookieRequest); err != nil || claims.UserID != testSessionUserID {
		t.Fatalf("expected cookie session to validate, got %+v %v", claims, err)
	}

	bearerRequest := httptest.NewRequest(http.MethodGet, "/api/me", http.NoBody)
	bearerRequest.Header.Set("Authorization", "Bearer "+signed)
	if claims, err := validator.ValidateRequest(bearerRequest); err != nil || claims.UserID != testSessionUserID {
		t.Fatalf("expected bearer session to validate, got %+v %v", claims, err)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/api/me", http.NoBody)
	if _, err := validator.ValidateRequest(anonymous); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestSessionValidatorLeewayToleratesSkew(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	signed := signClaims(t, SessionClaims{
		UserID: testSessionUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			NotBefore: jwt.NewNumericDate(clockNow.Add(10 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	}, testSessionSigningSecret)

	strict := newTestValidator(t, clockNow)
	if _, err := strict.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected not-yet-valid token to be rejected, got %v", err)
	}

	tolerant, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock:         func() time.Time { return clockNow },
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	if _, err := tolerant.ValidateToken(signed); err != nil {
		t.Fatalf("expected leeway to accept skewed token, got %v", err)
	}
}
