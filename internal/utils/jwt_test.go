package utils

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func init() {
	SetJWTSecret("test-secret-key-for-testing")
}

func TestParseToken_RoundTrip(t *testing.T) {
	token, err := GenerateToken(42, "alice", "user", 1)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" || claims.Role != "user" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if claims.Subject != strconv.Itoa(42) {
		t.Errorf("Subject = %q, expected %q", claims.Subject, "42")
	}
	if claims.Issuer != tokenIssuer {
		t.Errorf("Issuer = %q, expected %q", claims.Issuer, tokenIssuer)
	}

	diff := claims.ExpiresAt.Time.Sub(time.Now().Add(time.Hour))
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiration time is off by more than 1 minute: %v", diff)
	}
}

func TestGenerateToken_UniqueIDs(t *testing.T) {
	a, _ := GenerateToken(1, "user", "user", 1)
	b, _ := GenerateToken(1, "user", "user", 1)
	ca, _ := ParseToken(a)
	cb, _ := ParseToken(b)
	if ca.ID == "" || ca.ID == cb.ID {
		t.Errorf("tokens for the same user should carry distinct ids, got %q and %q", ca.ID, cb.ID)
	}
}

func signed(t *testing.T, claims Claims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestParseToken_Errors(t *testing.T) {
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
	foreign := valid
	foreign.Issuer = "someone-else"

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrTokenInvalid},
		{"garbage", "not.a.token", ErrTokenInvalid},
		{"expired", signed(t, Claims{UserID: 1, RegisteredClaims: expired}, "test-secret-key-for-testing"), ErrTokenExpired},
		{"wrong secret", signed(t, Claims{UserID: 1, RegisteredClaims: valid}, "other-secret"), ErrTokenInvalid},
		{"wrong issuer", signed(t, Claims{UserID: 1, RegisteredClaims: foreign}, "test-secret-key-for-testing"), ErrTokenInvalid},
		{"no user", signed(t, Claims{RegisteredClaims: valid}, "test-secret-key-for-testing"), ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseToken() error = %v, expected %v", err, tt.want)
			}
		})
	}
}
