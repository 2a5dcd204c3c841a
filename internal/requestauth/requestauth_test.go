package requestauth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthorizeRequestAPIKey(t *testing.T) {
	a := New("", map[string]string{"abc123": "user-1"})
	userID, err := a.AuthorizeRequest(context.Background(), "Bearer abc123")
	if err != nil {
		t.Fatalf("AuthorizeRequest() error = %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("expected user-1, got %q", userID)
	}
}

func TestAuthorizeRequestRejectsUnknownAPIKey(t *testing.T) {
	a := New("", map[string]string{"abc123": "user-1"})
	if _, err := a.AuthorizeRequest(context.Background(), "Bearer nope"); err == nil {
		t.Fatal("expected error for unknown api key")
	}
}

func TestAuthorizeRequestJWT(t *testing.T) {
	secret := "top-secret"
	a := New(secret, nil)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	userID, err := a.AuthorizeRequest(context.Background(), "Bearer "+signed)
	if err != nil {
		t.Fatalf("AuthorizeRequest() error = %v", err)
	}
	if userID != "user-42" {
		t.Fatalf("expected user-42, got %q", userID)
	}
}

func TestAuthorizeRequestRejectsMalformedHeader(t *testing.T) {
	a := New("secret", nil)
	if _, err := a.AuthorizeRequest(context.Background(), "Basic dXNlcjpwYXNz"); err == nil {
		t.Fatal("expected error for non-bearer header")
	}
}

func TestAuthorizeRequestRejectsEmptyHeader(t *testing.T) {
	a := New("secret", nil)
	if _, err := a.AuthorizeRequest(context.Background(), ""); err == nil {
		t.Fatal("expected error for missing header")
	}
}
