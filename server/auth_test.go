/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package server

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthenticator(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewAuthenticator(secret, time.Hour)
	a.now = func() time.Time { return now }

	token, err := a.Issue("to", RoleAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Role != RoleAdmin || claims.Subject != "to" {
		t.Errorf("unexpected claims %+v", claims)
	}

	now = now.Add(2 * time.Hour)
	if _, err := a.Verify(token); !errors.Is(err, ErrInvalidToken) ||
		!errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expected expiry, got %v", err)
	}

	other := NewAuthenticator("other-secret", time.Hour)
	other.now = a.now
	forged, _ := other.Issue("mallory", RoleAdmin)
	if _, err := a.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token signed with another secret accepted")
	}

	// tokens with the none algorithm are never accepted
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := a.Verify(unsigned); err == nil {
		t.Errorf("unsigned token accepted")
	}
}
