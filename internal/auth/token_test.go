package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret", "fjord")
	id := Identity{Subject: uuid.New(), Role: RoleOfficer}

	token, err := v.Sign(id, time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if *got != id {
		t.Errorf("Verify() = %+v, want %+v", *got, id)
	}
}

func TestVerifier_DefaultsToMember(t *testing.T) {
	v := NewVerifier("secret", "")
	token, err := v.Sign(Identity{Subject: uuid.New()}, time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.Role != RoleMember {
		t.Errorf("Role = %q, want member", got.Role)
	}
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret", "fjord")
	subject := uuid.New()

	sign := func(secret string, claims Claims, method jwt.SigningMethod) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("failed to sign: %v", err)
		}
		return s
	}
	valid := func() Claims {
		return Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   subject.String(),
				Issuer:    "fjord",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
			Role: RoleMember,
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	wrongIssuer := valid()
	wrongIssuer.Issuer = "elsewhere"
	badSubject := valid()
	badSubject.Subject = "not-a-uuid"
	badRole := valid()
	badRole.Role = "root"

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"garbage", "not.a.token", ErrInvalidToken},
		{"wrong secret", sign("other", valid(), jwt.SigningMethodHS256), ErrInvalidToken},
		{"wrong algorithm", sign("secret", valid(), jwt.SigningMethodHS512), ErrInvalidToken},
		{"expired", sign("secret", expired, jwt.SigningMethodHS256), ErrInvalidToken},
		{"no expiry", sign("secret", noExpiry, jwt.SigningMethodHS256), ErrInvalidToken},
		{"wrong issuer", sign("secret", wrongIssuer, jwt.SigningMethodHS256), ErrInvalidToken},
		{"bad subject", sign("secret", badSubject, jwt.SigningMethodHS256), ErrInvalidToken},
		{"bad role", sign("secret", badRole, jwt.SigningMethodHS256), ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRole(t *testing.T) {
	tests := []struct {
		role  Role
		valid bool
		staff bool
	}{
		{RoleMember, true, false},
		{RoleOfficer, true, true},
		{RoleAdmin, true, true},
		{"guest", false, false},
	}
	for _, tt := range tests {
		if got := tt.role.Valid(); got != tt.valid {
			t.Errorf("%q.Valid() = %v, want %v", tt.role, got, tt.valid)
		}
		if got := tt.role.Staff(); got != tt.staff {
			t.Errorf("%q.Staff() = %v, want %v", tt.role, got, tt.staff)
		}
	}
}
