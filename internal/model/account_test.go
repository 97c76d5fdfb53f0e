package model

import (
	"testing"

	"github.com/google/uuid"
)

func TestOpenAccountRequest_Validate(t *testing.T) {
	owner := uuid.New()

	tests := []struct {
		name    string
		request OpenAccountRequest
		wantErr error
	}{
		{
			name:    "valid savings account",
			request: OpenAccountRequest{OwnerID: owner, Product: "savings", Currency: "KES"},
			wantErr: nil,
		},
		{
			name:    "valid current account",
			request: OpenAccountRequest{OwnerID: owner, Product: "current", Currency: "UGX"},
			wantErr: nil,
		},
		{
			name:    "missing owner",
			request: OpenAccountRequest{OwnerID: uuid.Nil, Product: "savings", Currency: "KES"},
			wantErr: ErrInvalidOwner,
		},
		{
			name:    "empty product",
			request: OpenAccountRequest{OwnerID: owner, Product: "", Currency: "KES"},
			wantErr: ErrUnknownProduct,
		},
		{
			name:    "currency too short",
			request: OpenAccountRequest{OwnerID: owner, Product: "savings", Currency: "KE"},
			wantErr: ErrInvalidCurrency,
		},
		{
			name:    "currency too long",
			request: OpenAccountRequest{OwnerID: owner, Product: "savings", Currency: "KESS"},
			wantErr: ErrInvalidCurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if err != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAccount_AvailableBalance(t *testing.T) {
	a := Account{Balance: 50000, BlockedAmount: 20000}
	if got := a.AvailableBalance(); got != 30000 {
		t.Errorf("AvailableBalance() = %d, want 30000", got)
	}
}

func TestAccount_CanPost(t *testing.T) {
	tests := []struct {
		status AccountStatus
		admin  bool
		want   bool
	}{
		{AccountStatusActive, false, true},
		{AccountStatusActive, true, true},
		{AccountStatusFrozen, false, false},
		{AccountStatusFrozen, true, true},
		{AccountStatusPending, true, false},
		{AccountStatusClosed, true, false},
		{AccountStatusSuspended, false, false},
	}

	for _, tt := range tests {
		a := Account{Status: tt.status}
		if got := a.CanPost(tt.admin); got != tt.want {
			t.Errorf("CanPost(%s, admin=%v) = %v, want %v", tt.status, tt.admin, got, tt.want)
		}
	}
}

func TestAccountStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to AccountStatus
		want     bool
	}{
		{AccountStatusPending, AccountStatusActive, true},
		{AccountStatusActive, AccountStatusFrozen, true},
		{AccountStatusFrozen, AccountStatusActive, true},
		{AccountStatusActive, AccountStatusClosed, true},
		{AccountStatusClosed, AccountStatusActive, false},
		{AccountStatusPending, AccountStatusFrozen, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestAccountStatus_Constants(t *testing.T) {
	if AccountStatusActive != "active" {
		t.Errorf("AccountStatusActive = %v, want active", AccountStatusActive)
	}
	if AccountStatusFrozen != "frozen" {
		t.Errorf("AccountStatusFrozen = %v, want frozen", AccountStatusFrozen)
	}
	if AccountStatusClosed != "closed" {
		t.Errorf("AccountStatusClosed = %v, want closed", AccountStatusClosed)
	}
}
