package httpapi

import (
	"context"
	"testing"
	"time"

	"rasoipos/backend/internal/domain"
	"rasoipos/backend/internal/store/memory"
)

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	repo := memory.New()
	err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username:   "legacy",
		Password:   "plaintext-secret",
		Role:       "cashier",
		BusinessID: "main-business",
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	auth := NewAuthManager("test-secret-key", time.Hour, "main-business", repo)

	resp, err := auth.Login(domain.LoginRequest{Username: "legacy", Password: "plaintext-secret"})
	if err != nil {
		t.Fatalf("login with upgraded password failed: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token")
	}

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for _, user := range users {
		if user.Username == "legacy" && !isPasswordHash(user.Password) {
			t.Fatalf("legacy password was not upgraded to a hash")
		}
	}
}

func TestTokenCarriesBusinessClaim(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, "main-business", repo)

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.BusinessID != "main-business" {
		t.Fatalf("expected business claim in login response, got %q", resp.BusinessID)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.BusinessID != "main-business" {
		t.Fatalf("expected business claim in actor, got %q", actor.BusinessID)
	}
	if actor.Role != "admin" {
		t.Fatalf("expected admin role, got %q", actor.Role)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, "main-business", repo)
	other := NewAuthManager("another-secret!!", time.Hour, "main-business", repo)

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	repo := memory.New()
	auth := NewAuthManager("test-secret-key", time.Hour, "main-business", repo)

	cashier, err := auth.CreateCashier(domain.CashierCreateRequest{
		Username: "newcashier",
		Password: "s3cret-pass",
	})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Role != "cashier" || !cashier.Active {
		t.Fatalf("unexpected cashier: %+v", cashier)
	}

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	found := false
	for _, user := range users {
		if user.Username == "newcashier" {
			found = true
			if !isPasswordHash(user.Password) {
				t.Fatalf("stored password is not a bcrypt hash")
			}
			if user.BusinessID != "main-business" {
				t.Fatalf("expected business scope on stored user, got %q", user.BusinessID)
			}
		}
	}
	if !found {
		t.Fatalf("cashier was not persisted")
	}

	if _, err := auth.CreateCashier(domain.CashierCreateRequest{
		Username: "newcashier",
		Password: "another-pass",
	}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
}

func TestCreateCashierValidatesInput(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, "main-business", nil)

	if _, err := auth.CreateCashier(domain.CashierCreateRequest{Username: "ab", Password: "longenough"}); err == nil {
		t.Fatalf("expected short username to be rejected")
	}
	if _, err := auth.CreateCashier(domain.CashierCreateRequest{Username: "goodname", Password: "123"}); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
}
