package gateway

import (
	"testing"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	iss := NewTokenIssuer("secret", "butler", time.Minute, time.Hour)
	tok, err := iss.IssueAccessToken("user-1", domain.RoleStaffAgent)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	userID, role, err := iss.VerifyAccessToken(tok)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if userID != "user-1" || role != domain.RoleStaffAgent {
		t.Fatalf("got userID=%q role=%q", userID, role)
	}
}

func TestTokenIssuerRejectsRefreshToken(t *testing.T) {
	iss := NewTokenIssuer("secret", "butler", time.Minute, time.Hour)
	tok, err := iss.IssueRefreshToken("user-1", domain.RoleStaffAdmin)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}

	if _, _, err := iss.VerifyAccessToken(tok); err == nil {
		t.Fatal("expected refresh token to be rejected by VerifyAccessToken")
	}
}

func TestTokenIssuerRejectsExpired(t *testing.T) {
	iss := NewTokenIssuer("secret", "butler", -time.Second, time.Hour)
	tok, err := iss.IssueAccessToken("user-1", domain.RoleStaffAgent)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	if _, _, err := iss.VerifyAccessToken(tok); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestTokenIssuerRejectsWrongSecret(t *testing.T) {
	iss := NewTokenIssuer("secret", "butler", time.Minute, time.Hour)
	tok, err := iss.IssueAccessToken("user-1", domain.RoleStaffAgent)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	other := NewTokenIssuer("different-secret", "butler", time.Minute, time.Hour)
	if _, _, err := other.VerifyAccessToken(tok); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
}

func TestTokenIssuerRejectsGarbage(t *testing.T) {
	iss := NewTokenIssuer("secret", "butler", time.Minute, time.Hour)
	if _, _, err := iss.VerifyAccessToken("not-a-jwt"); err == nil {
		t.Fatal("expected garbage input to be rejected")
	}
}
