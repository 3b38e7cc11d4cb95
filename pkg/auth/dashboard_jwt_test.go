package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc.def", "abc.def", false},
		{"bearer   abc ", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		got, err := ExtractToken(tt.header)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ExtractToken(%q) = %q, %v", tt.header, got, err)
		}
	}
}

func TestGenerateAndVerify(t *testing.T) {
	a, err := NewDashboardAuth("secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	token, err := a.GenerateToken("analyst-1", "viewer")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	viewer, err := a.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if viewer.ID != "analyst-1" || viewer.Role != "viewer" {
		t.Errorf("Unexpected viewer %+v", viewer)
	}

	other, _ := NewDashboardAuth("different", time.Hour)
	if _, err := other.VerifyToken(token); err == nil {
		t.Error("Expected token signed with another secret to be rejected")
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	a, _ := NewDashboardAuth("secret", time.Hour)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ViewerID: "x",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    issuer,
		},
	})
	signed, _ := expired.SignedString(a.SecretKey)
	if _, err := a.VerifyToken(signed); err == nil {
		t.Error("Expected expired token to be rejected")
	}

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ViewerID: "x",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			Issuer:    "someone-else",
		},
	})
	signed, _ = foreign.SignedString(a.SecretKey)
	if _, err := a.VerifyToken(signed); err == nil {
		t.Error("Expected token from another issuer to be rejected")
	}
}

func TestNewDashboardAuth_RequiresSecret(t *testing.T) {
	if _, err := NewDashboardAuth("", 0); err == nil {
		t.Error("Expected error for empty secret")
	}
	a, _ := NewDashboardAuth("s", 0)
	if a.TokenExpiry != 12*time.Hour {
		t.Errorf("Expected default expiry 12h, got %v", a.TokenExpiry)
	}
}
