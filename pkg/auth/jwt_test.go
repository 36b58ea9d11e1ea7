package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"factory-wgserver/pkg/model"
)

func TestIssueParseRoundTrip(t *testing.T) {
	token, err := Issue(model.User{ID: 7, Username: "ops", Admin: true})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != 7 || claims.Username != "ops" || !claims.Admin {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestAdminFlagCarriedInToken(t *testing.T) {
	token, err := Issue(model.User{ID: 2, Username: "viewer"})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Admin {
		t.Fatal("non-admin account produced an admin token")
	}
}

func TestParseBearer(t *testing.T) {
	token, err := Issue(model.User{ID: 1, Username: "ops", Admin: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseBearer("Bearer " + token); err != nil {
		t.Errorf("valid bearer header rejected: %v", err)
	}
	if _, err := ParseBearer(token); err == nil {
		t.Error("header without Bearer prefix accepted")
	}
	if _, err := ParseBearer(""); err == nil {
		t.Error("empty header accepted")
	}
}

func TestParseRejectsGarbageAndExpired(t *testing.T) {
	if _, err := Parse("not.a.token"); err == nil {
		t.Error("garbage token accepted")
	}

	past := time.Now().Add(-time.Hour)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   1,
		Username: "ops",
		Admin:    true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(past),
			IssuedAt:  jwt.NewNumericDate(past.Add(-time.Minute)),
		},
	}).SignedString(secret())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(expired); err == nil {
		t.Error("expired token accepted")
	}
}
