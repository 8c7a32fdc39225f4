package auth

import (
	"testing"
)

var testSecret = []byte("test-secret-key")

func TestGenerateAndValidateOperatorJWT(t *testing.T) {
	token, expiresAt, err := GenerateOperatorJWT("op-123", "alice", testSecret)
	if err != nil {
		t.Fatalf("GenerateOperatorJWT returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if expiresAt == 0 {
		t.Error("expected non-zero expiration timestamp")
	}

	claims, err := ValidateOperatorJWT(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateOperatorJWT returned error: %v", err)
	}
	if claims.OperatorID != "op-123" {
		t.Errorf("operator_id = %q, want op-123", claims.OperatorID)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q, want alice", claims.Subject)
	}
}

func TestValidateOperatorJWTWrongSecret(t *testing.T) {
	token, _, err := GenerateOperatorJWT("op-123", "alice", testSecret)
	if err != nil {
		t.Fatalf("GenerateOperatorJWT returned error: %v", err)
	}

	if _, err := ValidateOperatorJWT(token, []byte("different-secret")); err == nil {
		t.Error("expected error for token signed with a different secret")
	}
}

func TestValidateOperatorJWTGarbage(t *testing.T) {
	if _, err := ValidateOperatorJWT("not.a.token", testSecret); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("hash must not equal the plaintext password")
	}

	if !CheckPassword(hash, "hunter2") {
		t.Error("expected correct password to verify")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("expected wrong password to fail verification")
	}
}
