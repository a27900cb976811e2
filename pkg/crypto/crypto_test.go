package crypto

import "testing"

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(a) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(a))
	}
	if a == b {
		t.Error("two generated tokens are identical")
	}
	if HashToken(a) == HashToken(b) {
		t.Error("distinct tokens hash to the same value")
	}
	if HashToken(a) != HashToken(a) {
		t.Error("HashToken is not deterministic")
	}
}

func TestVerifyPassword(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	hash := HashPassword("hunter2", salt)

	if !VerifyPassword("hunter2", salt, hash) {
		t.Error("VerifyPassword rejected the correct password")
	}
	if VerifyPassword("hunter3", salt, hash) {
		t.Error("VerifyPassword accepted a wrong password")
	}

	otherSalt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	if VerifyPassword("hunter2", otherSalt, hash) {
		t.Error("VerifyPassword accepted the right password with the wrong salt")
	}
}
