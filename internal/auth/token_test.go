package auth

import "testing"

func TestHashAndVerifyToken(t *testing.T) {
	t.Parallel()

	hash, err := HashToken("s3cret-token")
	if err != nil {
		t.Fatalf("HashToken failed: %v", err)
	}
	if hash == "s3cret-token" {
		t.Fatalf("hash must not equal the raw token")
	}
	if !VerifyToken("s3cret-token", hash) {
		t.Fatalf("expected token to verify against its own hash")
	}
	if VerifyToken("wrong-token", hash) {
		t.Fatalf("did not expect a different token to verify")
	}
}

func TestHashTokenRejectsEmpty(t *testing.T) {
	t.Parallel()

	if _, err := HashToken("   "); err == nil {
		t.Fatalf("expected error for blank token")
	}
}

func TestVerifyTokenEmptyInputs(t *testing.T) {
	t.Parallel()

	if VerifyToken("", "hash") {
		t.Fatalf("empty token must not verify")
	}
	if VerifyToken("token", "") {
		t.Fatalf("empty hash must not verify")
	}
}
