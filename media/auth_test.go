package media

import "testing"

func TestPairAndVerify(t *testing.T) {
	hash, err := HashPIN("4321")
	if err != nil {
		t.Fatalf("HashPIN: %v", err)
	}
	auth := NewAuthenticator(hash, "test-secret")

	if _, err := auth.Pair("1111"); err != ErrBadPIN {
		t.Errorf("Pair with wrong PIN = %v, want ErrBadPIN", err)
	}

	token, err := auth.Pair("4321")
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if err := auth.Verify(token); err != nil {
		t.Errorf("Verify(valid token) = %v", err)
	}
	if err := auth.Verify(token + "x"); err != ErrBadToken {
		t.Errorf("Verify(tampered token) = %v, want ErrBadToken", err)
	}
	if err := auth.Verify(""); err != ErrBadToken {
		t.Errorf("Verify(empty) = %v, want ErrBadToken", err)
	}

	// Tokens from a different secret must not verify.
	other := NewAuthenticator(hash, "other-secret")
	if err := other.Verify(token); err != ErrBadToken {
		t.Errorf("Verify(foreign token) = %v, want ErrBadToken", err)
	}
}
