package signature

import (
	"strings"
	"testing"
)

func TestVerifyInbound_Valid(t *testing.T) {
	body := []byte(`{"event_type":"user.vai_revoked","user_id":"u-1"}`)
	secret := "shhh"

	sig := SignInbound(body, secret)
	if err := VerifyInbound(body, sig, secret); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}
}

func TestVerifyInbound_RejectsMutations(t *testing.T) {
	body := []byte(`{"event_type":"user.status_changed"}`)
	secret := "shhh"
	sig := SignInbound(body, secret)

	// Flip each hex digit of the signature in turn
	for i := 0; i < len(sig); i++ {
		mutated := []byte(sig)
		if mutated[i] == 'a' {
			mutated[i] = 'b'
		} else {
			mutated[i] = 'a'
		}
		if string(mutated) == sig {
			continue
		}
		if err := VerifyInbound(body, string(mutated), secret); err == nil {
			t.Fatalf("mutation at position %d accepted", i)
		}
	}
}

func TestVerifyInbound_RejectsWrongSecret(t *testing.T) {
	body := []byte("payload")
	sig := SignInbound(body, "secret-a")

	if err := VerifyInbound(body, sig, "secret-b"); err == nil {
		t.Fatal("signature computed with a different secret was accepted")
	}
}

func TestVerifyInbound_RejectsTamperedBody(t *testing.T) {
	body := []byte(`{"user_id":"u-1"}`)
	sig := SignInbound(body, "shhh")

	if err := VerifyInbound([]byte(`{"user_id":"u-2"}`), sig, "shhh"); err == nil {
		t.Fatal("tampered body was accepted")
	}
}

func TestSignOutbound_Format(t *testing.T) {
	sig, err := SignOutbound([]byte("payload"), "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("expected sha256= prefix, got %q", sig)
	}
	if len(sig) != len("sha256=")+64 {
		t.Fatalf("expected 64 hex chars after prefix, got %d", len(sig)-len("sha256="))
	}
}

func TestSignOutbound_EmptySecret(t *testing.T) {
	if _, err := SignOutbound([]byte("payload"), ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestSignOutbound_Deterministic(t *testing.T) {
	a, _ := SignOutbound([]byte("payload"), "secret")
	b, _ := SignOutbound([]byte("payload"), "secret")
	if a != b {
		t.Fatalf("signatures differ: %q vs %q", a, b)
	}
}
