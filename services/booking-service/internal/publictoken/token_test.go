package publictoken

import (
	"strings"
	"testing"
)

func TestNewTokenIsUniqueAndHashed(t *testing.T) {
	iss, err := NewIssuer("secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	a, hashA, err := iss.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, _, _ := iss.New()
	if a == b {
		t.Fatal("expected distinct tokens")
	}
	if len(a) != 43 || strings.ContainsAny(a, "+/=") {
		t.Fatalf("token %q is not raw url-safe base64 of 32 bytes", a)
	}
	if hashA == a || len(hashA) != 64 {
		t.Fatalf("unexpected digest %q", hashA)
	}
	if iss.Hash(a) != hashA {
		t.Fatal("digest must be deterministic")
	}
}

func TestHashDependsOnKey(t *testing.T) {
	one, _ := NewIssuer("one")
	two, _ := NewIssuer("two")
	if one.Hash("tok") == two.Hash("tok") {
		t.Fatal("digests under different keys must differ")
	}
}

func TestNewIssuerRejectsLongKey(t *testing.T) {
	if _, err := NewIssuer(strings.Repeat("k", 65)); err != ErrKeyTooLong {
		t.Fatalf("expected ErrKeyTooLong, got %v", err)
	}
}
