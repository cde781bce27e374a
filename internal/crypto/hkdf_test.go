package crypto

import "testing"

func TestBuildInfo_ContextSeparation(t *testing.T) {
	info1 := buildInfo(ScopeSession, "a")
	info2 := buildInfo(ScopeSession, "b")

	if string(info1) == string(info2) {
		t.Fatal("expected different info strings for different contexts")
	}
}

func TestDeriveStreamKey_DifferentStreamsDiffer(t *testing.T) {
	dm := &DeviceMasterKey{secret: [KeySize]byte{1, 2, 3}}
	sk, err := DeriveSessionKey(dm, 0, nil)
	if err != nil {
		t.Fatalf("derive session key: %v", err)
	}

	k1, err := DeriveStreamKey(sk, 1, "send", 0, nil)
	if err != nil {
		t.Fatalf("derive stream key 1: %v", err)
	}
	k2, err := DeriveStreamKey(sk, 2, "send", 0, nil)
	if err != nil {
		t.Fatalf("derive stream key 2: %v", err)
	}

	if k1.current == k2.current {
		t.Fatal("expected different stream keys for different stream ids")
	}
}

func TestDeriveSessionKey_GraceWindowRetainsPrevious(t *testing.T) {
	dm := &DeviceMasterKey{secret: [KeySize]byte{9, 9, 9}}
	v0, err := DeriveSessionKey(dm, 0, nil)
	if err != nil {
		t.Fatalf("derive v0: %v", err)
	}

	v1, err := DeriveSessionKey(dm, 1, v0)
	if err != nil {
		t.Fatalf("derive v1: %v", err)
	}

	if !v1.hasPrev {
		t.Fatal("expected v1 to retain v0 as previous")
	}

	if _, err := v1.secretForVersion(0); err != nil {
		t.Fatalf("expected version 0 to still decrypt during grace window: %v", err)
	}
	if _, err := v1.secretForVersion(1); err != nil {
		t.Fatalf("expected current version to decrypt: %v", err)
	}
}
