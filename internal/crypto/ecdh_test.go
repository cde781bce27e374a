package crypto

import "testing"

func TestComputeECDH_Symmetric(t *testing.T) {
	aPriv, aPub, err := GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("generate A: %v", err)
	}
	bPriv, bPub, err := GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("generate B: %v", err)
	}

	secretA, err := ComputeECDH(aPriv, bPub)
	if err != nil {
		t.Fatalf("ECDH(a, B): %v", err)
	}
	secretB, err := ComputeECDH(bPriv, aPub)
	if err != nil {
		t.Fatalf("ECDH(b, A): %v", err)
	}

	if secretA != secretB {
		t.Fatalf("ECDH(a,B) != ECDH(b,A): %x vs %x", secretA, secretB)
	}
}

func TestComputeECDH_RejectsZeroRemote(t *testing.T) {
	priv, _, err := GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var zero [KeySize]byte
	if _, err := ComputeECDH(priv, zero); err != ErrLowOrderPoint {
		t.Fatalf("expected ErrLowOrderPoint, got %v", err)
	}
}
