package crypto_test

import (
	"errors"
	"testing"

	"github.com/honeylink/honeylink-core/internal/crypto"
)

func TestRootKey_ExportRoundTripsThenFailsAfterZero(t *testing.T) {
	t.Parallel()

	var secret [32]byte
	for i := range secret {
		secret[i] = byte(i)
	}

	root := crypto.NewRootKey(secret)

	got, err := root.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if got != secret {
		t.Fatal("exported secret does not match original")
	}

	reconstructed := crypto.NewRootKey(got)
	if _, err := crypto.DeriveDeviceMasterKey(reconstructed, []byte("t")); err != nil {
		t.Fatalf("derive from reconstructed root: %v", err)
	}

	root.Zero()
	if _, err := root.Export(); !errors.Is(err, crypto.ErrKeyZeroed) {
		t.Fatalf("export after zero = %v, want ErrKeyZeroed", err)
	}
}
