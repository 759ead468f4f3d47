package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestHashToCurve(t *testing.T) {
	tests := []struct {
		message  string
		expected string
	}{
		{message: "0000000000000000000000000000000000000000000000000000000000000000",
			expected: "024cce997d3b518f739663b757deaec95bcd9473c30a14ac2fd04023a739d1a725"},
		{message: "0000000000000000000000000000000000000000000000000000000000000001",
			expected: "022e7158e11c9506f1aa4248bf531298daa7febd6194f003edcd9b93ade6253acf"},
		// iterates to find valid point
		{message: "0000000000000000000000000000000000000000000000000000000000000002",
			expected: "026cdbe15362df59cd1dd3c9c11de8aedac2106eca69236ecd9fbe117af897be4f"},
	}

	for _, test := range tests {
		msgBytes, err := hex.DecodeString(test.message)
		if err != nil {
			t.Errorf("error decoding msg: %v", err)
		}

		pk, err := HashToCurve(msgBytes)
		if err != nil {
			t.Fatalf("HashToCurve: %v", err)
		}
		hexStr := hex.EncodeToString(pk.SerializeCompressed())
		if hexStr != test.expected {
			t.Errorf("expected '%v' but got '%v' instead\n", test.expected, hexStr)
		}
	}
}

func TestBlindSignUnblind(t *testing.T) {
	secret := "test_message"

	rhex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000001")
	r := secp256k1.PrivKeyFromBytes(rhex)

	B_, r, err := BlindMessage(secret, r)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}

	khex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000001")
	k, _ := btcec.PrivKeyFromBytes(khex)
	K := k.PubKey()

	C_ := SignBlindedMessage(B_, k)
	C := UnblindSignature(C_, r, K)

	// C == k * HashToCurve(secret)
	if !Verify(secret, k, C) {
		t.Error("failed verification")
	}

	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	expected := SignBlindedMessage(Y, k)
	if !C.IsEqual(expected) {
		t.Error("unblinded signature does not match signature over the secret point")
	}

	// unblinding with a different r must not verify
	otherRhex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000002")
	otherR := secp256k1.PrivKeyFromBytes(otherRhex)
	wrongC := UnblindSignature(C_, otherR, K)
	if Verify(secret, k, wrongC) {
		t.Error("verification should have failed for wrong blinding factor")
	}
}

func TestDLEQ(t *testing.T) {
	secret := "test_message"

	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	B_, r, err := BlindMessage(secret, r)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}

	khex, _ := hex.DecodeString("7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f")
	k := secp256k1.PrivKeyFromBytes(khex)
	A := k.PubKey()

	C_ := SignBlindedMessage(B_, k)

	e, s, err := GenerateDLEQ(k, B_, C_)
	if err != nil {
		t.Fatalf("GenerateDLEQ: %v", err)
	}

	if !VerifyDLEQ(e, s, A, B_, C_) {
		t.Error("valid DLEQ proof failed verification")
	}

	// proof must not verify against a different mint key
	otherKhex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000003")
	otherK := secp256k1.PrivKeyFromBytes(otherKhex)
	if VerifyDLEQ(e, s, otherK.PubKey(), B_, C_) {
		t.Error("DLEQ proof verified against wrong public key")
	}

	// tampered s must not verify
	var sTampered secp256k1.ModNScalar
	sTampered.Set(&s.Key)
	var one secp256k1.ModNScalar
	one.SetInt(1)
	sTampered.Add(&one)
	if VerifyDLEQ(e, secp256k1.NewPrivateKey(&sTampered), A, B_, C_) {
		t.Error("tampered DLEQ proof verified")
	}
}
