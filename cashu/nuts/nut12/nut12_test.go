package nut12

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ecashdev/walnut/cashu"
	"github.com/ecashdev/walnut/crypto"
)

// builds a proof with a DLEQ proof the way a mint and wallet would
func makeProofWithDLEQ(t *testing.T, secret string, k *secp256k1.PrivateKey) cashu.Proof {
	t.Helper()

	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	B_, r, err := crypto.BlindMessage(secret, r)
	if err != nil {
		t.Fatal(err)
	}

	C_ := crypto.SignBlindedMessage(B_, k)
	e, s, err := crypto.GenerateDLEQ(k, B_, C_)
	if err != nil {
		t.Fatal(err)
	}

	C := crypto.UnblindSignature(C_, r, k.PubKey())
	return cashu.Proof{
		Amount: 1,
		Secret: secret,
		C:      hex.EncodeToString(C.SerializeCompressed()),
		DLEQ: &cashu.DLEQProof{
			E: hex.EncodeToString(e.Serialize()),
			S: hex.EncodeToString(s.Serialize()),
			R: hex.EncodeToString(r.Serialize()),
		},
	}
}

func TestVerifyProofDLEQ(t *testing.T) {
	khex, _ := hex.DecodeString("7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f")
	k := secp256k1.PrivKeyFromBytes(khex)

	proof := makeProofWithDLEQ(t, "test_secret_message", k)

	if !VerifyProofDLEQ(proof, k.PubKey()) {
		t.Error("valid proof DLEQ failed verification")
	}

	// verification against a different mint key fails
	otherKhex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000005")
	otherK := secp256k1.PrivKeyFromBytes(otherKhex)
	if VerifyProofDLEQ(proof, otherK.PubKey()) {
		t.Error("proof DLEQ verified against wrong key")
	}

	// missing blinding factor fails
	tampered := proof
	tampered.DLEQ = &cashu.DLEQProof{E: proof.DLEQ.E, S: proof.DLEQ.S}
	if VerifyProofDLEQ(tampered, k.PubKey()) {
		t.Error("proof DLEQ without r verified")
	}
}

func TestVerifyBlindSignatureDLEQ(t *testing.T) {
	khex, _ := hex.DecodeString("7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f")
	k := secp256k1.PrivKeyFromBytes(khex)

	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	B_, r, err := crypto.BlindMessage("blind_signature_dleq", r)
	if err != nil {
		t.Fatal(err)
	}
	C_ := crypto.SignBlindedMessage(B_, k)
	e, s, err := crypto.GenerateDLEQ(k, B_, C_)
	if err != nil {
		t.Fatal(err)
	}

	dleq := cashu.DLEQProof{
		E: hex.EncodeToString(e.Serialize()),
		S: hex.EncodeToString(s.Serialize()),
	}
	B_str := hex.EncodeToString(B_.SerializeCompressed())
	C_str := hex.EncodeToString(C_.SerializeCompressed())

	if !VerifyBlindSignatureDLEQ(dleq, k.PubKey(), B_str, C_str) {
		t.Error("valid blind signature DLEQ failed verification")
	}

	// swap out C_ for a signature by another key
	otherKhex, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000005")
	otherK := secp256k1.PrivKeyFromBytes(otherKhex)
	wrongC_ := crypto.SignBlindedMessage(B_, otherK)
	if VerifyBlindSignatureDLEQ(dleq, k.PubKey(), B_str, hex.EncodeToString(wrongC_.SerializeCompressed())) {
		t.Error("blind signature DLEQ verified for wrong signature")
	}
}

func TestVerifyProofsDLEQ(t *testing.T) {
	khex, _ := hex.DecodeString("7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f")
	k := secp256k1.PrivKeyFromBytes(khex)

	keyset := crypto.WalletKeyset{
		Id:         "00ad268c4d1f5826",
		Unit:       "sat",
		PublicKeys: map[uint64]*secp256k1.PublicKey{1: k.PubKey()},
	}

	// proofs without DLEQ data are not an error
	noData := cashu.Proofs{{Amount: 1, Secret: "plain", C: "02abcd"}}
	if result := VerifyProofsDLEQ(noData, keyset); result != NoData {
		t.Errorf("expected NoData but got %v", result)
	}

	proofs := cashu.Proofs{
		makeProofWithDLEQ(t, "first", k),
		makeProofWithDLEQ(t, "second", k),
	}
	if result := VerifyProofsDLEQ(proofs, keyset); result != Valid {
		t.Errorf("expected Valid but got %v", result)
	}

	// mixed proofs with and without DLEQ still verify
	mixed := append(cashu.Proofs{}, proofs...)
	mixed = append(mixed, cashu.Proof{Amount: 1, Secret: "plain", C: "02abcd"})
	if result := VerifyProofsDLEQ(mixed, keyset); result != Valid {
		t.Errorf("expected Valid but got %v", result)
	}

	// a tampered proof invalidates the batch
	tampered := append(cashu.Proofs{}, proofs...)
	tampered[0].Secret = "tampered"
	if result := VerifyProofsDLEQ(tampered, keyset); result != Invalid {
		t.Errorf("expected Invalid but got %v", result)
	}
}
