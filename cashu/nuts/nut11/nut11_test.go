package nut11

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ecashdev/walnut/cashu"
	"github.com/ecashdev/walnut/cashu/nuts/nut10"
)

func TestP2PKSecret(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pubkey := hex.EncodeToString(key.PubKey().SerializeCompressed())

	secret, err := P2PKSecret(pubkey)
	if err != nil {
		t.Fatalf("P2PKSecret: %v", err)
	}

	secretData, err := nut10.DeserializeSecret(secret)
	if err != nil {
		t.Fatalf("DeserializeSecret: %v", err)
	}
	if secretData.Data != pubkey {
		t.Errorf("expected data '%v' but got '%v'", pubkey, secretData.Data)
	}
	if !IsSecretP2PK(cashu.Proof{Secret: secret}) {
		t.Error("secret is not recognized as P2PK")
	}
}

func TestParseP2PKTags(t *testing.T) {
	key1, _ := btcec.NewPrivateKey()
	key2, _ := btcec.NewPrivateKey()
	pubkey1 := hex.EncodeToString(key1.PubKey().SerializeCompressed())
	pubkey2 := hex.EncodeToString(key2.PubKey().SerializeCompressed())

	tags := [][]string{
		{SIGFLAG, SIGALL},
		{NSIGS, "2"},
		{PUBKEYS, pubkey1, pubkey2},
		{LOCKTIME, "1689418329"},
		{REFUND, pubkey1},
	}

	p2pkTags, err := ParseP2PKTags(tags)
	if err != nil {
		t.Fatalf("ParseP2PKTags: %v", err)
	}

	if p2pkTags.Sigflag != SIGALL {
		t.Errorf("expected sigflag '%v' but got '%v'", SIGALL, p2pkTags.Sigflag)
	}
	if p2pkTags.NSigs != 2 {
		t.Errorf("expected n_sigs 2 but got %v", p2pkTags.NSigs)
	}
	if len(p2pkTags.Pubkeys) != 2 {
		t.Errorf("expected 2 pubkeys but got %v", len(p2pkTags.Pubkeys))
	}
	if p2pkTags.Locktime != 1689418329 {
		t.Errorf("expected locktime 1689418329 but got %v", p2pkTags.Locktime)
	}
	if len(p2pkTags.Refund) != 1 {
		t.Errorf("expected 1 refund key but got %v", len(p2pkTags.Refund))
	}

	// tags roundtrip through serialization
	serialized := SerializeP2PKTags(*p2pkTags)
	reparsed, err := ParseP2PKTags(serialized)
	if err != nil {
		t.Fatalf("ParseP2PKTags after serialize: %v", err)
	}
	if reparsed.NSigs != p2pkTags.NSigs || reparsed.Locktime != p2pkTags.Locktime {
		t.Error("tags did not roundtrip")
	}

	// invalid tags
	if _, err := ParseP2PKTags([][]string{{NSIGS}}); err == nil {
		t.Error("expected error for tag without value")
	}
	if _, err := ParseP2PKTags([][]string{{SIGFLAG, "SIG_NOTHING"}}); err == nil {
		t.Error("expected error for invalid sigflag")
	}
}

func TestAddSignatureToInputs(t *testing.T) {
	signingKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pubkey := hex.EncodeToString(signingKey.PubKey().SerializeCompressed())

	inputs := cashu.Proofs{}
	for i := 0; i < 3; i++ {
		secret, err := P2PKSecret(pubkey)
		if err != nil {
			t.Fatal(err)
		}
		inputs = append(inputs, cashu.Proof{Amount: 1 << i, Secret: secret})
	}

	signed, err := AddSignatureToInputs(inputs, signingKey)
	if err != nil {
		t.Fatalf("AddSignatureToInputs: %v", err)
	}

	for _, proof := range signed {
		var witness P2PKWitness
		if err := json.Unmarshal([]byte(proof.Witness), &witness); err != nil {
			t.Fatalf("invalid witness: %v", err)
		}
		if len(witness.Signatures) != 1 {
			t.Fatalf("expected 1 signature in witness but got %v", len(witness.Signatures))
		}

		hash := sha256.Sum256([]byte(proof.Secret))
		if !HasValidSignatures(hash[:], witness, 1, []*btcec.PublicKey{signingKey.PubKey()}) {
			t.Error("witness signature does not verify")
		}

		// signature must not verify against another key
		otherKey, _ := btcec.NewPrivateKey()
		if HasValidSignatures(hash[:], witness, 1, []*btcec.PublicKey{otherKey.PubKey()}) {
			t.Error("witness signature verified against wrong key")
		}
	}
}

func TestCanSign(t *testing.T) {
	key, _ := btcec.NewPrivateKey()
	otherKey, _ := btcec.NewPrivateKey()
	pubkey := hex.EncodeToString(key.PubKey().SerializeCompressed())

	secretStr, err := P2PKSecret(pubkey)
	if err != nil {
		t.Fatal(err)
	}
	secret, err := nut10.DeserializeSecret(secretStr)
	if err != nil {
		t.Fatal(err)
	}

	if !CanSign(secret, key) {
		t.Error("key should be able to sign")
	}
	if CanSign(secret, otherKey) {
		t.Error("other key should not be able to sign")
	}
}

func TestIsSigAll(t *testing.T) {
	secret := nut10.WellKnownSecret{
		Tags: [][]string{{SIGFLAG, SIGALL}},
	}
	if !IsSigAll(secret) {
		t.Error("expected SIG_ALL")
	}

	secret.Tags = [][]string{{SIGFLAG, SIGINPUTS}}
	if IsSigAll(secret) {
		t.Error("did not expect SIG_ALL")
	}
}

func TestLocktime(t *testing.T) {
	secret := nut10.WellKnownSecret{
		Tags: [][]string{{LOCKTIME, "1689418329"}},
	}

	if !LocktimePassed(1700000000, secret) {
		t.Error("locktime should have passed")
	}
	if LocktimePassed(1600000000, secret) {
		t.Error("locktime should not have passed")
	}

	// no locktime tag
	if LocktimePassed(1700000000, nut10.WellKnownSecret{}) {
		t.Error("missing locktime should not count as passed")
	}
}
