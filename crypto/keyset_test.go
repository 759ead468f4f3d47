package crypto

import (
	"strings"
	"testing"
)

func TestDeriveKeysetId(t *testing.T) {
	keyset := GenerateKeyset("mysecretseed", "0/0/0/0", 0)

	id := DeriveKeysetId(keyset.PublicKeys())
	if len(id) != 16 {
		t.Errorf("expected id of length 16 but got %v", len(id))
	}
	if !strings.HasPrefix(id, "00") {
		t.Errorf("expected id with prefix '00' but got '%v'", id)
	}

	// deriving again from the same keys gives the same id
	if id2 := DeriveKeysetId(keyset.PublicKeys()); id2 != id {
		t.Errorf("keyset id derivation is not deterministic: '%v' vs '%v'", id, id2)
	}
}

func TestDeriveKeysetIdLegacy(t *testing.T) {
	keyset := GenerateKeyset("mysecretseed", "0/0/0/0", 0)

	id := DeriveKeysetIdLegacy(keyset.PublicKeys())
	if len(id) != 12 {
		t.Errorf("expected id of length 12 but got %v", len(id))
	}
}

func TestDeriveKeysetIdV2(t *testing.T) {
	keyset := GenerateKeyset("mysecretseed", "0/0/0/0", 0)

	id := DeriveKeysetIdV2(keyset.PublicKeys(), "sat", 1700000000)
	if len(id) != 66 {
		t.Errorf("expected id of length 66 but got %v", len(id))
	}
	if !strings.HasPrefix(id, "01") {
		t.Errorf("expected id with prefix '01' but got '%v'", id)
	}

	// committing to a different unit or expiry changes the id
	if DeriveKeysetIdV2(keyset.PublicKeys(), "usd", 1700000000) == id {
		t.Error("id should commit to the unit")
	}
	if DeriveKeysetIdV2(keyset.PublicKeys(), "sat", 0) == id {
		t.Error("id should commit to the final expiry")
	}
}

func TestValidateKeysetId(t *testing.T) {
	keyset := GenerateKeyset("mysecretseed", "0/0/0/0", 0)
	keys := keyset.PublicKeys()

	walletKeysets := []WalletKeyset{
		{Id: DeriveKeysetIdLegacy(keys), Unit: "sat", PublicKeys: keys},
		{Id: DeriveKeysetId(keys), Unit: "sat", PublicKeys: keys},
		{Id: DeriveKeysetIdV2(keys, "sat", 1700000000), Unit: "sat", PublicKeys: keys, FinalExpiry: 1700000000},
	}

	for i, wk := range walletKeysets {
		if !ValidateKeysetId(wk) {
			t.Errorf("keyset %d: valid id did not validate", i)
		}
	}

	// flip a character in the hex id
	tampered := walletKeysets[1]
	idBytes := []byte(tampered.Id)
	if idBytes[4] == 'a' {
		idBytes[4] = 'b'
	} else {
		idBytes[4] = 'a'
	}
	tampered.Id = string(idBytes)
	if ValidateKeysetId(tampered) {
		t.Error("tampered id validated")
	}

	// swap out the keys
	otherKeyset := GenerateKeyset("othersecretseed", "0/0/0/0", 0)
	wk := walletKeysets[1]
	wk.PublicKeys = otherKeyset.PublicKeys()
	if ValidateKeysetId(wk) {
		t.Error("id validated against different keys")
	}

	// v2 id no longer validates if the unit changes
	v2 := walletKeysets[2]
	v2.Unit = "usd"
	if ValidateKeysetId(v2) {
		t.Error("v2 id validated with altered unit")
	}

	// unknown format
	if ValidateKeysetId(WalletKeyset{Id: "02deadbeef", PublicKeys: keys}) {
		t.Error("unknown id format validated")
	}
}

func TestKeysetIdURLSafe(t *testing.T) {
	if got := KeysetIdURLSafe("ab+cd/efgh12"); got != "ab-cd_efgh12" {
		t.Errorf("expected 'ab-cd_efgh12' but got '%v'", got)
	}
}
