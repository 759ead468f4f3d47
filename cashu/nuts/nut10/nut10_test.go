package nut10

import (
	"testing"

	"github.com/ecashdev/walnut/cashu"
)

func TestSecretType(t *testing.T) {
	tests := []struct {
		proof        cashu.Proof
		expectedKind SecretKind
	}{
		{
			proof:        cashu.Proof{Secret: `["P2PK", {"nonce":"da62796403af76c80cd6ce9153ed3746","data":"033281c37677ea273eb7183b783067f5244933ef78d8c3f15b1a77cb246099c26e","tags":[["sigflag","SIG_INPUTS"]]}]`},
			expectedKind: P2PK,
		},
		{
			proof:        cashu.Proof{Secret: `["HTLC", {"nonce":"da62796403af76c80cd6ce9153ed3746","data":"023192200a0cfd3867e48eb63b03ff599c7e46c8f4e41146b2d281173ca6c50c54","tags":[]}]`},
			expectedKind: HTLC,
		},
		{
			proof:        cashu.Proof{Secret: "da62796403af76c80cd6ce9153ed3746"},
			expectedKind: AnyoneCanSpend,
		},
		{
			proof:        cashu.Proof{Secret: `["NOTAKIND", {"nonce":"da62796403af76c80cd6ce9153ed3746","data":""}]`},
			expectedKind: AnyoneCanSpend,
		},
	}

	for _, test := range tests {
		if kind := SecretType(test.proof); kind != test.expectedKind {
			t.Errorf("expected kind '%v' but got '%v'", test.expectedKind, kind)
		}
	}
}

func TestSerializeDeserializeSecret(t *testing.T) {
	secretData := WellKnownSecret{
		Nonce: "da62796403af76c80cd6ce9153ed3746",
		Data:  "033281c37677ea273eb7183b783067f5244933ef78d8c3f15b1a77cb246099c26e",
		Tags: [][]string{
			{"sigflag", "SIG_INPUTS"},
		},
	}

	serialized, err := SerializeSecret(P2PK, secretData)
	if err != nil {
		t.Fatalf("SerializeSecret: %v", err)
	}

	deserialized, err := DeserializeSecret(serialized)
	if err != nil {
		t.Fatalf("DeserializeSecret: %v", err)
	}

	if deserialized.Nonce != secretData.Nonce {
		t.Errorf("expected nonce '%v' but got '%v'", secretData.Nonce, deserialized.Nonce)
	}
	if deserialized.Data != secretData.Data {
		t.Errorf("expected data '%v' but got '%v'", secretData.Data, deserialized.Data)
	}
	if len(deserialized.Tags) != 1 || deserialized.Tags[0][0] != "sigflag" {
		t.Errorf("unexpected tags '%v'", deserialized.Tags)
	}

	// opaque random secrets are not well-known secrets
	if _, err := DeserializeSecret("da62796403af76c80cd6ce9153ed3746"); err == nil {
		t.Error("expected error deserializing random secret")
	}
}

func TestNewSecretFromSpendingCondition(t *testing.T) {
	condition := SpendingCondition{
		Kind: P2PK,
		Data: "033281c37677ea273eb7183b783067f5244933ef78d8c3f15b1a77cb246099c26e",
		Tags: [][]string{{"locktime", "1689418329"}},
	}

	secret, err := NewSecretFromSpendingCondition(condition)
	if err != nil {
		t.Fatalf("NewSecretFromSpendingCondition: %v", err)
	}

	if kind := SecretType(cashu.Proof{Secret: secret}); kind != P2PK {
		t.Errorf("expected P2PK secret but got '%v'", kind)
	}

	secretData, err := DeserializeSecret(secret)
	if err != nil {
		t.Fatalf("DeserializeSecret: %v", err)
	}
	if len(secretData.Nonce) != 64 {
		t.Errorf("expected 32 byte hex nonce but got '%v'", secretData.Nonce)
	}

	// unknown kinds are rejected
	if _, err := NewSecretFromSpendingCondition(SpendingCondition{Kind: AnyoneCanSpend}); err == nil {
		t.Error("expected error for invalid kind")
	}
}
