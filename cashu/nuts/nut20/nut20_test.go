package nut20

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ecashdev/walnut/cashu"
)

func TestMintQuoteSignature(t *testing.T) {
	privateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	quoteId := "9d745270-1405-46de-b5c5-e2762b4f5e00"
	blindedMessages := cashu.BlindedMessages{
		{Amount: 1, Id: "00ad268c4d1f5826", B_: "0342e5bcc77f5b2a3c2afb40bb591a1e27da83cddc968abdc0ec4904201a201834"},
		{Amount: 2, Id: "00ad268c4d1f5826", B_: "032fd3c4dc49a2844a89998d5e9d5b0f0b00dde9310063acb8a92e2fdafa4126d4"},
	}

	signature, err := SignMintQuote(privateKey, quoteId, blindedMessages)
	if err != nil {
		t.Fatalf("SignMintQuote: %v", err)
	}

	if !VerifyMintQuoteSignature(signature, quoteId, blindedMessages, privateKey.PubKey()) {
		t.Error("valid mint quote signature failed verification")
	}

	// different quote id invalidates the signature
	if VerifyMintQuoteSignature(signature, "other-quote", blindedMessages, privateKey.PubKey()) {
		t.Error("signature verified for different quote id")
	}

	// different outputs invalidate the signature
	if VerifyMintQuoteSignature(signature, quoteId, blindedMessages[:1], privateKey.PubKey()) {
		t.Error("signature verified for different outputs")
	}
}
