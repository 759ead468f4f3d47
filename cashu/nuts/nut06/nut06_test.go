package nut06

import (
	"encoding/json"
	"testing"
)

func TestMintInfoUnmarshal(t *testing.T) {
	mintInfoJson := `{
		"name": "test mint",
		"pubkey": "0296d0aa13b6a31cf0cd974249f28c7b7176d7274712c95a41c7d8066d3f29d679",
		"version": "Nutshell/0.15.0",
		"description": "mint for testing",
		"contact": [{"method": "email", "info": "contact@me.com"}],
		"nuts": {
			"4": {"methods": [{"method": "bolt11", "unit": "sat"}], "disabled": false},
			"5": {"methods": [{"method": "bolt11", "unit": "sat"}], "disabled": false},
			"7": {"supported": true},
			"12": {"supported": true},
			"15": {"methods": [{"method": "bolt11", "unit": "sat"}]},
			"17": {"supported": [{"method": "bolt11", "unit": "sat", "commands": ["bolt11_mint_quote"]}]}
		}
	}`

	var info MintInfo
	if err := json.Unmarshal([]byte(mintInfoJson), &info); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}

	if info.Name != "test mint" {
		t.Errorf("expected name 'test mint' but got '%v'", info.Name)
	}
	if len(info.Contact) != 1 || info.Contact[0].Method != "email" {
		t.Errorf("unexpected contact info '%v'", info.Contact)
	}
	if !info.Nuts.Nut12.Supported {
		t.Error("expected nut12 supported")
	}
	if info.Nuts.Nut15 == nil || len(info.Nuts.Nut15.Methods) != 1 {
		t.Error("expected nut15 method settings")
	}
	if len(info.Nuts.Nut17.Supported) != 1 || info.Nuts.Nut17.Supported[0].Commands[0] != "bolt11_mint_quote" {
		t.Error("expected nut17 supported commands")
	}
}

// older mints signal contact and nut-15 in a legacy layout. Ill-typed
// sub-documents degrade instead of failing the whole parse.
func TestMintInfoUnmarshalLegacy(t *testing.T) {
	mintInfoJson := `{
		"name": "legacy mint",
		"contact": [["email", "contact@me.com"]],
		"nuts": {
			"4": {"methods": [{"method": "bolt11", "unit": "sat"}]},
			"15": [{"method": "bolt11", "unit": "sat"}],
			"17": {"supported": true}
		}
	}`

	var info MintInfo
	if err := json.Unmarshal([]byte(mintInfoJson), &info); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}

	if info.Name != "legacy mint" {
		t.Errorf("expected name 'legacy mint' but got '%v'", info.Name)
	}
	// legacy contact format is ignored
	if len(info.Contact) != 0 {
		t.Errorf("expected contact to be dropped but got '%v'", info.Contact)
	}
	// legacy nut-15 list format is accepted
	if info.Nuts.Nut15 == nil || len(info.Nuts.Nut15.Methods) != 1 {
		t.Error("expected nut15 method settings from legacy format")
	}
	// ill-typed nut-17 degrades to unsupported
	if len(info.Nuts.Nut17.Supported) != 0 {
		t.Error("expected no nut17 support from ill-typed document")
	}
}
