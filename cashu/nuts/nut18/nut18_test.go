package nut18

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"reflect"
	"testing"
)

// Hand-assembled CBOR for the structure of the NUT-18 "Basic" test
// vector. The official serialized vector for the complete request is
// documented as malformed, so the fixture is generated from the JSON
// structure instead.
func basicRequestString(t *testing.T) string {
	cborHex := "a5" + // map(5)
		"616968" + hex.EncodeToString([]byte("b7a90176")) + // i: "b7a90176"
		"61610a" + // a: 10
		"617563736174" + // u: "sat"
		"616d8177" + hex.EncodeToString([]byte("https://8333.space:3338")) + // m: [mint]
		"617481a3" + // t: [map(3)]
		"6174656e6f737472" + // t: "nostr"
		"616170" + hex.EncodeToString([]byte("nprofile1qqstest")) + // a: target
		"61678182616e623137" // g: [["n", "17"]]

	cborBytes, err := hex.DecodeString(cborHex)
	if err != nil {
		t.Fatalf("invalid fixture: %v", err)
	}
	return PaymentRequestPrefix + PaymentRequestV1 + base64.RawURLEncoding.EncodeToString(cborBytes)
}

func TestDecodePaymentRequest(t *testing.T) {
	request, err := DecodePaymentRequest(basicRequestString(t))
	if err != nil {
		t.Fatalf("DecodePaymentRequest: %v", err)
	}

	if request.PaymentId != "b7a90176" {
		t.Errorf("expected payment id 'b7a90176' but got '%v'", request.PaymentId)
	}
	if request.Amount != 10 {
		t.Errorf("expected amount 10 but got %v", request.Amount)
	}
	if request.Unit != "sat" {
		t.Errorf("expected unit 'sat' but got '%v'", request.Unit)
	}
	expectedMints := []string{"https://8333.space:3338"}
	if !reflect.DeepEqual(request.Mints, expectedMints) {
		t.Errorf("expected mints '%v' but got '%v'", expectedMints, request.Mints)
	}
	if len(request.Transports) != 1 {
		t.Fatalf("expected 1 transport but got %v", len(request.Transports))
	}
	transport := request.Transports[0]
	if transport.Type != TransportNostr {
		t.Errorf("expected transport type 'nostr' but got '%v'", transport.Type)
	}
	if transport.Target != "nprofile1qqstest" {
		t.Errorf("unexpected transport target '%v'", transport.Target)
	}
	expectedTags := [][]string{{"n", "17"}}
	if !reflect.DeepEqual(transport.Tags, expectedTags) {
		t.Errorf("expected tags '%v' but got '%v'", expectedTags, transport.Tags)
	}
}

func TestPaymentRequestRoundTrip(t *testing.T) {
	tests := []PaymentRequest{
		{
			PaymentId: "b7a90176",
			Amount:    10,
			Unit:      "sat",
			Mints:     []string{"https://8333.space:3338"},
			Transports: []Transport{
				{Type: TransportNostr, Target: "nprofile1qqstest", Tags: [][]string{{"n", "17"}}},
			},
		},
		{
			Description: "pay me",
			SingleUse:   true,
			Transports: []Transport{
				{Type: TransportPost, Target: "https://example.com/pay"},
			},
		},
		{
			Amount: 21,
			Unit:   "sat",
			Nut10: &NUT10Option{
				Kind: "P2PK",
				Data: "033281c37677ea273eb7183b783067f5244933ef78d8c3f15b1a77cb246099c26e",
			},
		},
	}

	for i, request := range tests {
		encoded, err := request.Encode()
		if err != nil {
			t.Fatalf("test %d: Encode: %v", i, err)
		}
		decoded, err := DecodePaymentRequest(encoded)
		if err != nil {
			t.Fatalf("test %d: DecodePaymentRequest: %v", i, err)
		}
		if !reflect.DeepEqual(*decoded, request) {
			t.Errorf("test %d: expected '%+v' but got '%+v'", i, request, *decoded)
		}
	}
}

func TestPaymentRequestValidation(t *testing.T) {
	// amount without unit
	request := PaymentRequest{Amount: 10}
	if _, err := request.Encode(); !errors.Is(err, ErrAmountWithoutUnit) {
		t.Errorf("expected ErrAmountWithoutUnit but got %v", err)
	}

	// unsupported transport
	request = PaymentRequest{
		Transports: []Transport{{Type: "carrier-pigeon", Target: "somewhere"}},
	}
	if _, err := request.Encode(); !errors.Is(err, ErrUnsupportedTransport) {
		t.Errorf("expected ErrUnsupportedTransport but got %v", err)
	}

	// invalid prefix
	if _, err := DecodePaymentRequest("cashuA2983"); !errors.Is(err, ErrInvalidPaymentRequest) {
		t.Errorf("expected ErrInvalidPaymentRequest but got %v", err)
	}
}
