// Package nut18 implements payment requests as defined in [NUT-18].
//
// [NUT-18]: https://github.com/cashubtc/nuts/blob/main/18.md
package nut18

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ecashdev/walnut/cashu"
	"github.com/fxamacker/cbor/v2"
)

const (
	PaymentRequestPrefix = "creq"
	PaymentRequestV1     = "A"

	// transport types
	TransportNostr = "nostr"
	TransportPost  = "post"
)

var (
	ErrInvalidPaymentRequest = errors.New("invalid payment request")
	// a payment request with an amount needs a unit to interpret it
	ErrAmountWithoutUnit    = errors.New("payment request with amount must specify a unit")
	ErrUnsupportedTransport = errors.New("transport not supported")
)

type PaymentRequest struct {
	PaymentId   string       `json:"i,omitempty" cbor:"i,omitempty"`
	Amount      uint64       `json:"a,omitempty" cbor:"a,omitempty"`
	Unit        string       `json:"u,omitempty" cbor:"u,omitempty"`
	SingleUse   bool         `json:"s,omitempty" cbor:"s,omitempty"`
	Mints       []string     `json:"m,omitempty" cbor:"m,omitempty"`
	Description string       `json:"d,omitempty" cbor:"d,omitempty"`
	Transports  []Transport  `json:"t,omitempty" cbor:"t,omitempty"`
	Nut10       *NUT10Option `json:"nut10,omitempty" cbor:"nut10,omitempty"`
}

type Transport struct {
	Type   string     `json:"t" cbor:"t"`
	Target string     `json:"a" cbor:"a"`
	Tags   [][]string `json:"g,omitempty" cbor:"g,omitempty"`
}

type NUT10Option struct {
	Kind string     `json:"k" cbor:"k"`
	Data string     `json:"d" cbor:"d"`
	Tags [][]string `json:"t,omitempty" cbor:"t,omitempty"`
}

// Validate checks the structural laws of a payment request.
func (pr PaymentRequest) Validate() error {
	if pr.Amount > 0 && len(pr.Unit) == 0 {
		return ErrAmountWithoutUnit
	}
	for _, transport := range pr.Transports {
		if transport.Type != TransportNostr && transport.Type != TransportPost {
			return fmt.Errorf("%w: %s", ErrUnsupportedTransport, transport.Type)
		}
	}
	return nil
}

func (pr PaymentRequest) Encode() (string, error) {
	if err := pr.Validate(); err != nil {
		return "", err
	}

	requestBytes, err := cbor.Marshal(pr)
	if err != nil {
		return "", fmt.Errorf("cbor.Marshal: %v", err)
	}

	return PaymentRequestPrefix + PaymentRequestV1 +
		base64.RawURLEncoding.EncodeToString(requestBytes), nil
}

func DecodePaymentRequest(request string) (*PaymentRequest, error) {
	prefixLen := len(PaymentRequestPrefix) + len(PaymentRequestV1)
	if len(request) < prefixLen {
		return nil, ErrInvalidPaymentRequest
	}
	if request[:prefixLen] != PaymentRequestPrefix+PaymentRequestV1 {
		return nil, ErrInvalidPaymentRequest
	}

	requestBytes, err := base64.URLEncoding.DecodeString(request[prefixLen:])
	if err != nil {
		requestBytes, err = base64.RawURLEncoding.DecodeString(request[prefixLen:])
		if err != nil {
			return nil, fmt.Errorf("error decoding payment request: %v", err)
		}
	}

	var paymentRequest PaymentRequest
	if err := cbor.Unmarshal(requestBytes, &paymentRequest); err != nil {
		return nil, fmt.Errorf("cbor.Unmarshal: %v", err)
	}

	if err := paymentRequest.Validate(); err != nil {
		return nil, err
	}

	return &paymentRequest, nil
}

// PaymentRequestPayload is the payment sent over one of the request's
// transports.
type PaymentRequestPayload struct {
	Id     string       `json:"id,omitempty"`
	Memo   string       `json:"memo,omitempty"`
	Mint   string       `json:"mint"`
	Unit   string       `json:"unit"`
	Proofs cashu.Proofs `json:"proofs"`
}
