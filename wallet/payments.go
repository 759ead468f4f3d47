package wallet

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/ecashdev/walnut/cashu"
	"github.com/ecashdev/walnut/cashu/nuts/nut05"
	"github.com/ecashdev/walnut/cashu/nuts/nut10"
	"github.com/ecashdev/walnut/cashu/nuts/nut11"
	"github.com/ecashdev/walnut/cashu/nuts/nut18"
)

// CreatePaymentRequest builds a payment request for the wallet's unit
// payable to its current mint over a post transport.
func (w *Wallet) CreatePaymentRequest(amount uint64, description string) (string, error) {
	idBytes := make([]byte, 4)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}

	paymentRequest := nut18.PaymentRequest{
		PaymentId:   hex.EncodeToString(idBytes),
		Amount:      amount,
		Unit:        w.unit.String(),
		Description: description,
		Mints:       []string{w.currentMint.mintURL},
		Transports: []nut18.Transport{
			{
				Type:   nut18.TransportPost,
				Target: w.currentMint.mintURL,
			},
		},
	}

	return paymentRequest.Encode()
}

// PayRequest pays the payment request by sending proofs for the
// requested amount over one of its transports. Only the post
// transport is supported for delivery.
func (w *Wallet) PayRequest(request string, amount uint64) error {
	paymentRequest, err := nut18.DecodePaymentRequest(request)
	if err != nil {
		return err
	}

	payAmount := paymentRequest.Amount
	if payAmount == 0 {
		payAmount = amount
	}
	if payAmount == 0 {
		return errors.New("payment request has no amount and no amount was specified")
	}
	if paymentRequest.Amount > 0 && len(paymentRequest.Unit) > 0 &&
		paymentRequest.Unit != w.unit.String() {
		return ErrUnit
	}

	// pick the first requested mint this wallet has funds in
	mintURL := w.currentMint.mintURL
	if len(paymentRequest.Mints) > 0 {
		mintURL = ""
		for _, mint := range paymentRequest.Mints {
			if _, ok := w.mints[mint]; ok {
				mintURL = mint
				break
			}
		}
		if len(mintURL) == 0 {
			return fmt.Errorf("%w: no balance in any of the requested mints", ErrMintNotExist)
		}
	}

	var transport *nut18.Transport
	for _, t := range paymentRequest.Transports {
		if t.Type == nut18.TransportPost {
			transport = &t
			break
		}
	}
	if transport == nil {
		return nut18.ErrUnsupportedTransport
	}

	var proofs cashu.Proofs
	if paymentRequest.Nut10 != nil {
		if paymentRequest.Nut10.Kind != nut10.P2PK.String() {
			return ErrSpendingConditionNotSupported
		}
		lockPubkey, err := nut11.ParsePublicKey(paymentRequest.Nut10.Data)
		if err != nil {
			return err
		}
		proofs, _, err = w.getSendProofs(payAmount, mintURL, false, lockPubkey)
		if err != nil {
			return err
		}
	} else {
		proofs, _, err = w.getSendProofs(payAmount, mintURL, false, nil)
		if err != nil {
			return err
		}
	}

	payload := nut18.PaymentRequestPayload{
		Id:     paymentRequest.PaymentId,
		Memo:   paymentRequest.Description,
		Mint:   mintURL,
		Unit:   w.unit.String(),
		Proofs: proofs,
	}
	payloadJson, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := httpPost(transport.Target, "application/json", bytes.NewBuffer(payloadJson))
	if err != nil {
		// delivery failed, the proofs are still spendable
		w.db.SaveProofs(proofs)
		return fmt.Errorf("error delivering payment: %v", err)
	}
	resp.Body.Close()

	return nil
}

// PendingMeltQuotes returns the ids of melt quotes with proofs still
// in flight.
func (w *Wallet) PendingMeltQuotes() []string {
	pendingByQuote := make(map[string]bool)
	for _, pendingProof := range w.db.GetPendingProofs() {
		if len(pendingProof.MeltQuoteId) > 0 {
			pendingByQuote[pendingProof.MeltQuoteId] = true
		}
	}

	pendingQuotes := make([]string, 0, len(pendingByQuote))
	for _, quote := range w.db.GetMeltQuotes() {
		if pendingByQuote[quote.QuoteId] || quote.State == nut05.Pending {
			if !slices.Contains(pendingQuotes, quote.QuoteId) {
				pendingQuotes = append(pendingQuotes, quote.QuoteId)
			}
		}
	}
	return pendingQuotes
}
