// Package testutils provides an in-process mint for exercising the
// wallet operations end to end without a Lightning backend.
package testutils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ecashdev/walnut/cashu"
	"github.com/ecashdev/walnut/cashu/nuts/nut01"
	"github.com/ecashdev/walnut/cashu/nuts/nut02"
	"github.com/ecashdev/walnut/cashu/nuts/nut03"
	"github.com/ecashdev/walnut/cashu/nuts/nut04"
	"github.com/ecashdev/walnut/cashu/nuts/nut05"
	"github.com/ecashdev/walnut/cashu/nuts/nut07"
	"github.com/ecashdev/walnut/cashu/nuts/nut09"
	"github.com/ecashdev/walnut/cashu/nuts/nut10"
	"github.com/ecashdev/walnut/cashu/nuts/nut11"
	"github.com/ecashdev/walnut/crypto"
)

// FakeMint signs real promises with a generated keyset and serves the
// mint REST surface from an httptest server. Lightning is faked: mint
// quotes are paid immediately and melts settle with a configurable
// Lightning fee.
type FakeMint struct {
	mu sync.Mutex

	keyset *crypto.MintKeyset
	server *httptest.Server

	mintQuotes map[string]*nut04.PostMintQuoteBolt11Response
	// quoted mint amounts by quote id
	mintAmounts map[string]uint64
	meltQuotes  map[string]*nut05.PostMeltQuoteBolt11Response

	// Y -> spent
	spentProofs map[string]bool
	// B_ -> signature previously issued
	signed map[string]cashu.BlindedSignature

	// knobs for the fake Lightning backend
	MeltAmount     uint64
	MeltFeeReserve uint64
	LightningFee   uint64
	// melt payments stay in flight until resolved with
	// SetMeltQuoteState
	MeltPaysPending bool
}

// SetMeltQuoteState resolves a melt quote, e.g. a pending payment
// that eventually settled.
func (m *FakeMint) SetMeltQuoteState(quoteId string, state nut05.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if quote, ok := m.meltQuotes[quoteId]; ok {
		quote.State = state
	}
}

func NewFakeMint(inputFeePpk uint) *FakeMint {
	m := &FakeMint{
		keyset:      crypto.GenerateKeyset("fakemintseed", "0/0/0/0", inputFeePpk),
		mintQuotes:  make(map[string]*nut04.PostMintQuoteBolt11Response),
		mintAmounts: make(map[string]uint64),
		meltQuotes:  make(map[string]*nut05.PostMeltQuoteBolt11Response),
		spentProofs: make(map[string]bool),
		signed:      make(map[string]cashu.BlindedSignature),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/keys", m.handleKeys)
	mux.HandleFunc("GET /v1/keys/{id}", m.handleKeys)
	mux.HandleFunc("GET /v1/keysets", m.handleKeysets)
	mux.HandleFunc("GET /v1/info", m.handleInfo)
	mux.HandleFunc("POST /v1/mint/quote/bolt11", m.handleMintQuote)
	mux.HandleFunc("GET /v1/mint/quote/bolt11/{id}", m.handleMintQuoteState)
	mux.HandleFunc("POST /v1/mint/bolt11", m.handleMint)
	mux.HandleFunc("POST /v1/swap", m.handleSwap)
	mux.HandleFunc("POST /v1/melt/quote/bolt11", m.handleMeltQuote)
	mux.HandleFunc("GET /v1/melt/quote/bolt11/{id}", m.handleMeltQuoteState)
	mux.HandleFunc("POST /v1/melt/bolt11", m.handleMelt)
	mux.HandleFunc("POST /v1/checkstate", m.handleCheckState)
	mux.HandleFunc("POST /v1/restore", m.handleRestore)
	m.server = httptest.NewServer(mux)

	return m
}

func (m *FakeMint) URL() string {
	return m.server.URL
}

func (m *FakeMint) KeysetId() string {
	return m.keyset.Id
}

func (m *FakeMint) Close() {
	m.server.Close()
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(v)
}

func writeErr(rw http.ResponseWriter, cashuErr cashu.Error) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(rw).Encode(cashuErr)
}

func (m *FakeMint) handleKeys(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, nut01.GetKeysResponse{Keysets: []nut01.Keyset{
		{
			Id:   m.keyset.Id,
			Unit: m.keyset.Unit,
			Keys: m.keyset.DerivePublic(),
		},
	}})
}

func (m *FakeMint) handleKeysets(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, nut02.GetKeysetsResponse{Keysets: []nut02.Keyset{
		{
			Id:          m.keyset.Id,
			Unit:        m.keyset.Unit,
			Active:      m.keyset.Active,
			InputFeePpk: m.keyset.InputFeePpk,
		},
	}})
}

func (m *FakeMint) handleInfo(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, map[string]any{
		"name":    "fake mint",
		"version": "walnut-testutils",
		"nuts": map[string]any{
			"4": map[string]any{
				"methods": []map[string]any{{"method": cashu.BOLT11_METHOD, "unit": "sat"}},
			},
			"5": map[string]any{
				"methods": []map[string]any{{"method": cashu.BOLT11_METHOD, "unit": "sat"}},
			},
			"7":  map[string]bool{"supported": true},
			"8":  map[string]bool{"supported": true},
			"9":  map[string]bool{"supported": true},
			"10": map[string]bool{"supported": true},
			"11": map[string]bool{"supported": true},
			"12": map[string]bool{"supported": true},
		},
	})
}

func (m *FakeMint) handleMintQuote(rw http.ResponseWriter, req *http.Request) {
	var quoteRequest nut04.PostMintQuoteBolt11Request
	if err := json.NewDecoder(req.Body).Decode(&quoteRequest); err != nil {
		writeErr(rw, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}
	if quoteRequest.Unit != cashu.Sat.String() {
		writeErr(rw, cashu.Error{Detail: "unit not supported", Code: cashu.UnitErrCode})
		return
	}

	quoteId, _ := cashu.GenerateRandomQuoteId()
	quote := &nut04.PostMintQuoteBolt11Response{
		Quote:   quoteId,
		Request: "lnbcrt" + quoteId[:20],
		// the fake Lightning backend settles invoices instantly
		State: nut04.Paid,
	}

	m.mu.Lock()
	m.mintQuotes[quoteId] = quote
	m.mintAmounts[quoteId] = quoteRequest.Amount
	m.mu.Unlock()

	writeJSON(rw, quote)
}

func (m *FakeMint) handleMintQuoteState(rw http.ResponseWriter, req *http.Request) {
	quoteId := req.PathValue("id")

	m.mu.Lock()
	quote, ok := m.mintQuotes[quoteId]
	m.mu.Unlock()
	if !ok {
		writeErr(rw, cashu.Error{Detail: "quote does not exist", Code: cashu.StandardErrCode})
		return
	}
	writeJSON(rw, quote)
}

func (m *FakeMint) handleMint(rw http.ResponseWriter, req *http.Request) {
	var mintRequest nut04.PostMintBolt11Request
	if err := json.NewDecoder(req.Body).Decode(&mintRequest); err != nil {
		writeErr(rw, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	quote, ok := m.mintQuotes[mintRequest.Quote]
	if !ok {
		writeErr(rw, cashu.Error{Detail: "quote does not exist", Code: cashu.StandardErrCode})
		return
	}
	switch quote.State {
	case nut04.Unpaid:
		writeErr(rw, cashu.Error{Detail: "quote request has not been paid", Code: cashu.MintQuoteRequestNotPaidErrCode})
		return
	case nut04.Issued:
		writeErr(rw, cashu.Error{Detail: "quote already issued", Code: cashu.MintQuoteAlreadyIssuedErrCode})
		return
	}

	if mintRequest.Outputs.Amount() != m.mintAmounts[mintRequest.Quote] {
		writeErr(rw, cashu.Error{Detail: "sum of the output amounts is not equal to quote amount", Code: cashu.TransactionUnbalancedErrCode})
		return
	}

	signatures, cashuErr := m.signOutputs(mintRequest.Outputs)
	if cashuErr != nil {
		writeErr(rw, *cashuErr)
		return
	}

	quote.State = nut04.Issued
	writeJSON(rw, nut04.PostMintBolt11Response{Signatures: signatures})
}

func (m *FakeMint) signOutputs(outputs cashu.BlindedMessages) (cashu.BlindedSignatures, *cashu.Error) {
	signatures := make(cashu.BlindedSignatures, len(outputs))
	for i, output := range outputs {
		if _, ok := m.signed[output.B_]; ok {
			return nil, cashu.BuildCashuError("blinded message already signed", cashu.BlindedMessageAlreadySignedErrCode)
		}

		keyPair, ok := m.keyset.Keys[output.Amount]
		if !ok && output.Amount != 0 {
			return nil, cashu.BuildCashuError("invalid amount in blinded message", cashu.StandardErrCode)
		}
		if output.Amount == 0 {
			// blank output amounts are assigned at melt change time
			keyPair = m.keyset.Keys[1]
		}

		B_bytes, err := hex.DecodeString(output.B_)
		if err != nil {
			return nil, cashu.BuildCashuError("invalid blinded message", cashu.StandardErrCode)
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, cashu.BuildCashuError("invalid blinded message", cashu.StandardErrCode)
		}

		C_ := crypto.SignBlindedMessage(B_, keyPair.PrivateKey)
		signature := cashu.BlindedSignature{
			Amount: output.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     m.keyset.Id,
		}

		e, s, err := crypto.GenerateDLEQ(keyPair.PrivateKey, B_, C_)
		if err == nil {
			signature.DLEQ = &cashu.DLEQProof{
				E: hex.EncodeToString(e.Serialize()),
				S: hex.EncodeToString(s.Serialize()),
			}
		}

		m.signed[output.B_] = signature
		signatures[i] = signature
	}
	return signatures, nil
}

// verifyInputs checks the inputs are validly signed, unspent and that
// any P2PK spending condition is satisfied by the attached witness.
func (m *FakeMint) verifyInputs(inputs cashu.Proofs) *cashu.Error {
	if cashu.CheckDuplicateProofs(inputs) {
		return cashu.BuildCashuError("duplicate proofs", cashu.InvalidProofErrCode)
	}

	for _, proof := range inputs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return cashu.BuildCashuError("invalid proof", cashu.InvalidProofErrCode)
		}
		Yhex := hex.EncodeToString(Y.SerializeCompressed())
		if m.spentProofs[Yhex] {
			return cashu.BuildCashuError("proof already used", cashu.ProofAlreadyUsedErrCode)
		}

		keyPair, ok := m.keyset.Keys[proof.Amount]
		if !ok {
			return cashu.BuildCashuError("invalid proof", cashu.InvalidProofErrCode)
		}

		CBytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return cashu.BuildCashuError("invalid proof", cashu.InvalidProofErrCode)
		}
		C, err := secp256k1.ParsePubKey(CBytes)
		if err != nil {
			return cashu.BuildCashuError("invalid proof", cashu.InvalidProofErrCode)
		}
		if !crypto.Verify(proof.Secret, keyPair.PrivateKey, C) {
			return cashu.BuildCashuError("invalid proof", cashu.InvalidProofErrCode)
		}

		if nut10.SecretType(proof) == nut10.P2PK {
			if cashuErr := verifyP2PKWitness(proof); cashuErr != nil {
				return cashuErr
			}
		}
	}
	return nil
}

func verifyP2PKWitness(proof cashu.Proof) *cashu.Error {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return cashu.BuildCashuError("invalid spending condition", nut11.NUT11ErrCode)
	}

	if len(proof.Witness) == 0 {
		return &nut11.EmptyWitnessErr
	}
	var witness nut11.P2PKWitness
	if err := json.Unmarshal([]byte(proof.Witness), &witness); err != nil {
		return &nut11.EmptyWitnessErr
	}

	pubkeys, err := nut11.PublicKeys(secret)
	if err != nil {
		return cashu.BuildCashuError("invalid spending condition", nut11.NUT11ErrCode)
	}

	p2pkTags, err := nut11.ParseP2PKTags(secret.Tags)
	if err != nil {
		return cashu.BuildCashuError("invalid spending condition", nut11.NUT11ErrCode)
	}
	nSigs := p2pkTags.NSigs
	if nSigs == 0 {
		nSigs = 1
	}

	hash := sha256.Sum256([]byte(proof.Secret))
	if !nut11.HasValidSignatures(hash[:], witness, nSigs, pubkeys) {
		return &nut11.NotEnoughSignaturesErr
	}
	return nil
}

func (m *FakeMint) markSpent(inputs cashu.Proofs) {
	for _, proof := range inputs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			continue
		}
		m.spentProofs[hex.EncodeToString(Y.SerializeCompressed())] = true
	}
}

func (m *FakeMint) handleSwap(rw http.ResponseWriter, req *http.Request) {
	var swapRequest nut03.PostSwapRequest
	if err := json.NewDecoder(req.Body).Decode(&swapRequest); err != nil {
		writeErr(rw, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cashuErr := m.verifyInputs(swapRequest.Inputs); cashuErr != nil {
		writeErr(rw, *cashuErr)
		return
	}

	fee := (uint64(len(swapRequest.Inputs))*uint64(m.keyset.InputFeePpk) + 999) / 1000
	if swapRequest.Inputs.Amount() != swapRequest.Outputs.Amount()+fee {
		writeErr(rw, cashu.Error{
			Detail: "inputs do not equal outputs plus fees",
			Code:   cashu.TransactionUnbalancedErrCode,
		})
		return
	}

	signatures, cashuErr := m.signOutputs(swapRequest.Outputs)
	if cashuErr != nil {
		writeErr(rw, *cashuErr)
		return
	}
	m.markSpent(swapRequest.Inputs)

	writeJSON(rw, nut03.PostSwapResponse{Signatures: signatures})
}

func (m *FakeMint) handleMeltQuote(rw http.ResponseWriter, req *http.Request) {
	var quoteRequest nut05.PostMeltQuoteBolt11Request
	if err := json.NewDecoder(req.Body).Decode(&quoteRequest); err != nil {
		writeErr(rw, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}
	if quoteRequest.Unit != cashu.Sat.String() {
		writeErr(rw, cashu.Error{Detail: "unit not supported", Code: cashu.UnitErrCode})
		return
	}

	quoteId, _ := cashu.GenerateRandomQuoteId()
	quote := &nut05.PostMeltQuoteBolt11Response{
		Quote:      quoteId,
		Amount:     m.MeltAmount,
		FeeReserve: m.MeltFeeReserve,
		State:      nut05.Unpaid,
	}

	m.mu.Lock()
	m.meltQuotes[quoteId] = quote
	m.mu.Unlock()

	writeJSON(rw, quote)
}

func (m *FakeMint) handleMeltQuoteState(rw http.ResponseWriter, req *http.Request) {
	quoteId := req.PathValue("id")

	m.mu.Lock()
	quote, ok := m.meltQuotes[quoteId]
	m.mu.Unlock()
	if !ok {
		writeErr(rw, cashu.Error{Detail: "quote does not exist", Code: cashu.StandardErrCode})
		return
	}
	writeJSON(rw, quote)
}

func (m *FakeMint) handleMelt(rw http.ResponseWriter, req *http.Request) {
	var meltRequest nut05.PostMeltBolt11Request
	if err := json.NewDecoder(req.Body).Decode(&meltRequest); err != nil {
		writeErr(rw, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	quote, ok := m.meltQuotes[meltRequest.Quote]
	if !ok {
		writeErr(rw, cashu.Error{Detail: "quote does not exist", Code: cashu.StandardErrCode})
		return
	}
	if quote.State == nut05.Paid {
		writeErr(rw, cashu.Error{Detail: "quote already paid", Code: cashu.MeltQuoteAlreadyPaidErrCode})
		return
	}

	if cashuErr := m.verifyInputs(meltRequest.Inputs); cashuErr != nil {
		writeErr(rw, *cashuErr)
		return
	}

	fee := (uint64(len(meltRequest.Inputs))*uint64(m.keyset.InputFeePpk) + 999) / 1000
	if meltRequest.Inputs.Amount() < quote.Amount+quote.FeeReserve+fee {
		writeErr(rw, cashu.Error{
			Detail: "amount of input proofs is below amount needed for transaction",
			Code:   cashu.TransactionUnbalancedErrCode,
		})
		return
	}

	if m.MeltPaysPending {
		quote.State = nut05.Pending
		writeJSON(rw, quote)
		return
	}

	m.markSpent(meltRequest.Inputs)
	quote.State = nut05.Paid
	quote.Preimage = "0000000000000000"

	// return change for the unused part of the fee reserve
	if quote.FeeReserve > m.LightningFee && len(meltRequest.Outputs) > 0 {
		changeAmount := quote.FeeReserve - m.LightningFee
		changeSplit := cashu.AmountSplit(changeAmount)
		if len(changeSplit) > len(meltRequest.Outputs) {
			changeSplit = changeSplit[:len(meltRequest.Outputs)]
		}

		changeOutputs := make(cashu.BlindedMessages, len(changeSplit))
		for i, amount := range changeSplit {
			output := meltRequest.Outputs[i]
			output.Amount = amount
			changeOutputs[i] = output
		}

		change, cashuErr := m.signOutputs(changeOutputs)
		if cashuErr != nil {
			writeErr(rw, *cashuErr)
			return
		}
		quote.Change = change
	}

	writeJSON(rw, quote)
}

func (m *FakeMint) handleCheckState(rw http.ResponseWriter, req *http.Request) {
	var stateRequest nut07.PostCheckStateRequest
	if err := json.NewDecoder(req.Body).Decode(&stateRequest); err != nil {
		writeErr(rw, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]nut07.ProofState, len(stateRequest.Ys))
	for i, Y := range stateRequest.Ys {
		state := nut07.Unspent
		if m.spentProofs[Y] {
			state = nut07.Spent
		}
		states[i] = nut07.ProofState{Y: Y, State: state}
	}
	writeJSON(rw, nut07.PostCheckStateResponse{States: states})
}

func (m *FakeMint) handleRestore(rw http.ResponseWriter, req *http.Request) {
	var restoreRequest nut09.PostRestoreRequest
	if err := json.NewDecoder(req.Body).Decode(&restoreRequest); err != nil {
		writeErr(rw, cashu.Error{Detail: "invalid request", Code: cashu.StandardErrCode})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	response := nut09.PostRestoreResponse{
		Outputs:    cashu.BlindedMessages{},
		Signatures: cashu.BlindedSignatures{},
	}
	for _, output := range restoreRequest.Outputs {
		if signature, ok := m.signed[output.B_]; ok {
			output.Amount = signature.Amount
			response.Outputs = append(response.Outputs, output)
			response.Signatures = append(response.Signatures, signature)
		}
	}
	writeJSON(rw, response)
}
