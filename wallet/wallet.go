// Package wallet implements the operations of a Cashu wallet against
// a mint: minting, swapping, sending, receiving and melting ecash.
package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"slices"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ecashdev/walnut/cashu"
	"github.com/ecashdev/walnut/cashu/nuts/nut03"
	"github.com/ecashdev/walnut/cashu/nuts/nut04"
	"github.com/ecashdev/walnut/cashu/nuts/nut05"
	"github.com/ecashdev/walnut/cashu/nuts/nut07"
	"github.com/ecashdev/walnut/cashu/nuts/nut10"
	"github.com/ecashdev/walnut/cashu/nuts/nut11"
	"github.com/ecashdev/walnut/cashu/nuts/nut12"
	"github.com/ecashdev/walnut/cashu/nuts/nut13"
	"github.com/ecashdev/walnut/crypto"
	"github.com/ecashdev/walnut/wallet/storage"
	"github.com/tyler-smith/go-bip39"
)

type Config struct {
	WalletPath     string
	CurrentMintURL string
}

type Wallet struct {
	db   storage.WalletDB
	unit cashu.Unit

	// key to receive locked ecash
	privateKey *btcec.PrivateKey
	// master key for deterministic secret derivation
	masterKey *hdkeychain.ExtendedKey

	// list of mints this wallet has interacted with
	mints       map[string]walletMint
	currentMint *walletMint
}

type walletMint struct {
	mintURL         string
	activeKeyset    crypto.WalletKeyset
	inactiveKeysets map[string]crypto.WalletKeyset
}

func InitStorage(path string) (storage.WalletDB, error) {
	// bolt db atm
	return storage.InitBolt(path)
}

func LoadWallet(config Config) (*Wallet, error) {
	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	// create new seed if none exists
	mnemonic := db.GetMnemonic()
	if len(mnemonic) == 0 {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return nil, err
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, err
		}
		db.SaveMnemonicSeed(mnemonic, bip39.NewSeed(mnemonic, ""))
	}

	masterKey, err := hdkeychain.NewMaster(db.GetSeed(), &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	privateKey, err := DeriveP2PK(masterKey)
	if err != nil {
		return nil, err
	}

	wallet := &Wallet{
		db:         db,
		unit:       cashu.Sat,
		masterKey:  masterKey,
		privateKey: privateKey,
	}
	wallet.mints, err = wallet.loadWalletMints()
	if err != nil {
		return nil, err
	}

	mintURL, err := url.Parse(config.CurrentMintURL)
	if err != nil {
		return nil, fmt.Errorf("invalid mint url: %v", err)
	}
	currentMint, err := wallet.addMint(mintURL.String())
	if err != nil {
		return nil, fmt.Errorf("error setting up wallet: %v", err)
	}
	wallet.currentMint = currentMint

	return wallet, nil
}

func (w *Wallet) Shutdown() error {
	return w.db.Close()
}

func (w *Wallet) loadWalletMints() (map[string]walletMint, error) {
	walletMints := make(map[string]walletMint)

	keysets := w.db.GetKeysets()
	for mintURL, mintKeysets := range keysets {
		mint := walletMint{
			mintURL:         mintURL,
			inactiveKeysets: make(map[string]crypto.WalletKeyset),
		}
		for _, keyset := range mintKeysets {
			if keyset.Active {
				mint.activeKeyset = keyset
			} else {
				mint.inactiveKeysets[keyset.Id] = keyset
			}
		}
		walletMints[mintURL] = mint
	}

	return walletMints, nil
}

// addMint fetches the keysets of the mint and adds it to the list of
// mints this wallet knows. If the mint is already known, the known
// view is returned with the active keyset refreshed.
func (w *Wallet) addMint(mintURL string) (*walletMint, error) {
	if mint, ok := w.mints[mintURL]; ok {
		if _, err := w.getActiveKeyset(mintURL); err != nil {
			return nil, err
		}
		mint = w.mints[mintURL]
		return &mint, nil
	}

	activeKeyset, err := GetMintActiveKeyset(mintURL, w.unit)
	if err != nil {
		return nil, err
	}
	if err := w.db.SaveKeyset(activeKeyset); err != nil {
		return nil, err
	}

	inactiveKeysets, err := GetMintInactiveKeysets(mintURL, w.unit)
	if err != nil {
		return nil, err
	}
	for _, keyset := range inactiveKeysets {
		keyset := keyset
		if err := w.db.SaveKeyset(&keyset); err != nil {
			return nil, err
		}
	}

	mint := walletMint{
		mintURL:         mintURL,
		activeKeyset:    *activeKeyset,
		inactiveKeysets: inactiveKeysets,
	}
	w.mints[mintURL] = mint

	return &mint, nil
}

func (w *Wallet) CurrentMint() string {
	return w.currentMint.mintURL
}

func (w *Wallet) Mints() []string {
	mints := make([]string, 0, len(w.mints))
	for mint := range w.mints {
		mints = append(mints, mint)
	}
	slices.Sort(mints)
	return mints
}

func (w *Wallet) GetBalance() uint64 {
	return w.db.GetProofs().Amount()
}

func (w *Wallet) GetBalanceByMints() map[string]uint64 {
	balanceByMints := make(map[string]uint64, len(w.mints))
	for mintURL, mint := range w.mints {
		var mintBalance uint64
		mintBalance += w.db.GetProofsByKeysetId(mint.activeKeyset.Id).Amount()
		for _, keyset := range mint.inactiveKeysets {
			mintBalance += w.db.GetProofsByKeysetId(keyset.Id).Amount()
		}
		balanceByMints[mintURL] = mintBalance
	}
	return balanceByMints
}

// GetReceivePubkey returns the public key to which ecash can be locked
// for this wallet to redeem.
func (w *Wallet) GetReceivePubkey() *btcec.PublicKey {
	return w.privateKey.PubKey()
}

func (w *Wallet) Mnemonic() string {
	return w.db.GetMnemonic()
}

// FeesForProofs returns the fee the mint will charge for a transaction
// with the proofs as inputs: the sum of the input fees of each proof's
// keyset, rounded up to the next whole unit.
func (w *Wallet) FeesForProofs(proofs cashu.Proofs, mint *walletMint) (uint64, error) {
	var feePpk uint64
	for _, proof := range proofs {
		keysetFee, err := w.inputFeeForKeyset(proof.Id, mint)
		if err != nil {
			return 0, err
		}
		feePpk += keysetFee
	}
	return (feePpk + 999) / 1000, nil
}

func (w *Wallet) inputFeeForKeyset(id string, mint *walletMint) (uint64, error) {
	if mint.activeKeyset.Id == id {
		return uint64(mint.activeKeyset.InputFeePpk), nil
	}
	if keyset, ok := mint.inactiveKeysets[id]; ok {
		return uint64(keyset.InputFeePpk), nil
	}
	if keyset := w.db.GetKeyset(id); keyset != nil {
		return uint64(keyset.InputFeePpk), nil
	}
	return 0, errors.New("unknown keyset in inputs")
}

func feesForCount(count int, keyset *crypto.WalletKeyset) uint64 {
	return (uint64(count)*uint64(keyset.InputFeePpk) + 999) / 1000
}

// blindedSet holds blinded messages along with the secrets and
// blinding factors they were built from. counterConsumed is the number
// of deterministic derivations used to build the set.
type blindedSet struct {
	blindedMessages cashu.BlindedMessages
	secrets         []string
	rs              []*secp256k1.PrivateKey
	counterConsumed uint32
}

func (bs blindedSet) append(other blindedSet) blindedSet {
	return blindedSet{
		blindedMessages: append(bs.blindedMessages, other.blindedMessages...),
		secrets:         append(bs.secrets, other.secrets...),
		rs:              append(bs.rs, other.rs...),
		counterConsumed: bs.counterConsumed + other.counterConsumed,
	}
}

// createBlindedMessages generates deterministic outputs for the split
// amounts, starting at the keyset's stored counter plus offset. The
// offset lets one operation derive several disjoint sets before the
// stored counter advances.
func (w *Wallet) createBlindedMessages(splitAmounts []uint64, keysetId string, offset uint32) (blindedSet, error) {
	keysetPath, err := nut13.DeriveKeysetPath(w.masterKey, keysetId)
	if err != nil {
		return blindedSet{}, err
	}
	counter := w.db.GetKeysetCounter(keysetId) + offset

	splitLen := len(splitAmounts)
	blindedMessages := make(cashu.BlindedMessages, splitLen)
	secrets := make([]string, splitLen)
	rs := make([]*secp256k1.PrivateKey, splitLen)

	for i, amt := range splitAmounts {
		secret, err := nut13.DeriveSecret(keysetPath, counter)
		if err != nil {
			return blindedSet{}, err
		}
		r, err := nut13.DeriveBlindingFactor(keysetPath, counter)
		if err != nil {
			return blindedSet{}, err
		}

		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return blindedSet{}, err
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amt, B_)
		secrets[i] = secret
		rs[i] = r
		counter++
	}

	return blindedSet{
		blindedMessages: blindedMessages,
		secrets:         secrets,
		rs:              rs,
		counterConsumed: uint32(splitLen),
	}, nil
}

// createBlindedMessagesFromSecrets builds outputs from the given
// secrets with fresh random blinding factors. These outputs do not
// consume deterministic counter slots.
func createBlindedMessagesFromSecrets(
	splitAmounts []uint64,
	keysetId string,
	secrets []string,
) (blindedSet, error) {
	if len(splitAmounts) != len(secrets) {
		return blindedSet{}, errors.New("lengths do not match")
	}

	splitLen := len(splitAmounts)
	blindedMessages := make(cashu.BlindedMessages, splitLen)
	rs := make([]*secp256k1.PrivateKey, splitLen)

	for i, amt := range splitAmounts {
		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return blindedSet{}, err
		}

		B_, r, err := crypto.BlindMessage(secrets[i], r)
		if err != nil {
			return blindedSet{}, err
		}

		blindedMessages[i] = cashu.NewBlindedMessage(keysetId, amt, B_)
		rs[i] = r
	}

	return blindedSet{
		blindedMessages: blindedMessages,
		secrets:         secrets,
		rs:              rs,
	}, nil
}

// createP2PKBlindedMessages builds outputs whose secrets are locked to
// the public key. Locked outputs cannot be restored from seed so they
// use random nonces and do not advance the keyset counter.
func createP2PKBlindedMessages(
	splitAmounts []uint64,
	keysetId string,
	pubkey *btcec.PublicKey,
) (blindedSet, error) {
	hexPubkey := hex.EncodeToString(pubkey.SerializeCompressed())
	secrets := make([]string, len(splitAmounts))
	for i := range secrets {
		secret, err := nut11.P2PKSecret(hexPubkey)
		if err != nil {
			return blindedSet{}, err
		}
		secrets[i] = secret
	}
	return createBlindedMessagesFromSecrets(splitAmounts, keysetId, secrets)
}

// constructProofs unblinds the promises into proofs. Promise order has
// to match the order in which the outputs were sent to the mint.
func constructProofs(
	promises cashu.BlindedSignatures,
	secrets []string,
	rs []*secp256k1.PrivateKey,
	keyset *crypto.WalletKeyset,
) (cashu.Proofs, error) {
	if len(promises) != len(secrets) || len(promises) != len(rs) {
		return nil, errors.New("lengths do not match")
	}

	proofs := make(cashu.Proofs, len(promises))
	for i, promise := range promises {
		C_bytes, err := hex.DecodeString(promise.C_)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnblindingFailed, err)
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnblindingFailed, err)
		}

		K, ok := keyset.PublicKeys[promise.Amount]
		if !ok {
			return nil, fmt.Errorf("%w: mint has no key for amount %d", ErrUnblindingFailed, promise.Amount)
		}

		C := crypto.UnblindSignature(C_, rs[i], K)

		proof := cashu.Proof{
			Amount: promise.Amount,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
			Id:     promise.Id,
		}
		if promise.DLEQ != nil {
			proof.DLEQ = &cashu.DLEQProof{
				E: promise.DLEQ.E,
				S: promise.DLEQ.S,
				R: hex.EncodeToString(rs[i].Serialize()),
			}
		}
		proofs[i] = proof
	}

	return proofs, nil
}

// verifyInputsDLEQ checks the DLEQ proofs of the inputs grouped by the
// keyset that signed them.
func (w *Wallet) verifyInputsDLEQ(mintURL string, inputs cashu.Proofs) nut12.Result {
	result := nut12.NoData
	byKeyset := make(map[string]cashu.Proofs)
	for _, proof := range inputs {
		byKeyset[proof.Id] = append(byKeyset[proof.Id], proof)
	}

	for id, proofs := range byKeyset {
		keyset, err := w.keysetForProof(mintURL, proofs[0])
		if err != nil {
			log.Printf("could not get keys for keyset '%v' to verify DLEQ: %v", id, err)
			continue
		}
		switch nut12.VerifyProofsDLEQ(proofs, *keyset) {
		case nut12.Invalid:
			return nut12.Invalid
		case nut12.Valid:
			result = nut12.Valid
		}
	}
	return result
}

// stripForPosting removes the DLEQ proofs from the inputs before they
// are sent to the mint.
func stripForPosting(inputs cashu.Proofs) cashu.Proofs {
	stripped := make(cashu.Proofs, len(inputs))
	copy(stripped, inputs)
	for i := range stripped {
		stripped[i].DLEQ = nil
	}
	return stripped
}

// SwapResult is the outcome of a swap: the new proofs partitioned at
// the keep/send boundary and the DLEQ outcomes on both sides of the
// transaction.
type SwapResult struct {
	Keep            cashu.Proofs
	Send            cashu.Proofs
	InputDLEQ       nut12.Result
	OutputDLEQ      nut12.Result
	counterConsumed uint32
}

// swap sends the inputs and the outputs (keep first, then send) to the
// mint and unblinds the returned promises in output order. The keyset
// counter is not advanced here; callers do so once the overall
// operation succeeded.
func (w *Wallet) swap(
	mintURL string,
	inputs cashu.Proofs,
	keep, send blindedSet,
	keyset *crypto.WalletKeyset,
) (*SwapResult, error) {
	inputDLEQ := w.verifyInputsDLEQ(mintURL, inputs)
	if inputDLEQ == nut12.Invalid {
		return nil, ErrInvalidDLEQProof
	}

	outputs := keep.append(send)
	swapRequest := nut03.PostSwapRequest{
		Inputs:  stripForPosting(inputs),
		Outputs: outputs.blindedMessages,
	}
	swapResponse, err := PostSwap(mintURL, swapRequest)
	if err != nil {
		return nil, err
	}
	if len(swapResponse.Signatures) != len(outputs.blindedMessages) {
		return nil, errors.New("mint returned wrong number of signatures")
	}

	proofs, err := constructProofs(swapResponse.Signatures, outputs.secrets, outputs.rs, keyset)
	if err != nil {
		return nil, err
	}

	outputDLEQ := nut12.VerifyProofsDLEQ(proofs, *keyset)

	boundary := len(keep.blindedMessages)
	return &SwapResult{
		Keep:            proofs[:boundary],
		Send:            proofs[boundary:],
		InputDLEQ:       inputDLEQ,
		OutputDLEQ:      outputDLEQ,
		counterConsumed: outputs.counterConsumed,
	}, nil
}

// RequestMintQuote requests a Lightning invoice from the mint to mint
// the given amount of ecash once paid.
func (w *Wallet) RequestMintQuote(amount uint64, description string) (*nut04.PostMintQuoteBolt11Response, error) {
	mintURL := w.currentMint.mintURL

	mintRequest := nut04.PostMintQuoteBolt11Request{
		Amount:      amount,
		Unit:        w.unit.String(),
		Description: description,
	}
	mintResponse, err := PostMintQuoteBolt11(mintURL, mintRequest)
	if err != nil {
		return nil, err
	}

	quote := storage.MintQuote{
		QuoteId:        mintResponse.Quote,
		Mint:           mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          mintResponse.State,
		Unit:           w.unit.String(),
		PaymentRequest: mintResponse.Request,
		Amount:         amount,
		CreatedAt:      time.Now().Unix(),
	}
	if err := w.db.SaveMintQuote(quote); err != nil {
		return nil, fmt.Errorf("error saving mint quote: %v", err)
	}

	return mintResponse, nil
}

// MintQuoteState checks the state of the quote with the mint.
func (w *Wallet) MintQuoteState(quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}

	quoteResponse, err := GetMintQuoteState(quote.Mint, quoteId)
	if err != nil {
		return nil, err
	}

	if quoteResponse.State != quote.State {
		quote.State = quoteResponse.State
		if err := w.db.SaveMintQuote(*quote); err != nil {
			return nil, fmt.Errorf("error saving mint quote: %v", err)
		}
	}

	return quoteResponse, nil
}

// MintResult holds the proofs minted for a paid quote along with the
// outcome of the DLEQ check on them.
type MintResult struct {
	Proofs cashu.Proofs
	DLEQ   nut12.Result
}

// MintTokens mints ecash for the paid quote using the canonical power
// of two distribution of the quote amount.
func (w *Wallet) MintTokens(quoteId string) (*MintResult, error) {
	return w.mintTokens(quoteId, nil)
}

// MintTokensWithDistribution mints ecash for the paid quote with the
// preferred amount distribution. The distribution has to sum to the
// quote amount and every amount has to be a power of two.
func (w *Wallet) MintTokensWithDistribution(quoteId string, distribution []uint64) (*MintResult, error) {
	if len(distribution) == 0 {
		return nil, ErrInvalidAmount
	}
	return w.mintTokens(quoteId, distribution)
}

func (w *Wallet) mintTokens(quoteId string, distribution []uint64) (*MintResult, error) {
	quote := w.db.GetMintQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}

	if distribution == nil {
		distribution = cashu.AmountSplit(quote.Amount)
	} else {
		var distributionSum uint64
		for _, amount := range distribution {
			if amount == 0 || amount&(amount-1) != 0 {
				return nil, ErrInvalidAmount
			}
			distributionSum += amount
		}
		if distributionSum != quote.Amount {
			return nil, ErrDistributionMismatch
		}
	}

	activeKeyset, err := w.getActiveKeyset(quote.Mint)
	if err != nil {
		return nil, err
	}

	outputs, err := w.createBlindedMessages(distribution, activeKeyset.Id, 0)
	if err != nil {
		return nil, fmt.Errorf("error creating blinded messages: %v", err)
	}

	mintResponse, err := PostMintBolt11(quote.Mint, nut04.PostMintBolt11Request{
		Quote:   quoteId,
		Outputs: outputs.blindedMessages,
	})
	if err != nil {
		return nil, err
	}

	proofs, err := constructProofs(mintResponse.Signatures, outputs.secrets, outputs.rs, activeKeyset)
	if err != nil {
		return nil, err
	}
	dleqResult := nut12.VerifyProofsDLEQ(proofs, *activeKeyset)
	if dleqResult == nut12.Invalid {
		return nil, ErrInvalidDLEQProof
	}

	// only advance the keyset counter after the mint signed the outputs
	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, outputs.counterConsumed); err != nil {
		return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}
	if err := w.db.SaveProofs(proofs); err != nil {
		return nil, fmt.Errorf("error storing proofs: %v", err)
	}

	quote.State = nut04.Issued
	quote.SettledAt = time.Now().Unix()
	if err := w.db.SaveMintQuote(*quote); err != nil {
		return nil, fmt.Errorf("error saving mint quote: %v", err)
	}

	return &MintResult{Proofs: proofs, DLEQ: dleqResult}, nil
}

// SendResult wraps the token for the receiver and the outcome of the
// DLEQ check on the new proofs inside it.
type SendResult struct {
	Token cashu.Token
	DLEQ  nut12.Result
}

// Send prepares a token for the given amount from the mint. If
// includeFees is true, the token carries enough extra to cover the fee
// the receiver will pay to redeem it.
func (w *Wallet) Send(amount uint64, mintURL string, includeFees bool) (*SendResult, error) {
	proofs, dleq, err := w.getSendProofs(amount, mintURL, includeFees, nil)
	if err != nil {
		return nil, err
	}

	token, err := cashu.NewTokenV4(proofs, mintURL, w.unit, true)
	if err != nil {
		return nil, err
	}
	return &SendResult{Token: token, DLEQ: dleq}, nil
}

// SendAll prepares a token for the wallet's whole balance in the mint
// minus the input fees.
func (w *Wallet) SendAll(mintURL string) (*SendResult, error) {
	mint, ok := w.mints[mintURL]
	if !ok {
		return nil, ErrMintNotExist
	}

	proofs := w.db.GetProofsByKeysetId(mint.activeKeyset.Id)
	for _, keyset := range mint.inactiveKeysets {
		proofs = append(proofs, w.db.GetProofsByKeysetId(keyset.Id)...)
	}
	fee, err := w.FeesForProofs(proofs, &mint)
	if err != nil {
		return nil, err
	}
	if proofs.Amount() <= fee {
		return nil, ErrInsufficientFunds
	}

	return w.Send(proofs.Amount()-fee, mintURL, false)
}

// SendToPubkey prepares a token locked to the public key. Only the
// holder of the matching private key will be able to redeem it.
func (w *Wallet) SendToPubkey(
	amount uint64,
	mintURL string,
	pubkey *btcec.PublicKey,
	includeFees bool,
) (*SendResult, error) {
	if pubkey == nil {
		return nil, errors.New("no public key to lock ecash")
	}

	proofs, dleq, err := w.getSendProofs(amount, mintURL, includeFees, pubkey)
	if err != nil {
		return nil, err
	}

	token, err := cashu.NewTokenV4(proofs, mintURL, w.unit, true)
	if err != nil {
		return nil, err
	}
	return &SendResult{Token: token, DLEQ: dleq}, nil
}

// getSendProofs selects proofs and, unless they match the target
// exactly, swaps them into a keep and a send partition. The send
// partition is returned; the keep partition goes back to storage.
func (w *Wallet) getSendProofs(
	amount uint64,
	mintURL string,
	includeFees bool,
	lockPubkey *btcec.PublicKey,
) (cashu.Proofs, nut12.Result, error) {
	mint, ok := w.mints[mintURL]
	if !ok {
		return nil, nut12.NoData, ErrMintNotExist
	}
	activeKeyset, err := w.getActiveKeyset(mintURL)
	if err != nil {
		return nil, nut12.NoData, err
	}

	sendAmount := amount
	if includeFees {
		// receiver redeems with one input per denomination
		sendCount := len(cashu.AmountSplit(amount)) + 1
		sendAmount += feesForCount(sendCount, activeKeyset)
	}

	selected, err := w.selectProofsForAmount(sendAmount, &mint)
	if err != nil {
		return nil, nut12.NoData, err
	}
	for _, proof := range selected {
		if nut10.SecretType(proof) != nut10.AnyoneCanSpend {
			return nil, nut12.NoData, ErrSpendingConditionNotSupported
		}
	}

	// if selected proofs match exactly and no lock was requested, send
	// them as they are without a swap
	if selected.Amount() == sendAmount && lockPubkey == nil {
		for _, proof := range selected {
			if err := w.db.DeleteProof(proof.Secret); err != nil {
				return nil, nut12.NoData, fmt.Errorf("error removing proofs: %v", err)
			}
		}
		return selected, nut12.Valid, nil
	}

	fee, err := w.FeesForProofs(selected, &mint)
	if err != nil {
		return nil, nut12.NoData, err
	}
	if selected.Amount() < sendAmount+fee {
		return nil, nut12.NoData, ErrInsufficientFunds
	}
	keepAmount := selected.Amount() - sendAmount - fee

	keep, err := w.createBlindedMessages(cashu.AmountSplit(keepAmount), activeKeyset.Id, 0)
	if err != nil {
		return nil, nut12.NoData, err
	}

	var send blindedSet
	if lockPubkey != nil {
		send, err = createP2PKBlindedMessages(cashu.AmountSplit(sendAmount), activeKeyset.Id, lockPubkey)
	} else {
		send, err = w.createBlindedMessages(cashu.AmountSplit(sendAmount), activeKeyset.Id, keep.counterConsumed)
	}
	if err != nil {
		return nil, nut12.NoData, err
	}

	swapResult, err := w.swap(mintURL, selected, keep, send, activeKeyset)
	if err != nil {
		return nil, nut12.NoData, err
	}

	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, swapResult.counterConsumed); err != nil {
		return nil, nut12.NoData, fmt.Errorf("error incrementing keyset counter: %v", err)
	}
	for _, proof := range selected {
		if err := w.db.DeleteProof(proof.Secret); err != nil {
			return nil, nut12.NoData, fmt.Errorf("error removing spent proofs: %v", err)
		}
	}
	if err := w.db.SaveProofs(swapResult.Keep); err != nil {
		return nil, nut12.NoData, fmt.Errorf("error storing change proofs: %v", err)
	}

	return swapResult.Send, swapResult.OutputDLEQ, nil
}

// selectProofsForAmount picks stored proofs of the mint until the
// target amount plus the input fees they incur is covered, smallest
// proofs first, preferring proofs from inactive keysets.
func (w *Wallet) selectProofsForAmount(amount uint64, mint *walletMint) (cashu.Proofs, error) {
	inactiveProofs := cashu.Proofs{}
	activeProofs := w.db.GetProofsByKeysetId(mint.activeKeyset.Id)
	for _, keyset := range mint.inactiveKeysets {
		inactiveProofs = append(inactiveProofs, w.db.GetProofsByKeysetId(keyset.Id)...)
	}

	sortAsc := func(proofs cashu.Proofs) {
		slices.SortFunc(proofs, func(a, b cashu.Proof) int {
			switch {
			case a.Amount < b.Amount:
				return -1
			case a.Amount > b.Amount:
				return 1
			}
			return 0
		})
	}
	sortAsc(inactiveProofs)
	sortAsc(activeProofs)

	selected := cashu.Proofs{}
	for _, proof := range append(inactiveProofs, activeProofs...) {
		fee, err := w.FeesForProofs(selected, mint)
		if err != nil {
			return nil, err
		}
		if selected.Amount() >= amount+fee {
			break
		}
		selected = append(selected, proof)
	}

	fee, err := w.FeesForProofs(selected, mint)
	if err != nil {
		return nil, err
	}
	if selected.Amount() < amount+fee {
		return nil, ErrInsufficientMintBalance
	}
	return selected, nil
}

// ReceiveResult holds the fresh proofs after redeeming a token along
// with the DLEQ outcomes on the token's proofs and on the new ones.
type ReceiveResult struct {
	Proofs     cashu.Proofs
	InputDLEQ  nut12.Result
	OutputDLEQ nut12.Result
}

// Receive redeems the token by swapping its proofs at the issuing mint
// for fresh ones only this wallet can spend. If the token is locked
// and the wallet's key can unlock it, a witness is attached to every
// input. The issuing mint is added to the wallet's list of mints if
// unknown.
func (w *Wallet) Receive(token cashu.Token) (*ReceiveResult, error) {
	proofs := token.Proofs()
	if len(proofs) == 0 {
		return nil, errors.New("token has no proofs")
	}
	if err := w.checkTokenUnit(token); err != nil {
		return nil, err
	}

	tokenMint := token.Mint()
	if tokenMint != w.currentMint.mintURL {
		log.Printf("receiving token from mint '%v' different than the wallet's current mint", tokenMint)
	}
	if _, err := w.addMint(tokenMint); err != nil {
		return nil, err
	}
	mint := w.mints[tokenMint]

	proofs, err := w.signProofsIfLocked(proofs)
	if err != nil {
		return nil, err
	}

	activeKeyset := mint.activeKeyset
	fee, err := w.FeesForProofs(proofs, &mint)
	if err != nil {
		return nil, err
	}
	if proofs.Amount() <= fee {
		return nil, ErrInsufficientFunds
	}
	outputAmount := proofs.Amount() - fee

	keep, err := w.createBlindedMessages(cashu.AmountSplit(outputAmount), activeKeyset.Id, 0)
	if err != nil {
		return nil, err
	}

	swapResult, err := w.swap(tokenMint, proofs, keep, blindedSet{}, &activeKeyset)
	if err != nil {
		return nil, err
	}

	if err := w.db.IncrementKeysetCounter(activeKeyset.Id, swapResult.counterConsumed); err != nil {
		return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
	}
	if err := w.db.SaveProofs(swapResult.Keep); err != nil {
		return nil, fmt.Errorf("error storing proofs: %v", err)
	}

	return &ReceiveResult{
		Proofs:     swapResult.Keep,
		InputDLEQ:  swapResult.InputDLEQ,
		OutputDLEQ: swapResult.OutputDLEQ,
	}, nil
}

func (w *Wallet) checkTokenUnit(token cashu.Token) error {
	var unit string
	switch t := token.(type) {
	case *cashu.TokenV3:
		if len(t.Token) > 1 {
			return errors.New("tokens with multiple mints are not supported")
		}
		unit = t.Unit
	case cashu.TokenV3:
		if len(t.Token) > 1 {
			return errors.New("tokens with multiple mints are not supported")
		}
		unit = t.Unit
	case *cashu.TokenV4:
		unit = t.Unit
	case cashu.TokenV4:
		unit = t.Unit
	}
	if len(unit) == 0 {
		return nil
	}

	tokenUnit, err := cashu.StringToUnit(unit)
	if err != nil {
		return err
	}
	if tokenUnit != w.unit {
		return ErrUnit
	}
	return nil
}

// signProofsIfLocked classifies the spending conditions of the proofs
// and signs them if they are locked to the wallet's key. Tokens that
// mix locked and unlocked proofs, or different lock keys, are
// rejected.
func (w *Wallet) signProofsIfLocked(proofs cashu.Proofs) (cashu.Proofs, error) {
	locked, unlocked := 0, 0
	lockData := ""
	for _, proof := range proofs {
		switch nut10.SecretType(proof) {
		case nut10.P2PK:
			secret, err := nut10.DeserializeSecret(proof.Secret)
			if err != nil {
				return nil, err
			}
			if locked > 0 && secret.Data != lockData {
				return nil, ErrMixedSpendingConditions
			}
			lockData = secret.Data
			locked++
		case nut10.HTLC:
			return nil, ErrSpendingConditionNotSupported
		default:
			unlocked++
		}
	}

	if locked == 0 {
		return proofs, nil
	}
	if unlocked > 0 {
		return nil, ErrMixedSpendingConditions
	}

	secret, err := nut10.DeserializeSecret(proofs[0].Secret)
	if err != nil {
		return nil, err
	}

	// after the locktime the ecash is anyone-can-spend unless refund
	// keys were named
	canSign := nut11.CanSign(secret, w.privateKey)
	if !canSign && nut11.CanSignRefund(secret, w.privateKey) {
		canSign = true
	}
	if !canSign {
		p2pkTags, err := nut11.ParseP2PKTags(secret.Tags)
		if err != nil {
			return nil, err
		}
		if nut11.LocktimePassed(time.Now().Unix(), secret) && len(p2pkTags.Refund) == 0 {
			return proofs, nil
		}
		return nil, ErrLockingConditionMismatch
	}

	return nut11.AddSignatureToInputs(proofs, w.privateKey)
}

// RequestMeltQuote asks the mint for a quote to pay the bolt11 invoice
// with ecash.
func (w *Wallet) RequestMeltQuote(request, mintURL string) (*nut05.PostMeltQuoteBolt11Response, error) {
	if _, ok := w.mints[mintURL]; !ok {
		return nil, ErrMintNotExist
	}

	meltRequest := nut05.PostMeltQuoteBolt11Request{Request: request, Unit: w.unit.String()}
	meltQuoteResponse, err := PostMeltQuoteBolt11(mintURL, meltRequest)
	if err != nil {
		return nil, err
	}

	quote := storage.MeltQuote{
		QuoteId:        meltQuoteResponse.Quote,
		Mint:           mintURL,
		Method:         cashu.BOLT11_METHOD,
		State:          meltQuoteResponse.State,
		Unit:           w.unit.String(),
		PaymentRequest: request,
		Amount:         meltQuoteResponse.Amount,
		FeeReserve:     meltQuoteResponse.FeeReserve,
		CreatedAt:      time.Now().Unix(),
	}
	if err := w.db.SaveMeltQuote(quote); err != nil {
		return nil, fmt.Errorf("error saving melt quote: %v", err)
	}

	return meltQuoteResponse, nil
}

// MeltResult is the outcome of paying a Lightning invoice with ecash.
type MeltResult struct {
	State    nut05.State
	Preimage string
	// change for the unused part of the fee reserve
	Change     cashu.Proofs
	ChangeDLEQ nut12.Result
}

// Melt pays the quoted Lightning invoice with stored ecash. If the
// payment ends up pending, the spent proofs stay reserved until a
// CheckMeltQuoteState call resolves the quote.
func (w *Wallet) Melt(quoteId string) (*MeltResult, error) {
	quote := w.db.GetMeltQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}
	if _, ok := w.mints[quote.Mint]; !ok {
		return nil, ErrMintNotExist
	}
	activeKeyset, err := w.getActiveKeyset(quote.Mint)
	if err != nil {
		return nil, err
	}

	// swap for proofs matching the needed amount exactly so nothing
	// beyond the fee reserve is overpaid
	amountNeeded := quote.Amount + quote.FeeReserve
	selected, _, err := w.getSendProofs(amountNeeded, quote.Mint, false, nil)
	if err != nil {
		if errors.Is(err, ErrInsufficientMintBalance) {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
		return nil, err
	}

	// blank outputs for the unused part of the fee reserve
	blankOutputs, err := w.createBlindedMessages(blankOutputAmounts(quote.FeeReserve), activeKeyset.Id, 0)
	if err != nil {
		w.db.SaveProofs(selected)
		return nil, err
	}

	meltRequest := nut05.PostMeltBolt11Request{
		Quote:   quoteId,
		Inputs:  stripForPosting(selected),
		Outputs: blankOutputs.blindedMessages,
	}
	meltResponse, err := PostMeltBolt11(quote.Mint, meltRequest)
	if err != nil {
		// the proofs were not spent, put them back
		w.db.SaveProofs(selected)
		return nil, err
	}

	quote.State = meltResponse.State
	quote.Preimage = meltResponse.Preimage

	result := &MeltResult{
		State:      meltResponse.State,
		Preimage:   meltResponse.Preimage,
		ChangeDLEQ: nut12.NoData,
	}

	switch meltResponse.State {
	case nut05.Paid:
		quote.SettledAt = time.Now().Unix()
		// the payment went through; a failure to unblind the change is
		// logged but does not fail the melt
		if len(meltResponse.Change) > 0 {
			change, changeDLEQ := w.changeFromBlankOutputs(meltResponse.Change, blankOutputs, activeKeyset)
			result.Change = change
			result.ChangeDLEQ = changeDLEQ
		}
		if err := w.db.IncrementKeysetCounter(activeKeyset.Id, blankOutputs.counterConsumed); err != nil {
			return nil, fmt.Errorf("error incrementing keyset counter: %v", err)
		}

	case nut05.Pending:
		// keep the proofs reserved until the payment resolves
		if err := w.db.AddPendingProofsByQuoteId(selected, quoteId); err != nil {
			return nil, fmt.Errorf("error reserving pending proofs: %v", err)
		}

	default:
		// payment failed, the proofs were not spent
		if err := w.db.SaveProofs(selected); err != nil {
			return nil, fmt.Errorf("error releasing proofs: %v", err)
		}
	}

	if err := w.db.SaveMeltQuote(*quote); err != nil {
		return nil, fmt.Errorf("error saving melt quote: %v", err)
	}

	return result, nil
}

func (w *Wallet) changeFromBlankOutputs(
	change cashu.BlindedSignatures,
	blankOutputs blindedSet,
	keyset *crypto.WalletKeyset,
) (cashu.Proofs, nut12.Result) {
	n := len(change)
	if n > len(blankOutputs.blindedMessages) {
		log.Printf("mint returned more change than blank outputs were provided, ignoring excess")
		n = len(blankOutputs.blindedMessages)
		change = change[:n]
	}

	changeProofs, err := constructProofs(change, blankOutputs.secrets[:n], blankOutputs.rs[:n], keyset)
	if err != nil {
		log.Printf("could not unblind change: %v", err)
		return nil, nut12.NoData
	}

	changeDLEQ := nut12.VerifyProofsDLEQ(changeProofs, *keyset)
	if err := w.db.SaveProofs(changeProofs); err != nil {
		log.Printf("could not store change proofs: %v", err)
	}
	return changeProofs, changeDLEQ
}

// blankOutputAmounts returns the amounts for the blank outputs to
// claim overpaid fees: max(ceil(log2(feeReserve)), 1) zero outputs.
func blankOutputAmounts(feeReserve uint64) []uint64 {
	if feeReserve == 0 {
		return nil
	}
	count := int(math.Ceil(math.Log2(float64(feeReserve))))
	if count == 0 {
		count = 1
	}
	return make([]uint64, count)
}

// CheckMeltQuoteState polls the state of the melt quote. If a pending
// payment resolved to paid, the reserved proofs are released as spent;
// if it failed, they go back to the spendable balance.
func (w *Wallet) CheckMeltQuoteState(quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	quote := w.db.GetMeltQuoteById(quoteId)
	if quote == nil {
		return nil, ErrQuoteNotFound
	}

	quoteResponse, err := GetMeltQuoteState(quote.Mint, quoteId)
	if err != nil {
		return nil, err
	}

	pendingProofs := w.db.GetPendingProofsByQuoteId(quoteId)
	switch quoteResponse.State {
	case nut05.Paid:
		if len(pendingProofs) > 0 {
			if err := w.db.DeletePendingProofsByQuoteId(quoteId); err != nil {
				return nil, fmt.Errorf("error removing pending proofs: %v", err)
			}
		}
		if quote.State != nut05.Paid {
			quote.State = nut05.Paid
			quote.Preimage = quoteResponse.Preimage
			quote.SettledAt = time.Now().Unix()
			if err := w.db.SaveMeltQuote(*quote); err != nil {
				return nil, fmt.Errorf("error saving melt quote: %v", err)
			}
		}
	case nut05.Unpaid:
		// payment failed, release the reserved proofs
		if len(pendingProofs) > 0 {
			released := make(cashu.Proofs, len(pendingProofs))
			for i, pendingProof := range pendingProofs {
				released[i] = cashu.Proof{
					Amount: pendingProof.Amount,
					Id:     pendingProof.Id,
					Secret: pendingProof.Secret,
					C:      pendingProof.C,
					DLEQ:   pendingProof.DLEQ,
				}
			}
			if err := w.db.SaveProofs(released); err != nil {
				return nil, fmt.Errorf("error releasing pending proofs: %v", err)
			}
			if err := w.db.DeletePendingProofsByQuoteId(quoteId); err != nil {
				return nil, fmt.Errorf("error releasing pending proofs: %v", err)
			}
		}
		if quote.State != quoteResponse.State {
			quote.State = quoteResponse.State
			if err := w.db.SaveMeltQuote(*quote); err != nil {
				return nil, fmt.Errorf("error saving melt quote: %v", err)
			}
		}
	}

	return quoteResponse, nil
}

// CheckProofSpentStates asks the mint for the current state of the
// proofs.
func (w *Wallet) CheckProofSpentStates(mintURL string, proofs cashu.Proofs) ([]nut07.ProofState, error) {
	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return nil, err
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}

	stateResponse, err := PostCheckProofState(mintURL, nut07.PostCheckStateRequest{Ys: Ys})
	if err != nil {
		return nil, err
	}
	return stateResponse.States, nil
}

// IsMppSupported returns whether the mint supports multi-path payments
// for the wallet's unit.
func (w *Wallet) IsMppSupported(mintURL string) (bool, error) {
	mintInfo, err := GetMintInfo(mintURL)
	if err != nil {
		return false, fmt.Errorf("error getting info from mint: %v", err)
	}

	if mintInfo.Nuts.Nut15 == nil {
		return false, nil
	}
	for _, method := range mintInfo.Nuts.Nut15.Methods {
		if method.Unit == w.unit.String() {
			return true, nil
		}
	}
	return false, nil
}
