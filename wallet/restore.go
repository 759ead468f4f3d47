package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ecashdev/walnut/cashu"
	"github.com/ecashdev/walnut/cashu/nuts/nut07"
	"github.com/ecashdev/walnut/cashu/nuts/nut09"
	"github.com/ecashdev/walnut/cashu/nuts/nut13"
	"github.com/ecashdev/walnut/crypto"
	"github.com/tyler-smith/go-bip39"
)

// number of outputs to derive per batch when sweeping a keyset
const restoreBatchSize = 100

// stop sweeping a keyset after this many consecutive empty batches
const maxEmptyBatches = 3

// Restore recreates a wallet from its mnemonic by sweeping the
// keysets of the given mints for proofs derived from the seed.
func Restore(walletPath, mnemonic string, mintsToRestore []string) (cashu.Proofs, error) {
	// check if wallet db already exists, if there is one, throw error.
	dbpath := filepath.Join(walletPath, "wallet.db")
	if _, err := os.Stat(dbpath); err == nil {
		return nil, errors.New("wallet already exists")
	}

	if err := os.MkdirAll(walletPath, 0700); err != nil {
		return nil, err
	}

	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}

	db, err := InitStorage(walletPath)
	if err != nil {
		return nil, fmt.Errorf("error restoring wallet: %v", err)
	}

	seed := bip39.NewSeed(mnemonic, "")
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	db.SaveMnemonicSeed(mnemonic, seed)

	proofsRestored := cashu.Proofs{}

	// for each mint get the keysets and sweep each of them
	for _, mint := range mintsToRestore {
		keysetsResponse, err := GetAllKeysets(mint)
		if err != nil {
			return nil, fmt.Errorf("error getting keysets from mint: %v", err)
		}

		for _, keyset := range keysetsResponse.Keysets {
			if keyset.Unit != cashu.Sat.String() {
				continue
			}

			keys, err := getKeysetKeys(mint, keyset.Id)
			if err != nil {
				return nil, err
			}
			walletKeyset := crypto.WalletKeyset{
				Id:          keyset.Id,
				MintURL:     mint,
				Unit:        keyset.Unit,
				Active:      keyset.Active,
				PublicKeys:  keys,
				InputFeePpk: keyset.InputFeePpk,
				FinalExpiry: keyset.FinalExpiry,
			}

			proofs, counter, err := restoreKeysetProofs(mint, &walletKeyset, masterKey)
			if err != nil {
				return nil, fmt.Errorf("error restoring keyset '%v': %v", keyset.Id, err)
			}
			if len(proofs) == 0 {
				continue
			}

			if err := db.SaveKeyset(&walletKeyset); err != nil {
				return nil, err
			}
			if err := db.IncrementKeysetCounter(keyset.Id, counter); err != nil {
				return nil, err
			}
			if err := db.SaveProofs(proofs); err != nil {
				return nil, err
			}
			proofsRestored = append(proofsRestored, proofs...)
		}
	}

	return proofsRestored, nil
}

// restoreKeysetProofs asks the mint to re-issue the signatures for
// outputs derived from the seed and keeps the ones that are still
// unspent. It returns the unspent proofs and the counter value after
// the last signed output.
func restoreKeysetProofs(
	mint string,
	keyset *crypto.WalletKeyset,
	masterKey *hdkeychain.ExtendedKey,
) (cashu.Proofs, uint32, error) {
	keysetPath, err := nut13.DeriveKeysetPath(masterKey, keyset.Id)
	if err != nil {
		return nil, 0, err
	}

	proofs := cashu.Proofs{}
	var counter, lastSigned uint32 = 0, 0
	emptyBatches := 0

	for emptyBatches < maxEmptyBatches {
		blindedMessages := make(cashu.BlindedMessages, restoreBatchSize)
		secrets := make([]string, restoreBatchSize)
		rs := make([]*secp256k1.PrivateKey, restoreBatchSize)

		for i := 0; i < restoreBatchSize; i++ {
			secret, err := nut13.DeriveSecret(keysetPath, counter)
			if err != nil {
				return nil, 0, err
			}
			r, err := nut13.DeriveBlindingFactor(keysetPath, counter)
			if err != nil {
				return nil, 0, err
			}
			B_, r, err := crypto.BlindMessage(secret, r)
			if err != nil {
				return nil, 0, err
			}

			blindedMessages[i] = cashu.NewBlindedMessage(keyset.Id, 0, B_)
			secrets[i] = secret
			rs[i] = r
			counter++
		}

		restoreResponse, err := PostRestore(mint, nut09.PostRestoreRequest{Outputs: blindedMessages})
		if err != nil {
			return nil, 0, fmt.Errorf("error restoring signatures from mint '%v': %v", mint, err)
		}

		if len(restoreResponse.Signatures) == 0 {
			emptyBatches++
			continue
		}
		emptyBatches = 0

		// the response only carries the outputs the mint had signed.
		// match them back to the secrets and blinding factors they
		// were derived from.
		for i, signature := range restoreResponse.Signatures {
			for j, blindedMessage := range blindedMessages {
				if blindedMessage.B_ != restoreResponse.Outputs[i].B_ {
					continue
				}

				K, ok := keyset.PublicKeys[signature.Amount]
				if !ok {
					return nil, 0, fmt.Errorf("mint has no key for amount %d", signature.Amount)
				}

				C_bytes, err := hex.DecodeString(signature.C_)
				if err != nil {
					return nil, 0, err
				}
				C_, err := secp256k1.ParsePubKey(C_bytes)
				if err != nil {
					return nil, 0, err
				}

				C := crypto.UnblindSignature(C_, rs[j], K)
				proofs = append(proofs, cashu.Proof{
					Amount: signature.Amount,
					Secret: secrets[j],
					C:      hex.EncodeToString(C.SerializeCompressed()),
					Id:     signature.Id,
				})
				lastSigned = counter - uint32(restoreBatchSize) + uint32(j) + 1
				break
			}
		}
	}

	if len(proofs) == 0 {
		return nil, 0, nil
	}

	// drop the proofs the mint considers spent
	proofStates, err := checkProofStates(mint, proofs)
	if err != nil {
		return nil, 0, err
	}
	unspent := cashu.Proofs{}
	for i, state := range proofStates {
		if state.State == nut07.Unspent {
			unspent = append(unspent, proofs[i])
		}
	}

	return unspent, lastSigned, nil
}

func checkProofStates(mint string, proofs cashu.Proofs) ([]nut07.ProofState, error) {
	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return nil, err
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}

	stateResponse, err := PostCheckProofState(mint, nut07.PostCheckStateRequest{Ys: Ys})
	if err != nil {
		return nil, err
	}
	if len(stateResponse.States) != len(proofs) {
		return nil, errors.New("mint returned wrong number of proof states")
	}
	return stateResponse.States, nil
}
