package wallet

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ecashdev/walnut/cashu"
	"github.com/ecashdev/walnut/crypto"
)

// GetMintActiveKeyset returns the first active keyset of the mint with
// the specified unit. The keyset id is recomputed from the keys and
// has to match the id advertised by the mint.
func GetMintActiveKeyset(mintURL string, unit cashu.Unit) (*crypto.WalletKeyset, error) {
	keysets, err := GetAllKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	for _, keyset := range keysets.Keysets {
		if keyset.Unit != unit.String() || !keyset.Active {
			continue
		}

		keysetKeys, err := GetKeysetById(mintURL, keyset.Id)
		if err != nil {
			return nil, fmt.Errorf("error getting keyset keys from mint: %v", err)
		}
		if len(keysetKeys.Keysets) == 0 {
			continue
		}

		keys, err := crypto.MapPubKeys(keysetKeys.Keysets[0].Keys)
		if err != nil {
			return nil, err
		}

		walletKeyset := crypto.WalletKeyset{
			Id:          keyset.Id,
			MintURL:     mintURL,
			Unit:        keyset.Unit,
			Active:      true,
			PublicKeys:  keys,
			InputFeePpk: keyset.InputFeePpk,
			FinalExpiry: keyset.FinalExpiry,
		}
		if !crypto.ValidateKeysetId(walletKeyset) {
			return nil, fmt.Errorf("mint advertised keyset id '%v' that does not match its keys", keyset.Id)
		}

		return &walletKeyset, nil
	}

	return nil, ErrNoActiveKeyset
}

func GetMintInactiveKeysets(mintURL string, unit cashu.Unit) (map[string]crypto.WalletKeyset, error) {
	keysetsResponse, err := GetAllKeysets(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keysets from mint: %v", err)
	}

	inactiveKeysets := make(map[string]crypto.WalletKeyset)
	for _, keysetRes := range keysetsResponse.Keysets {
		if !keysetRes.Active && keysetRes.Unit == unit.String() {
			keyset := crypto.WalletKeyset{
				Id:          keysetRes.Id,
				MintURL:     mintURL,
				Unit:        keysetRes.Unit,
				Active:      keysetRes.Active,
				InputFeePpk: keysetRes.InputFeePpk,
				FinalExpiry: keysetRes.FinalExpiry,
			}
			inactiveKeysets[keyset.Id] = keyset
		}
	}
	return inactiveKeysets, nil
}

// getActiveKeyset returns the active keyset for the mint passed.
// if mint is known and the latest active keyset has changed, it will
// inactivate the previous active and save the new active to the db.
func (w *Wallet) getActiveKeyset(mintURL string) (*crypto.WalletKeyset, error) {
	mint, ok := w.mints[mintURL]
	// if mint is not known, get active keyset from calling mint
	if !ok {
		return GetMintActiveKeyset(mintURL, w.unit)
	}

	allKeysets, err := GetAllKeysets(mintURL)
	if err != nil {
		return nil, err
	}

	activeKeyset := mint.activeKeyset
	// check if there is new active keyset
	activeChanged := true
	for _, keyset := range allKeysets.Keysets {
		if keyset.Active && keyset.Id == activeKeyset.Id {
			activeChanged = false
			break
		}
	}

	// if new active, save it to db and inactivate previous
	if activeChanged {
		// inactivate previous active
		activeKeyset.Active = false
		mint.inactiveKeysets[activeKeyset.Id] = activeKeyset
		if err := w.db.SaveKeyset(&activeKeyset); err != nil {
			return nil, err
		}

		newActive, err := GetMintActiveKeyset(mintURL, w.unit)
		if err != nil {
			return nil, err
		}
		if err := w.db.SaveKeyset(newActive); err != nil {
			return nil, err
		}
		mint.activeKeyset = *newActive
		w.mints[mintURL] = mint
		activeKeyset = *newActive
	}

	return &activeKeyset, nil
}

// keysetForProof returns the keyset of the proof's id, looking it up
// from the wallet's known keysets first and the mint second.
func (w *Wallet) keysetForProof(mintURL string, proof cashu.Proof) (*crypto.WalletKeyset, error) {
	if keyset := w.db.GetKeyset(proof.Id); keyset != nil {
		if len(keyset.PublicKeys) > 0 {
			return keyset, nil
		}
	}

	if mint, ok := w.mints[mintURL]; ok {
		if mint.activeKeyset.Id == proof.Id {
			return &mint.activeKeyset, nil
		}
		if inactive, ok := mint.inactiveKeysets[proof.Id]; ok && len(inactive.PublicKeys) > 0 {
			return &inactive, nil
		}
	}

	keys, err := getKeysetKeys(mintURL, proof.Id)
	if err != nil {
		return nil, err
	}
	return &crypto.WalletKeyset{
		Id:         proof.Id,
		MintURL:    mintURL,
		PublicKeys: keys,
	}, nil
}

func getKeysetKeys(mintURL, id string) (map[uint64]*secp256k1.PublicKey, error) {
	keysetsResponse, err := GetKeysetById(mintURL, id)
	if err != nil {
		return nil, fmt.Errorf("error getting keyset from mint: %v", err)
	}
	if len(keysetsResponse.Keysets) == 0 {
		return nil, errors.New("mint does not have keyset with that id")
	}

	return crypto.MapPubKeys(keysetsResponse.Keysets[0].Keys)
}
