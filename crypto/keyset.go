package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const maxOrder = 64

// mint url to map of keyset id to keyset
type KeysetsMap map[string]map[string]WalletKeyset

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// MintKeyset holds the private keys of a keyset. It is the signing
// side of a keyset and only needed when acting as a mint.
type MintKeyset struct {
	Id          string
	Unit        string
	Active      bool
	InputFeePpk uint
	Keys        map[uint64]KeyPair
}

// WalletKeyset is the public view of a mint keyset as tracked by a wallet.
type WalletKeyset struct {
	Id          string
	MintURL     string
	Unit        string
	Active      bool
	PublicKeys  map[uint64]*secp256k1.PublicKey
	InputFeePpk uint
	// counter for deterministic secret derivation. Owned by the
	// wallet's storage layer and only read here.
	Counter uint32
	// unix seconds after which the keyset cannot sign. Zero if unset.
	FinalExpiry int64
}

func GenerateKeyset(seed, derivationPath string, inputFeePpk uint) *MintKeyset {
	keys := make(map[uint64]KeyPair, maxOrder)

	for i := 0; i < maxOrder; i++ {
		amount := uint64(math.Pow(2, float64(i)))
		hash := sha256.Sum256([]byte(seed + derivationPath + strconv.FormatUint(amount, 10)))
		privKey, pubKey := btcec.PrivKeyFromBytes(hash[:])
		keys[amount] = KeyPair{PrivateKey: privKey, PublicKey: pubKey}
	}

	keyset := &MintKeyset{
		Unit:        "sat",
		Active:      true,
		InputFeePpk: inputFeePpk,
		Keys:        keys,
	}
	keyset.Id = DeriveKeysetId(keyset.PublicKeys())
	return keyset
}

// PublicKeys returns the amount to public key map of the keyset.
func (ks *MintKeyset) PublicKeys() map[uint64]*secp256k1.PublicKey {
	pubkeys := make(map[uint64]*secp256k1.PublicKey, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubkeys[amount] = key.PublicKey
	}
	return pubkeys
}

// DerivePublic returns the keys as hex strings keyed by amount.
func (ks *MintKeyset) DerivePublic() map[uint64]string {
	pubkeys := make(map[uint64]string, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubkeys[amount] = hex.EncodeToString(key.PublicKey.SerializeCompressed())
	}
	return pubkeys
}

func sortedAmounts(keys map[uint64]*secp256k1.PublicKey) []uint64 {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	slices.Sort(amounts)
	return amounts
}

// DeriveKeysetId derives the v1 keyset id ("00" prefix) as specified
// in [NUT-02]: sha256 over the concatenated compressed public keys
// sorted by amount, hex encoded and truncated.
//
// [NUT-02]: https://github.com/cashubtc/nuts/blob/main/02.md
func DeriveKeysetId(keys map[uint64]*secp256k1.PublicKey) string {
	pubkeys := make([]byte, 0, len(keys)*33)
	for _, amount := range sortedAmounts(keys) {
		pubkeys = append(pubkeys, keys[amount].SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// DeriveKeysetIdLegacy derives the pre-hex base64 keyset id: sha256
// over the concatenated hex string representations of the public keys
// sorted by amount, base64 encoded and truncated to 12 characters.
func DeriveKeysetIdLegacy(keys map[uint64]*secp256k1.PublicKey) string {
	var pubkeysConcat strings.Builder
	for _, amount := range sortedAmounts(keys) {
		pubkeysConcat.WriteString(hex.EncodeToString(keys[amount].SerializeCompressed()))
	}
	hash := sha256.Sum256([]byte(pubkeysConcat.String()))

	return base64.StdEncoding.EncodeToString(hash[:])[:12]
}

// DeriveKeysetIdV2 derives the versioned keyset id ("01" prefix) which
// also commits to the keyset unit and, if set, the final expiry.
func DeriveKeysetIdV2(keys map[uint64]*secp256k1.PublicKey, unit string, finalExpiry int64) string {
	preimage := make([]byte, 0, len(keys)*33)
	for _, amount := range sortedAmounts(keys) {
		preimage = append(preimage, keys[amount].SerializeCompressed()...)
	}
	preimage = append(preimage, []byte("unit:"+strings.ToLower(unit))...)
	if finalExpiry > 0 {
		preimage = append(preimage, []byte("final_expiry:"+strconv.FormatInt(finalExpiry, 10))...)
	}
	hash := sha256.Sum256(preimage)

	return "01" + hex.EncodeToString(hash[:])
}

// ValidateKeysetId recomputes the id of the keyset from its keys and
// checks it matches the stored id. It dispatches on the id format:
// 12 characters is the legacy base64 id, "00" prefix the hex id and
// "01" prefix the versioned id committing to unit and final expiry.
func ValidateKeysetId(keyset WalletKeyset) bool {
	switch {
	case len(keyset.Id) == 12:
		return DeriveKeysetIdLegacy(keyset.PublicKeys) == keyset.Id
	case strings.HasPrefix(keyset.Id, "00"):
		return DeriveKeysetId(keyset.PublicKeys) == keyset.Id
	case strings.HasPrefix(keyset.Id, "01"):
		return DeriveKeysetIdV2(keyset.PublicKeys, keyset.Unit, keyset.FinalExpiry) == keyset.Id
	}
	return false
}

// KeysetIdURLSafe returns the id in a form usable in a URL path.
// Only relevant for legacy base64 ids.
func KeysetIdURLSafe(id string) string {
	return strings.ReplaceAll(strings.ReplaceAll(id, "+", "-"), "/", "_")
}

// MapPubKeys parses an amount to public key hex map into curve points.
func MapPubKeys(keys map[uint64]string) (map[uint64]*secp256k1.PublicKey, error) {
	publicKeys := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, key := range keys {
		pkbytes, err := hex.DecodeString(key)
		if err != nil {
			return nil, err
		}
		pubkey, err := secp256k1.ParsePubKey(pkbytes)
		if err != nil {
			return nil, err
		}
		publicKeys[amount] = pubkey
	}
	return publicKeys, nil
}
