package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ecashdev/walnut/cashu"
	"github.com/ecashdev/walnut/crypto"
	bolt "go.etcd.io/bbolt"
)

const (
	keysetsBucket       = "keysets"
	proofsBucket        = "proofs"
	pendingProofsBucket = "pending_proofs"
	mintQuotesBucket    = "mint_quotes"
	meltQuotesBucket    = "melt_quotes"
	walletBucket        = "wallet"

	mnemonicKey = "mnemonic"
	seedKey     = "seed"
)

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "wallet.db"), 0600,
		&bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initWalletBuckets(); err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	return boltdb, nil
}

func (db *BoltDB) initWalletBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		buckets := []string{
			keysetsBucket,
			proofsBucket,
			pendingProofsBucket,
			mintQuotesBucket,
			meltQuotesBucket,
			walletBucket,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

func (db *BoltDB) SaveMnemonicSeed(mnemonic string, seed []byte) {
	db.bolt.Update(func(tx *bolt.Tx) error {
		wallet := tx.Bucket([]byte(walletBucket))
		wallet.Put([]byte(seedKey), seed)
		wallet.Put([]byte(mnemonicKey), []byte(mnemonic))
		return nil
	})
}

func (db *BoltDB) GetMnemonic() string {
	var mnemonic string
	db.bolt.View(func(tx *bolt.Tx) error {
		mnemonic = string(tx.Bucket([]byte(walletBucket)).Get([]byte(mnemonicKey)))
		return nil
	})
	return mnemonic
}

func (db *BoltDB) GetSeed() []byte {
	var seed []byte
	db.bolt.View(func(tx *bolt.Tx) error {
		seedBytes := tx.Bucket([]byte(walletBucket)).Get([]byte(seedKey))
		seed = make([]byte, len(seedBytes))
		copy(seed, seedBytes)
		return nil
	})
	return seed
}

func proofY(proof cashu.Proof) (string, error) {
	Y, err := crypto.HashToCurve([]byte(proof.Secret))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(Y.SerializeCompressed()), nil
}

func (db *BoltDB) SaveProofs(proofs cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		for _, proof := range proofs {
			Y, err := proofY(proof)
			if err != nil {
				return err
			}
			dbProof := DBProof{
				Y:      Y,
				Amount: proof.Amount,
				Id:     proof.Id,
				Secret: proof.Secret,
				C:      proof.C,
				DLEQ:   proof.DLEQ,
			}
			jsonProof, err := json.Marshal(dbProof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := proofsb.Put([]byte(Y), jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetProofs() cashu.Proofs {
	proofs := cashu.Proofs{}

	db.bolt.View(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		return proofsb.ForEach(func(k, v []byte) error {
			var dbProof DBProof
			if err := json.Unmarshal(v, &dbProof); err != nil {
				return err
			}
			proofs = append(proofs, cashu.Proof{
				Amount: dbProof.Amount,
				Id:     dbProof.Id,
				Secret: dbProof.Secret,
				C:      dbProof.C,
				DLEQ:   dbProof.DLEQ,
			})
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) GetProofsByKeysetId(id string) cashu.Proofs {
	proofs := cashu.Proofs{}

	db.bolt.View(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		return proofsb.ForEach(func(k, v []byte) error {
			var dbProof DBProof
			if err := json.Unmarshal(v, &dbProof); err != nil {
				return err
			}
			if dbProof.Id == id {
				proofs = append(proofs, cashu.Proof{
					Amount: dbProof.Amount,
					Id:     dbProof.Id,
					Secret: dbProof.Secret,
					C:      dbProof.C,
					DLEQ:   dbProof.DLEQ,
				})
			}
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) DeleteProof(secret string) error {
	Y, err := crypto.HashToCurve([]byte(secret))
	if err != nil {
		return err
	}
	Yhex := hex.EncodeToString(Y.SerializeCompressed())

	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		val := proofsb.Get([]byte(Yhex))
		if val == nil {
			return errors.New("proof does not exist")
		}
		return proofsb.Delete([]byte(Yhex))
	})
}

func (db *BoltDB) AddPendingProofsByQuoteId(proofs cashu.Proofs, quoteId string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		pendingProofsb := tx.Bucket([]byte(pendingProofsBucket))
		for _, proof := range proofs {
			Y, err := proofY(proof)
			if err != nil {
				return err
			}
			dbProof := DBProof{
				Y:           Y,
				Amount:      proof.Amount,
				Id:          proof.Id,
				Secret:      proof.Secret,
				C:           proof.C,
				DLEQ:        proof.DLEQ,
				MeltQuoteId: quoteId,
			}
			jsonProof, err := json.Marshal(dbProof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := pendingProofsb.Put([]byte(Y), jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetPendingProofs() []DBProof {
	proofs := []DBProof{}

	db.bolt.View(func(tx *bolt.Tx) error {
		pendingProofsb := tx.Bucket([]byte(pendingProofsBucket))
		return pendingProofsb.ForEach(func(k, v []byte) error {
			var dbProof DBProof
			if err := json.Unmarshal(v, &dbProof); err != nil {
				return err
			}
			proofs = append(proofs, dbProof)
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) GetPendingProofsByQuoteId(quoteId string) []DBProof {
	proofs := []DBProof{}

	db.bolt.View(func(tx *bolt.Tx) error {
		pendingProofsb := tx.Bucket([]byte(pendingProofsBucket))
		return pendingProofsb.ForEach(func(k, v []byte) error {
			var dbProof DBProof
			if err := json.Unmarshal(v, &dbProof); err != nil {
				return err
			}
			if dbProof.MeltQuoteId == quoteId {
				proofs = append(proofs, dbProof)
			}
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) DeletePendingProofsByQuoteId(quoteId string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		pendingProofsb := tx.Bucket([]byte(pendingProofsBucket))

		toDelete := [][]byte{}
		err := pendingProofsb.ForEach(func(k, v []byte) error {
			var dbProof DBProof
			if err := json.Unmarshal(v, &dbProof); err != nil {
				return err
			}
			if dbProof.MeltQuoteId == quoteId {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range toDelete {
			if err := pendingProofsb.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

type dbKeyset struct {
	Id          string            `json:"id"`
	MintURL     string            `json:"mint_url"`
	Unit        string            `json:"unit"`
	Active      bool              `json:"active"`
	PublicKeys  map[uint64]string `json:"public_keys,omitempty"`
	InputFeePpk uint              `json:"input_fee_ppk"`
	Counter     uint32            `json:"counter"`
	FinalExpiry int64             `json:"final_expiry,omitempty"`
}

func toDBKeyset(keyset *crypto.WalletKeyset) dbKeyset {
	publicKeys := make(map[uint64]string, len(keyset.PublicKeys))
	for amount, pk := range keyset.PublicKeys {
		publicKeys[amount] = hex.EncodeToString(pk.SerializeCompressed())
	}
	return dbKeyset{
		Id:          keyset.Id,
		MintURL:     keyset.MintURL,
		Unit:        keyset.Unit,
		Active:      keyset.Active,
		PublicKeys:  publicKeys,
		InputFeePpk: keyset.InputFeePpk,
		Counter:     keyset.Counter,
		FinalExpiry: keyset.FinalExpiry,
	}
}

func fromDBKeyset(dbk dbKeyset) (*crypto.WalletKeyset, error) {
	publicKeys, err := crypto.MapPubKeys(dbk.PublicKeys)
	if err != nil {
		return nil, err
	}
	return &crypto.WalletKeyset{
		Id:          dbk.Id,
		MintURL:     dbk.MintURL,
		Unit:        dbk.Unit,
		Active:      dbk.Active,
		PublicKeys:  publicKeys,
		InputFeePpk: dbk.InputFeePpk,
		Counter:     dbk.Counter,
		FinalExpiry: dbk.FinalExpiry,
	}, nil
}

func (db *BoltDB) SaveKeyset(keyset *crypto.WalletKeyset) error {
	jsonKeyset, err := json.Marshal(toDBKeyset(keyset))
	if err != nil {
		return fmt.Errorf("invalid keyset: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		return keysetsb.Put([]byte(keyset.Id), jsonKeyset)
	})
}

func (db *BoltDB) GetKeysets() crypto.KeysetsMap {
	keysets := make(crypto.KeysetsMap)

	db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		return keysetsb.ForEach(func(k, v []byte) error {
			var dbk dbKeyset
			if err := json.Unmarshal(v, &dbk); err != nil {
				return err
			}
			keyset, err := fromDBKeyset(dbk)
			if err != nil {
				return err
			}

			mintKeysets, ok := keysets[keyset.MintURL]
			if !ok {
				mintKeysets = make(map[string]crypto.WalletKeyset)
				keysets[keyset.MintURL] = mintKeysets
			}
			mintKeysets[keyset.Id] = *keyset
			return nil
		})
	})
	return keysets
}

func (db *BoltDB) GetKeyset(id string) *crypto.WalletKeyset {
	var keyset *crypto.WalletKeyset

	db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		keysetBytes := keysetsb.Get([]byte(id))
		if keysetBytes == nil {
			return nil
		}

		var dbk dbKeyset
		if err := json.Unmarshal(keysetBytes, &dbk); err != nil {
			return err
		}
		var err error
		keyset, err = fromDBKeyset(dbk)
		return err
	})
	return keyset
}

func (db *BoltDB) IncrementKeysetCounter(id string, num uint32) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		keysetBytes := keysetsb.Get([]byte(id))
		if keysetBytes == nil {
			return errors.New("keyset does not exist")
		}

		var dbk dbKeyset
		if err := json.Unmarshal(keysetBytes, &dbk); err != nil {
			return fmt.Errorf("error incrementing keyset counter: %v", err)
		}
		dbk.Counter += num
		jsonBytes, err := json.Marshal(dbk)
		if err != nil {
			return err
		}
		return keysetsb.Put([]byte(id), jsonBytes)
	})
}

func (db *BoltDB) GetKeysetCounter(id string) uint32 {
	var counter uint32 = 0

	db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		keysetBytes := keysetsb.Get([]byte(id))
		if keysetBytes == nil {
			return nil
		}

		var dbk dbKeyset
		if err := json.Unmarshal(keysetBytes, &dbk); err != nil {
			return err
		}
		counter = dbk.Counter
		return nil
	})
	return counter
}

func (db *BoltDB) SaveMintQuote(quote MintQuote) error {
	jsonQuote, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("invalid mint quote: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		mintQuotesb := tx.Bucket([]byte(mintQuotesBucket))
		return mintQuotesb.Put([]byte(quote.QuoteId), jsonQuote)
	})
}

func (db *BoltDB) GetMintQuotes() []MintQuote {
	quotes := []MintQuote{}

	db.bolt.View(func(tx *bolt.Tx) error {
		mintQuotesb := tx.Bucket([]byte(mintQuotesBucket))
		return mintQuotesb.ForEach(func(k, v []byte) error {
			var quote MintQuote
			if err := json.Unmarshal(v, &quote); err != nil {
				return err
			}
			quotes = append(quotes, quote)
			return nil
		})
	})
	return quotes
}

func (db *BoltDB) GetMintQuoteById(id string) *MintQuote {
	var quote *MintQuote

	db.bolt.View(func(tx *bolt.Tx) error {
		mintQuotesb := tx.Bucket([]byte(mintQuotesBucket))
		quoteBytes := mintQuotesb.Get([]byte(id))
		if quoteBytes == nil {
			return nil
		}

		var mintQuote MintQuote
		if err := json.Unmarshal(quoteBytes, &mintQuote); err != nil {
			return err
		}
		quote = &mintQuote
		return nil
	})
	return quote
}

func (db *BoltDB) SaveMeltQuote(quote MeltQuote) error {
	jsonQuote, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("invalid melt quote: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		meltQuotesb := tx.Bucket([]byte(meltQuotesBucket))
		return meltQuotesb.Put([]byte(quote.QuoteId), jsonQuote)
	})
}

func (db *BoltDB) GetMeltQuotes() []MeltQuote {
	quotes := []MeltQuote{}

	db.bolt.View(func(tx *bolt.Tx) error {
		meltQuotesb := tx.Bucket([]byte(meltQuotesBucket))
		return meltQuotesb.ForEach(func(k, v []byte) error {
			var quote MeltQuote
			if err := json.Unmarshal(v, &quote); err != nil {
				return err
			}
			quotes = append(quotes, quote)
			return nil
		})
	})
	return quotes
}

func (db *BoltDB) GetMeltQuoteById(id string) *MeltQuote {
	var quote *MeltQuote

	db.bolt.View(func(tx *bolt.Tx) error {
		meltQuotesb := tx.Bucket([]byte(meltQuotesBucket))
		quoteBytes := meltQuotesb.Get([]byte(id))
		if quoteBytes == nil {
			return nil
		}

		var meltQuote MeltQuote
		if err := json.Unmarshal(quoteBytes, &meltQuote); err != nil {
			return err
		}
		quote = &meltQuote
		return nil
	})
	return quote
}
