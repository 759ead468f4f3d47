package storage

import (
	"crypto/rand"
	"encoding/hex"
	"slices"
	"testing"

	"github.com/ecashdev/walnut/cashu"
	"github.com/ecashdev/walnut/cashu/nuts/nut05"
	"github.com/ecashdev/walnut/crypto"
)

func testDB(t *testing.T) *BoltDB {
	t.Helper()

	db, err := InitBolt(t.TempDir())
	if err != nil {
		t.Fatalf("InitBolt: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func randomProof(t *testing.T, amount uint64, keysetId string) cashu.Proof {
	t.Helper()

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		t.Fatal(err)
	}
	return cashu.Proof{
		Amount: amount,
		Id:     keysetId,
		Secret: hex.EncodeToString(secretBytes),
		C:      "0249eb5dbb4fac2750991cf18083388c6ef76cde9537a6ac6f3e6679d35cdf4b0c",
	}
}

func TestProofStorage(t *testing.T) {
	db := testDB(t)

	proofs := cashu.Proofs{
		randomProof(t, 2, "00ad268c4d1f5826"),
		randomProof(t, 8, "00ad268c4d1f5826"),
		randomProof(t, 4, "00ffd48b8f5ecf80"),
	}
	if err := db.SaveProofs(proofs); err != nil {
		t.Fatalf("SaveProofs: %v", err)
	}

	stored := db.GetProofs()
	if stored.Amount() != proofs.Amount() {
		t.Errorf("expected stored amount %v but got %v", proofs.Amount(), stored.Amount())
	}

	byKeyset := db.GetProofsByKeysetId("00ad268c4d1f5826")
	if byKeyset.Amount() != 10 {
		t.Errorf("expected amount 10 for keyset but got %v", byKeyset.Amount())
	}

	if err := db.DeleteProof(proofs[0].Secret); err != nil {
		t.Fatalf("DeleteProof: %v", err)
	}
	if db.GetProofs().Amount() != 12 {
		t.Errorf("expected amount 12 after delete but got %v", db.GetProofs().Amount())
	}
	// deleting a proof that is not there errors
	if err := db.DeleteProof(proofs[0].Secret); err == nil {
		t.Error("expected error deleting unknown proof")
	}
}

func TestPendingProofs(t *testing.T) {
	db := testDB(t)

	quoteId := "quote-1"
	proofs := cashu.Proofs{
		randomProof(t, 2, "00ad268c4d1f5826"),
		randomProof(t, 4, "00ad268c4d1f5826"),
	}
	if err := db.AddPendingProofsByQuoteId(proofs, quoteId); err != nil {
		t.Fatalf("AddPendingProofsByQuoteId: %v", err)
	}

	pending := db.GetPendingProofsByQuoteId(quoteId)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending proofs but got %v", len(pending))
	}
	if len(db.GetPendingProofsByQuoteId("other-quote")) != 0 {
		t.Error("expected no pending proofs for other quote")
	}
	if len(db.GetPendingProofs()) != 2 {
		t.Error("expected 2 pending proofs in total")
	}

	if err := db.DeletePendingProofsByQuoteId(quoteId); err != nil {
		t.Fatalf("DeletePendingProofsByQuoteId: %v", err)
	}
	if len(db.GetPendingProofs()) != 0 {
		t.Error("expected no pending proofs after delete")
	}
}

func TestKeysetStorage(t *testing.T) {
	db := testDB(t)

	mintKeyset := crypto.GenerateKeyset("storagetestseed", "0/0/0/0", 100)
	keyset := crypto.WalletKeyset{
		Id:          mintKeyset.Id,
		MintURL:     "http://localhost:3338",
		Unit:        "sat",
		Active:      true,
		PublicKeys:  mintKeyset.PublicKeys(),
		InputFeePpk: 100,
	}

	if err := db.SaveKeyset(&keyset); err != nil {
		t.Fatalf("SaveKeyset: %v", err)
	}

	stored := db.GetKeyset(keyset.Id)
	if stored == nil {
		t.Fatal("keyset not found after save")
	}
	if stored.MintURL != keyset.MintURL || stored.InputFeePpk != 100 || !stored.Active {
		t.Errorf("stored keyset does not match: %+v", stored)
	}
	if len(stored.PublicKeys) != len(keyset.PublicKeys) {
		t.Errorf("expected %v keys but got %v", len(keyset.PublicKeys), len(stored.PublicKeys))
	}

	keysetsMap := db.GetKeysets()
	if _, ok := keysetsMap[keyset.MintURL][keyset.Id]; !ok {
		t.Error("keyset not in keysets map")
	}

	// counter bookkeeping
	if counter := db.GetKeysetCounter(keyset.Id); counter != 0 {
		t.Errorf("expected counter 0 but got %v", counter)
	}
	if err := db.IncrementKeysetCounter(keyset.Id, 4); err != nil {
		t.Fatalf("IncrementKeysetCounter: %v", err)
	}
	if err := db.IncrementKeysetCounter(keyset.Id, 2); err != nil {
		t.Fatalf("IncrementKeysetCounter: %v", err)
	}
	if counter := db.GetKeysetCounter(keyset.Id); counter != 6 {
		t.Errorf("expected counter 6 but got %v", counter)
	}
	if err := db.IncrementKeysetCounter("unknown", 1); err == nil {
		t.Error("expected error incrementing counter of unknown keyset")
	}
}

func TestQuoteStorage(t *testing.T) {
	db := testDB(t)

	meltQuote := MeltQuote{
		QuoteId:        "quote-1",
		Mint:           "http://localhost:3338",
		Method:         cashu.BOLT11_METHOD,
		State:          nut05.Pending,
		Unit:           "sat",
		PaymentRequest: "lnbcrt1fake",
		Amount:         100,
		FeeReserve:     5,
	}
	if err := db.SaveMeltQuote(meltQuote); err != nil {
		t.Fatalf("SaveMeltQuote: %v", err)
	}

	stored := db.GetMeltQuoteById("quote-1")
	if stored == nil {
		t.Fatal("melt quote not found after save")
	}
	if stored.State != nut05.Pending || stored.Amount != 100 {
		t.Errorf("stored melt quote does not match: %+v", stored)
	}

	// updates overwrite
	meltQuote.State = nut05.Paid
	if err := db.SaveMeltQuote(meltQuote); err != nil {
		t.Fatal(err)
	}
	if db.GetMeltQuoteById("quote-1").State != nut05.Paid {
		t.Error("melt quote state was not updated")
	}

	quotes := db.GetMeltQuotes()
	if len(quotes) != 1 {
		t.Errorf("expected 1 melt quote but got %v", len(quotes))
	}

	if db.GetMintQuoteById("missing") != nil {
		t.Error("expected nil for unknown mint quote")
	}
}

func TestMnemonicSeed(t *testing.T) {
	db := testDB(t)

	if len(db.GetMnemonic()) != 0 {
		t.Error("expected empty mnemonic on fresh db")
	}

	mnemonic := "half depart obvious quality work element tank gorilla view sugar picture humble"
	seed := []byte{0x01, 0x02, 0x03}
	db.SaveMnemonicSeed(mnemonic, seed)

	if db.GetMnemonic() != mnemonic {
		t.Errorf("expected stored mnemonic but got '%v'", db.GetMnemonic())
	}
	if !slices.Equal(db.GetSeed(), seed) {
		t.Errorf("expected stored seed but got '%v'", db.GetSeed())
	}
}
