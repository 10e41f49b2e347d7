package state

import (
	"errors"
	"math/big"
	"testing"

	"stakevault/storage"
)

type kvRecord struct {
	Owner  [20]byte
	Amount *big.Int
	At     uint64
	Active bool
}

func TestManagerKVReadWrite(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	record := kvRecord{Owner: [20]byte{0x01}, Amount: big.NewInt(42), At: 7, Active: true}
	if err := mgr.KVPut([]byte("record/1"), &record); err != nil {
		t.Fatalf("put: %v", err)
	}
	var loaded kvRecord
	ok, err := mgr.KVGet([]byte("record/1"), &loaded)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if loaded.Owner != record.Owner || loaded.Amount.Cmp(record.Amount) != 0 || loaded.At != 7 || !loaded.Active {
		t.Fatalf("unexpected record: %+v", loaded)
	}

	ok, err = mgr.KVGet([]byte("record/2"), &loaded)
	if err != nil || ok {
		t.Fatalf("expected missing record, ok=%v err=%v", ok, err)
	}
	if _, err := mgr.KVGet(nil, &loaded); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}

	if err := mgr.KVDelete([]byte("record/1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("record/1"), nil); ok {
		t.Fatalf("expected record to be deleted")
	}
}

func TestTxReadYourWrites(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	if err := mgr.KVPut([]byte("counter"), uint64(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx := mgr.Begin()
	if err := tx.KVPut([]byte("counter"), uint64(2)); err != nil {
		t.Fatalf("stage put: %v", err)
	}
	var inTx uint64
	if ok, err := tx.KVGet([]byte("counter"), &inTx); err != nil || !ok || inTx != 2 {
		t.Fatalf("expected staged value 2, got %d ok=%v err=%v", inTx, ok, err)
	}
	var committed uint64
	if _, err := mgr.KVGet([]byte("counter"), &committed); err != nil || committed != 1 {
		t.Fatalf("staged write leaked into committed state: %d err=%v", committed, err)
	}

	if err := tx.KVDelete([]byte("counter")); err != nil {
		t.Fatalf("stage delete: %v", err)
	}
	if ok, _ := tx.KVGet([]byte("counter"), nil); ok {
		t.Fatalf("expected staged delete to hide key")
	}
	if tx.Pending() != 1 {
		t.Fatalf("expected a single pending key, got %d", tx.Pending())
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("counter"), nil); ok {
		t.Fatalf("expected committed delete")
	}
}

func TestTxDiscardLeavesStateUntouched(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	tx := mgr.Begin()
	if err := tx.KVPut([]byte("a"), uint64(10)); err != nil {
		t.Fatalf("stage: %v", err)
	}
	tx.Discard()
	tx.Discard()
	if db.Len() != 0 {
		t.Fatalf("expected empty database after discard, got %d keys", db.Len())
	}
	if err := tx.KVPut([]byte("a"), uint64(11)); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed, got %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed on commit, got %v", err)
	}
}
