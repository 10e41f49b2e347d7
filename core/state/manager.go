package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stakevault/storage"
)

var (
	// ErrTxClosed is returned when a committed or discarded transaction is used.
	ErrTxClosed = errors.New("state: transaction closed")
)

// KV is the key/value surface shared by the committed view and open
// transactions. Native modules depend on this interface only.
type KV interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Manager provides RLP encoded key/value access on top of a storage backend.
// Mutations go through transactions opened with Begin so a module operation
// commits all of its writes or none of them.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVGet retrieves the committed value stored under the supplied key and
// decodes it into the provided destination. The boolean return value
// indicates whether the key existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut writes a single value outside of a transaction.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	tx := m.Begin()
	if err := tx.KVPut(key, value); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// KVDelete removes a single key outside of a transaction.
func (m *Manager) KVDelete(key []byte) error {
	tx := m.Begin()
	if err := tx.KVDelete(key); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// Begin opens a write-set overlay on top of committed state. Reads through
// the transaction observe its own pending writes.
func (m *Manager) Begin() *Tx {
	return &Tx{
		m:      m,
		writes: make(map[string]pendingWrite),
	}
}

type pendingWrite struct {
	key     []byte
	value   []byte
	deleted bool
}

// Tx buffers writes until Commit flushes them through a single storage batch.
// A Tx is not safe for concurrent use; callers serialise operations.
type Tx struct {
	m      *Manager
	writes map[string]pendingWrite
	order  []string
	closed bool
}

func (tx *Tx) stage(hashed []byte, w pendingWrite) {
	id := string(hashed)
	if _, seen := tx.writes[id]; !seen {
		tx.order = append(tx.order, id)
	}
	tx.writes[id] = w
}

// KVGet reads through the pending write-set before falling back to committed
// state.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if tx.closed {
		return false, ErrTxClosed
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	if w, ok := tx.writes[string(kvKey(key))]; ok {
		if w.deleted {
			return false, nil
		}
		if out == nil {
			return true, nil
		}
		if err := rlp.DecodeBytes(w.value, out); err != nil {
			return false, err
		}
		return true, nil
	}
	return tx.m.KVGet(key, out)
}

// KVPut stages the RLP encoding of value under key.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	hashed := kvKey(key)
	tx.stage(hashed, pendingWrite{key: hashed, value: encoded})
	return nil
}

// KVDelete stages the removal of key.
func (tx *Tx) KVDelete(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	tx.stage(hashed, pendingWrite{key: hashed, deleted: true})
	return nil
}

// Pending reports the number of staged writes.
func (tx *Tx) Pending() int { return len(tx.order) }

// Commit applies every staged write atomically. The transaction is closed
// afterwards regardless of the outcome.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if len(tx.order) == 0 {
		return nil
	}
	batch := tx.m.db.NewBatch()
	for _, id := range tx.order {
		w := tx.writes[id]
		if w.deleted {
			batch.Delete(w.key)
			continue
		}
		batch.Put(w.key, w.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Discard drops all staged writes. Calling Discard on a closed transaction is
// a no-op so it can be deferred unconditionally.
func (tx *Tx) Discard() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.writes = nil
	tx.order = nil
}
