package secretstore

import (
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"
)

// bookkeepingBucketName is the name of the bucket holding the process-wide
// address lists.
var bookkeepingBucketName = []byte("bookkeeping")

// ListKind identifies one of the process-wide bookkeeping lists.
type ListKind uint8

const (
	// ListPrivateKey holds the addresses whose secret is a raw private
	// key.
	ListPrivateKey ListKind = iota

	// ListSeed holds the addresses whose secret is an HD seed.
	ListSeed

	// ListProtected holds the addresses whose ungated secret copy has
	// been purged, leaving only the presence-required copy.
	ListProtected

	// ListWatch holds the watch-only addresses, which own no secret.
	ListWatch
)

// storageKey returns the bucket key under which the list is persisted.
func (k ListKind) storageKey() []byte {
	switch k {
	case ListPrivateKey:
		return []byte("addresses-with-private-keys")
	case ListSeed:
		return []byte("addresses-with-seed")
	case ListProtected:
		return []byte("addresses-protected-by-presence")
	case ListWatch:
		return []byte("watch-addresses")
	default:
		return []byte("unknown")
	}
}

// Bookkeeper is the simple settings store holding the ordered address lists
// the engine keeps per wallet kind. The lists are shared mutable state
// rewritten whole on every change, so all access is funneled through one
// mutex to keep concurrent read-modify-write cycles from losing updates.
type Bookkeeper struct {
	db *bolt.DB

	mtx sync.Mutex
}

// NewBookkeeper creates the bookkeeping store over the given database.
func NewBookkeeper(db *bolt.DB) (*Bookkeeper, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bookkeepingBucketName)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Bookkeeper{db: db}, nil
}

// readList loads one list inside the caller's lock. Addresses are persisted
// in their EIP-55 checksummed textual form and parsed back to their binary
// form at this boundary, so every comparison elsewhere is on canonical
// addresses.
func (b *Bookkeeper) readList(kind ListKind) ([]common.Address, error) {
	var raw []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		stored := tx.Bucket(bookkeepingBucketName).Get(
			kind.storageKey(),
		)
		if stored != nil {
			raw = make([]byte, len(stored))
			copy(raw, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, nil
	}

	var hexAddrs []string
	if err := json.Unmarshal(raw, &hexAddrs); err != nil {
		return nil, err
	}

	addrs := make([]common.Address, 0, len(hexAddrs))
	for _, hexAddr := range hexAddrs {
		addrs = append(addrs, common.HexToAddress(hexAddr))
	}

	return addrs, nil
}

// writeList persists one list inside the caller's lock.
func (b *Bookkeeper) writeList(kind ListKind, addrs []common.Address) error {
	hexAddrs := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		hexAddrs = append(hexAddrs, addr.Hex())
	}

	raw, err := json.Marshal(hexAddrs)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bookkeepingBucketName).Put(
			kind.storageKey(), raw,
		)
	})
}

// All returns the addresses currently recorded in the given list, in
// insertion order.
func (b *Bookkeeper) All(kind ListKind) ([]common.Address, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.readList(kind)
}

// Contains reports whether the address is recorded in the given list.
func (b *Bookkeeper) Contains(kind ListKind,
	addr common.Address) (bool, error) {

	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.contains(kind, addr)
}

func (b *Bookkeeper) contains(kind ListKind, addr common.Address) (bool,
	error) {

	addrs, err := b.readList(kind)
	if err != nil {
		return false, err
	}

	for _, candidate := range addrs {
		if candidate == addr {
			return true, nil
		}
	}

	return false, nil
}

// Append records the address in the given list. Appending an address that is
// already present is a no-op, preserving the at-most-once invariant.
func (b *Bookkeeper) Append(kind ListKind, addr common.Address) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	present, err := b.contains(kind, addr)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	addrs, err := b.readList(kind)
	if err != nil {
		return err
	}

	return b.writeList(kind, append(addrs, addr))
}

// Remove deletes the address from the given list. Removing an absent address
// is a no-op.
func (b *Bookkeeper) Remove(kind ListKind, addr common.Address) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	addrs, err := b.readList(kind)
	if err != nil {
		return err
	}

	filtered := addrs[:0]
	for _, candidate := range addrs {
		if candidate != addr {
			filtered = append(filtered, candidate)
		}
	}

	if len(filtered) == len(addrs) {
		return nil
	}

	return b.writeList(kind, filtered)
}

// RemoveEverywhere deletes the address from all bookkeeping lists.
func (b *Bookkeeper) RemoveEverywhere(addr common.Address) error {
	kinds := []ListKind{
		ListPrivateKey, ListSeed, ListProtected, ListWatch,
	}
	for _, kind := range kinds {
		if err := b.Remove(kind, addr); err != nil {
			return err
		}
	}

	return nil
}

// HasAccount reports whether the address is known under any wallet kind,
// which is the duplicate check applied on every import.
func (b *Bookkeeper) HasAccount(addr common.Address) (bool, error) {
	kinds := []ListKind{ListPrivateKey, ListSeed, ListWatch}
	for _, kind := range kinds {
		present, err := b.Contains(kind, addr)
		if err != nil {
			return false, err
		}
		if present {
			return true, nil
		}
	}

	return false, nil
}
