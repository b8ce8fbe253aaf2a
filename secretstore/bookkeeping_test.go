package secretstore

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestBookkeeper(t *testing.T) *Bookkeeper {
	t.Helper()

	db, err := bolt.Open(
		filepath.Join(t.TempDir(), "books.db"), 0600, nil,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	books, err := NewBookkeeper(db)
	require.NoError(t, err)

	return books
}

// TestBookkeeperOrdering asserts lists preserve insertion order and that
// appends are idempotent.
func TestBookkeeperOrdering(t *testing.T) {
	t.Parallel()

	books := newTestBookkeeper(t)

	addrs := []common.Address{
		common.HexToAddress("0x0000000000000000000000000000000000000001"),
		common.HexToAddress("0x0000000000000000000000000000000000000002"),
		common.HexToAddress("0x0000000000000000000000000000000000000003"),
	}
	for _, addr := range addrs {
		require.NoError(t, books.Append(ListSeed, addr))
	}

	// A duplicate append must not create a second entry.
	require.NoError(t, books.Append(ListSeed, addrs[1]))

	got, err := books.All(ListSeed)
	require.NoError(t, err)
	require.Equal(t, addrs, got)
}

// TestBookkeeperListsIndependent asserts the per-kind lists do not bleed
// into each other.
func TestBookkeeperListsIndependent(t *testing.T) {
	t.Parallel()

	books := newTestBookkeeper(t)
	addr := common.HexToAddress(
		"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
	)

	require.NoError(t, books.Append(ListPrivateKey, addr))

	present, err := books.Contains(ListPrivateKey, addr)
	require.NoError(t, err)
	require.True(t, present)

	present, err = books.Contains(ListSeed, addr)
	require.NoError(t, err)
	require.False(t, present)

	present, err = books.Contains(ListWatch, addr)
	require.NoError(t, err)
	require.False(t, present)
}

// TestBookkeeperCanonicalAddresses asserts membership is judged on the
// canonical address, regardless of the hex casing it was recorded or
// queried with.
func TestBookkeeperCanonicalAddresses(t *testing.T) {
	t.Parallel()

	books := newTestBookkeeper(t)

	lower := common.HexToAddress(
		"0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266",
	)
	checksummed := common.HexToAddress(
		"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
	)
	require.Equal(t, lower, checksummed)

	require.NoError(t, books.Append(ListWatch, lower))
	require.NoError(t, books.Append(ListWatch, checksummed))

	got, err := books.All(ListWatch)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

// TestBookkeeperRemove asserts removal, including the no-op case.
func TestBookkeeperRemove(t *testing.T) {
	t.Parallel()

	books := newTestBookkeeper(t)
	addr := common.HexToAddress(
		"0x0000000000000000000000000000000000000042",
	)

	// Removing from an empty list is fine.
	require.NoError(t, books.Remove(ListSeed, addr))

	require.NoError(t, books.Append(ListSeed, addr))
	require.NoError(t, books.Remove(ListSeed, addr))

	present, err := books.Contains(ListSeed, addr)
	require.NoError(t, err)
	require.False(t, present)
}

// TestBookkeeperRemoveEverywhere asserts a deletion sweeps the address out
// of every list at once.
func TestBookkeeperRemoveEverywhere(t *testing.T) {
	t.Parallel()

	books := newTestBookkeeper(t)
	addr := common.HexToAddress(
		"0x0000000000000000000000000000000000000007",
	)

	kinds := []ListKind{ListPrivateKey, ListSeed, ListProtected, ListWatch}
	for _, kind := range kinds {
		require.NoError(t, books.Append(kind, addr))
	}

	require.NoError(t, books.RemoveEverywhere(addr))

	for _, kind := range kinds {
		present, err := books.Contains(kind, addr)
		require.NoError(t, err)
		require.False(t, present)
	}
}

// TestBookkeeperHasAccount asserts the import-time duplicate check covers
// every wallet kind, including watch-only entries.
func TestBookkeeperHasAccount(t *testing.T) {
	t.Parallel()

	books := newTestBookkeeper(t)
	addr := common.HexToAddress(
		"0x0000000000000000000000000000000000000009",
	)

	known, err := books.HasAccount(addr)
	require.NoError(t, err)
	require.False(t, known)

	require.NoError(t, books.Append(ListWatch, addr))

	known, err = books.HasAccount(addr)
	require.NoError(t, err)
	require.True(t, known)

	// The protected list marks a property, not an account, so it alone
	// must not make an address count as taken.
	require.NoError(t, books.RemoveEverywhere(addr))
	require.NoError(t, books.Append(ListProtected, addr))

	known, err = books.HasAccount(addr)
	require.NoError(t, err)
	require.False(t, known)
}
