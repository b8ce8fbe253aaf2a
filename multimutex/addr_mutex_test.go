package multimutex

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// TestAddrMutexSerializes asserts that goroutines contending for the same
// address run their critical sections one at a time.
func TestAddrMutexSerializes(t *testing.T) {
	t.Parallel()

	mtx := NewAddrMutex()
	addr := common.HexToAddress(
		"0x0000000000000000000000000000000000000001",
	)

	const workers = 50

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mtx.Lock(addr)
			counter++
			mtx.Unlock(addr)
		}()
	}
	wg.Wait()

	require.Equal(t, workers, counter)

	// The map entry must be gone once the last holder released it.
	mtx.mapMtx.Lock()
	defer mtx.mapMtx.Unlock()
	require.Empty(t, mtx.mutexes)
}

// TestAddrMutexIndependentAddrs asserts a held mutex for one address does
// not block another address.
func TestAddrMutexIndependentAddrs(t *testing.T) {
	t.Parallel()

	mtx := NewAddrMutex()
	first := common.HexToAddress(
		"0x0000000000000000000000000000000000000001",
	)
	second := common.HexToAddress(
		"0x0000000000000000000000000000000000000002",
	)

	mtx.Lock(first)
	defer mtx.Unlock(first)

	acquired := make(chan struct{})
	go func() {
		mtx.Lock(second)
		mtx.Unlock(second)
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(3 * time.Second):
		t.Fatal("independent address blocked")
	}
}

// TestAddrMutexDoubleUnlock asserts unlocking an address that is not locked
// panics instead of corrupting the map.
func TestAddrMutexDoubleUnlock(t *testing.T) {
	t.Parallel()

	mtx := NewAddrMutex()
	addr := common.HexToAddress(
		"0x0000000000000000000000000000000000000003",
	)

	require.Panics(t, func() {
		mtx.Unlock(addr)
	})
}
