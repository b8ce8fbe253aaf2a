package multimutex

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// cntMutex is a mutex together with a count of the goroutines that are
// holding or waiting for it. When the count goes back to zero, the mutex can
// be removed from the map.
type cntMutex struct {
	cnt int
	sync.Mutex
}

// AddrMutex is a struct that keeps track of a set of mutexes keyed by
// address. It can be used for making sure only one goroutine gets given the
// mutex per address, which is how per-account operations are serialized.
type AddrMutex struct {
	// mutexes is a map of addresses to a cntMutex. The cntMutex for a
	// given address will hold the mutex to be used by all callers
	// requesting access for the address, in addition to the count of
	// callers.
	mutexes map[common.Address]*cntMutex

	// mapMtx is used to give synchronize concurrent access to the mutexes
	// map.
	mapMtx sync.Mutex
}

// NewAddrMutex creates a new AddrMutex.
func NewAddrMutex() *AddrMutex {
	return &AddrMutex{
		mutexes: make(map[common.Address]*cntMutex),
	}
}

// Lock locks the mutex by the given address. If the mutex is already locked
// by this address, Lock blocks until the mutex is available.
func (c *AddrMutex) Lock(addr common.Address) {
	c.mapMtx.Lock()
	mtx, ok := c.mutexes[addr]
	if ok {
		// If the mutex already existed in the map, we increment its
		// counter, to indicate that there now is one more goroutine
		// waiting for it.
		mtx.cnt++
	} else {
		// If it was not in the map, it means no other goroutine has
		// locked the mutex for this address, and we can create a new
		// mutex with count 1 and add it to the map.
		mtx = &cntMutex{
			cnt: 1,
		}
		c.mutexes[addr] = mtx
	}
	c.mapMtx.Unlock()

	// Acquire the mutex for this address.
	mtx.Lock()
}

// Unlock unlocks the mutex by the given address. It is a run-time error if
// the mutex is not locked by the address on entry to Unlock.
func (c *AddrMutex) Unlock(addr common.Address) {
	// Since we are done with all the work for this update, we update the
	// map to reflect that.
	c.mapMtx.Lock()

	mtx, ok := c.mutexes[addr]
	if !ok {
		// The mutex not existing in the map means an unlock for an
		// address not currently locked was attempted.
		panic(fmt.Sprintf("double unlock for address %v", addr))
	}

	// Decrement the counter. If the count goes to zero, it means this
	// caller was the last one to wait for the mutex, and we can delete it
	// from the map. We can do this safely since we are under the mapMtx,
	// meaning that all other goroutines waiting for the mutex already
	// have incremented it, or will create a new mutex when they get the
	// mapMtx.
	mtx.cnt--
	if mtx.cnt == 0 {
		delete(c.mutexes, addr)
	}
	c.mapMtx.Unlock()

	// Unlock the mutex for this address.
	mtx.Unlock()
}
