package secretstore

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/fuseio/walletd/secureenclave"
)

var testAddr = common.HexToAddress(
	"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
)

// mockVerifier is a scriptable presence verifier counting every raised
// challenge.
type mockVerifier struct {
	available bool
	approve   bool

	confirms int
}

func (m *mockVerifier) Available() bool {
	return m.available
}

func (m *mockVerifier) Confirm(prompt string) (bool, error) {
	m.confirms++
	return m.approve, nil
}

type testHarness struct {
	store    *Store
	enclave  *secureenclave.SoftwareEnclave
	verifier *mockVerifier
}

func newTestStore(t *testing.T, verifier *mockVerifier) *testHarness {
	t.Helper()

	db, err := bolt.Open(
		filepath.Join(t.TempDir(), "store.db"), 0600, nil,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	var pv secureenclave.PresenceVerifier
	if verifier != nil {
		pv = verifier
	}
	enclave, err := secureenclave.NewSoftwareEnclave(db, pv)
	require.NoError(t, err)

	store, err := NewStore(db, enclave)
	require.NoError(t, err)

	return &testHarness{
		store:    store,
		enclave:  enclave,
		verifier: verifier,
	}
}

// requireTiers asserts which ciphertext copies currently exist.
func requireTiers(t *testing.T, store *Store, kind SecretKind, plain,
	gated bool) {

	t.Helper()

	hasPlain, err := store.HasCopy(testAddr, kind, false)
	require.NoError(t, err)
	require.Equal(t, plain, hasPlain)

	hasGated, err := store.HasCopy(testAddr, kind, true)
	require.NoError(t, err)
	require.Equal(t, gated, hasGated)
}

// TestPutWritesBothTiers asserts that with presence available an import
// produces both ciphertext copies, and retrieval prefers the gated one.
func TestPutWritesBothTiers(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	h := newTestStore(t, verifier)

	secret := []byte("seed material")
	require.NoError(t, h.store.Put(testAddr, KindSeed, secret))
	requireTiers(t, h.store, KindSeed, true, true)

	got, err := h.store.Get(testAddr, KindSeed, "sign")
	require.NoError(t, err)
	require.Equal(t, secret, got)

	// The gated copy was read, so exactly one challenge was raised.
	require.Equal(t, 1, verifier.confirms)
}

// TestPutWithoutPresence asserts that when no presence check is possible
// only the ungated floor is written, and reads fall back to it.
func TestPutWithoutPresence(t *testing.T) {
	t.Parallel()

	h := newTestStore(t, nil)

	secret := []byte("raw key")
	require.NoError(t, h.store.Put(testAddr, KindPrivateKey, secret))
	requireTiers(t, h.store, KindPrivateKey, true, false)

	got, err := h.store.Get(testAddr, KindPrivateKey, "sign")
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

// TestFallbackSelfHeals simulates the gated tier being invalidated (as a
// passcode reset does): the read must succeed through the single-hop
// fallback and restore the gated copy so the next read succeeds directly.
func TestFallbackSelfHeals(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	h := newTestStore(t, verifier)

	secret := []byte("seed material")
	require.NoError(t, h.store.Put(testAddr, KindSeed, secret))

	// Invalidate the gated tier's named key while its ciphertext record
	// survives.
	gatedKey := recordKey(KindSeed, true, testAddr)
	require.NoError(t, h.enclave.DeleteKey(gatedKey))

	got, err := h.store.Get(testAddr, KindSeed, "sign")
	require.NoError(t, err)
	require.Equal(t, secret, got)
	requireTiers(t, h.store, KindSeed, true, true)

	// The healed copy must now satisfy a direct gated read: exactly one
	// challenge for this second read.
	verifier.confirms = 0
	got, err = h.store.Get(testAddr, KindSeed, "sign")
	require.NoError(t, err)
	require.Equal(t, secret, got)
	require.Equal(t, 1, verifier.confirms)
}

// TestFallbackMissingRecord asserts the fallback also covers a missing
// gated ciphertext record, not just a missing key.
func TestFallbackMissingRecord(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	h := newTestStore(t, verifier)

	secret := []byte("seed material")
	require.NoError(t, h.store.Put(testAddr, KindSeed, secret))
	require.NoError(t, h.store.removeCopy(testAddr, KindSeed, true))

	got, err := h.store.Get(testAddr, KindSeed, "sign")
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

// TestCancellationDoesNotFallBack asserts that dismissing the challenge is
// authoritative: no fallback read happens and nothing is mutated.
func TestCancellationDoesNotFallBack(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	h := newTestStore(t, verifier)

	secret := []byte("seed material")
	require.NoError(t, h.store.Put(testAddr, KindSeed, secret))

	verifier.approve = false
	_, err := h.store.Get(testAddr, KindSeed, "sign")
	require.ErrorIs(t, err, secureenclave.ErrUserCancelled)

	// Both copies survive a cancellation.
	requireTiers(t, h.store, KindSeed, true, true)
}

// TestGetBothTiersAbsent asserts that retrieval of an unknown secret
// terminates with not-found after the single bounded fallback hop.
func TestGetBothTiersAbsent(t *testing.T) {
	t.Parallel()

	h := newTestStore(t, nil)

	_, err := h.store.Get(testAddr, KindSeed, "sign")
	require.ErrorIs(t, err, ErrSecretNotFound)
}

// TestElevate asserts the one-way upgrade: after success only the gated
// copy remains and it is retrievable; the challenge was raised during the
// verification read-back.
func TestElevate(t *testing.T) {
	t.Parallel()

	// Import while presence is unavailable, so only the floor exists.
	verifier := &mockVerifier{available: false, approve: true}
	h := newTestStore(t, verifier)

	secret := []byte("seed material")
	require.NoError(t, h.store.Put(testAddr, KindSeed, secret))
	requireTiers(t, h.store, KindSeed, true, false)

	// The user enables authentication, then opts in.
	verifier.available = true
	require.NoError(t, h.store.Elevate(testAddr, KindSeed, "elevate"))
	require.Equal(t, 1, verifier.confirms)
	requireTiers(t, h.store, KindSeed, false, true)

	got, err := h.store.Get(testAddr, KindSeed, "sign")
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

// TestElevateCancelledFailSafe asserts that cancelling the verification
// read-back leaves the ungated copy intact and fully usable, with the
// half-written gated copy rolled back.
func TestElevateCancelledFailSafe(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: false, approve: false}
	h := newTestStore(t, verifier)

	secret := []byte("seed material")
	require.NoError(t, h.store.Put(testAddr, KindSeed, secret))

	verifier.available = true
	err := h.store.Elevate(testAddr, KindSeed, "elevate")
	require.ErrorIs(t, err, secureenclave.ErrUserCancelled)

	// The floor survives and still decrypts; the broken gated copy must
	// not shadow it.
	requireTiers(t, h.store, KindSeed, true, false)

	verifier.approve = true
	got, err := h.store.Get(testAddr, KindSeed, "sign")
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

// TestElevateMissingSecret asserts elevation of an unknown account fails
// cleanly.
func TestElevateMissingSecret(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	h := newTestStore(t, verifier)

	err := h.store.Elevate(testAddr, KindSeed, "elevate")
	require.ErrorIs(t, err, ErrSecretNotFound)
}

// staleStatusEnclave wraps a real enclave but pins LastStatus to a fixed
// value, reproducing the state a concurrent decrypt for another address
// leaves behind in the shared channel.
type staleStatusEnclave struct {
	secureenclave.Enclave

	status secureenclave.AccessStatus
}

func (s *staleStatusEnclave) LastStatus() secureenclave.AccessStatus {
	return s.status
}

func newStaleStatusStore(t *testing.T, verifier *mockVerifier,
	status secureenclave.AccessStatus) (*Store, *staleStatusEnclave) {

	t.Helper()

	db, err := bolt.Open(
		filepath.Join(t.TempDir(), "store.db"), 0600, nil,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	enclave, err := secureenclave.NewSoftwareEnclave(db, verifier)
	require.NoError(t, err)

	stale := &staleStatusEnclave{Enclave: enclave, status: status}
	store, err := NewStore(db, stale)
	require.NoError(t, err)

	return store, stale
}

// TestCancellationUnderStaleStatus asserts a dismissed challenge stays
// authoritative even when the shared status channel has since been
// overwritten with not-found by an unrelated decrypt: the classification
// must follow the returned error, never trigger the fallback.
func TestCancellationUnderStaleStatus(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	store, _ := newStaleStatusStore(
		t, verifier, secureenclave.AccessNotFound,
	)

	secret := []byte("seed material")
	require.NoError(t, store.Put(testAddr, KindSeed, secret))

	verifier.approve = false
	_, err := store.Get(testAddr, KindSeed, "sign")
	require.ErrorIs(t, err, secureenclave.ErrUserCancelled)

	// Exactly one challenge: no second read reached the ungated copy.
	require.Equal(t, 1, verifier.confirms)
	requireTiers(t, store, KindSeed, true, true)
}

// TestFallbackUnderStaleStatus asserts the mirror case: a genuinely missing
// gated key still falls back even when the stale status channel claims a
// cancellation happened.
func TestFallbackUnderStaleStatus(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	store, _ := newStaleStatusStore(
		t, verifier, secureenclave.AccessCancelled,
	)

	secret := []byte("seed material")
	require.NoError(t, store.Put(testAddr, KindSeed, secret))
	require.NoError(
		t, store.enclave.DeleteKey(recordKey(KindSeed, true, testAddr)),
	)

	got, err := store.Get(testAddr, KindSeed, "sign")
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

// TestElevateRetry asserts elevation is retry-safe: once the ungated copy
// is purged, a repeated call finds the gated copy and reports success
// instead of demanding a re-import.
func TestElevateRetry(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	h := newTestStore(t, verifier)

	secret := []byte("seed material")
	require.NoError(t, h.store.Put(testAddr, KindSeed, secret))
	require.NoError(t, h.store.Elevate(testAddr, KindSeed, "elevate"))
	requireTiers(t, h.store, KindSeed, false, true)

	// The retry must not raise another challenge.
	verifier.confirms = 0
	require.NoError(t, h.store.Elevate(testAddr, KindSeed, "elevate"))
	require.Equal(t, 0, verifier.confirms)
	requireTiers(t, h.store, KindSeed, false, true)

	got, err := h.store.Get(testAddr, KindSeed, "sign")
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

// TestDeleteIdempotent asserts deletion removes every copy and key, and
// that deleting again is not an error.
func TestDeleteIdempotent(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	h := newTestStore(t, verifier)

	require.NoError(t, h.store.Put(testAddr, KindSeed, []byte("secret")))

	require.NoError(t, h.store.Delete(testAddr))
	requireTiers(t, h.store, KindSeed, false, false)

	_, err := h.store.Get(testAddr, KindSeed, "sign")
	require.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, h.store.Delete(testAddr))
}
