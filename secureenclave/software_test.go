package secureenclave

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

// mockVerifier is a scriptable presence verifier. Every Confirm call is
// counted so tests can assert exactly when a challenge was raised.
type mockVerifier struct {
	available bool
	approve   bool
	err       error

	confirms int
}

func (m *mockVerifier) Available() bool {
	return m.available
}

func (m *mockVerifier) Confirm(prompt string) (bool, error) {
	m.confirms++
	return m.approve, m.err
}

func newTestEnclave(t *testing.T, verifier PresenceVerifier) *SoftwareEnclave {
	t.Helper()

	db, err := bolt.Open(
		filepath.Join(t.TempDir(), "enclave.db"), 0600, nil,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	enclave, err := NewSoftwareEnclave(db, verifier)
	require.NoError(t, err)

	return enclave
}

// TestEncryptDecryptRoundTrip asserts the basic seal/open cycle for an
// ungated key, with no challenge raised.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	enclave := newTestEnclave(t, verifier)

	plaintext := []byte("wallet secret")
	ciphertext, err := enclave.Encrypt(plaintext, "label", false)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := enclave.Decrypt(ciphertext, "label", false, "")
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
	require.Equal(t, AccessOK, enclave.LastStatus())
	require.Zero(t, verifier.confirms)
}

// TestEncryptReusesKey asserts that two encryptions under the same label
// decrypt with the same named key.
func TestEncryptReusesKey(t *testing.T) {
	t.Parallel()

	enclave := newTestEnclave(t, nil)

	first, err := enclave.Encrypt([]byte("one"), "label", false)
	require.NoError(t, err)
	second, err := enclave.Encrypt([]byte("two"), "label", false)
	require.NoError(t, err)

	decrypted, err := enclave.Decrypt(first, "label", false, "")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), decrypted)

	decrypted, err = enclave.Decrypt(second, "label", false, "")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), decrypted)
}

// TestPresenceGating asserts that a presence-gated key raises the challenge
// and honors both approval and cancellation.
func TestPresenceGating(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	enclave := newTestEnclave(t, verifier)

	plaintext := []byte("gated secret")
	ciphertext, err := enclave.Encrypt(plaintext, "gated", true)
	require.NoError(t, err)

	// Approval decrypts.
	decrypted, err := enclave.Decrypt(ciphertext, "gated", true, "prompt")
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
	require.Equal(t, 1, verifier.confirms)
	require.Equal(t, AccessOK, enclave.LastStatus())

	// Cancellation is reported distinctly and decrypts nothing.
	verifier.approve = false
	_, err = enclave.Decrypt(ciphertext, "gated", true, "prompt")
	require.ErrorIs(t, err, ErrUserCancelled)
	require.Equal(t, AccessCancelled, enclave.LastStatus())
}

// TestPresencePolicyFixedAtCreation asserts that the access policy recorded
// when the key was created stays authoritative over later calls.
func TestPresencePolicyFixedAtCreation(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{available: true, approve: true}
	enclave := newTestEnclave(t, verifier)

	ciphertext, err := enclave.Encrypt([]byte("secret"), "gated", true)
	require.NoError(t, err)

	// Claiming the key is ungated must not skip the challenge.
	_, err = enclave.Decrypt(ciphertext, "gated", false, "prompt")
	require.NoError(t, err)
	require.Equal(t, 1, verifier.confirms)
}

// TestDecryptMissingKey asserts the not-found classification, which is what
// drives the store's single-hop tier fallback.
func TestDecryptMissingKey(t *testing.T) {
	t.Parallel()

	enclave := newTestEnclave(t, nil)

	_, err := enclave.Decrypt([]byte("junk"), "missing", false, "")
	require.ErrorIs(t, err, ErrRecordNotFound)
	require.Equal(t, AccessNotFound, enclave.LastStatus())
}

// TestDecryptMalformedCiphertext asserts that a garbage blob surfaces as a
// generic failure, not as cancelled or not-found.
func TestDecryptMalformedCiphertext(t *testing.T) {
	t.Parallel()

	enclave := newTestEnclave(t, nil)

	_, err := enclave.Encrypt([]byte("secret"), "label", false)
	require.NoError(t, err)

	_, err = enclave.Decrypt([]byte("short"), "label", false, "")
	require.ErrorIs(t, err, ErrMalformedCiphertext)
	require.Equal(t, AccessOtherFailure, enclave.LastStatus())
}

// TestDecryptChallengeError asserts that a failing challenge mechanism is a
// generic failure, distinct from the user cancelling.
func TestDecryptChallengeError(t *testing.T) {
	t.Parallel()

	verifier := &mockVerifier{
		available: true,
		err:       errors.New("sensor offline"),
	}
	enclave := newTestEnclave(t, verifier)

	ciphertext, err := enclave.Encrypt([]byte("secret"), "gated", true)
	require.NoError(t, err)

	_, err = enclave.Decrypt(ciphertext, "gated", true, "prompt")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUserCancelled)
	require.Equal(t, AccessOtherFailure, enclave.LastStatus())
}

// TestDeleteKeyIdempotent asserts that deleting a key makes its ciphertexts
// undecryptable and that deleting a missing key succeeds.
func TestDeleteKeyIdempotent(t *testing.T) {
	t.Parallel()

	enclave := newTestEnclave(t, nil)

	ciphertext, err := enclave.Encrypt([]byte("secret"), "label", false)
	require.NoError(t, err)

	require.NoError(t, enclave.DeleteKey("label"))
	require.NoError(t, enclave.DeleteKey("label"))
	require.NoError(t, enclave.DeleteKey("never existed"))

	_, err = enclave.Decrypt(ciphertext, "label", false, "")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

// TestPresenceAvailable asserts the device capability query.
func TestPresenceAvailable(t *testing.T) {
	t.Parallel()

	require.False(t, newTestEnclave(t, nil).PresenceAvailable())
	require.False(t, newTestEnclave(
		t, &mockVerifier{available: false},
	).PresenceAvailable())
	require.True(t, newTestEnclave(
		t, &mockVerifier{available: true},
	).PresenceAvailable())
}
