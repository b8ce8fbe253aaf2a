package hdwallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// testMnemonicAddress is the address the well-known development mnemonic
// derives at m/44'/60'/0'/0/0.
var testMnemonicAddress = common.HexToAddress(
	"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
)

// TestDerivePrivateKeyVector pins the fixed-path derivation to a known
// mnemonic/address pair.
func TestDerivePrivateKeyVector(t *testing.T) {
	t.Parallel()

	seed, err := SeedFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	key, err := DerivePrivateKey(seed)
	require.NoError(t, err)

	addr := crypto.PubkeyToAddress(key.PublicKey)
	require.Equal(t, testMnemonicAddress, addr)
}

// TestDerivePrivateKeyDeterministic asserts that repeated derivations from
// the same seed yield the same key.
func TestDerivePrivateKeyDeterministic(t *testing.T) {
	t.Parallel()

	seed, err := SeedFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	first, err := DerivePrivateKey(seed)
	require.NoError(t, err)

	second, err := DerivePrivateKey(seed)
	require.NoError(t, err)

	require.Equal(t, first.D, second.D)
}

// TestDerivePrivateKeyPassphrase asserts that the passphrase participates in
// derivation: the same mnemonic with different passphrases yields different
// keys, and the passphrase bound into the seed reproduces its key.
func TestDerivePrivateKeyPassphrase(t *testing.T) {
	t.Parallel()

	plain, err := SeedFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	protected, err := SeedFromMnemonic(testMnemonic, "passphrase")
	require.NoError(t, err)

	plainKey, err := DerivePrivateKey(plain)
	require.NoError(t, err)

	protectedKey, err := DerivePrivateKey(protected)
	require.NoError(t, err)

	require.NotEqual(t, plainKey.D, protectedKey.D)

	// A deserialized seed must keep deriving the protected key.
	decoded, err := DeserializeSeed(protected.Serialize())
	require.NoError(t, err)

	decodedKey, err := DerivePrivateKey(decoded)
	require.NoError(t, err)
	require.Equal(t, protectedKey.D, decodedKey.D)
}
