package hdwallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// The fixed BIP44 derivation path every account key is taken from:
//
//	m/44'/60'/0'/0/0
//
// Purpose 44', the Ethereum coin type 60', the first account, the external
// chain, and the first address index. One seed therefore maps to exactly one
// signing key.
const (
	purpose       = 44
	coinTypeEth   = 60
	accountIndex  = 0
	externalChain = 0
	addressIndex  = 0
)

// DerivationPath is the textual form of the fixed path, for display.
const DerivationPath = "m/44'/60'/0'/0/0"

// DerivePrivateKey deterministically derives the account's secp256k1 signing
// key from the seed at the fixed path. Repeated calls with the same seed
// always yield the same key.
func DerivePrivateKey(seed *Seed) (*ecdsa.PrivateKey, error) {
	mnemonic, err := seed.Mnemonic()
	if err != nil {
		return nil, err
	}

	// The 64-byte PBKDF2 seed is derived transiently; only the entropy
	// and passphrase are ever persisted.
	seedBytes := bip39.NewSeed(mnemonic, seed.Passphrase)
	defer zero(seedBytes)

	master, err := hdkeychain.NewMaster(seedBytes, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("unable to derive master key: %w", err)
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + purpose,
		hdkeychain.HardenedKeyStart + coinTypeEth,
		hdkeychain.HardenedKeyStart + accountIndex,
		externalChain,
		addressIndex,
	}

	key := master
	for _, childIndex := range path {
		key, err = key.Derive(childIndex)
		if err != nil {
			return nil, fmt.Errorf("unable to derive child %d: %w",
				childIndex, err)
		}
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("unable to extract private key: %w",
			err)
	}

	return privKey.ToECDSA(), nil
}

// zero wipes the passed byte slice.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
