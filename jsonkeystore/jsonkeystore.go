// Package jsonkeystore wraps the legacy on-disk encrypted-JSON keystore.
// The engine only uses it as an import source and as a best-effort secondary
// deletion target; the JSON format itself is treated as opaque.
package jsonkeystore

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Import decrypts a legacy keystore file with the given password and returns
// the raw private key it protects.
func Import(keyJSON []byte, password string) (*ecdsa.PrivateKey, error) {
	key, err := gethkeystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt keystore JSON: %w",
			err)
	}

	return key.PrivateKey, nil
}

// Export encrypts a raw private key into a fresh keystore JSON blob under
// the given password, for handing a backup to the user.
func Export(priv *ecdsa.PrivateKey, newPassword string) ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	key := &gethkeystore.Key{
		Id:         id,
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
	}

	keyJSON, err := gethkeystore.EncryptKey(
		key, newPassword, gethkeystore.StandardScryptN,
		gethkeystore.StandardScryptP,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to encrypt keystore JSON: %w",
			err)
	}

	return keyJSON, nil
}

// Directory is an on-disk keystore directory the engine deletes from as a
// best-effort secondary cleanup when a wallet is removed.
type Directory struct {
	path string
}

// NewDirectory returns a handle to the keystore directory at path. The
// directory does not need to exist.
func NewDirectory(path string) *Directory {
	return &Directory{path: path}
}

// Delete removes any keystore file in the directory whose embedded address
// matches. Missing directories, unreadable files, and absent matches are all
// treated as success, since this cleanup is best effort by contract.
func (d *Directory) Delete(addr common.Address) error {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(d.path, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		// Only the address field is needed to match the file.
		var probe struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}

		if common.HexToAddress(probe.Address) != addr {
			continue
		}

		if err := os.Remove(path); err != nil {
			return err
		}
	}

	return nil
}
