package keystore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fuseio/walletd/hdwallet"
	"github.com/fuseio/walletd/jsonkeystore"
	"github.com/fuseio/walletd/multimutex"
	"github.com/fuseio/walletd/secretstore"
	"github.com/fuseio/walletd/secureenclave"
	"github.com/fuseio/walletd/signer"
)

// Config bundles the collaborators the engine orchestrates.
type Config struct {
	// Store is the presence-tiered secret store.
	Store *secretstore.Store

	// Books is the bookkeeping store holding the per-kind address lists.
	Books *secretstore.Bookkeeper

	// LegacyDir is the on-disk legacy keystore directory used as a
	// best-effort secondary deletion target. It may be nil.
	LegacyDir *jsonkeystore.Directory
}

// Engine is the public face of the key-management core: account and wallet
// lifecycle, import, deletion, security elevation, and signing. Every
// mutating operation on an account is serialized per address, and every
// plaintext secret is wiped as soon as its use completes.
type Engine struct {
	cfg *Config

	// addrMtx serializes import, elevation, deletion, and signing per
	// address.
	addrMtx *multimutex.AddrMutex
}

// NewEngine creates a keystore engine over the given collaborators.
func NewEngine(cfg *Config) *Engine {
	return &Engine{
		cfg:     cfg,
		addrMtx: multimutex.NewAddrMutex(),
	}
}

// materialKind tags the variants of secret material retrieved for an
// account.
type materialKind uint8

const (
	materialRawKey materialKind = iota
	materialSeed
)

// secretMaterial is the decoded plaintext secret of an account: exactly one
// of a raw private key or an HD seed, matching the account's wallet kind.
// Call zeroize once the material has been used.
type secretMaterial struct {
	kind   materialKind
	rawKey *ecdsa.PrivateKey
	seed   *hdwallet.Seed
}

// signingKey returns the secp256k1 key to sign with, deriving the leaf key
// from the seed for HD accounts.
func (m *secretMaterial) signingKey() (*ecdsa.PrivateKey, error) {
	switch m.kind {
	case materialRawKey:
		return m.rawKey, nil

	case materialSeed:
		return hdwallet.DerivePrivateKey(m.seed)

	default:
		return nil, fmt.Errorf("unknown material kind %d", m.kind)
	}
}

// zeroize wipes whichever secret the material carries.
func (m *secretMaterial) zeroize() {
	switch m.kind {
	case materialRawKey:
		zeroKey(m.rawKey)

	case materialSeed:
		m.seed.Zero()
	}
}

// zeroKey wipes a private key's scalar in place.
func zeroKey(key *ecdsa.PrivateKey) {
	if key == nil {
		return
	}

	bits := key.D.Bits()
	for i := range bits {
		bits[i] = 0
	}
}

// zeroBytes wipes the passed slice.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// classify maps the low-level failure classes onto the engine's error
// taxonomy without ever crossing classes: a cancellation stays a
// cancellation and a missing record stays not-found, since the caller's
// recovery action differs for each.
func classify(err error) error {
	switch {
	case errors.Is(err, secureenclave.ErrUserCancelled):
		return ErrUserCancelled

	case errors.Is(err, secureenclave.ErrRecordNotFound),
		errors.Is(err, secretstore.ErrSecretNotFound):

		return fmt.Errorf("%w: %v", ErrNotFound, err)

	default:
		return err
	}
}

// secretKind resolves which kind of secret the account owns, from the
// bookkeeping lists.
func (e *Engine) secretKind(addr common.Address) (secretstore.SecretKind,
	error) {

	isSeed, err := e.cfg.Books.Contains(secretstore.ListSeed, addr)
	if err != nil {
		return 0, err
	}
	if isSeed {
		return secretstore.KindSeed, nil
	}

	isRawKey, err := e.cfg.Books.Contains(secretstore.ListPrivateKey, addr)
	if err != nil {
		return 0, err
	}
	if isRawKey {
		return secretstore.KindPrivateKey, nil
	}

	isWatch, err := e.cfg.Books.Contains(secretstore.ListWatch, addr)
	if err != nil {
		return 0, err
	}
	if isWatch {
		return 0, fmt.Errorf("%w: %v", ErrWatchOnly, addr)
	}

	return 0, fmt.Errorf("%w: %v", ErrNotFound, addr)
}

// retrieveMaterial fetches and decodes the account's plaintext secret. The
// caller must hold the address mutex and must zeroize the returned material.
func (e *Engine) retrieveMaterial(addr common.Address,
	prompt string) (*secretMaterial, error) {

	kind, err := e.secretKind(addr)
	if err != nil {
		return nil, err
	}

	blob, err := e.cfg.Store.Get(addr, kind, prompt)
	if err != nil {
		return nil, classify(err)
	}
	defer zeroBytes(blob)

	switch kind {
	case secretstore.KindPrivateKey:
		rawKey, err := crypto.ToECDSA(blob)
		if err != nil {
			return nil, err
		}

		return &secretMaterial{
			kind:   materialRawKey,
			rawKey: rawKey,
		}, nil

	case secretstore.KindSeed:
		seed, err := hdwallet.DeserializeSeed(blob)
		if err != nil {
			return nil, err
		}

		return &secretMaterial{
			kind: materialSeed,
			seed: seed,
		}, nil

	default:
		return nil, fmt.Errorf("unknown secret kind %v", kind)
	}
}

// CreateAccount generates a brand new HD wallet and imports it. The
// mnemonic is not returned; it is retrieved for backup through
// ExportSeedPhrase so that the display path and the recovery path are one
// and the same.
func (e *Engine) CreateAccount() (Wallet, error) {
	_, seed, err := hdwallet.NewSeed(hdwallet.DefaultEntropyBits)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: %v",
			ErrWalletCreationFailed, err)
	}
	defer seed.Zero()

	wallet, err := e.importSeed(seed)
	if err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			return Wallet{}, err
		}
		return Wallet{}, fmt.Errorf("%w: %v",
			ErrWalletCreationFailed, err)
	}

	return wallet, nil
}

// ImportMnemonic imports an existing HD wallet from its mnemonic and
// optional passphrase. The second import of the same mnemonic fails with
// ErrDuplicateAccount.
func (e *Engine) ImportMnemonic(mnemonic, passphrase string) (Wallet, error) {
	seed, err := hdwallet.SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return Wallet{}, err
	}
	defer seed.Zero()

	return e.importSeed(seed)
}

// importSeed derives the seed's address, persists the seed through the
// two-tier write protocol, and records the bookkeeping entry. Bookkeeping is
// written last so a failed persistence never leaves a phantom account.
func (e *Engine) importSeed(seed *hdwallet.Seed) (Wallet, error) {
	leafKey, err := hdwallet.DerivePrivateKey(seed)
	if err != nil {
		return Wallet{}, err
	}
	addr := crypto.PubkeyToAddress(leafKey.PublicKey)
	zeroKey(leafKey)

	e.addrMtx.Lock(addr)
	defer e.addrMtx.Unlock(addr)

	if err := e.checkDuplicate(addr); err != nil {
		return Wallet{}, err
	}

	blob := seed.Serialize()
	defer zeroBytes(blob)

	err = e.cfg.Store.Put(addr, secretstore.KindSeed, blob)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: %v",
			ErrWalletCreationFailed, err)
	}

	err = e.cfg.Books.Append(secretstore.ListSeed, addr)
	if err != nil {
		return Wallet{}, err
	}

	log.Infof("Imported HD wallet %v", addr)

	return Wallet{Type: TypeReal, Address: addr}, nil
}

// ImportPrivateKey imports a raw 32-byte secp256k1 private key.
func (e *Engine) ImportPrivateKey(rawKey []byte) (Wallet, error) {
	key, err := crypto.ToECDSA(rawKey)
	if err != nil {
		return Wallet{}, fmt.Errorf("invalid private key: %w", err)
	}
	defer zeroKey(key)

	return e.importKey(key)
}

// ImportKeystoreJSON imports a wallet from a legacy encrypted-JSON keystore
// file and its password.
func (e *Engine) ImportKeystoreJSON(keyJSON []byte,
	password string) (Wallet, error) {

	key, err := jsonkeystore.Import(keyJSON, password)
	if err != nil {
		return Wallet{}, err
	}
	defer zeroKey(key)

	return e.importKey(key)
}

// importKey persists a raw-key secret through the two-tier write protocol
// and records the bookkeeping entry.
func (e *Engine) importKey(key *ecdsa.PrivateKey) (Wallet, error) {
	addr := crypto.PubkeyToAddress(key.PublicKey)

	e.addrMtx.Lock(addr)
	defer e.addrMtx.Unlock(addr)

	if err := e.checkDuplicate(addr); err != nil {
		return Wallet{}, err
	}

	blob := crypto.FromECDSA(key)
	defer zeroBytes(blob)

	err := e.cfg.Store.Put(addr, secretstore.KindPrivateKey, blob)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: %v",
			ErrWalletCreationFailed, err)
	}

	err = e.cfg.Books.Append(secretstore.ListPrivateKey, addr)
	if err != nil {
		return Wallet{}, err
	}

	log.Infof("Imported raw-key wallet %v", addr)

	return Wallet{Type: TypeReal, Address: addr}, nil
}

// ImportWatchAddress records an address to watch. No key material is stored
// and the address can never sign.
func (e *Engine) ImportWatchAddress(addr common.Address) (Wallet, error) {
	e.addrMtx.Lock(addr)
	defer e.addrMtx.Unlock(addr)

	if err := e.checkDuplicate(addr); err != nil {
		return Wallet{}, err
	}

	err := e.cfg.Books.Append(secretstore.ListWatch, addr)
	if err != nil {
		return Wallet{}, err
	}

	log.Infof("Watching address %v", addr)

	return Wallet{Type: TypeWatch, Address: addr}, nil
}

// checkDuplicate rejects an import whose address is already known under any
// wallet kind. Comparison happens on canonical binary addresses.
func (e *Engine) checkDuplicate(addr common.Address) error {
	known, err := e.cfg.Books.HasAccount(addr)
	if err != nil {
		return err
	}
	if known {
		return fmt.Errorf("%w: %v", ErrDuplicateAccount, addr)
	}

	return nil
}

// DeleteWallet removes the wallet: all ciphertext copies, all named enclave
// keys, and every bookkeeping entry. Deletion is idempotent, and the legacy
// on-disk keystore cleanup runs best effort without blocking the result.
func (e *Engine) DeleteWallet(wallet Wallet) error {
	addr := wallet.Address

	e.addrMtx.Lock(addr)
	defer e.addrMtx.Unlock(addr)

	if err := e.cfg.Store.Delete(addr); err != nil {
		return err
	}

	if err := e.cfg.Books.RemoveEverywhere(addr); err != nil {
		return err
	}

	if e.cfg.LegacyDir != nil {
		go func() {
			if err := e.cfg.LegacyDir.Delete(addr); err != nil {
				log.Warnf("Unable to clean legacy keystore "+
					"for %v: %v", addr, err)
			}
		}()
	}

	log.Infof("Deleted wallet %v", addr)

	return nil
}

// SignHash signs a 32-byte digest with the account's key, retrieving the
// secret through the presence-tier protocol with the given challenge
// prompt.
func (e *Engine) SignHash(addr common.Address, digest []byte,
	prompt string) ([]byte, error) {

	sigs, err := e.SignHashes(addr, [][]byte{digest}, prompt)
	if err != nil {
		return nil, err
	}

	return sigs[0], nil
}

// SignHashes signs a batch of digests with a single secret retrieval. Any
// individual failure fails the whole batch.
func (e *Engine) SignHashes(addr common.Address, digests [][]byte,
	prompt string) ([][]byte, error) {

	e.addrMtx.Lock(addr)
	defer e.addrMtx.Unlock(addr)

	material, err := e.retrieveMaterial(addr, prompt)
	if err != nil {
		return nil, err
	}
	defer material.zeroize()

	key, err := material.signingKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	defer zeroKey(key)

	sigs, err := signer.SignHashes(digests, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	return sigs, nil
}

// SignPersonalMessage signs a personal message: the message is prefixed and
// hashed per the personal_sign scheme before signing.
func (e *Engine) SignPersonalMessage(addr common.Address, msg []byte,
	prompt string) ([]byte, error) {

	return e.SignHash(addr, signer.HashPersonalMessage(msg), prompt)
}

// SignTypedData signs a typed-data request over its schema and value
// digests.
func (e *Engine) SignTypedData(addr common.Address, schema, value []byte,
	prompt string) ([]byte, error) {

	return e.SignHash(addr, signer.HashTypedData(schema, value), prompt)
}

// SignTransaction signs the transaction with the account's key and returns
// the encoded signed envelope. The chain id in the parameters selects the
// legacy or replay-protected signing scheme.
func (e *Engine) SignTransaction(addr common.Address, params *signer.TxParams,
	prompt string) ([]byte, error) {

	e.addrMtx.Lock(addr)
	defer e.addrMtx.Unlock(addr)

	material, err := e.retrieveMaterial(addr, prompt)
	if err != nil {
		return nil, err
	}
	defer material.zeroize()

	key, err := material.signingKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	defer zeroKey(key)

	rawTx, err := signer.SignTransaction(params, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	return rawTx, nil
}

// ExportSeedPhrase returns the account's mnemonic for backup display. Only
// HD wallets carry one.
func (e *Engine) ExportSeedPhrase(addr common.Address,
	prompt string) (string, error) {

	e.addrMtx.Lock(addr)
	defer e.addrMtx.Unlock(addr)

	material, err := e.retrieveMaterial(addr, prompt)
	if err != nil {
		return "", err
	}
	defer material.zeroize()

	if material.kind != materialSeed {
		return "", fmt.Errorf("%w: %v holds no seed phrase",
			ErrExportFailed, addr)
	}

	mnemonic, err := material.seed.Mnemonic()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	return mnemonic, nil
}

// ExportKeystoreJSON exports the account's raw private key as an encrypted
// keystore JSON blob under a fresh password, for backup.
func (e *Engine) ExportKeystoreJSON(addr common.Address, newPassword,
	prompt string) ([]byte, error) {

	e.addrMtx.Lock(addr)
	defer e.addrMtx.Unlock(addr)

	material, err := e.retrieveMaterial(addr, prompt)
	if err != nil {
		return nil, err
	}
	defer material.zeroize()

	key, err := material.signingKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	defer zeroKey(key)

	keyJSON, err := jsonkeystore.Export(key, newPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	return keyJSON, nil
}

// VerifySeedPhrase checks the user's transcription of the seed phrase
// against the stored one, case-insensitively, without handing the secret to
// the caller.
func (e *Engine) VerifySeedPhrase(addr common.Address, phrase,
	prompt string) (bool, error) {

	stored, err := e.ExportSeedPhrase(addr, prompt)
	if err != nil {
		return false, err
	}

	supplied := strings.Join(strings.Fields(phrase), " ")

	return strings.EqualFold(stored, supplied), nil
}

// ElevateSecurity performs the one-way upgrade that leaves the
// presence-required copy as the account's only one. Already-elevated
// accounts report success without doing anything; a failed attempt leaves
// the ungated copy fully usable.
func (e *Engine) ElevateSecurity(addr common.Address,
	prompt string) (bool, error) {

	e.addrMtx.Lock(addr)
	defer e.addrMtx.Unlock(addr)

	elevated, err := e.cfg.Books.Contains(secretstore.ListProtected, addr)
	if err != nil {
		return false, err
	}
	if elevated {
		return true, nil
	}

	kind, err := e.secretKind(addr)
	if err != nil {
		return false, err
	}

	if err := e.cfg.Store.Elevate(addr, kind, prompt); err != nil {
		return false, classify(err)
	}

	err = e.cfg.Books.Append(secretstore.ListProtected, addr)
	if err != nil {
		return false, err
	}

	return true, nil
}

// IsHDWallet reports whether the address belongs to an HD wallet.
func (e *Engine) IsHDWallet(addr common.Address) (bool, error) {
	return e.cfg.Books.Contains(secretstore.ListSeed, addr)
}

// IsKeystoreWallet reports whether the address belongs to a raw-key wallet.
func (e *Engine) IsKeystoreWallet(addr common.Address) (bool, error) {
	return e.cfg.Books.Contains(secretstore.ListPrivateKey, addr)
}

// IsWatched reports whether the address is watch-only.
func (e *Engine) IsWatched(addr common.Address) (bool, error) {
	return e.cfg.Books.Contains(secretstore.ListWatch, addr)
}

// IsProtectedByPresence reports whether the account has been elevated so
// only its presence-required copy remains.
func (e *Engine) IsProtectedByPresence(addr common.Address) (bool, error) {
	return e.cfg.Books.Contains(secretstore.ListProtected, addr)
}

// ListWallets returns every wallet the engine manages: signable wallets
// first, watch-only wallets after, each in insertion order.
func (e *Engine) ListWallets() ([]Wallet, error) {
	var wallets []Wallet

	signable := []secretstore.ListKind{
		secretstore.ListSeed, secretstore.ListPrivateKey,
	}
	for _, kind := range signable {
		addrs, err := e.cfg.Books.All(kind)
		if err != nil {
			return nil, err
		}
		for _, addr := range addrs {
			wallets = append(wallets, Wallet{
				Type:    TypeReal,
				Address: addr,
			})
		}
	}

	watched, err := e.cfg.Books.All(secretstore.ListWatch)
	if err != nil {
		return nil, err
	}
	for _, addr := range watched {
		wallets = append(wallets, Wallet{
			Type:    TypeWatch,
			Address: addr,
		})
	}

	return wallets, nil
}
