package secretstore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"

	"github.com/fuseio/walletd/secureenclave"
)

var (
	// secretBucketName is the name of the bucket holding the ciphertext
	// copies of every wallet secret.
	secretBucketName = []byte("wallet-secrets")

	// ErrSecretNotFound is returned when neither storage tier holds a
	// retrievable copy of the requested secret. Recovery requires
	// re-importing the wallet or re-enabling device authentication.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrElevationFailed is returned when the one-way security upgrade
	// could not be completed. The presence-not-required copy is left
	// intact whenever this is returned.
	ErrElevationFailed = errors.New("unable to elevate secret protection")
)

// SecretKind discriminates the two kinds of secret an account can own: a raw
// private key or an HD seed. An account owns exactly one of the two.
type SecretKind uint8

const (
	// KindPrivateKey denotes a raw secp256k1 private key secret.
	KindPrivateKey SecretKind = iota

	// KindSeed denotes an HD seed secret.
	KindSeed
)

// String returns the storage prefix for the secret kind.
func (k SecretKind) String() string {
	switch k {
	case KindPrivateKey:
		return "pk"
	case KindSeed:
		return "seed"
	default:
		return "unknown"
	}
}

// recordKey builds the storage key for one ciphertext copy of a secret. The
// same string names the enclave keypair the copy is encrypted under, so
// ciphertext and keypair share a lifecycle.
func recordKey(kind SecretKind, presenceRequired bool,
	addr common.Address) string {

	tier := "plain"
	if presenceRequired {
		tier = "presence"
	}

	return fmt.Sprintf("%s.%s.%s", kind, tier, addr.Hex())
}

// Store persists one logical secret per account as up to two independently
// encrypted ciphertext copies: one under a presence-gated enclave key and
// one under an ungated key. The two-tier protocol guarantees a user who
// disables device authentication never loses access, while presence
// protection is offered the moment it is possible.
type Store struct {
	db      *bolt.DB
	enclave secureenclave.Enclave
}

// NewStore creates the secret store over the given database and enclave.
func NewStore(db *bolt.DB, enclave secureenclave.Enclave) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(secretBucketName)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		enclave: enclave,
	}, nil
}

// Put writes a new secret for the given account. The presence-not-required
// copy is the durable floor and is written first; if that write fails the
// whole operation fails. A presence-required copy is then written best
// effort, only if a presence check is currently possible on this device.
func (s *Store) Put(addr common.Address, kind SecretKind,
	plaintext []byte) error {

	if err := s.writeCopy(addr, kind, false, plaintext); err != nil {
		return fmt.Errorf("unable to write secret for %v: %w",
			addr, err)
	}

	if !s.enclave.PresenceAvailable() {
		log.Debugf("Presence check unavailable, storing %v secret "+
			"without a presence-required copy", addr)
		return nil
	}

	if err := s.writeCopy(addr, kind, true, plaintext); err != nil {
		// Non-fatal: the ungated copy is already durable.
		log.Warnf("Unable to write presence-required copy for %v: %v",
			addr, err)
	}

	return nil
}

// writeCopy encrypts the plaintext under the tier's enclave key and persists
// the resulting ciphertext.
func (s *Store) writeCopy(addr common.Address, kind SecretKind,
	presenceRequired bool, plaintext []byte) error {

	key := recordKey(kind, presenceRequired, addr)

	ciphertext, err := s.enclave.Encrypt(plaintext, key, presenceRequired)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(secretBucketName).Put(
			[]byte(key), ciphertext,
		)
	})
}

// readCiphertext fetches the stored ciphertext for one tier, or nil if no
// copy exists there.
func (s *Store) readCiphertext(key string) ([]byte, error) {
	var ciphertext []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		stored := tx.Bucket(secretBucketName).Get([]byte(key))
		if stored != nil {
			ciphertext = make([]byte, len(stored))
			copy(ciphertext, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ciphertext, nil
}

// Get retrieves the plaintext secret for the given account, raising the
// presence challenge with the given prompt if the presence-required copy is
// read. The presence-required tier is always attempted first; if its record
// has gone missing (e.g. a passcode reset invalidated the gated key) the
// ungated copy is read instead and opportunistically re-encrypted back into
// the presence tier. Cancellation of the challenge is authoritative and
// never falls back.
func (s *Store) Get(addr common.Address, kind SecretKind,
	prompt string) ([]byte, error) {

	return s.retrieve(addr, kind, prompt, false)
}

// retrieve is the single-hop recursive helper behind Get. The fellBack guard
// bounds the fallback to exactly one extra attempt so that two genuinely
// absent tiers terminate instead of looping.
func (s *Store) retrieve(addr common.Address, kind SecretKind, prompt string,
	fellBack bool) ([]byte, error) {

	presenceRequired := !fellBack
	key := recordKey(kind, presenceRequired, addr)

	ciphertext, err := s.readCiphertext(key)
	if err != nil {
		return nil, err
	}

	// A missing ciphertext record counts as not-found for this tier,
	// same as a missing enclave key below.
	if ciphertext == nil {
		if fellBack {
			return nil, fmt.Errorf("%w: %v", ErrSecretNotFound,
				addr)
		}

		log.Debugf("No presence-required copy for %v, falling back",
			addr)
		return s.fallback(addr, kind, prompt)
	}

	plaintext, err := s.enclave.Decrypt(
		ciphertext, key, presenceRequired, prompt,
	)
	if err == nil {
		return plaintext, nil
	}

	// Classify the failure on the returned error first. The last-status
	// channel is process wide, so a concurrent decrypt for another
	// address may have overwritten it between our Decrypt returning and
	// the query below; it only serves as a secondary signal for adapters
	// whose errors are opaque.
	status := s.enclave.LastStatus()
	switch {
	case errors.Is(err, secureenclave.ErrUserCancelled):
		status = secureenclave.AccessCancelled

	case errors.Is(err, secureenclave.ErrRecordNotFound):
		status = secureenclave.AccessNotFound
	}

	switch status {
	// Cancellation is authoritative: the user actively declined, so no
	// fallback that would sidestep the challenge.
	case secureenclave.AccessCancelled:
		return nil, err

	// The gated key has gone missing while its ciphertext survived. Fall
	// back once to the ungated tier; the reverse direction is never taken
	// since it would silently weaken protection.
	case secureenclave.AccessNotFound:
		if fellBack {
			return nil, fmt.Errorf("%w: %v", ErrSecretNotFound,
				addr)
		}

		log.Infof("Presence-gated key for %v is gone, falling back "+
			"to the ungated copy", addr)
		return s.fallback(addr, kind, prompt)

	default:
		return nil, err
	}
}

// fallback reads the ungated copy and, on success, heals the presence tier
// by re-encrypting the secret into it for the next read.
func (s *Store) fallback(addr common.Address, kind SecretKind,
	prompt string) ([]byte, error) {

	plaintext, err := s.retrieve(addr, kind, prompt, true)
	if err != nil {
		return nil, err
	}

	if s.enclave.PresenceAvailable() {
		err := s.writeCopy(addr, kind, true, plaintext)
		if err != nil {
			// The read still succeeded, the heal is best effort.
			log.Warnf("Unable to restore presence-required copy "+
				"for %v: %v", addr, err)
		} else {
			log.Infof("Restored presence-required copy for %v",
				addr)
		}
	}

	return plaintext, nil
}

// Elevate performs the one-way security upgrade for an account: the secret
// is re-encrypted under a presence-gated key, read back once to force the
// authentication challenge and prove the new copy is genuinely retrievable,
// and only then is the ungated copy destroyed. A failure at any step leaves
// the ungated copy intact, since it may be the only accessible one.
func (s *Store) Elevate(addr common.Address, kind SecretKind,
	prompt string) error {

	plainKey := recordKey(kind, false, addr)
	gatedKey := recordKey(kind, true, addr)

	ciphertext, err := s.readCiphertext(plainKey)
	if err != nil {
		return err
	}
	if ciphertext == nil {
		// A prior elevation may have purged the ungated copy but died
		// before its bookkeeping was recorded. If the gated copy is
		// present the account is already elevated, so a retry must
		// succeed rather than demand a re-import.
		gatedCiphertext, err := s.readCiphertext(gatedKey)
		if err != nil {
			return err
		}
		if gatedCiphertext != nil {
			log.Debugf("Secret for %v is already elevated", addr)
			return nil
		}

		return fmt.Errorf("%w: %v", ErrSecretNotFound, addr)
	}

	plaintext, err := s.enclave.Decrypt(ciphertext, plainKey, false, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrElevationFailed, err)
	}

	if err := s.writeCopy(addr, kind, true, plaintext); err != nil {
		return fmt.Errorf("%w: %v", ErrElevationFailed, err)
	}

	// Read the new copy back through the full challenge. If the user
	// cannot actually retrieve it, undo the write so a broken gated copy
	// does not shadow the working ungated one on future reads.
	verify := func() error {
		gatedCiphertext, err := s.readCiphertext(gatedKey)
		if err != nil {
			return err
		}

		readBack, err := s.enclave.Decrypt(
			gatedCiphertext, gatedKey, true, prompt,
		)
		if err != nil {
			return err
		}

		if !bytes.Equal(readBack, plaintext) {
			return errors.New("gated copy does not match")
		}

		return nil
	}
	if err := verify(); err != nil {
		if undoErr := s.removeCopy(addr, kind, true); undoErr != nil {
			log.Errorf("Unable to undo elevation write for %v: %v",
				addr, undoErr)
		}

		if errors.Is(err, secureenclave.ErrUserCancelled) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrElevationFailed, err)
	}

	// The gated copy is proven retrievable, the ungated copy and its key
	// can now be purged.
	if err := s.removeCopy(addr, kind, false); err != nil {
		return fmt.Errorf("%w: %v", ErrElevationFailed, err)
	}

	log.Infof("Elevated secret protection for %v", addr)

	return nil
}

// HasCopy reports whether a ciphertext record exists for the given tier.
func (s *Store) HasCopy(addr common.Address, kind SecretKind,
	presenceRequired bool) (bool, error) {

	ciphertext, err := s.readCiphertext(
		recordKey(kind, presenceRequired, addr),
	)
	if err != nil {
		return false, err
	}

	return ciphertext != nil, nil
}

// removeCopy deletes one tier's ciphertext record together with the enclave
// keypair it was encrypted under.
func (s *Store) removeCopy(addr common.Address, kind SecretKind,
	presenceRequired bool) error {

	key := recordKey(kind, presenceRequired, addr)

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(secretBucketName).Delete([]byte(key))
	})
	if err != nil {
		return err
	}

	return s.enclave.DeleteKey(key)
}

// Delete unconditionally removes every ciphertext copy and enclave keypair
// for the address, across both secret kinds and both tiers. Missing records
// are not errors, so deletion is idempotent.
func (s *Store) Delete(addr common.Address) error {
	kinds := []SecretKind{KindPrivateKey, KindSeed}
	tiers := []bool{false, true}

	for _, kind := range kinds {
		for _, presenceRequired := range tiers {
			err := s.removeCopy(addr, kind, presenceRequired)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
