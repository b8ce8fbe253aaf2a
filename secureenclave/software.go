package secureenclave

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// keyRecordSize is the size of a serialized keypair record: one flag
	// byte followed by the 32-byte private scalar.
	keyRecordSize = 1 + 32

	// envelopeOverhead is the number of bytes prepended to every sealed
	// payload: the compressed ephemeral public key and the AEAD nonce.
	envelopeOverhead = 33 + chacha20poly1305.NonceSizeX
)

// enclaveKeyBucket is the name of the bucket holding the named keypairs.
var enclaveKeyBucket = []byte("enclave-keys")

// SoftwareEnclave is a pure-software implementation of the Enclave
// interface. Named secp256k1 keypairs are persisted in a bolt bucket and
// plaintexts are sealed ECIES-style: an ephemeral keypair performs ECDH
// against the named key, the sha256 of the shared point keys an
// XChaCha20-Poly1305 AEAD, and the ephemeral public key and nonce are
// prepended to the ciphertext.
//
// A platform adapter backed by an actual secure element satisfies the same
// interface; this implementation stands in on hosts without one and backs
// the unit tests.
type SoftwareEnclave struct {
	db       *bolt.DB
	verifier PresenceVerifier

	statusMtx  sync.Mutex
	lastStatus AccessStatus
}

// A compile time check to ensure SoftwareEnclave implements the Enclave
// interface.
var _ Enclave = (*SoftwareEnclave)(nil)

// NewSoftwareEnclave creates a software enclave over the given database. The
// verifier raises presence challenges for presence-gated keys; it may be nil
// on devices without any authentication method, in which case presence-gated
// keys become undecryptable rather than silently ungated.
func NewSoftwareEnclave(db *bolt.DB,
	verifier PresenceVerifier) (*SoftwareEnclave, error) {

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(enclaveKeyBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}

	return &SoftwareEnclave{
		db:       db,
		verifier: verifier,
	}, nil
}

// PresenceAvailable reports whether a presence challenge can currently be
// raised on this device.
func (e *SoftwareEnclave) PresenceAvailable() bool {
	return e.verifier != nil && e.verifier.Available()
}

// Encrypt encrypts the plaintext under the public half of the named keypair,
// creating the keypair on first use. The presence requirement is baked into
// the key record at creation time; for an existing key the recorded
// requirement stays authoritative.
//
// NOTE: This is part of the Enclave interface.
func (e *SoftwareEnclave) Encrypt(plaintext []byte, label string,
	presenceRequired bool) ([]byte, error) {

	var pubKey *btcec.PublicKey
	err := e.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(enclaveKeyBucket)

		record := bucket.Get([]byte(label))
		if record != nil {
			if len(record) != keyRecordSize {
				return ErrMalformedCiphertext
			}
			priv, _ := btcec.PrivKeyFromBytes(record[1:])
			pubKey = priv.PubKey()
			return nil
		}

		// No key under this label yet, generate one with the access
		// policy fixed now.
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrKeyGenFailed, err)
		}

		record = make([]byte, 0, keyRecordSize)
		if presenceRequired {
			record = append(record, 1)
		} else {
			record = append(record, 0)
		}
		record = append(record, priv.Serialize()...)

		if err := bucket.Put([]byte(label), record); err != nil {
			return fmt.Errorf("%w: %v", ErrKeyGenFailed, err)
		}

		log.Debugf("Generated enclave keypair %s "+
			"(presence_required=%v)", label, presenceRequired)

		pubKey = priv.PubKey()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return seal(plaintext, pubKey)
}

// Decrypt decrypts the ciphertext with the private half of the named
// keypair, raising the presence challenge first if the key was created
// presence-gated. The classified outcome is recorded for LastStatus.
//
// NOTE: This is part of the Enclave interface.
func (e *SoftwareEnclave) Decrypt(ciphertext []byte, label string,
	presenceRequired bool, prompt string) ([]byte, error) {

	var record []byte
	err := e.db.View(func(tx *bolt.Tx) error {
		stored := tx.Bucket(enclaveKeyBucket).Get([]byte(label))
		if stored != nil {
			record = make([]byte, len(stored))
			copy(record, stored)
		}
		return nil
	})
	if err != nil {
		e.setStatus(AccessOtherFailure)
		return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}

	if record == nil {
		log.Debugf("No enclave keypair under label %s", label)
		e.setStatus(AccessNotFound)
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, label)
	}
	if len(record) != keyRecordSize {
		e.setStatus(AccessOtherFailure)
		return nil, ErrMalformedCiphertext
	}

	// The stored access policy is authoritative, not the caller's
	// expectation.
	if record[0] == 1 {
		if e.verifier == nil {
			e.setStatus(AccessOtherFailure)
			return nil, ErrHardwareUnavailable
		}

		passed, err := e.verifier.Confirm(prompt)
		if err != nil {
			e.setStatus(AccessOtherFailure)
			return nil, fmt.Errorf("presence challenge: %w", err)
		}
		if !passed {
			log.Infof("Presence challenge for %s cancelled by "+
				"user", label)
			e.setStatus(AccessCancelled)
			return nil, ErrUserCancelled
		}
	}

	priv, _ := btcec.PrivKeyFromBytes(record[1:])
	plaintext, err := open(ciphertext, priv)
	if err != nil {
		e.setStatus(AccessOtherFailure)
		return nil, err
	}

	e.setStatus(AccessOK)
	return plaintext, nil
}

// DeleteKey removes the named keypair. Removing a missing key succeeds.
//
// NOTE: This is part of the Enclave interface.
func (e *SoftwareEnclave) DeleteKey(label string) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(enclaveKeyBucket).Delete([]byte(label))
	})
}

// LastStatus reports the classified outcome of the most recent Decrypt.
//
// NOTE: This is part of the Enclave interface.
func (e *SoftwareEnclave) LastStatus() AccessStatus {
	e.statusMtx.Lock()
	defer e.statusMtx.Unlock()

	return e.lastStatus
}

func (e *SoftwareEnclave) setStatus(status AccessStatus) {
	e.statusMtx.Lock()
	defer e.statusMtx.Unlock()

	e.lastStatus = status
}

// seal encrypts the payload to the target public key: an ephemeral keypair
// performs ECDH against it and the shared secret keys an XChaCha20-Poly1305
// AEAD. The ephemeral public key and the random nonce are prepended to the
// returned blob and the nonce doubles as the associated data.
func seal(payload []byte, pub *btcec.PublicKey) ([]byte, error) {
	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGenFailed, err)
	}

	cipher, err := chacha20poly1305.NewX(sharedSecret(ephemeral, pub))
	if err != nil {
		return nil, err
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	blob := make([]byte, 0, envelopeOverhead+len(payload)+cipher.Overhead())
	blob = append(blob, ephemeral.PubKey().SerializeCompressed()...)
	blob = append(blob, nonce[:]...)
	blob = cipher.Seal(blob, nonce[:], payload, nonce[:])

	return blob, nil
}

// open reverses seal with the named private key.
func open(blob []byte, priv *btcec.PrivateKey) ([]byte, error) {
	if len(blob) < envelopeOverhead {
		return nil, ErrMalformedCiphertext
	}

	ephemeralPub, err := btcec.ParsePubKey(blob[:33])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}

	nonce := blob[33:envelopeOverhead]
	ciphertext := blob[envelopeOverhead:]

	cipher, err := chacha20poly1305.NewX(sharedSecret(priv, ephemeralPub))
	if err != nil {
		return nil, err
	}

	plaintext, err := cipher.Open(nil, nonce, ciphertext, nonce)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt payload: %w", err)
	}

	return plaintext, nil
}

// sharedSecret performs a scalar multiplication (ECDH-like operation)
// between the private key and public key:
//
//	sx := k*P
//	s := sha256(sx.SerializeCompressed())
func sharedSecret(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	var (
		pubJacobian btcec.JacobianPoint
		s           btcec.JacobianPoint
	)
	pub.AsJacobian(&pubJacobian)

	btcec.ScalarMultNonConst(&priv.Key, &pubJacobian, &s)
	s.ToAffine()
	sPubKey := btcec.NewPublicKey(&s.X, &s.Y)

	secret := sha256.Sum256(sPubKey.SerializeCompressed())
	return secret[:]
}
