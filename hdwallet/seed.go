package hdwallet

import (
	"errors"
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

const (
	// DefaultEntropyBits is the entropy strength used for newly generated
	// wallets, yielding a 12-word mnemonic.
	DefaultEntropyBits = 128

	// maxEntropyLen is the largest BIP39 entropy size in bytes (256
	// bits), used to bound deserialization.
	maxEntropyLen = 32
)

var (
	// ErrInvalidMnemonic is returned when a word list fails BIP39
	// validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic phrase")

	// ErrCorruptSeed is returned when a serialized seed cannot be
	// decoded.
	ErrCorruptSeed = errors.New("corrupt serialized seed")
)

// Seed is the persisted HD secret of an account: the BIP39 entropy together
// with the optional passphrase supplied at import time. The entropy is kept
// rather than the derived 64-byte PBKDF2 seed because the entropy round
// trips back to the exact mnemonic for backup display, while the passphrase
// must stay bound to the secret so every later derivation reproduces the
// address computed at import.
type Seed struct {
	// Entropy is the raw BIP39 entropy the mnemonic encodes.
	Entropy []byte

	// Passphrase is the optional BIP39 passphrase.
	Passphrase string
}

// NewSeed generates fresh entropy of the given strength and returns the
// mnemonic that encodes it along with the seed to persist. 128 bits of
// entropy produce a 12-word mnemonic from the standard wordlist.
func NewSeed(entropyBits int) (string, *Seed, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", nil, fmt.Errorf("unable to generate entropy: %w",
			err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, fmt.Errorf("unable to encode mnemonic: %w",
			err)
	}

	return mnemonic, &Seed{Entropy: entropy}, nil
}

// SeedFromMnemonic recomputes the seed for a known mnemonic. The computation
// is deterministic: the same words and passphrase always produce the same
// seed, and with it the same derived keys.
func SeedFromMnemonic(mnemonic, passphrase string) (*Seed, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}

	return &Seed{
		Entropy:    entropy,
		Passphrase: passphrase,
	}, nil
}

// Mnemonic recovers the word list the seed's entropy encodes, for backup
// display and verification.
func (s *Seed) Mnemonic() (string, error) {
	mnemonic, err := bip39.NewMnemonic(s.Entropy)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptSeed, err)
	}

	return mnemonic, nil
}

// Serialize encodes the seed for storage as a single blob: a one-byte
// entropy length, the entropy, then the passphrase bytes.
func (s *Seed) Serialize() []byte {
	blob := make([]byte, 0, 1+len(s.Entropy)+len(s.Passphrase))
	blob = append(blob, byte(len(s.Entropy)))
	blob = append(blob, s.Entropy...)
	blob = append(blob, []byte(s.Passphrase)...)

	return blob
}

// DeserializeSeed decodes a seed blob produced by Serialize.
func DeserializeSeed(blob []byte) (*Seed, error) {
	if len(blob) < 1 {
		return nil, ErrCorruptSeed
	}

	entropyLen := int(blob[0])
	if entropyLen > maxEntropyLen || len(blob) < 1+entropyLen {
		return nil, ErrCorruptSeed
	}

	entropy := make([]byte, entropyLen)
	copy(entropy, blob[1:1+entropyLen])

	return &Seed{
		Entropy:    entropy,
		Passphrase: string(blob[1+entropyLen:]),
	}, nil
}

// Zero wipes the seed's entropy in place once it is no longer needed.
func (s *Seed) Zero() {
	for i := range s.Entropy {
		s.Entropy[i] = 0
	}
	s.Passphrase = ""
}
