package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// HashLen is the required length of a digest passed to Sign.
	HashLen = 32

	// SignatureLen is the length of a produced signature: r (32) || s
	// (32) || v (1).
	SignatureLen = 65

	// recoveryOffset is added to the raw recovery id so the final v byte
	// follows the chain-agnostic 27/28 convention expected by verifiers.
	recoveryOffset = 27
)

// ErrBadDigest is returned when a digest of the wrong length is submitted
// for signing.
var ErrBadDigest = errors.New("digest must be 32 bytes")

// Sign produces a deterministic recoverable ECDSA signature over the given
// 32-byte digest with the secp256k1 private key. The returned signature is
// r||s||v with the recovery byte normalized to 27/28.
func Sign(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	if len(digest) != HashLen {
		return nil, fmt.Errorf("%w, got %d", ErrBadDigest, len(digest))
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("unable to sign digest: %w", err)
	}

	sig[SignatureLen-1] += recoveryOffset

	return sig, nil
}

// SignHashes signs a batch of digests with the same key. Any individual
// failure fails the whole batch; no partial results are returned.
func SignHashes(digests [][]byte, key *ecdsa.PrivateKey) ([][]byte, error) {
	sigs := make([][]byte, 0, len(digests))
	for i, digest := range digests {
		sig, err := Sign(digest, key)
		if err != nil {
			return nil, fmt.Errorf("unable to sign digest %d "+
				"of %d: %w", i, len(digests), err)
		}

		sigs = append(sigs, sig)
	}

	return sigs, nil
}
