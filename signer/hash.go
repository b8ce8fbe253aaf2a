package signer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// personalMessagePrefix is the prefix mandated by the personal_sign scheme.
// Prefixing commits the signature to being over a displayed message, so a
// signed message can never double as a valid transaction.
const personalMessagePrefix = "\x19Ethereum Signed Message:\n"

// HashPersonalMessage returns the digest signed for a personal message:
//
//	keccak256(prefix || len(msg) || msg)
func HashPersonalMessage(msg []byte) []byte {
	prefixed := fmt.Sprintf("%s%d", personalMessagePrefix, len(msg))
	return crypto.Keccak256([]byte(prefixed), msg)
}

// HashTypedData returns the digest signed for a typed-data request:
//
//	keccak256(keccak256(schema) || keccak256(value))
//
// committing the signature to both the declared schema and the encoded
// values.
func HashTypedData(schema, value []byte) []byte {
	return crypto.Keccak256(
		crypto.Keccak256(schema), crypto.Keccak256(value),
	)
}
