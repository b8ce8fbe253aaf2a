package keystore

import "github.com/ethereum/go-ethereum/common"

// WalletType discriminates the two wallet variants the engine manages.
type WalletType uint8

const (
	// TypeReal is a wallet whose account owns key material and can sign.
	TypeReal WalletType = iota

	// TypeWatch is a watch-only wallet: an address with no key material.
	TypeWatch
)

// String returns a human readable identifier for the wallet type.
func (t WalletType) String() string {
	switch t {
	case TypeReal:
		return "real"
	case TypeWatch:
		return "watch"
	default:
		return "unknown"
	}
}

// Wallet is the identity the engine exposes externally. Wallets are
// immutable once created and are removed only by DeleteWallet.
type Wallet struct {
	// Type is the wallet variant.
	Type WalletType

	// Address is the canonical account address.
	Address common.Address
}
