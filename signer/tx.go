package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxParams describes the unsigned transaction envelope: the classic
// (nonce, gasPrice, gasLimit, to, value, data) tuple plus the chain id that
// selects the signing scheme.
type TxParams struct {
	// ChainID selects the signing scheme: zero means the legacy
	// pre-replay-protection scheme, anything greater selects the
	// replay-protected scheme for that chain.
	ChainID *big.Int

	// Nonce is the sender's account nonce.
	Nonce uint64

	// GasPrice is the price per gas unit, in wei.
	GasPrice *big.Int

	// GasLimit is the maximum gas the transaction may consume.
	GasLimit uint64

	// To is the recipient. A nil recipient creates a contract.
	To *common.Address

	// Value is the amount transferred, in wei.
	Value *big.Int

	// Data is the call payload.
	Data []byte
}

// SignTransaction signs the transaction with the given key and returns the
// RLP-encoded signed envelope (nonce, gasPrice, gasLimit, to, value, data,
// v, r, s). A zero chain id signs under the legacy scheme; a non-zero chain
// id folds the chain into v for replay protection, so the same transaction
// signed for two different chains encodes differently.
func SignTransaction(params *TxParams, key *ecdsa.PrivateKey) ([]byte, error) {
	value := params.Value
	if value == nil {
		value = new(big.Int)
	}
	gasPrice := params.GasPrice
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    params.Nonce,
		GasPrice: gasPrice,
		Gas:      params.GasLimit,
		To:       params.To,
		Value:    value,
		Data:     params.Data,
	})

	var txSigner types.Signer
	if params.ChainID == nil || params.ChainID.Sign() == 0 {
		txSigner = types.HomesteadSigner{}
	} else {
		txSigner = types.NewEIP155Signer(params.ChainID)
	}

	signedTx, err := types.SignTx(tx, txSigner, key)
	if err != nil {
		return nil, fmt.Errorf("unable to sign transaction: %w", err)
	}

	encoded, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("unable to encode transaction: %w", err)
	}

	return encoded, nil
}
