package keystore

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/fuseio/walletd/signer"
)

// The async variants exist solely to move a potentially blocking presence
// challenge off the caller's goroutine, e.g. away from a UI main loop. Each
// runs its synchronous counterpart exactly once on a fresh goroutine and
// delivers the result exactly once through the callback; they add no other
// concurrency guarantees, and per-address serialization still applies.

// deliver runs fn on a new goroutine and hands its result to done.
func deliver[T any](fn func() (T, error), done func(T, error)) {
	go func() {
		result, err := fn()
		done(result, err)
	}()
}

// SignTransactionAsync is the asynchronous variant of SignTransaction.
func (e *Engine) SignTransactionAsync(addr common.Address,
	params *signer.TxParams, prompt string, done func([]byte, error)) {

	deliver(func() ([]byte, error) {
		return e.SignTransaction(addr, params, prompt)
	}, done)
}

// SignPersonalMessageAsync is the asynchronous variant of
// SignPersonalMessage.
func (e *Engine) SignPersonalMessageAsync(addr common.Address, msg []byte,
	prompt string, done func([]byte, error)) {

	deliver(func() ([]byte, error) {
		return e.SignPersonalMessage(addr, msg, prompt)
	}, done)
}

// ExportSeedPhraseAsync is the asynchronous variant of ExportSeedPhrase.
func (e *Engine) ExportSeedPhraseAsync(addr common.Address, prompt string,
	done func(string, error)) {

	deliver(func() (string, error) {
		return e.ExportSeedPhrase(addr, prompt)
	}, done)
}

// ElevateSecurityAsync is the asynchronous variant of ElevateSecurity.
func (e *Engine) ElevateSecurityAsync(addr common.Address, prompt string,
	done func(bool, error)) {

	deliver(func() (bool, error) {
		return e.ElevateSecurity(addr, prompt)
	}, done)
}
