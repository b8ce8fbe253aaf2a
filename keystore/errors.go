package keystore

import "errors"

var (
	// ErrDuplicateAccount is returned when an import derives an address
	// that already exists in any bookkeeping list.
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrWalletCreationFailed is returned when a new wallet's secret
	// cannot be persisted. Nothing is recorded in that case.
	ErrWalletCreationFailed = errors.New("unable to create wallet")

	// ErrUserCancelled is returned when the user dismissed the presence
	// challenge. It never indicates a fault and no state is mutated; the
	// caller may simply re-prompt.
	ErrUserCancelled = errors.New("user cancelled authentication")

	// ErrNotFound is returned when no retrievable secret exists for the
	// account. This is likely unrecoverable without re-importing the
	// wallet or re-enabling device authentication.
	ErrNotFound = errors.New("account secret not found, re-import needed")

	// ErrSigningFailed is returned when key material was retrieved but
	// the signature could not be produced.
	ErrSigningFailed = errors.New("unable to sign")

	// ErrExportFailed is returned when a backup export cannot be
	// produced for the account.
	ErrExportFailed = errors.New("unable to export")

	// ErrWatchOnly is returned when an operation that needs key material
	// is attempted on a watch-only wallet.
	ErrWatchOnly = errors.New("watch-only account holds no key material")
)
