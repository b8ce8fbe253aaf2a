package secureenclave

import "errors"

var (
	// ErrKeyGenFailed is returned when the enclave is unable to generate
	// or load the named keypair backing an encryption request.
	ErrKeyGenFailed = errors.New("unable to generate enclave keypair")

	// ErrHardwareUnavailable is returned when the backing key storage
	// cannot be reached at all.
	ErrHardwareUnavailable = errors.New("secure element unavailable")

	// ErrUserCancelled is returned when the user dismisses the presence
	// challenge that gates a decryption. Cancellation is authoritative
	// and callers must not fall back to another copy of the secret.
	ErrUserCancelled = errors.New("user cancelled presence challenge")

	// ErrRecordNotFound is returned when no keypair exists under the
	// requested label. This is distinct from a generic failure since it
	// drives the caller's single-hop fallback to the other storage tier.
	ErrRecordNotFound = errors.New("enclave key not found")

	// ErrMalformedCiphertext is returned when a ciphertext blob is too
	// short to contain the ephemeral key and nonce envelope.
	ErrMalformedCiphertext = errors.New("malformed enclave ciphertext")
)

// AccessStatus describes the outcome of the most recent decrypt operation.
// The status is reported out-of-band from the error return so that callers
// can distinguish the three failure classes that require different recovery
// actions: re-prompting (cancelled), falling back to another storage tier
// (not found), and surfacing a generic failure (other).
type AccessStatus uint8

const (
	// AccessOK means the last decrypt succeeded.
	AccessOK AccessStatus = iota

	// AccessCancelled means the user dismissed the presence challenge.
	AccessCancelled

	// AccessNotFound means no key material exists under the requested
	// label.
	AccessNotFound

	// AccessOtherFailure means the decrypt failed for any other reason.
	AccessOtherFailure
)

// String returns a human readable identifier for the access status.
func (s AccessStatus) String() string {
	switch s {
	case AccessOK:
		return "ok"
	case AccessCancelled:
		return "cancelled"
	case AccessNotFound:
		return "not-found"
	case AccessOtherFailure:
		return "other-failure"
	default:
		return "unknown"
	}
}

// Enclave is the capability backed by a hardware secure element: a facility
// for named asymmetric keypairs whose private halves never leave the
// element, used here to wrap symmetric secrets at rest. Implementations are
// adapters over a platform keystore; the engine depends only on this
// interface.
type Enclave interface {
	// Encrypt encrypts the plaintext under the public half of the named
	// keypair, lazily creating the keypair if it does not exist yet.
	// Whether the private half demands a presence check is fixed into
	// the key's access policy at creation time from presenceRequired.
	Encrypt(plaintext []byte, label string,
		presenceRequired bool) ([]byte, error)

	// Decrypt decrypts the ciphertext with the private half of the named
	// keypair. If the key was created presence-gated, an OS-level
	// liveness challenge showing prompt is raised first and may block
	// indefinitely awaiting the user. The outcome is also recorded in
	// LastStatus.
	Decrypt(ciphertext []byte, label string, presenceRequired bool,
		prompt string) ([]byte, error)

	// DeleteKey removes the named keypair. Deleting a missing key is not
	// an error.
	DeleteKey(label string) error

	// LastStatus reports the classified outcome of the most recent
	// Decrypt call.
	LastStatus() AccessStatus

	// PresenceAvailable reports whether a presence challenge can
	// currently be raised on this device at all. When it cannot, only
	// the ungated storage tier is written.
	PresenceAvailable() bool
}

// PresenceVerifier raises the liveness/authentication challenge that gates
// presence-protected keys. On a device this is biometrics or the passcode;
// in tests and the CLI it is substituted with a confirm callback.
type PresenceVerifier interface {
	// Available reports whether a presence check can currently be
	// performed at all, e.g. whether a passcode is set.
	Available() bool

	// Confirm raises the challenge with the given prompt and reports
	// whether the user passed it. A false return with a nil error means
	// the user actively cancelled.
	Confirm(prompt string) (bool, error)
}
