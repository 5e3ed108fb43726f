package contract

import "errors"

// Sentinel errors for every failure class the registry distinguishes.
// Handlers wrap these with fmt.Errorf("...: %w", ...) so callers and tests
// can match with errors.Is.
var (
	ErrDIDNotFound      = errors.New("DID document not found")
	ErrDIDAlreadyExists = errors.New("DID document already exists")
	ErrDIDDeactivated   = errors.New("DID document is deactivated")
	ErrUnauthorized     = errors.New("unauthorized")

	ErrInvalidDIDDocument         = errors.New("invalid DID document")
	ErrVerificationMethodNotFound = errors.New("verification method not found")
	ErrVerificationMethodExists   = errors.New("verification method already exists")
	ErrServiceNotFound            = errors.New("service not found")
	ErrServiceExists              = errors.New("service already exists")
	ErrInvalidStatusTransition    = errors.New("invalid status transition")

	ErrGuardianConfigNotFound   = errors.New("guardian config not found")
	ErrInsufficientGuardianSigs = errors.New("insufficient guardian signatures")
	ErrInvalidGuardianSig       = errors.New("invalid guardian signature")

	ErrChannelNotFound    = errors.New("sync channel not found")
	ErrChannelClosed      = errors.New("sync channel is closed")
	ErrInvalidChannelFlow = errors.New("invalid channel handshake")
	ErrInvalidPacket      = errors.New("invalid packet data")

	ErrProposalNotFound   = errors.New("proposal not found")
	ErrProposalNotReady   = errors.New("proposal not ready for execution")
	ErrProposalExpired    = errors.New("proposal expired")
	ErrDuplicateSignature = errors.New("duplicate signature")
	ErrTimelockNotReady   = errors.New("timelock execution window not yet open")
	ErrTimelockExpired    = errors.New("timelock execution window has passed")

	ErrRoleNotFound        = errors.New("governance role not found")
	ErrRoleExists          = errors.New("governance role already exists")
	ErrDuplicateRoleMember = errors.New("member already assigned to role")

	ErrRegistryPaused = errors.New("registry is paused")
)

// isNotFound distinguishes a missing document from storage failures when a
// caller wants to treat absence as a non-error.
func isNotFound(err error) bool {
	return errors.Is(err, ErrDIDNotFound)
}
