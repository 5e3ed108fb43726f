package model

import "time"

// Audit event types with non-default risk weighting.
const (
	AuditMultisigProposalCreated  = "multisig_proposal_created"
	AuditMultisigProposalSigned   = "multisig_proposal_signed"
	AuditMultisigProposalExecuted = "multisig_proposal_executed"
	AuditTimelockProposalCreated  = "timelock_proposal_created"
	AuditTimelockProposalApproved = "timelock_proposal_approved"
	AuditTimelockProposalExecuted = "timelock_proposal_executed"
	AuditRoleCreated              = "role_created"
	AuditRoleAssigned             = "role_assigned"
	AuditEmergencyPause           = "emergency_pause"
	AuditEmergencyUnpause         = "emergency_unpause"
)

// AuditEntry is one append-only record of a registry action. Entries are
// keyed by a monotonically increasing ID and anchored to the transaction
// that produced them.
type AuditEntry struct {
	ObjectType string                 `json:"objectType"`
	ID         uint64                 `json:"id"`
	EventType  string                 `json:"eventType"`
	Actor      string                 `json:"actor"`
	Target     string                 `json:"target"`
	Action     string                 `json:"action"`
	Details    map[string]interface{} `json:"details,omitempty"`
	TxID       string                 `json:"txId"`
	Timestamp  time.Time              `json:"timestamp"`
	RiskScore  uint32                 `json:"riskScore"`
	Signature  string                 `json:"signature"`
}
