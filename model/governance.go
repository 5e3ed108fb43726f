package model

import "time"

// ProposalStatus is the lifecycle status of a governance proposal.
type ProposalStatus string

const (
	ProposalStatusPending           ProposalStatus = "pending"
	ProposalStatusApproved          ProposalStatus = "approved"
	ProposalStatusReadyForExecution ProposalStatus = "ready_for_execution"
	ProposalStatusExecuted          ProposalStatus = "executed"
	ProposalStatusExecutionFailed   ProposalStatus = "execution_failed"
	ProposalStatusExpired           ProposalStatus = "expired"
)

// Proposal types dispatched by the governance executor.
const (
	ProposalTypeAddAdmin         = "add_admin"
	ProposalTypeRemoveAdmin      = "remove_admin"
	ProposalTypeUpdateConfig     = "update_config"
	ProposalTypeEmergencyPause   = "emergency_pause"
	ProposalTypeEmergencyUnpause = "emergency_unpause"
)

// Governance permissions. A role grants a permission when its ID equals the
// permission or its Permissions list contains it.
const (
	PermProposalCreator  = "PROPOSAL_CREATOR"
	PermProposalSigner   = "PROPOSAL_SIGNER"
	PermProposalExecutor = "PROPOSAL_EXECUTOR"
	PermTimelockProposer = "TIMELOCK_PROPOSER"
	PermTimelockApprover = "TIMELOCK_APPROVER"
	PermTimelockExecutor = "TIMELOCK_EXECUTOR"
	PermRoleAdmin        = "ROLE_ADMIN"
)

// ProposalSignature is one signer's recorded approval of a multisig proposal.
type ProposalSignature struct {
	Signer    string    `json:"signer"`
	Signature string    `json:"signature"` // base64
	SignedAt  time.Time `json:"signedAt"`
}

// MultisigProposal is an action that executes once enough configured signers
// have signed it.
type MultisigProposal struct {
	ObjectType    string                 `json:"objectType"`
	ID            uint64                 `json:"id"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description"`
	ProposalType  string                 `json:"proposalType"`
	Payload       map[string]interface{} `json:"payload"`
	Signers       []string               `json:"signers"`
	RequiredSigs  uint32                 `json:"requiredSigs"`
	Signatures    []ProposalSignature    `json:"signatures"`
	Status        ProposalStatus         `json:"status"`
	CreatedBy     string                 `json:"createdBy"`
	CreatedAt     time.Time              `json:"createdAt"`
	ExpiresAt     time.Time              `json:"expiresAt"`
	ExecutedBy    string                 `json:"executedBy,omitempty"`
	ExecutedAt    *time.Time             `json:"executedAt,omitempty"`
	FailureReason string                 `json:"failureReason,omitempty"`
}

// TimelockApproval is one approver's recorded approval of a timelock proposal.
type TimelockApproval struct {
	Approver   string    `json:"approver"`
	ApprovedAt time.Time `json:"approvedAt"`
}

// TimelockProposal is an action that may only execute inside the window
// [ExecutionTime, ExecutionTime + MaxDelaySeconds].
type TimelockProposal struct {
	ObjectType        string                 `json:"objectType"`
	ID                uint64                 `json:"id"`
	Title             string                 `json:"title"`
	Description       string                 `json:"description"`
	ProposalType      string                 `json:"proposalType"`
	Payload           map[string]interface{} `json:"payload"`
	ExecutionTime     time.Time              `json:"executionTime"`
	MaxDelaySeconds   int64                  `json:"maxDelaySeconds"`
	RequiredApprovals uint32                 `json:"requiredApprovals"`
	Approvals         []TimelockApproval     `json:"approvals"`
	Status            ProposalStatus         `json:"status"`
	CreatedBy         string                 `json:"createdBy"`
	CreatedAt         time.Time              `json:"createdAt"`
	ExecutedBy        string                 `json:"executedBy,omitempty"`
	ExecutedAt        *time.Time             `json:"executedAt,omitempty"`
	FailureReason     string                 `json:"failureReason,omitempty"`
}

// GovernanceRole is a named set of members holding governance permissions.
type GovernanceRole struct {
	ObjectType  string    `json:"objectType"`
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	Members     []string  `json:"members"`
	Active      bool      `json:"active"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RegistryConfig is the on-chain configuration singleton. Only governance
// execution mutates it.
type RegistryConfig struct {
	ObjectType  string            `json:"objectType"`
	Paused      bool              `json:"paused"`
	PauseReason string            `json:"pauseReason,omitempty"`
	Params      map[string]string `json:"params"`
	UpdatedBy   string            `json:"updatedBy"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}
