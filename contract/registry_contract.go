package contract

import (
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("didregistry.contract")

// Object types for composite keys, also usable as 'docType' in CouchDB queries.
const (
	didObjectType        = "DidDocument"
	didVersionObjectType = "DidDocumentVersion"
	guardianObjectType   = "GuardianConfig"
	channelObjectType    = "SyncChannel"
	outPacketObjectType  = "SyncOutboundPacket"
	multisigObjectType   = "MultisigProposal"
	timelockObjectType   = "TimelockProposal"
	roleObjectType       = "GovernanceRole"
	adminFlagObjectType  = "AdminFlag"
	configObjectType     = "RegistryConfig"
	auditObjectType      = "AuditEntry"
	counterObjectType    = "SequenceCounter"
)

// Constants for input validation and limits
const (
	maxStringInputLength = 256
	maxDescriptionLength = 1024
	maxReasonLength      = 512
	maxArrayElements     = 64
	maxSyncBatchSize     = 100 // cap on didIds per sync request packet
)

// defaultProposalTTLSeconds applies when a multisig proposal does not name
// its own expiry window.
const defaultProposalTTLSeconds = int64(7 * 24 * 60 * 60)

// DidRegistrySmartContract manages DID documents, guardian recovery,
// cross-chain sync channels and enterprise governance.
type DidRegistrySmartContract struct {
	contractapi.Contract

	// guardianVerifier checks guardian recovery signatures. Unexported so
	// the contract API does not expose it as a transaction; the default
	// verifier only checks well-formedness and deployments with real key
	// material swap it at construction time.
	guardianVerifier GuardianSignatureVerifier
}

// NewDidRegistryContract returns a contract wired with the default guardian
// signature verifier.
func NewDidRegistryContract() *DidRegistrySmartContract {
	return &DidRegistrySmartContract{guardianVerifier: formatGuardianVerifier{}}
}

// actorInfo holds commonly needed details about the transaction invoker.
type actorInfo struct {
	fullID string
	alias  string
	mspID  string
}

// Instantiate is called during chaincode instantiation.
func (s *DidRegistrySmartContract) Instantiate(ctx contractapi.TransactionContextInterface) {
	logger.Info("DidRegistrySmartContract Instantiated/Upgraded")
}
