package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var auditLogger = flogging.MustGetLogger("didregistry.audit")

const auditCounterName = "audit_entry"

// auditRiskBase weights event types by how much damage a bad actor could do
// with them. Unknown event types score the default.
var auditRiskBase = map[string]uint32{
	model.AuditMultisigProposalCreated:  30,
	model.AuditMultisigProposalSigned:   20,
	model.AuditMultisigProposalExecuted: 70,
	model.AuditTimelockProposalCreated:  40,
	model.AuditTimelockProposalApproved: 30,
	model.AuditTimelockProposalExecuted: 80,
	model.AuditRoleCreated:              60,
	model.AuditRoleAssigned:             40,
	model.AuditEmergencyPause:           90,
	model.AuditEmergencyUnpause:         80,
}

const defaultAuditRisk = uint32(10)

// AuditTrail appends and reads the registry's append-only audit log.
type AuditTrail struct {
	Ctx contractapi.TransactionContextInterface
}

// NewAuditTrail creates a new instance of AuditTrail.
func NewAuditTrail(ctx contractapi.TransactionContextInterface) *AuditTrail {
	return &AuditTrail{Ctx: ctx}
}

func (at *AuditTrail) createAuditKey(id uint64) (string, error) {
	return at.Ctx.GetStub().CreateCompositeKey(auditObjectType, []string{paddedSeq(id)})
}

// riskScore computes the entry's score: base table by event type, +20 for a
// high-privilege actor, +30 when the action concerns an emergency proposal
// type, clamped to 100.
func riskScore(eventType string, actorIsAdmin bool, details map[string]interface{}) uint32 {
	score, ok := auditRiskBase[eventType]
	if !ok {
		score = defaultAuditRisk
	}
	if actorIsAdmin {
		score += 20
	}
	if pt, ok := details["proposalType"].(string); ok {
		if pt == model.ProposalTypeEmergencyPause || pt == model.ProposalTypeEmergencyUnpause {
			score += 30
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

// auditSignature stamps an entry so tampering with a stored record is
// detectable offline.
func auditSignature(id uint64, eventType, actor, target string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%s:%s", id, eventType, actor, target)))
	return hex.EncodeToString(sum[:])
}

// Append writes the next audit entry. Never silently skipped: callers treat
// a failed append as a failed transaction.
func (at *AuditTrail) Append(s *DidRegistrySmartContract, actor *actorInfo, eventType, target, action string, details map[string]interface{}) (*model.AuditEntry, error) {
	if details == nil {
		details = map[string]interface{}{}
	}
	id, err := s.nextSequence(at.Ctx, auditCounterName)
	if err != nil {
		return nil, fmt.Errorf("failed to assign audit sequence: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(at.Ctx)
	if err != nil {
		return nil, err
	}

	gm := NewGovernanceManager(at.Ctx)
	actorIsAdmin, err := gm.IsAdmin(actor.fullID)
	if err != nil {
		return nil, fmt.Errorf("failed to check actor privilege for audit entry: %w", err)
	}

	entry := &model.AuditEntry{
		ObjectType: auditObjectType,
		ID:         id,
		EventType:  eventType,
		Actor:      actor.fullID,
		Target:     target,
		Action:     action,
		Details:    details,
		TxID:       at.Ctx.GetStub().GetTxID(),
		Timestamp:  now,
		RiskScore:  riskScore(eventType, actorIsAdmin, details),
		Signature:  auditSignature(id, eventType, actor.fullID, target),
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit entry %d: %w", id, err)
	}
	key, err := at.createAuditKey(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit key %d: %w", id, err)
	}
	if err := at.Ctx.GetStub().PutState(key, raw); err != nil {
		return nil, fmt.Errorf("failed to put audit entry %d: %w", id, err)
	}
	auditLogger.Debugf("Audit entry %d: %s by %s on %s (risk %d)", id, eventType, actor.alias, target, entry.RiskScore)
	return entry, nil
}

// appendAudit is the contract-side convenience wrapper used by every mutating
// operation.
func (s *DidRegistrySmartContract) appendAudit(ctx contractapi.TransactionContextInterface, actor *actorInfo, eventType, target, action string, details map[string]interface{}) error {
	if _, err := NewAuditTrail(ctx).Append(s, actor, eventType, target, action, details); err != nil {
		return fmt.Errorf("failed to append audit entry for %s: %w", action, err)
	}
	return nil
}

// --- Audit Queries ---

// GetAuditEntry returns one audit entry by sequence number.
func (s *DidRegistrySmartContract) GetAuditEntry(ctx contractapi.TransactionContextInterface, id uint64) (*model.AuditEntry, error) {
	auditLogger.Debugf("Chaincode Call: GetAuditEntry %d", id)
	at := NewAuditTrail(ctx)
	key, err := at.createAuditKey(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit key %d: %w", id, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit entry %d: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("audit entry %d not found", id)
	}
	var entry model.AuditEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit entry %d: %w", id, err)
	}
	return &entry, nil
}

// GetAuditEntries returns up to limit entries starting at fromID, in sequence order.
func (s *DidRegistrySmartContract) GetAuditEntries(ctx contractapi.TransactionContextInterface, fromID uint64, limit int) ([]model.AuditEntry, error) {
	auditLogger.Debugf("Chaincode Call: GetAuditEntries from %d limit %d", fromID, limit)
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(auditObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get audit iterator: %w", err)
	}
	defer resultsIterator.Close()

	entries := []model.AuditEntry{}
	for resultsIterator.HasNext() && len(entries) < limit {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			auditLogger.Warningf("GetAuditEntries: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var entry model.AuditEntry
		if err := json.Unmarshal(queryResponse.Value, &entry); err != nil {
			auditLogger.Warningf("GetAuditEntries: failed to unmarshal entry at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		if entry.ID < fromID {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetAuditEntriesByActor returns every entry recorded for the given actor.
func (s *DidRegistrySmartContract) GetAuditEntriesByActor(ctx contractapi.TransactionContextInterface, actor string) ([]model.AuditEntry, error) {
	auditLogger.Debugf("Chaincode Call: GetAuditEntriesByActor %s", actor)
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(auditObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get audit iterator: %w", err)
	}
	defer resultsIterator.Close()

	entries := []model.AuditEntry{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			auditLogger.Warningf("GetAuditEntriesByActor: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var entry model.AuditEntry
		if err := json.Unmarshal(queryResponse.Value, &entry); err != nil {
			continue
		}
		if entry.Actor == actor {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
