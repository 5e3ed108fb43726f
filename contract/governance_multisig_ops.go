package contract

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const multisigCounterName = "multisig_proposal"

// BootstrapRegistry performs first-time setup: the first caller on a ledger
// with no admins becomes admin, the built-in permission roles are seeded
// empty, and the config singleton is written. Rejected once any admin exists.
func (s *DidRegistrySmartContract) BootstrapRegistry(ctx contractapi.TransactionContextInterface) error {
	logger.Info("Chaincode Call: BootstrapRegistry")
	gm := NewGovernanceManager(ctx)
	exists, err := gm.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("failed to check bootstrap state: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: registry already bootstrapped", ErrUnauthorized)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return err
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return err
	}

	if err := gm.MakeAdmin(actor.fullID); err != nil {
		return err
	}
	for _, perm := range builtinPermissions {
		role := &model.GovernanceRole{
			ID:        perm,
			Name:      perm,
			Active:    true,
			CreatedBy: actor.fullID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if perm == model.PermRoleAdmin {
			role.Members = []string{actor.fullID}
		}
		if err := gm.putRole(role); err != nil {
			return err
		}
	}
	if err := s.putRegistryConfig(ctx, &model.RegistryConfig{
		Paused:    false,
		Params:    map[string]string{},
		UpdatedBy: actor.fullID,
		UpdatedAt: now,
	}); err != nil {
		return err
	}

	if err := s.appendAudit(ctx, actor, "registry_bootstrapped", actor.fullID, "BootstrapRegistry", nil); err != nil {
		return err
	}
	s.emitRegistryEvent(ctx, "registry.bootstrapped", map[string]interface{}{
		"admin": actor.fullID,
	})
	logger.Infof("Registry bootstrapped: '%s' is the first admin", actor.alias)
	return nil
}

// --- Proposal Storage ---

func (s *DidRegistrySmartContract) createMultisigKey(ctx contractapi.TransactionContextInterface, id uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(multisigObjectType, []string{paddedSeq(id)})
}

func (s *DidRegistrySmartContract) getMultisigProposal(ctx contractapi.TransactionContextInterface, id uint64) (*model.MultisigProposal, error) {
	key, err := s.createMultisigKey(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create proposal key %d: %w", id, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read proposal %d: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: multisig proposal %d", ErrProposalNotFound, id)
	}
	var p model.MultisigProposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proposal %d: %w", id, err)
	}
	return &p, nil
}

func (s *DidRegistrySmartContract) putMultisigProposal(ctx contractapi.TransactionContextInterface, p *model.MultisigProposal) error {
	p.ObjectType = multisigObjectType
	if p.Signatures == nil {
		p.Signatures = []model.ProposalSignature{}
	}
	if p.Payload == nil {
		p.Payload = map[string]interface{}{}
	}
	key, err := s.createMultisigKey(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to create proposal key %d: %w", p.ID, err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal proposal %d: %w", p.ID, err)
	}
	return ctx.GetStub().PutState(key, raw)
}

// validateGovernanceSignature is presence-and-shape only: endorsement policy
// already authenticated the signer's transaction, the recorded signature is
// an off-chain artifact kept for the audit trail.
func validateGovernanceSignature(signature string) error {
	if signature == "" {
		return fmt.Errorf("signature cannot be empty")
	}
	if _, err := base64.StdEncoding.DecodeString(signature); err != nil {
		return fmt.Errorf("signature is not valid base64: %w", err)
	}
	return nil
}

// --- Multisig Lifecycle ---

// CreateMultisigProposal opens a proposal that executes once RequiredSigs of
// the named signers have signed.
func (s *DidRegistrySmartContract) CreateMultisigProposal(ctx contractapi.TransactionContextInterface, proposalJSON string) (*model.MultisigProposal, error) {
	govLogger.Info("Chaincode Call: CreateMultisigProposal")
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	gm := NewGovernanceManager(ctx)
	if err := gm.requirePermission(actor, model.PermProposalCreator); err != nil {
		return nil, err
	}

	var arg struct {
		Title        string                 `json:"title"`
		Description  string                 `json:"description"`
		ProposalType string                 `json:"proposalType"`
		Payload      map[string]interface{} `json:"payload"`
		Signers      []string               `json:"signers"`
		RequiredSigs uint32                 `json:"requiredSigs"`
		TTLSeconds   int64                  `json:"ttlSeconds"`
	}
	if err := json.Unmarshal([]byte(proposalJSON), &arg); err != nil {
		return nil, fmt.Errorf("invalid proposalJSON: %w", err)
	}
	if err := s.validateRequiredString(arg.Title, "proposal.title", maxStringInputLength); err != nil {
		return nil, err
	}
	if err := s.validateOptionalString(arg.Description, "proposal.description", maxDescriptionLength); err != nil {
		return nil, err
	}
	if !ValidProposalTypes[arg.ProposalType] {
		return nil, fmt.Errorf("unknown proposalType '%s'", arg.ProposalType)
	}
	if err := s.validateStringArray(arg.Signers, "proposal.signers", maxArrayElements, maxStringInputLength); err != nil {
		return nil, err
	}
	if len(arg.Signers) == 0 {
		return nil, fmt.Errorf("proposal must name at least one signer")
	}
	if arg.RequiredSigs < 1 || int(arg.RequiredSigs) > len(arg.Signers) {
		return nil, fmt.Errorf("requiredSigs %d must be between 1 and %d", arg.RequiredSigs, len(arg.Signers))
	}
	ttl := arg.TTLSeconds
	if ttl <= 0 {
		ttl = defaultProposalTTLSeconds
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.nextSequence(ctx, multisigCounterName)
	if err != nil {
		return nil, err
	}

	p := &model.MultisigProposal{
		ID:           id,
		Title:        arg.Title,
		Description:  arg.Description,
		ProposalType: arg.ProposalType,
		Payload:      arg.Payload,
		Signers:      arg.Signers,
		RequiredSigs: arg.RequiredSigs,
		Signatures:   []model.ProposalSignature{},
		Status:       model.ProposalStatusPending,
		CreatedBy:    actor.fullID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(timeSeconds(ttl)),
	}
	if err := s.putMultisigProposal(ctx, p); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, model.AuditMultisigProposalCreated, fmt.Sprintf("proposal:%d", id), "CreateMultisigProposal", map[string]interface{}{
		"proposalType": arg.ProposalType,
		"requiredSigs": arg.RequiredSigs,
	}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "governance.proposal_created", map[string]interface{}{
		"proposalId":   id,
		"proposalType": arg.ProposalType,
		"createdBy":    actor.fullID,
	})
	return p, nil
}

// SignMultisigProposal records one signer's approval on a pending proposal.
// When distinct signatures reach the required count the proposal becomes
// ready for execution and accepts no further signatures.
func (s *DidRegistrySmartContract) SignMultisigProposal(ctx contractapi.TransactionContextInterface, proposalID uint64, signature string) (*model.MultisigProposal, error) {
	govLogger.Infof("Chaincode Call: SignMultisigProposal %d", proposalID)
	p, err := s.getMultisigProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.ProposalStatusPending {
		return nil, fmt.Errorf("%w: proposal %d is %s, signing is only allowed while pending", ErrProposalNotReady, proposalID, p.Status)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	if now.After(p.ExpiresAt) {
		return nil, fmt.Errorf("%w: multisig proposal %d expired at %s", ErrProposalExpired, proposalID, p.ExpiresAt.Format(time.RFC3339))
	}

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	gm := NewGovernanceManager(ctx)
	if err := gm.requirePermission(actor, model.PermProposalSigner); err != nil {
		return nil, err
	}
	if !containsString(p.Signers, actor.fullID) {
		return nil, fmt.Errorf("%w: '%s' is not a configured signer of proposal %d", ErrUnauthorized, actor.alias, proposalID)
	}
	for _, sig := range p.Signatures {
		if sig.Signer == actor.fullID {
			return nil, fmt.Errorf("%w: '%s' already signed proposal %d", ErrDuplicateSignature, actor.alias, proposalID)
		}
	}
	if err := validateGovernanceSignature(signature); err != nil {
		return nil, err
	}

	p.Signatures = append(p.Signatures, model.ProposalSignature{
		Signer:    actor.fullID,
		Signature: signature,
		SignedAt:  now,
	})
	if uint32(len(p.Signatures)) >= p.RequiredSigs {
		p.Status = model.ProposalStatusReadyForExecution
		govLogger.Infof("Proposal %d reached %d/%d signatures, ready for execution", proposalID, len(p.Signatures), p.RequiredSigs)
	}
	if err := s.putMultisigProposal(ctx, p); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, model.AuditMultisigProposalSigned, fmt.Sprintf("proposal:%d", proposalID), "SignMultisigProposal", map[string]interface{}{
		"proposalType": p.ProposalType,
		"signatures":   len(p.Signatures),
	}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "governance.proposal_signed", map[string]interface{}{
		"proposalId": proposalID,
		"signer":     actor.fullID,
		"status":     string(p.Status),
	})
	return p, nil
}

// ExecuteMultisigProposal dispatches a ready proposal's action. A failed
// action does not abort the transaction: the proposal is preserved as
// execution_failed with the reason, so the attempt itself stays auditable.
func (s *DidRegistrySmartContract) ExecuteMultisigProposal(ctx contractapi.TransactionContextInterface, proposalID uint64) (*model.MultisigProposal, error) {
	govLogger.Infof("Chaincode Call: ExecuteMultisigProposal %d", proposalID)
	p, err := s.getMultisigProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	gm := NewGovernanceManager(ctx)
	if err := gm.requirePermission(actor, model.PermProposalExecutor); err != nil {
		return nil, err
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	if now.After(p.ExpiresAt) {
		return nil, fmt.Errorf("%w: multisig proposal %d expired at %s", ErrProposalExpired, proposalID, p.ExpiresAt.Format(time.RFC3339))
	}
	if p.Status != model.ProposalStatusReadyForExecution {
		return nil, fmt.Errorf("%w: proposal %d is %s", ErrProposalNotReady, proposalID, p.Status)
	}

	execErr := s.executeProposalAction(ctx, actor, p.ProposalType, p.Payload)
	p.ExecutedBy = actor.fullID
	p.ExecutedAt = &now
	if execErr != nil {
		p.Status = model.ProposalStatusExecutionFailed
		p.FailureReason = execErr.Error()
		govLogger.Warningf("Proposal %d execution failed: %v", proposalID, execErr)
	} else {
		p.Status = model.ProposalStatusExecuted
	}
	if err := s.putMultisigProposal(ctx, p); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, model.AuditMultisigProposalExecuted, fmt.Sprintf("proposal:%d", proposalID), "ExecuteMultisigProposal", map[string]interface{}{
		"proposalType": p.ProposalType,
		"success":      execErr == nil,
	}); err != nil {
		return nil, err
	}
	eventName := "governance.proposal_executed"
	if execErr != nil {
		eventName = "governance.proposal_execution_failed"
	}
	s.emitRegistryEvent(ctx, eventName, map[string]interface{}{
		"proposalId":   proposalID,
		"proposalType": p.ProposalType,
		"executedBy":   actor.fullID,
		"status":       string(p.Status),
	})
	return p, nil
}

// --- Action Dispatch ---

func payloadString(payload map[string]interface{}, key string) (string, error) {
	v, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("payload missing '%s'", key)
	}
	str, ok := v.(string)
	if !ok || str == "" {
		return "", fmt.Errorf("payload '%s' must be a non-empty string", key)
	}
	return str, nil
}

// executeProposalAction applies an approved governance action. Shared by the
// multisig and timelock executors.
func (s *DidRegistrySmartContract) executeProposalAction(ctx contractapi.TransactionContextInterface, actor *actorInfo, proposalType string, payload map[string]interface{}) error {
	gm := NewGovernanceManager(ctx)
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return err
	}

	switch proposalType {
	case model.ProposalTypeAddAdmin:
		address, err := payloadString(payload, "address")
		if err != nil {
			return err
		}
		if err := gm.MakeAdmin(address); err != nil {
			return err
		}
		if roleID, ok := payload["roleId"].(string); ok && roleID != "" {
			role, err := gm.getRole(roleID)
			if err != nil {
				return err
			}
			if !containsString(role.Members, address) {
				role.Members = append(role.Members, address)
				role.UpdatedAt = now
				if err := gm.putRole(role); err != nil {
					return err
				}
			}
		}
		return nil

	case model.ProposalTypeRemoveAdmin:
		address, err := payloadString(payload, "address")
		if err != nil {
			return err
		}
		return gm.RemoveAdmin(address)

	case model.ProposalTypeUpdateConfig:
		params, ok := payload["params"].(map[string]interface{})
		if !ok || len(params) == 0 {
			return fmt.Errorf("payload 'params' must be a non-empty object")
		}
		cfg, err := s.getRegistryConfig(ctx)
		if err != nil {
			return err
		}
		for k, v := range params {
			cfg.Params[k] = fmt.Sprintf("%v", v)
		}
		cfg.UpdatedBy = actor.fullID
		cfg.UpdatedAt = now
		return s.putRegistryConfig(ctx, cfg)

	case model.ProposalTypeEmergencyPause:
		cfg, err := s.getRegistryConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.Paused {
			return fmt.Errorf("registry is already paused")
		}
		reason, _ := payload["reason"].(string)
		cfg.Paused = true
		cfg.PauseReason = reason
		cfg.UpdatedBy = actor.fullID
		cfg.UpdatedAt = now
		if err := s.putRegistryConfig(ctx, cfg); err != nil {
			return err
		}
		if err := s.appendAudit(ctx, actor, model.AuditEmergencyPause, "registry", "EmergencyPause", map[string]interface{}{
			"proposalType": model.ProposalTypeEmergencyPause,
			"reason":       reason,
		}); err != nil {
			return err
		}
		s.emitRegistryEvent(ctx, "governance.paused", map[string]interface{}{"reason": reason, "actor": actor.fullID})
		return nil

	case model.ProposalTypeEmergencyUnpause:
		cfg, err := s.getRegistryConfig(ctx)
		if err != nil {
			return err
		}
		if !cfg.Paused {
			return fmt.Errorf("registry is not paused")
		}
		cfg.Paused = false
		cfg.PauseReason = ""
		cfg.UpdatedBy = actor.fullID
		cfg.UpdatedAt = now
		if err := s.putRegistryConfig(ctx, cfg); err != nil {
			return err
		}
		if err := s.appendAudit(ctx, actor, model.AuditEmergencyUnpause, "registry", "EmergencyUnpause", map[string]interface{}{
			"proposalType": model.ProposalTypeEmergencyUnpause,
		}); err != nil {
			return err
		}
		s.emitRegistryEvent(ctx, "governance.unpaused", map[string]interface{}{"actor": actor.fullID})
		return nil

	default:
		return fmt.Errorf("unknown proposalType '%s'", proposalType)
	}
}
