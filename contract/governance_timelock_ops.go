package contract

import (
	"encoding/json"
	"fmt"
	"time"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const timelockCounterName = "timelock_proposal"

func (s *DidRegistrySmartContract) createTimelockKey(ctx contractapi.TransactionContextInterface, id uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(timelockObjectType, []string{paddedSeq(id)})
}

func (s *DidRegistrySmartContract) getTimelockProposal(ctx contractapi.TransactionContextInterface, id uint64) (*model.TimelockProposal, error) {
	key, err := s.createTimelockKey(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create timelock key %d: %w", id, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read timelock proposal %d: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: timelock proposal %d", ErrProposalNotFound, id)
	}
	var p model.TimelockProposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal timelock proposal %d: %w", id, err)
	}
	return &p, nil
}

func (s *DidRegistrySmartContract) putTimelockProposal(ctx contractapi.TransactionContextInterface, p *model.TimelockProposal) error {
	p.ObjectType = timelockObjectType
	if p.Approvals == nil {
		p.Approvals = []model.TimelockApproval{}
	}
	if p.Payload == nil {
		p.Payload = map[string]interface{}{}
	}
	key, err := s.createTimelockKey(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to create timelock key %d: %w", p.ID, err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal timelock proposal %d: %w", p.ID, err)
	}
	return ctx.GetStub().PutState(key, raw)
}

// CreateTimelockProposal opens a proposal that may only execute inside
// [executionTime, executionTime+maxDelaySeconds] once approved.
func (s *DidRegistrySmartContract) CreateTimelockProposal(ctx contractapi.TransactionContextInterface, proposalJSON string) (*model.TimelockProposal, error) {
	govLogger.Info("Chaincode Call: CreateTimelockProposal")
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	gm := NewGovernanceManager(ctx)
	if err := gm.requirePermission(actor, model.PermTimelockProposer); err != nil {
		return nil, err
	}

	var arg struct {
		Title             string                 `json:"title"`
		Description       string                 `json:"description"`
		ProposalType      string                 `json:"proposalType"`
		Payload           map[string]interface{} `json:"payload"`
		ExecutionTimeStr  string                 `json:"executionTime"`
		MaxDelaySeconds   int64                  `json:"maxDelaySeconds"`
		RequiredApprovals uint32                 `json:"requiredApprovals"`
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
	executionTime, err := time.Parse(time.RFC3339, arg.ExecutionTimeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid executionTime (expected RFC3339): %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	if !executionTime.After(now) {
		return nil, fmt.Errorf("executionTime must be in the future")
	}
	if arg.MaxDelaySeconds <= 0 {
		return nil, fmt.Errorf("maxDelaySeconds must be positive")
	}
	if arg.RequiredApprovals < 1 {
		return nil, fmt.Errorf("requiredApprovals must be at least 1")
	}

	id, err := s.nextSequence(ctx, timelockCounterName)
	if err != nil {
		return nil, err
	}
	p := &model.TimelockProposal{
		ID:                id,
		Title:             arg.Title,
		Description:       arg.Description,
		ProposalType:      arg.ProposalType,
		Payload:           arg.Payload,
		ExecutionTime:     executionTime,
		MaxDelaySeconds:   arg.MaxDelaySeconds,
		RequiredApprovals: arg.RequiredApprovals,
		Approvals:         []model.TimelockApproval{},
		Status:            model.ProposalStatusPending,
		CreatedBy:         actor.fullID,
		CreatedAt:         now,
	}
	if err := s.putTimelockProposal(ctx, p); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, model.AuditTimelockProposalCreated, fmt.Sprintf("timelock:%d", id), "CreateTimelockProposal", map[string]interface{}{
		"proposalType":  arg.ProposalType,
		"executionTime": executionTime.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "governance.timelock_created", map[string]interface{}{
		"proposalId":    id,
		"proposalType":  arg.ProposalType,
		"executionTime": executionTime,
		"createdBy":     actor.fullID,
	})
	return p, nil
}

// ApproveTimelockProposal records one approver's approval. Reaching the
// required count flips the proposal to approved; the execution window still
// waits for executionTime.
func (s *DidRegistrySmartContract) ApproveTimelockProposal(ctx contractapi.TransactionContextInterface, proposalID uint64) (*model.TimelockProposal, error) {
	govLogger.Infof("Chaincode Call: ApproveTimelockProposal %d", proposalID)
	p, err := s.getTimelockProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.ProposalStatusPending {
		return nil, fmt.Errorf("%w: timelock proposal %d is %s", ErrProposalNotReady, proposalID, p.Status)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	gm := NewGovernanceManager(ctx)
	if err := gm.requirePermission(actor, model.PermTimelockApprover); err != nil {
		return nil, err
	}
	for _, approval := range p.Approvals {
		if approval.Approver == actor.fullID {
			return nil, fmt.Errorf("%w: '%s' already approved timelock proposal %d", ErrDuplicateSignature, actor.alias, proposalID)
		}
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	p.Approvals = append(p.Approvals, model.TimelockApproval{Approver: actor.fullID, ApprovedAt: now})
	if uint32(len(p.Approvals)) >= p.RequiredApprovals {
		p.Status = model.ProposalStatusApproved
		govLogger.Infof("Timelock proposal %d reached %d/%d approvals, approved", proposalID, len(p.Approvals), p.RequiredApprovals)
	}
	if err := s.putTimelockProposal(ctx, p); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, model.AuditTimelockProposalApproved, fmt.Sprintf("timelock:%d", proposalID), "ApproveTimelockProposal", map[string]interface{}{
		"proposalType": p.ProposalType,
		"approvals":    len(p.Approvals),
	}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "governance.timelock_approved", map[string]interface{}{
		"proposalId": proposalID,
		"approver":   actor.fullID,
		"approvals":  len(p.Approvals),
		"status":     string(p.Status),
	})
	return p, nil
}

// ExecuteTimelockProposal dispatches a fully approved proposal inside its
// window. Too early fails with ErrTimelockNotReady, too late with
// ErrTimelockExpired; neither mutates the proposal, so a too-early attempt
// can be retried once the window opens.
func (s *DidRegistrySmartContract) ExecuteTimelockProposal(ctx contractapi.TransactionContextInterface, proposalID uint64) (*model.TimelockProposal, error) {
	govLogger.Infof("Chaincode Call: ExecuteTimelockProposal %d", proposalID)
	p, err := s.getTimelockProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	gm := NewGovernanceManager(ctx)
	if err := gm.requirePermission(actor, model.PermTimelockExecutor); err != nil {
		return nil, err
	}
	if p.Status != model.ProposalStatusApproved {
		return nil, fmt.Errorf("%w: timelock proposal %d is %s, expected approved", ErrProposalNotReady, proposalID, p.Status)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	if now.Before(p.ExecutionTime) {
		return nil, fmt.Errorf("%w: window opens at %s", ErrTimelockNotReady, p.ExecutionTime.Format(time.RFC3339))
	}
	deadline := p.ExecutionTime.Add(timeSeconds(p.MaxDelaySeconds))
	if now.After(deadline) {
		return nil, fmt.Errorf("%w: window closed at %s", ErrTimelockExpired, deadline.Format(time.RFC3339))
	}

	execErr := s.executeProposalAction(ctx, actor, p.ProposalType, p.Payload)
	p.ExecutedBy = actor.fullID
	p.ExecutedAt = &now
	if execErr != nil {
		p.Status = model.ProposalStatusExecutionFailed
		p.FailureReason = execErr.Error()
		govLogger.Warningf("Timelock proposal %d execution failed: %v", proposalID, execErr)
	} else {
		p.Status = model.ProposalStatusExecuted
	}
	if err := s.putTimelockProposal(ctx, p); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, model.AuditTimelockProposalExecuted, fmt.Sprintf("timelock:%d", proposalID), "ExecuteTimelockProposal", map[string]interface{}{
		"proposalType": p.ProposalType,
		"success":      execErr == nil,
	}); err != nil {
		return nil, err
	}
	eventName := "governance.timelock_executed"
	if execErr != nil {
		eventName = "governance.timelock_execution_failed"
	}
	s.emitRegistryEvent(ctx, eventName, map[string]interface{}{
		"proposalId":   proposalID,
		"proposalType": p.ProposalType,
		"executedBy":   actor.fullID,
		"status":       string(p.Status),
	})
	return p, nil
}
