package contract

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// GuardianSignatureVerifier checks one guardian's approval of a recovery
// request. Implementations with real key material verify the signature over
// the DID being recovered against the guardian's configured public key.
type GuardianSignatureVerifier interface {
	Verify(guardian model.Guardian, didID string, sig model.GuardianSignature) error
}

// formatGuardianVerifier is the default verifier: it only checks that the
// submission is well-formed (named guardian, base64 signature). Deployments
// supply a cryptographic verifier at construction time.
type formatGuardianVerifier struct{}

func (formatGuardianVerifier) Verify(guardian model.Guardian, didID string, sig model.GuardianSignature) error {
	if sig.GuardianID == "" || sig.Signature == "" {
		return fmt.Errorf("%w: missing guardian id or signature", ErrInvalidGuardianSig)
	}
	if _, err := base64.StdEncoding.DecodeString(sig.Signature); err != nil {
		return fmt.Errorf("%w: signature is not valid base64: %v", ErrInvalidGuardianSig, err)
	}
	return nil
}

func (s *DidRegistrySmartContract) createGuardianConfigKey(ctx contractapi.TransactionContextInterface, didID string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(guardianObjectType, []string{didID})
}

// getGuardianConfig fetches the recovery policy for a DID or fails with
// ErrGuardianConfigNotFound.
func (s *DidRegistrySmartContract) getGuardianConfig(ctx contractapi.TransactionContextInterface, didID string) (*model.GuardianConfig, error) {
	key, err := s.createGuardianConfigKey(ctx, didID)
	if err != nil {
		return nil, fmt.Errorf("failed to create guardian config key for '%s': %w", didID, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read guardian config for '%s': %w", didID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: '%s'", ErrGuardianConfigNotFound, didID)
	}
	var cfg model.GuardianConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guardian config for '%s': %w", didID, err)
	}
	return &cfg, nil
}

// SetGuardianConfig installs or replaces the recovery policy for a DID.
// Only a current controller of the document may change who can recover it.
func (s *DidRegistrySmartContract) SetGuardianConfig(ctx contractapi.TransactionContextInterface, didID string, configJSON string) (*model.GuardianConfig, error) {
	logger.Infof("Chaincode Call: SetGuardianConfig for '%s'", didID)
	doc, err := s.getDidDocument(ctx, didID)
	if err != nil {
		return nil, err
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthorizedController(doc, actor); err != nil {
		return nil, err
	}

	var arg struct {
		Guardians []model.Guardian `json:"guardians"`
		Threshold uint32           `json:"threshold"`
	}
	if err := json.Unmarshal([]byte(configJSON), &arg); err != nil {
		return nil, fmt.Errorf("invalid configJSON: %w", err)
	}
	if len(arg.Guardians) == 0 {
		return nil, fmt.Errorf("guardian config must name at least one guardian")
	}
	if len(arg.Guardians) > maxArrayElements {
		return nil, fmt.Errorf("guardian config has %d guardians, exceeding maximum of %d", len(arg.Guardians), maxArrayElements)
	}
	seen := make(map[string]bool)
	for i, g := range arg.Guardians {
		if err := s.validateRequiredString(g.ID, fmt.Sprintf("guardians[%d].id", i), maxStringInputLength); err != nil {
			return nil, err
		}
		if err := s.validateOptionalString(g.PublicKey, fmt.Sprintf("guardians[%d].publicKey", i), maxDescriptionLength); err != nil {
			return nil, err
		}
		if seen[g.ID] {
			return nil, fmt.Errorf("duplicate guardian id '%s'", g.ID)
		}
		seen[g.ID] = true
	}
	if arg.Threshold < 1 || int(arg.Threshold) > len(arg.Guardians) {
		return nil, fmt.Errorf("threshold %d must be between 1 and %d", arg.Threshold, len(arg.Guardians))
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	cfg := &model.GuardianConfig{
		ObjectType: guardianObjectType,
		DidID:      didID,
		Guardians:  arg.Guardians,
		Threshold:  arg.Threshold,
		UpdatedBy:  actor.fullID,
		UpdatedAt:  now,
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal guardian config for '%s': %w", didID, err)
	}
	key, err := s.createGuardianConfigKey(ctx, didID)
	if err != nil {
		return nil, fmt.Errorf("failed to create guardian config key for '%s': %w", didID, err)
	}
	if err := ctx.GetStub().PutState(key, raw); err != nil {
		return nil, fmt.Errorf("failed to put guardian config for '%s': %w", didID, err)
	}
	if err := s.appendAudit(ctx, actor, "guardian_config_set", didID, "SetGuardianConfig", map[string]interface{}{
		"guardians": len(cfg.Guardians),
		"threshold": cfg.Threshold,
	}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "did.guardians_set", map[string]interface{}{
		"didId":     didID,
		"threshold": cfg.Threshold,
		"actor":     actor.fullID,
	})
	return cfg, nil
}

// RecoverDID restores control of a DID once enough guardians have approved.
// With newDocumentJSON the document body is replaced (id, created and creator
// preserved); without it the document is reactivated in place. Either way the
// document ends active with version advanced by one.
func (s *DidRegistrySmartContract) RecoverDID(ctx contractapi.TransactionContextInterface, didID string, signaturesJSON string, newDocumentJSON string, reason string) (*model.RecoveryResult, error) {
	logger.Infof("Chaincode Call: RecoverDID '%s'", didID)
	if err := s.validateOptionalString(reason, "reason", maxReasonLength); err != nil {
		return nil, err
	}
	doc, err := s.getDidDocument(ctx, didID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.getGuardianConfig(ctx, didID)
	if err != nil {
		return nil, err
	}

	var sigs []model.GuardianSignature
	if err := json.Unmarshal([]byte(signaturesJSON), &sigs); err != nil {
		return nil, fmt.Errorf("invalid signaturesJSON: %w", err)
	}
	if uint32(len(sigs)) < cfg.Threshold {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrInsufficientGuardianSigs, len(sigs), cfg.Threshold)
	}

	configured := make(map[string]model.Guardian, len(cfg.Guardians))
	for _, g := range cfg.Guardians {
		configured[g.ID] = g
	}
	valid := uint32(0)
	counted := make(map[string]bool)
	for _, sig := range sigs {
		guardian, ok := configured[sig.GuardianID]
		if !ok || counted[sig.GuardianID] {
			continue
		}
		if err := s.guardianVerifier.Verify(guardian, didID, sig); err != nil {
			logger.Debugf("RecoverDID: rejected signature from '%s': %v", sig.GuardianID, err)
			continue
		}
		counted[sig.GuardianID] = true
		valid++
	}
	if valid < cfg.Threshold {
		return nil, fmt.Errorf("%w: %d of %d submitted signatures verified, need %d", ErrInvalidGuardianSig, valid, len(sigs), cfg.Threshold)
	}

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	reactivated := true
	if newDocumentJSON != "" {
		body, err := s.validateDidDocumentBody(newDocumentJSON)
		if err != nil {
			return nil, err
		}
		applyBody(doc, body)
		reactivated = false
	}
	doc.Metadata.Status = model.DidStatusActive
	doc.Metadata.DeactivatedAt = nil
	doc.Metadata.DeactivationReason = ""
	doc.Metadata.Updated = now
	doc.Metadata.UpdatedBy = model.UpdatedByRecovery
	doc.Metadata.Version++

	if err := s.putDidDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, "did_recovered", didID, "RecoverDID", map[string]interface{}{
		"reason":      reason,
		"reactivated": reactivated,
		"validSigs":   valid,
	}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "did.recovered", map[string]interface{}{
		"didId":       didID,
		"version":     doc.Metadata.Version,
		"reactivated": reactivated,
		"reason":      reason,
	})
	return &model.RecoveryResult{DidID: didID, Version: doc.Metadata.Version, Reactivated: reactivated}, nil
}
