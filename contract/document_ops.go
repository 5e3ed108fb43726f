package contract

import (
	"fmt"
	"strings"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// CreateDIDDocument registers a new DID document. The caller becomes the
// creator; version starts at 1 and status at active.
func (s *DidRegistrySmartContract) CreateDIDDocument(ctx contractapi.TransactionContextInterface, didID string, documentJSON string) (*model.DidDocument, error) {
	logger.Infof("Chaincode Call: CreateDIDDocument '%s'", didID)
	if err := s.requireNotPaused(ctx); err != nil {
		return nil, err
	}
	if err := s.validateDidID(didID); err != nil {
		return nil, err
	}
	body, err := s.validateDidDocumentBody(documentJSON)
	if err != nil {
		return nil, err
	}

	exists, err := s.didDocumentExists(ctx, didID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: '%s'", ErrDIDAlreadyExists, didID)
	}

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	doc := &model.DidDocument{
		ID: didID,
		Metadata: model.DidMetadata{
			Created:   now,
			Updated:   now,
			Version:   1,
			Status:    model.DidStatusActive,
			Creator:   actor.fullID,
			UpdatedBy: actor.fullID,
		},
	}
	applyBody(doc, body)
	if len(doc.Context) == 0 {
		doc.Context = []string{"https://www.w3.org/ns/did/v1"}
	}

	if err := s.putDidDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, "did_created", didID, "CreateDIDDocument", nil); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "did.created", map[string]interface{}{
		"didId":   didID,
		"version": doc.Metadata.Version,
		"creator": actor.fullID,
	})
	return doc, nil
}

// UpdateDIDDocument replaces the caller-supplied body of an existing document.
// Metadata (created, creator) is preserved; version advances by one.
func (s *DidRegistrySmartContract) UpdateDIDDocument(ctx contractapi.TransactionContextInterface, didID string, documentJSON string) (*model.DidDocument, error) {
	logger.Infof("Chaincode Call: UpdateDIDDocument '%s'", didID)
	if err := s.requireNotPaused(ctx); err != nil {
		return nil, err
	}
	doc, err := s.getDidDocument(ctx, didID)
	if err != nil {
		return nil, err
	}
	if err := s.requireNotDeactivated(doc); err != nil {
		return nil, err
	}

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthorizedController(doc, actor); err != nil {
		return nil, err
	}

	body, err := s.validateDidDocumentBody(documentJSON)
	if err != nil {
		return nil, err
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	applyBody(doc, body)
	doc.Metadata.Updated = now
	doc.Metadata.UpdatedBy = actor.fullID
	doc.Metadata.Version++

	if err := s.putDidDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, "did_updated", didID, "UpdateDIDDocument", map[string]interface{}{"version": doc.Metadata.Version}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "did.updated", map[string]interface{}{
		"didId":   didID,
		"version": doc.Metadata.Version,
		"actor":   actor.fullID,
	})
	return doc, nil
}

// DeactivateDIDDocument marks a document deactivated. Deactivated documents
// reject ordinary mutation until recovered.
func (s *DidRegistrySmartContract) DeactivateDIDDocument(ctx contractapi.TransactionContextInterface, didID string, reason string) (*model.DidDocument, error) {
	logger.Infof("Chaincode Call: DeactivateDIDDocument '%s'", didID)
	if err := s.requireNotPaused(ctx); err != nil {
		return nil, err
	}
	if err := s.validateOptionalString(reason, "reason", maxReasonLength); err != nil {
		return nil, err
	}
	doc, err := s.getDidDocument(ctx, didID)
	if err != nil {
		return nil, err
	}
	if doc.Metadata.Status == model.DidStatusDeactivated {
		return nil, fmt.Errorf("%w: '%s' is already deactivated", ErrDIDDeactivated, didID)
	}

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthorizedController(doc, actor); err != nil {
		return nil, err
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	doc.Metadata.Status = model.DidStatusDeactivated
	doc.Metadata.DeactivatedAt = &now
	doc.Metadata.DeactivationReason = reason
	doc.Metadata.Updated = now
	doc.Metadata.UpdatedBy = actor.fullID
	doc.Metadata.Version++

	if err := s.putDidDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, "did_deactivated", didID, "DeactivateDIDDocument", map[string]interface{}{"reason": reason}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "did.deactivated", map[string]interface{}{
		"didId":  didID,
		"reason": reason,
		"actor":  actor.fullID,
	})
	return doc, nil
}

// UpdateDIDStatus moves a document between lifecycle statuses along the legal
// transition graph. Unlike body mutations this is how a deactivated document
// comes back without guardian involvement.
func (s *DidRegistrySmartContract) UpdateDIDStatus(ctx contractapi.TransactionContextInterface, didID string, newStatus string, reason string) (*model.DidDocument, error) {
	logger.Infof("Chaincode Call: UpdateDIDStatus '%s' -> '%s'", didID, newStatus)
	if err := s.requireNotPaused(ctx); err != nil {
		return nil, err
	}
	if err := s.validateOptionalString(reason, "reason", maxReasonLength); err != nil {
		return nil, err
	}
	target := model.DidStatus(strings.TrimSpace(newStatus))
	if target != model.DidStatusActive && target != model.DidStatusDeactivated && target != model.DidStatusRecovered {
		return nil, fmt.Errorf("%w: unknown status '%s'", ErrInvalidStatusTransition, newStatus)
	}

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
	if !isValidStatusTransition(doc.Metadata.Status, target) {
		return nil, fmt.Errorf("%w: '%s' -> '%s'", ErrInvalidStatusTransition, doc.Metadata.Status, target)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	previous := doc.Metadata.Status
	doc.Metadata.Status = target
	if target == model.DidStatusDeactivated {
		doc.Metadata.DeactivatedAt = &now
		doc.Metadata.DeactivationReason = reason
	} else {
		doc.Metadata.DeactivatedAt = nil
		doc.Metadata.DeactivationReason = ""
	}
	doc.Metadata.Updated = now
	doc.Metadata.UpdatedBy = actor.fullID
	doc.Metadata.Version++

	if err := s.putDidDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, "did_status_updated", didID, "UpdateDIDStatus", map[string]interface{}{
		"from":   string(previous),
		"to":     string(target),
		"reason": reason,
	}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "did.status_updated", map[string]interface{}{
		"didId": didID,
		"from":  string(previous),
		"to":    string(target),
		"actor": actor.fullID,
	})
	return doc, nil
}

// --- Legacy Surface ---
// Error-only acknowledgements kept for clients of the v1 API. Semantics are
// identical to the full operations above.

func (s *DidRegistrySmartContract) CreateDid(ctx contractapi.TransactionContextInterface, didID string, documentJSON string) error {
	logger.Infof("Chaincode Call: CreateDid (legacy) '%s'", didID)
	_, err := s.CreateDIDDocument(ctx, didID, documentJSON)
	return err
}

func (s *DidRegistrySmartContract) UpdateDid(ctx contractapi.TransactionContextInterface, didID string, documentJSON string) error {
	logger.Infof("Chaincode Call: UpdateDid (legacy) '%s'", didID)
	_, err := s.UpdateDIDDocument(ctx, didID, documentJSON)
	return err
}

func (s *DidRegistrySmartContract) DeactivateDid(ctx contractapi.TransactionContextInterface, didID string) error {
	logger.Infof("Chaincode Call: DeactivateDid (legacy) '%s'", didID)
	_, err := s.DeactivateDIDDocument(ctx, didID, "")
	return err
}
