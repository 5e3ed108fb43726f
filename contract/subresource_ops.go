package contract

import (
	"encoding/json"
	"fmt"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// Sub-resource operations treat verification methods and services as ordered
// sets keyed by id: adds append at the end, removals filter in place, and
// relative order of the survivors never changes.

// loadMutableDocument is the shared prologue for sub-resource mutations:
// pause gate, existence, deactivated guard, controller authorization.
func (s *DidRegistrySmartContract) loadMutableDocument(ctx contractapi.TransactionContextInterface, didID string) (*model.DidDocument, *actorInfo, error) {
	if err := s.requireNotPaused(ctx); err != nil {
		return nil, nil, err
	}
	doc, err := s.getDidDocument(ctx, didID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.requireNotDeactivated(doc); err != nil {
		return nil, nil, err
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := s.requireAuthorizedController(doc, actor); err != nil {
		return nil, nil, err
	}
	return doc, actor, nil
}

// commitMutation bumps version, persists and audits a sub-resource change.
func (s *DidRegistrySmartContract) commitMutation(ctx contractapi.TransactionContextInterface, doc *model.DidDocument, actor *actorInfo, eventType, action, eventName string, details map[string]interface{}) (*model.DidDocument, error) {
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	doc.Metadata.Updated = now
	doc.Metadata.UpdatedBy = actor.fullID
	doc.Metadata.Version++

	if err := s.putDidDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, eventType, doc.ID, action, details); err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"didId":   doc.ID,
		"version": doc.Metadata.Version,
		"actor":   actor.fullID,
	}
	for k, v := range details {
		payload[k] = v
	}
	s.emitRegistryEvent(ctx, eventName, payload)
	return doc, nil
}

// AddVerificationMethod appends a verification method to a document.
// Duplicate ids are rejected.
func (s *DidRegistrySmartContract) AddVerificationMethod(ctx contractapi.TransactionContextInterface, didID string, vmJSON string) (*model.DidDocument, error) {
	logger.Infof("Chaincode Call: AddVerificationMethod on '%s'", didID)
	var vm model.VerificationMethod
	if err := json.Unmarshal([]byte(vmJSON), &vm); err != nil {
		return nil, fmt.Errorf("%w: invalid vmJSON: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateVerificationMethod(&vm); err != nil {
		return nil, err
	}

	doc, actor, err := s.loadMutableDocument(ctx, didID)
	if err != nil {
		return nil, err
	}
	for _, existing := range doc.VerificationMethods {
		if existing.ID == vm.ID {
			return nil, fmt.Errorf("%w: '%s' on DID '%s'", ErrVerificationMethodExists, vm.ID, didID)
		}
	}
	doc.VerificationMethods = append(doc.VerificationMethods, vm)

	return s.commitMutation(ctx, doc, actor, "did_vm_added", "AddVerificationMethod", "did.vm_added",
		map[string]interface{}{"verificationMethodId": vm.ID})
}

// RevokeVerificationMethod removes a verification method by id, preserving
// the order of the remaining entries.
func (s *DidRegistrySmartContract) RevokeVerificationMethod(ctx contractapi.TransactionContextInterface, didID string, vmID string) (*model.DidDocument, error) {
	logger.Infof("Chaincode Call: RevokeVerificationMethod '%s' on '%s'", vmID, didID)
	if err := s.validateRequiredString(vmID, "verificationMethodId", maxStringInputLength); err != nil {
		return nil, err
	}

	doc, actor, err := s.loadMutableDocument(ctx, didID)
	if err != nil {
		return nil, err
	}

	found := false
	kept := make([]model.VerificationMethod, 0, len(doc.VerificationMethods))
	for _, vm := range doc.VerificationMethods {
		if vm.ID == vmID {
			found = true
			continue
		}
		kept = append(kept, vm)
	}
	if !found {
		return nil, fmt.Errorf("%w: '%s' on DID '%s'", ErrVerificationMethodNotFound, vmID, didID)
	}
	doc.VerificationMethods = kept

	return s.commitMutation(ctx, doc, actor, "did_vm_revoked", "RevokeVerificationMethod", "did.vm_revoked",
		map[string]interface{}{"verificationMethodId": vmID})
}

// AddService appends a service endpoint to a document. Duplicate ids are
// rejected.
func (s *DidRegistrySmartContract) AddService(ctx contractapi.TransactionContextInterface, didID string, serviceJSON string) (*model.DidDocument, error) {
	logger.Infof("Chaincode Call: AddService on '%s'", didID)
	var svc model.Service
	if err := json.Unmarshal([]byte(serviceJSON), &svc); err != nil {
		return nil, fmt.Errorf("%w: invalid serviceJSON: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateService(&svc); err != nil {
		return nil, err
	}

	doc, actor, err := s.loadMutableDocument(ctx, didID)
	if err != nil {
		return nil, err
	}
	for _, existing := range doc.Services {
		if existing.ID == svc.ID {
			return nil, fmt.Errorf("%w: '%s' on DID '%s'", ErrServiceExists, svc.ID, didID)
		}
	}
	doc.Services = append(doc.Services, svc)

	return s.commitMutation(ctx, doc, actor, "did_service_added", "AddService", "did.service_added",
		map[string]interface{}{"serviceId": svc.ID})
}

// RemoveService removes a service endpoint by id, preserving the order of
// the remaining entries.
func (s *DidRegistrySmartContract) RemoveService(ctx contractapi.TransactionContextInterface, didID string, serviceID string) (*model.DidDocument, error) {
	logger.Infof("Chaincode Call: RemoveService '%s' on '%s'", serviceID, didID)
	if err := s.validateRequiredString(serviceID, "serviceId", maxStringInputLength); err != nil {
		return nil, err
	}

	doc, actor, err := s.loadMutableDocument(ctx, didID)
	if err != nil {
		return nil, err
	}

	found := false
	kept := make([]model.Service, 0, len(doc.Services))
	for _, svc := range doc.Services {
		if svc.ID == serviceID {
			found = true
			continue
		}
		kept = append(kept, svc)
	}
	if !found {
		return nil, fmt.Errorf("%w: '%s' on DID '%s'", ErrServiceNotFound, serviceID, didID)
	}
	doc.Services = kept

	return s.commitMutation(ctx, doc, actor, "did_service_removed", "RemoveService", "did.service_removed",
		map[string]interface{}{"serviceId": serviceID})
}
