package contract

import (
	"encoding/json"
	"fmt"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Document Storage ---

// getDidDocument fetches a document or fails with ErrDIDNotFound.
func (s *DidRegistrySmartContract) getDidDocument(ctx contractapi.TransactionContextInterface, didID string) (*model.DidDocument, error) {
	key, err := s.createDidCompositeKey(ctx, didID)
	if err != nil {
		return nil, err
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read DID document '%s': %w", didID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: '%s'", ErrDIDNotFound, didID)
	}
	var doc model.DidDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DID document '%s': %w", didID, err)
	}
	return &doc, nil
}

// didDocumentExists reports presence without unmarshalling.
func (s *DidRegistrySmartContract) didDocumentExists(ctx contractapi.TransactionContextInterface, didID string) (bool, error) {
	key, err := s.createDidCompositeKey(ctx, didID)
	if err != nil {
		return false, err
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("failed to read DID document '%s': %w", didID, err)
	}
	return raw != nil, nil
}

// putDidDocument persists the document under its primary key and snapshots
// the version under a history key so past versions stay queryable.
func (s *DidRegistrySmartContract) putDidDocument(ctx contractapi.TransactionContextInterface, doc *model.DidDocument) error {
	doc.ObjectType = didObjectType
	ensureDidDocumentSchemaCompliance(doc)

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal DID document '%s': %w", doc.ID, err)
	}
	key, err := s.createDidCompositeKey(ctx, doc.ID)
	if err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(key, raw); err != nil {
		return fmt.Errorf("failed to put DID document '%s': %w", doc.ID, err)
	}

	versionKey, err := ctx.GetStub().CreateCompositeKey(didVersionObjectType, []string{doc.ID, paddedSeq(doc.Metadata.Version)})
	if err != nil {
		return fmt.Errorf("failed to create version key for '%s': %w", doc.ID, err)
	}
	if err := ctx.GetStub().PutState(versionKey, raw); err != nil {
		return fmt.Errorf("failed to archive version %d of '%s': %w", doc.Metadata.Version, doc.ID, err)
	}
	return nil
}

// --- Authorization ---

// isAuthorizedController reports whether the actor may mutate the document:
// the creator, a listed controller, or the controller of a verification
// method still present on the document.
func (s *DidRegistrySmartContract) isAuthorizedController(doc *model.DidDocument, actorID string) bool {
	if actorID == "" {
		return false
	}
	if doc.Metadata.Creator == actorID {
		return true
	}
	if containsString(doc.Controller, actorID) {
		return true
	}
	for _, vm := range doc.VerificationMethods {
		if vm.Controller == actorID {
			return true
		}
	}
	return false
}

// requireAuthorizedController wraps isAuthorizedController into the error taxonomy.
func (s *DidRegistrySmartContract) requireAuthorizedController(doc *model.DidDocument, actor *actorInfo) error {
	if !s.isAuthorizedController(doc, actor.fullID) {
		return fmt.Errorf("%w: caller '%s' does not control DID '%s'", ErrUnauthorized, actor.alias, doc.ID)
	}
	return nil
}

// requireNotDeactivated is the guard that blocks ordinary mutation of a
// deactivated document.
func (s *DidRegistrySmartContract) requireNotDeactivated(doc *model.DidDocument) error {
	if doc.Metadata.Status == model.DidStatusDeactivated {
		return fmt.Errorf("%w: '%s'", ErrDIDDeactivated, doc.ID)
	}
	return nil
}

// --- Status Transitions ---

var validStatusTransitions = map[model.DidStatus][]model.DidStatus{
	model.DidStatusActive:      {model.DidStatusDeactivated},
	model.DidStatusDeactivated: {model.DidStatusActive, model.DidStatusRecovered},
	model.DidStatusRecovered:   {model.DidStatusActive, model.DidStatusDeactivated},
}

func isValidStatusTransition(from, to model.DidStatus) bool {
	for _, allowed := range validStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// --- Input Parsing ---

// didDocumentBody is the caller-supplied portion of a document. Metadata is
// always registry-owned and never accepted from input.
type didDocumentBody struct {
	Context             []string                   `json:"@context"`
	Controller          []string                   `json:"controller"`
	VerificationMethods []model.VerificationMethod `json:"verificationMethod"`
	Authentication      []string                   `json:"authentication"`
	AssertionMethod     []string                   `json:"assertionMethod"`
	Services            []model.Service            `json:"service"`
}

// validateDidDocumentBody parses and validates a document body argument.
func (s *DidRegistrySmartContract) validateDidDocumentBody(documentJSON string) (*didDocumentBody, error) {
	var body didDocumentBody
	if err := json.Unmarshal([]byte(documentJSON), &body); err != nil {
		return nil, fmt.Errorf("%w: invalid documentJSON: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateStringArray(body.Context, "document.@context", maxArrayElements, maxStringInputLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateStringArray(body.Controller, "document.controller", maxArrayElements, maxStringInputLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateStringArray(body.Authentication, "document.authentication", maxArrayElements, maxStringInputLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateStringArray(body.AssertionMethod, "document.assertionMethod", maxArrayElements, maxStringInputLength); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	if len(body.VerificationMethods) > maxArrayElements {
		return nil, fmt.Errorf("%w: document.verificationMethod exceeds maximum of %d entries", ErrInvalidDIDDocument, maxArrayElements)
	}
	seenVM := make(map[string]bool)
	for i := range body.VerificationMethods {
		if err := s.validateVerificationMethod(&body.VerificationMethods[i]); err != nil {
			return nil, err
		}
		if seenVM[body.VerificationMethods[i].ID] {
			return nil, fmt.Errorf("%w: duplicate verification method id '%s'", ErrInvalidDIDDocument, body.VerificationMethods[i].ID)
		}
		seenVM[body.VerificationMethods[i].ID] = true
	}
	if len(body.Services) > maxArrayElements {
		return nil, fmt.Errorf("%w: document.service exceeds maximum of %d entries", ErrInvalidDIDDocument, maxArrayElements)
	}
	seenSvc := make(map[string]bool)
	for i := range body.Services {
		if err := s.validateService(&body.Services[i]); err != nil {
			return nil, err
		}
		if seenSvc[body.Services[i].ID] {
			return nil, fmt.Errorf("%w: duplicate service id '%s'", ErrInvalidDIDDocument, body.Services[i].ID)
		}
		seenSvc[body.Services[i].ID] = true
	}
	return &body, nil
}

func (s *DidRegistrySmartContract) validateVerificationMethod(vm *model.VerificationMethod) error {
	if err := s.validateRequiredString(vm.ID, "verificationMethod.id", maxStringInputLength); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateRequiredString(vm.Type, "verificationMethod.type", maxStringInputLength); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateRequiredString(vm.Controller, "verificationMethod.controller", maxStringInputLength); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateOptionalString(vm.PublicKeyMultibase, "verificationMethod.publicKeyMultibase", maxDescriptionLength); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateOptionalString(vm.PublicKeyJwk, "verificationMethod.publicKeyJwk", maxDescriptionLength); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	return nil
}

func (s *DidRegistrySmartContract) validateService(svc *model.Service) error {
	if err := s.validateRequiredString(svc.ID, "service.id", maxStringInputLength); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateRequiredString(svc.Type, "service.type", maxStringInputLength); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	if err := s.validateRequiredString(svc.ServiceEndpoint, "service.serviceEndpoint", maxDescriptionLength); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	return nil
}

// applyBody copies caller-supplied fields onto a document, leaving metadata alone.
func applyBody(doc *model.DidDocument, body *didDocumentBody) {
	doc.Context = body.Context
	doc.Controller = body.Controller
	doc.VerificationMethods = body.VerificationMethods
	doc.Authentication = body.Authentication
	doc.AssertionMethod = body.AssertionMethod
	doc.Services = body.Services
	ensureDidDocumentSchemaCompliance(doc)
}
