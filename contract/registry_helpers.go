package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Core Helper Methods (used across multiple operations) ---

// getCurrentTxTimestamp retrieves the current transaction timestamp from the stub.
func (s *DidRegistrySmartContract) getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

// getCurrentActorInfo resolves the invoking client identity. The alias is a
// best-effort CN extraction for logging and event payloads.
func (s *DidRegistrySmartContract) getCurrentActorInfo(ctx contractapi.TransactionContextInterface) (*actorInfo, error) {
	fullID, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's FullID: %w", err)
	}
	mspID, err := ctx.GetClientIdentity().GetMSPID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's MSPID: %w", err)
	}

	alias := fullID
	if strings.Contains(fullID, "::CN=") {
		parts := strings.Split(fullID, "::CN=")
		if len(parts) > 1 {
			cnPart := parts[1]
			if idx := strings.Index(cnPart, "::"); idx != -1 {
				cnPart = cnPart[:idx]
			}
			if idx := strings.Index(cnPart, ","); idx != -1 {
				cnPart = cnPart[:idx]
			}
			alias = cnPart
		}
	}
	return &actorInfo{fullID: fullID, alias: alias, mspID: mspID}, nil
}

// createDidCompositeKey creates the world-state key for a DID document.
func (s *DidRegistrySmartContract) createDidCompositeKey(ctx contractapi.TransactionContextInterface, didID string) (string, error) {
	didID = strings.TrimSpace(didID)
	if didID == "" {
		return "", errors.New("didId cannot be empty")
	}
	return ctx.GetStub().CreateCompositeKey(didObjectType, []string{didID})
}

// paddedSeq renders a sequence number so lexicographic key order matches
// numeric order in range scans.
func paddedSeq(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

// nextSequence atomically advances the named counter and returns its new value.
func (s *DidRegistrySmartContract) nextSequence(ctx contractapi.TransactionContextInterface, name string) (uint64, error) {
	key, err := ctx.GetStub().CreateCompositeKey(counterObjectType, []string{name})
	if err != nil {
		return 0, fmt.Errorf("failed to create counter key '%s': %w", name, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return 0, fmt.Errorf("failed to read counter '%s': %w", name, err)
	}
	var current uint64
	if raw != nil {
		current, err = strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt counter '%s': %w", name, err)
		}
	}
	next := current + 1
	if err := ctx.GetStub().PutState(key, []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, fmt.Errorf("failed to advance counter '%s': %w", name, err)
	}
	return next, nil
}

// --- Validation Helper Functions ---

func (s *DidRegistrySmartContract) validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *DidRegistrySmartContract) validateOptionalString(input, field string, max int) error {
	if input != "" && len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *DidRegistrySmartContract) validateStringArray(arr []string, field string, maxItems, maxItemLen int) error {
	if arr == nil { // nil array is valid (empty)
		return nil
	}
	if len(arr) > maxItems {
		return fmt.Errorf("%s has %d items, exceeding maximum of %d", field, len(arr), maxItems)
	}
	for i, v := range arr {
		if err := s.validateOptionalString(v, fmt.Sprintf("%s[%d]", field, i), maxItemLen); err != nil {
			return err
		}
	}
	return nil
}

// validateDidID enforces the did:<method>:<method-specific-id> shape.
func (s *DidRegistrySmartContract) validateDidID(didID string) error {
	if err := s.validateRequiredString(didID, "didId", maxStringInputLength); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDIDDocument, err)
	}
	parts := strings.SplitN(didID, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return fmt.Errorf("%w: didId '%s' is not of the form did:<method>:<id>", ErrInvalidDIDDocument, didID)
	}
	return nil
}

// --- Schema Compliance ---

// ensureDidDocumentSchemaCompliance forces empty slices instead of nil so
// persisted JSON stays uniform for CouchDB queries.
func ensureDidDocumentSchemaCompliance(doc *model.DidDocument) {
	if doc == nil {
		return
	}
	if doc.Context == nil {
		doc.Context = []string{}
	}
	if doc.Controller == nil {
		doc.Controller = []string{}
	}
	if doc.VerificationMethods == nil {
		doc.VerificationMethods = []model.VerificationMethod{}
	}
	if doc.Authentication == nil {
		doc.Authentication = []string{}
	}
	if doc.AssertionMethod == nil {
		doc.AssertionMethod = []string{}
	}
	if doc.Services == nil {
		doc.Services = []model.Service{}
	}
}

func ensureRoleSchemaCompliance(role *model.GovernanceRole) {
	if role == nil {
		return
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	if role.Members == nil {
		role.Members = []string{}
	}
}

// --- Registry Config ---

func (s *DidRegistrySmartContract) createConfigKey(ctx contractapi.TransactionContextInterface) (string, error) {
	return ctx.GetStub().CreateCompositeKey(configObjectType, []string{"singleton"})
}

// getRegistryConfig loads the config singleton, returning defaults when the
// registry has not been bootstrapped yet.
func (s *DidRegistrySmartContract) getRegistryConfig(ctx contractapi.TransactionContextInterface) (*model.RegistryConfig, error) {
	key, err := s.createConfigKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create config key: %w", err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry config: %w", err)
	}
	if raw == nil {
		return &model.RegistryConfig{ObjectType: configObjectType, Paused: false, Params: map[string]string{}}, nil
	}
	var cfg model.RegistryConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry config: %w", err)
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	return &cfg, nil
}

func (s *DidRegistrySmartContract) putRegistryConfig(ctx contractapi.TransactionContextInterface, cfg *model.RegistryConfig) error {
	cfg.ObjectType = configObjectType
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	key, err := s.createConfigKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to create config key: %w", err)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal registry config: %w", err)
	}
	return ctx.GetStub().PutState(key, raw)
}

// requireNotPaused gates document mutations on the emergency pause flag.
func (s *DidRegistrySmartContract) requireNotPaused(ctx contractapi.TransactionContextInterface) error {
	cfg, err := s.getRegistryConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Paused {
		return fmt.Errorf("%w: %s", ErrRegistryPaused, cfg.PauseReason)
	}
	return nil
}

// --- Events ---

// emitRegistryEvent sends a chaincode event. Failures are logged, never fatal:
// a committed state change must not be rolled back over event plumbing.
func (s *DidRegistrySmartContract) emitRegistryEvent(ctx contractapi.TransactionContextInterface, eventName string, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	for k, v := range payload {
		if t, ok := v.(time.Time); ok {
			payload[k] = t.Format(time.RFC3339)
		}
	}
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitRegistryEvent: failed to marshal payload for event '%s': %v", eventName, err)
		return
	}
	if errSet := ctx.GetStub().SetEvent(eventName, eventBytes); errSet != nil {
		logger.Warningf("emitRegistryEvent: failed to set event '%s': %v", eventName, errSet)
	}
}

// timeSeconds converts a seconds count argument into a duration.
func timeSeconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}

func containsString(arr []string, v string) bool {
	for _, s := range arr {
		if s == v {
			return true
		}
	}
	return false
}
