package contract

import (
	"encoding/json"
	"fmt"
	"strings"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var govLogger = flogging.MustGetLogger("didregistry.governance")

// ValidProposalTypes defines the actions the governance executor can dispatch.
var ValidProposalTypes = map[string]bool{
	model.ProposalTypeAddAdmin:         true,
	model.ProposalTypeRemoveAdmin:      true,
	model.ProposalTypeUpdateConfig:     true,
	model.ProposalTypeEmergencyPause:   true,
	model.ProposalTypeEmergencyUnpause: true,
}

// builtinPermissions is the permission set seeded at bootstrap, each as an
// empty role whose ID doubles as the permission name.
var builtinPermissions = []string{
	model.PermProposalCreator,
	model.PermProposalSigner,
	model.PermProposalExecutor,
	model.PermTimelockProposer,
	model.PermTimelockApprover,
	model.PermTimelockExecutor,
	model.PermRoleAdmin,
}

// GovernanceManager handles admin flags, governance roles and permission checks.
type GovernanceManager struct {
	Ctx contractapi.TransactionContextInterface
}

// NewGovernanceManager creates a new instance of GovernanceManager.
func NewGovernanceManager(ctx contractapi.TransactionContextInterface) *GovernanceManager {
	return &GovernanceManager{Ctx: ctx}
}

// --- Key Creation Helpers ---

func (gm *GovernanceManager) createAdminFlagKey(fullID string) (string, error) {
	return gm.Ctx.GetStub().CreateCompositeKey(adminFlagObjectType, []string{fullID})
}

func (gm *GovernanceManager) createRoleKey(roleID string) (string, error) {
	return gm.Ctx.GetStub().CreateCompositeKey(roleObjectType, []string{roleID})
}

// --- Admin Flags ---

// IsAdmin reports whether the identity holds the ledger admin flag.
func (gm *GovernanceManager) IsAdmin(fullID string) (bool, error) {
	if strings.TrimSpace(fullID) == "" {
		return false, nil
	}
	key, err := gm.createAdminFlagKey(fullID)
	if err != nil {
		return false, fmt.Errorf("failed to create admin flag key for '%s': %w", fullID, err)
	}
	raw, err := gm.Ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("failed to read admin flag for '%s': %w", fullID, err)
	}
	return raw != nil, nil
}

// AnyAdminExists reports whether the registry has been bootstrapped with at
// least one admin.
func (gm *GovernanceManager) AnyAdminExists() (bool, error) {
	resultsIterator, err := gm.Ctx.GetStub().GetStateByPartialCompositeKey(adminFlagObjectType, []string{})
	if err != nil {
		return false, fmt.Errorf("failed to get admin flags iterator: %w", err)
	}
	defer resultsIterator.Close()
	return resultsIterator.HasNext(), nil
}

// MakeAdmin grants the ledger admin flag.
func (gm *GovernanceManager) MakeAdmin(fullID string) error {
	if strings.TrimSpace(fullID) == "" {
		return fmt.Errorf("admin fullID cannot be empty")
	}
	key, err := gm.createAdminFlagKey(fullID)
	if err != nil {
		return fmt.Errorf("failed to create admin flag key for '%s': %w", fullID, err)
	}
	if err := gm.Ctx.GetStub().PutState(key, []byte("true")); err != nil {
		return fmt.Errorf("failed to set admin flag for '%s': %w", fullID, err)
	}
	govLogger.Infof("Granted admin flag to '%s'", fullID)
	return nil
}

// RemoveAdmin revokes the ledger admin flag.
func (gm *GovernanceManager) RemoveAdmin(fullID string) error {
	isAdmin, err := gm.IsAdmin(fullID)
	if err != nil {
		return err
	}
	if !isAdmin {
		return fmt.Errorf("identity '%s' is not an admin", fullID)
	}
	key, err := gm.createAdminFlagKey(fullID)
	if err != nil {
		return fmt.Errorf("failed to create admin flag key for '%s': %w", fullID, err)
	}
	if err := gm.Ctx.GetStub().DelState(key); err != nil {
		return fmt.Errorf("failed to remove admin flag for '%s': %w", fullID, err)
	}
	govLogger.Infof("Removed admin flag from '%s'", fullID)
	return nil
}

// --- Roles ---

func (gm *GovernanceManager) getRole(roleID string) (*model.GovernanceRole, error) {
	key, err := gm.createRoleKey(roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to create role key for '%s': %w", roleID, err)
	}
	raw, err := gm.Ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read role '%s': %w", roleID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: '%s'", ErrRoleNotFound, roleID)
	}
	var role model.GovernanceRole
	if err := json.Unmarshal(raw, &role); err != nil {
		return nil, fmt.Errorf("failed to unmarshal role '%s': %w", roleID, err)
	}
	return &role, nil
}

func (gm *GovernanceManager) putRole(role *model.GovernanceRole) error {
	role.ObjectType = roleObjectType
	ensureRoleSchemaCompliance(role)
	key, err := gm.createRoleKey(role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role key for '%s': %w", role.ID, err)
	}
	raw, err := json.Marshal(role)
	if err != nil {
		return fmt.Errorf("failed to marshal role '%s': %w", role.ID, err)
	}
	return gm.Ctx.GetStub().PutState(key, raw)
}

func (gm *GovernanceManager) roleExists(roleID string) (bool, error) {
	key, err := gm.createRoleKey(roleID)
	if err != nil {
		return false, fmt.Errorf("failed to create role key for '%s': %w", roleID, err)
	}
	raw, err := gm.Ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("failed to read role '%s': %w", roleID, err)
	}
	return raw != nil, nil
}

// --- Permission Checks ---

// HasPermission reports whether the member holds the permission through an
// active role (by role ID or permission list). Ledger admins hold every
// permission.
func (gm *GovernanceManager) HasPermission(fullID, permission string) (bool, error) {
	isAdmin, err := gm.IsAdmin(fullID)
	if err != nil {
		return false, err
	}
	if isAdmin {
		return true, nil
	}

	resultsIterator, err := gm.Ctx.GetStub().GetStateByPartialCompositeKey(roleObjectType, []string{})
	if err != nil {
		return false, fmt.Errorf("failed to get roles iterator: %w", err)
	}
	defer resultsIterator.Close()

	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			govLogger.Warningf("HasPermission: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var role model.GovernanceRole
		if err := json.Unmarshal(queryResponse.Value, &role); err != nil {
			govLogger.Warningf("HasPermission: failed to unmarshal role at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		if !role.Active || !containsString(role.Members, fullID) {
			continue
		}
		if role.ID == permission || containsString(role.Permissions, permission) {
			return true, nil
		}
	}
	return false, nil
}

// requirePermission wraps HasPermission into the error taxonomy.
func (gm *GovernanceManager) requirePermission(actor *actorInfo, permission string) error {
	ok, err := gm.HasPermission(actor.fullID, permission)
	if err != nil {
		return fmt.Errorf("failed to check permission %s for '%s': %w", permission, actor.alias, err)
	}
	if !ok {
		return fmt.Errorf("%w: caller '%s' lacks %s", ErrUnauthorized, actor.alias, permission)
	}
	return nil
}
