package contract

import (
	"encoding/json"
	"fmt"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// CreateGovernanceRole defines a new role. Requires ROLE_ADMIN (or the
// ledger admin flag).
func (s *DidRegistrySmartContract) CreateGovernanceRole(ctx contractapi.TransactionContextInterface, roleJSON string) (*model.GovernanceRole, error) {
	govLogger.Info("Chaincode Call: CreateGovernanceRole")
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	gm := NewGovernanceManager(ctx)
	if err := gm.requirePermission(actor, model.PermRoleAdmin); err != nil {
		return nil, err
	}

	var arg struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Permissions []string `json:"permissions"`
		Members     []string `json:"members"`
	}
	if err := json.Unmarshal([]byte(roleJSON), &arg); err != nil {
		return nil, fmt.Errorf("invalid roleJSON: %w", err)
	}
	if err := s.validateRequiredString(arg.ID, "role.id", maxStringInputLength); err != nil {
		return nil, err
	}
	if err := s.validateRequiredString(arg.Name, "role.name", maxStringInputLength); err != nil {
		return nil, err
	}
	if err := s.validateOptionalString(arg.Description, "role.description", maxDescriptionLength); err != nil {
		return nil, err
	}
	if err := s.validateStringArray(arg.Permissions, "role.permissions", maxArrayElements, maxStringInputLength); err != nil {
		return nil, err
	}
	if err := s.validateStringArray(arg.Members, "role.members", maxArrayElements, maxStringInputLength); err != nil {
		return nil, err
	}

	exists, err := gm.roleExists(arg.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: '%s'", ErrRoleExists, arg.ID)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	role := &model.GovernanceRole{
		ID:          arg.ID,
		Name:        arg.Name,
		Description: arg.Description,
		Permissions: arg.Permissions,
		Members:     arg.Members,
		Active:      true,
		CreatedBy:   actor.fullID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := gm.putRole(role); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, model.AuditRoleCreated, arg.ID, "CreateGovernanceRole", map[string]interface{}{
		"members": len(role.Members),
	}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "governance.role_created", map[string]interface{}{
		"roleId":    arg.ID,
		"createdBy": actor.fullID,
	})
	return role, nil
}

// AssignGovernanceRole adds a member to a role. Duplicate assignment is an error.
func (s *DidRegistrySmartContract) AssignGovernanceRole(ctx contractapi.TransactionContextInterface, roleID string, memberID string) (*model.GovernanceRole, error) {
	govLogger.Infof("Chaincode Call: AssignGovernanceRole '%s' -> '%s'", roleID, memberID)
	if err := s.validateRequiredString(memberID, "memberId", maxStringInputLength); err != nil {
		return nil, err
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	gm := NewGovernanceManager(ctx)
	if err := gm.requirePermission(actor, model.PermRoleAdmin); err != nil {
		return nil, err
	}

	role, err := gm.getRole(roleID)
	if err != nil {
		return nil, err
	}
	if containsString(role.Members, memberID) {
		return nil, fmt.Errorf("%w: '%s' in role '%s'", ErrDuplicateRoleMember, memberID, roleID)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	role.Members = append(role.Members, memberID)
	role.UpdatedAt = now
	if err := gm.putRole(role); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, model.AuditRoleAssigned, roleID, "AssignGovernanceRole", map[string]interface{}{
		"member": memberID,
	}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "governance.role_assigned", map[string]interface{}{
		"roleId": roleID,
		"member": memberID,
		"actor":  actor.fullID,
	})
	return role, nil
}

// UnassignGovernanceRole removes a member from a role.
func (s *DidRegistrySmartContract) UnassignGovernanceRole(ctx contractapi.TransactionContextInterface, roleID string, memberID string) (*model.GovernanceRole, error) {
	govLogger.Infof("Chaincode Call: UnassignGovernanceRole '%s' from '%s'", memberID, roleID)
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	gm := NewGovernanceManager(ctx)
	if err := gm.requirePermission(actor, model.PermRoleAdmin); err != nil {
		return nil, err
	}

	role, err := gm.getRole(roleID)
	if err != nil {
		return nil, err
	}
	found := false
	kept := make([]string, 0, len(role.Members))
	for _, m := range role.Members {
		if m == memberID {
			found = true
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return nil, fmt.Errorf("member '%s' not assigned to role '%s'", memberID, roleID)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	role.Members = kept
	role.UpdatedAt = now
	if err := gm.putRole(role); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, actor, "role_unassigned", roleID, "UnassignGovernanceRole", map[string]interface{}{
		"member": memberID,
	}); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "governance.role_unassigned", map[string]interface{}{
		"roleId": roleID,
		"member": memberID,
		"actor":  actor.fullID,
	})
	return role, nil
}

// HasGovernanceRole reports whether a member holds a permission, through any
// active role or the ledger admin flag.
func (s *DidRegistrySmartContract) HasGovernanceRole(ctx contractapi.TransactionContextInterface, memberID string, permission string) (bool, error) {
	govLogger.Debugf("Chaincode Call: HasGovernanceRole '%s' %s", memberID, permission)
	return NewGovernanceManager(ctx).HasPermission(memberID, permission)
}

// GetGovernanceRole returns one role by id.
func (s *DidRegistrySmartContract) GetGovernanceRole(ctx contractapi.TransactionContextInterface, roleID string) (*model.GovernanceRole, error) {
	govLogger.Debugf("Chaincode Call: GetGovernanceRole '%s'", roleID)
	return NewGovernanceManager(ctx).getRole(roleID)
}

// GetAllGovernanceRoles returns every defined role.
func (s *DidRegistrySmartContract) GetAllGovernanceRoles(ctx contractapi.TransactionContextInterface) ([]model.GovernanceRole, error) {
	govLogger.Debug("Chaincode Call: GetAllGovernanceRoles")
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(roleObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get roles iterator: %w", err)
	}
	defer resultsIterator.Close()

	roles := []model.GovernanceRole{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			govLogger.Warningf("GetAllGovernanceRoles: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var role model.GovernanceRole
		if err := json.Unmarshal(queryResponse.Value, &role); err != nil {
			govLogger.Warningf("GetAllGovernanceRoles: failed to unmarshal role at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		roles = append(roles, role)
	}
	return roles, nil
}
