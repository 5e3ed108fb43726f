package contract

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"didregistry/model"

	"github.com/stretchr/testify/suite"
)

type GovernanceOpsSuite struct {
	suite.Suite
	env *registryTestEnv
}

func (s *GovernanceOpsSuite) SetupTest() {
	s.env = newTestEnv()
	s.Require().NoError(s.env.contract.BootstrapRegistry(s.env.as("root")))
}

func TestGovernanceOpsSuite(t *testing.T) {
	suite.Run(t, new(GovernanceOpsSuite))
}

func testSignature(signer string) string {
	return base64.StdEncoding.EncodeToString([]byte("approval-" + signer))
}

// newProposal opens a multisig proposal as root with the given action and signers.
func (s *GovernanceOpsSuite) newProposal(proposalType, payload string, requiredSigs int, signers ...string) *model.MultisigProposal {
	list := ""
	for i, cn := range signers {
		if i > 0 {
			list += ","
		}
		list += fmt.Sprintf(`"%s"`, fullIDFor(cn))
	}
	arg := fmt.Sprintf(`{
		"title": "proposal under test",
		"proposalType": "%s",
		"payload": %s,
		"signers": [%s],
		"requiredSigs": %d
	}`, proposalType, payload, list, requiredSigs)
	p, err := s.env.contract.CreateMultisigProposal(s.env.as("root"), arg)
	s.Require().NoError(err)
	return p
}

func (s *GovernanceOpsSuite) grantSignerRole(cns ...string) {
	for _, cn := range cns {
		_, err := s.env.contract.AssignGovernanceRole(s.env.as("root"), model.PermProposalSigner, fullIDFor(cn))
		s.Require().NoError(err)
	}
}

func (s *GovernanceOpsSuite) TestBootstrap() {
	s.Run("first caller becomes admin", func() {
		ok, err := s.env.contract.IsRegistryAdmin(s.env.as("root"), fullIDFor("root"))
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("seeds the built-in permission roles", func() {
		roles, err := s.env.contract.GetAllGovernanceRoles(s.env.as("root"))
		s.Require().NoError(err)
		s.Len(roles, len(builtinPermissions))
	})

	s.Run("config starts unpaused", func() {
		cfg, err := s.env.contract.GetRegistryConfig(s.env.as("root"))
		s.Require().NoError(err)
		s.False(cfg.Paused)
	})

	s.Run("second bootstrap is rejected", func() {
		err := s.env.contract.BootstrapRegistry(s.env.as("intruder"))
		s.Require().ErrorIs(err, ErrUnauthorized)
	})
}

func (s *GovernanceOpsSuite) TestMultisigLifecycle() {
	s.grantSignerRole("sig1", "sig2", "sig3")
	p := s.newProposal(model.ProposalTypeAddAdmin,
		fmt.Sprintf(`{"address": "%s"}`, fullIDFor("newadmin")), 2, "sig1", "sig2", "sig3")
	s.Equal(model.ProposalStatusPending, p.Status)

	s.Run("premature execution is rejected", func() {
		_, err := s.env.contract.ExecuteMultisigProposal(s.env.as("root"), p.ID)
		s.Require().ErrorIs(err, ErrProposalNotReady)
	})

	s.Run("caller without signer permission is rejected", func() {
		_, err := s.env.contract.SignMultisigProposal(s.env.as("nobody"), p.ID, testSignature("nobody"))
		s.Require().ErrorIs(err, ErrUnauthorized)
	})

	s.Run("permitted but unlisted signer is rejected", func() {
		s.grantSignerRole("sig9")
		_, err := s.env.contract.SignMultisigProposal(s.env.as("sig9"), p.ID, testSignature("sig9"))
		s.Require().ErrorIs(err, ErrUnauthorized)
	})

	s.Run("duplicate signature is rejected while pending", func() {
		signed, err := s.env.contract.SignMultisigProposal(s.env.as("sig1"), p.ID, testSignature("sig1"))
		s.Require().NoError(err)
		s.Equal(model.ProposalStatusPending, signed.Status)

		_, err = s.env.contract.SignMultisigProposal(s.env.as("sig1"), p.ID, testSignature("sig1"))
		s.Require().ErrorIs(err, ErrDuplicateSignature)
	})

	s.Run("reaching the threshold flips the status", func() {
		signed, err := s.env.contract.SignMultisigProposal(s.env.as("sig2"), p.ID, testSignature("sig2"))
		s.Require().NoError(err)
		s.Equal(model.ProposalStatusReadyForExecution, signed.Status)
		s.Len(signed.Signatures, 2)
	})

	s.Run("no further signatures once ready for execution", func() {
		// sig3 is listed and permitted but the proposal left pending.
		_, err := s.env.contract.SignMultisigProposal(s.env.as("sig3"), p.ID, testSignature("sig3"))
		s.Require().ErrorIs(err, ErrProposalNotReady)
	})

	s.Run("execution applies the action", func() {
		executed, err := s.env.contract.ExecuteMultisigProposal(s.env.as("root"), p.ID)
		s.Require().NoError(err)
		s.Equal(model.ProposalStatusExecuted, executed.Status)
		s.Equal(fullIDFor("root"), executed.ExecutedBy)

		ok, err := s.env.contract.IsRegistryAdmin(s.env.as("root"), fullIDFor("newadmin"))
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("executed proposal cannot run twice", func() {
		_, err := s.env.contract.ExecuteMultisigProposal(s.env.as("root"), p.ID)
		s.Require().ErrorIs(err, ErrProposalNotReady)
	})
}

func (s *GovernanceOpsSuite) TestMultisigValidation() {
	s.Run("rejects unknown proposal type", func() {
		_, err := s.env.contract.CreateMultisigProposal(s.env.as("root"),
			`{"title": "t", "proposalType": "format_disk", "signers": ["a"], "requiredSigs": 1}`)
		s.Require().Error(err)
	})

	s.Run("rejects threshold above signer count", func() {
		_, err := s.env.contract.CreateMultisigProposal(s.env.as("root"),
			`{"title": "t", "proposalType": "add_admin", "signers": ["a"], "requiredSigs": 2}`)
		s.Require().Error(err)
	})

	s.Run("caller without creator permission is rejected", func() {
		_, err := s.env.contract.CreateMultisigProposal(s.env.as("nobody"),
			`{"title": "t", "proposalType": "add_admin", "signers": ["a"], "requiredSigs": 1}`)
		s.Require().ErrorIs(err, ErrUnauthorized)
	})

	s.Run("unknown proposal id", func() {
		_, err := s.env.contract.SignMultisigProposal(s.env.as("root"), 404, testSignature("root"))
		s.Require().ErrorIs(err, ErrProposalNotFound)
	})
}

func (s *GovernanceOpsSuite) TestMultisigExpiry() {
	s.grantSignerRole("sig1")
	p := s.newProposal(model.ProposalTypeAddAdmin,
		fmt.Sprintf(`{"address": "%s"}`, fullIDFor("late")), 1, "sig1")

	s.env.advance(8 * 24 * time.Hour) // past the default TTL

	s.Run("signing an expired proposal fails", func() {
		_, err := s.env.contract.SignMultisigProposal(s.env.as("sig1"), p.ID, testSignature("sig1"))
		s.Require().ErrorIs(err, ErrProposalExpired)
	})

	s.Run("execution of an expired proposal fails", func() {
		_, err := s.env.contract.ExecuteMultisigProposal(s.env.as("root"), p.ID)
		s.Require().ErrorIs(err, ErrProposalExpired)
	})

	s.Run("queries report it expired", func() {
		got, err := s.env.contract.GetMultisigProposal(s.env.as("root"), p.ID)
		s.Require().NoError(err)
		s.Equal(model.ProposalStatusExpired, got.Status)
	})
}

func (s *GovernanceOpsSuite) TestExecutionFailureIsRecorded() {
	s.grantSignerRole("sig1")
	// Removing an identity that is not an admin fails at execution time.
	p := s.newProposal(model.ProposalTypeRemoveAdmin,
		fmt.Sprintf(`{"address": "%s"}`, fullIDFor("never-admin")), 1, "sig1")
	_, err := s.env.contract.SignMultisigProposal(s.env.as("sig1"), p.ID, testSignature("sig1"))
	s.Require().NoError(err)

	executed, err := s.env.contract.ExecuteMultisigProposal(s.env.as("root"), p.ID)
	s.Require().NoError(err) // the transaction itself succeeds so the outcome persists
	s.Equal(model.ProposalStatusExecutionFailed, executed.Status)
	s.NotEmpty(executed.FailureReason)
	s.Equal("governance.proposal_execution_failed", s.env.stub.lastEvent())

	s.Run("failed proposal cannot be retried", func() {
		_, err := s.env.contract.ExecuteMultisigProposal(s.env.as("root"), p.ID)
		s.Require().ErrorIs(err, ErrProposalNotReady)
	})
}

func (s *GovernanceOpsSuite) TestEmergencyPause() {
	s.grantSignerRole("sig1")
	pause := s.newProposal(model.ProposalTypeEmergencyPause, `{"reason": "incident response"}`, 1, "sig1")
	_, err := s.env.contract.SignMultisigProposal(s.env.as("sig1"), pause.ID, testSignature("sig1"))
	s.Require().NoError(err)
	_, err = s.env.contract.ExecuteMultisigProposal(s.env.as("root"), pause.ID)
	s.Require().NoError(err)

	s.Run("paused registry blocks document writes", func() {
		cfg, err := s.env.contract.GetRegistryConfig(s.env.as("root"))
		s.Require().NoError(err)
		s.True(cfg.Paused)
		s.Equal("incident response", cfg.PauseReason)

		_, err = s.env.contract.CreateDIDDocument(s.env.as("alice"), "did:reg:alice", testDoc)
		s.Require().ErrorIs(err, ErrRegistryPaused)
	})

	s.Run("double pause fails at execution", func() {
		again := s.newProposal(model.ProposalTypeEmergencyPause, `{"reason": "again"}`, 1, "sig1")
		_, err := s.env.contract.SignMultisigProposal(s.env.as("sig1"), again.ID, testSignature("sig1"))
		s.Require().NoError(err)
		executed, err := s.env.contract.ExecuteMultisigProposal(s.env.as("root"), again.ID)
		s.Require().NoError(err)
		s.Equal(model.ProposalStatusExecutionFailed, executed.Status)
	})

	s.Run("unpause restores writes", func() {
		unpause := s.newProposal(model.ProposalTypeEmergencyUnpause, `{}`, 1, "sig1")
		_, err := s.env.contract.SignMultisigProposal(s.env.as("sig1"), unpause.ID, testSignature("sig1"))
		s.Require().NoError(err)
		_, err = s.env.contract.ExecuteMultisigProposal(s.env.as("root"), unpause.ID)
		s.Require().NoError(err)

		_, err = s.env.contract.CreateDIDDocument(s.env.as("alice"), "did:reg:alice", testDoc)
		s.Require().NoError(err)
	})
}

func (s *GovernanceOpsSuite) TestUpdateConfig() {
	s.grantSignerRole("sig1")
	p := s.newProposal(model.ProposalTypeUpdateConfig, `{"params": {"syncBatchLimit": 50}}`, 1, "sig1")
	_, err := s.env.contract.SignMultisigProposal(s.env.as("sig1"), p.ID, testSignature("sig1"))
	s.Require().NoError(err)
	executed, err := s.env.contract.ExecuteMultisigProposal(s.env.as("root"), p.ID)
	s.Require().NoError(err)
	s.Equal(model.ProposalStatusExecuted, executed.Status)

	cfg, err := s.env.contract.GetRegistryConfig(s.env.as("root"))
	s.Require().NoError(err)
	s.Equal("50", cfg.Params["syncBatchLimit"])
	s.Equal(fullIDFor("root"), cfg.UpdatedBy)
}

func (s *GovernanceOpsSuite) TestRoles() {
	roleJSON := `{
		"id": "auditor",
		"name": "Registry Auditor",
		"permissions": ["PROPOSAL_SIGNER", "TIMELOCK_APPROVER"]
	}`

	s.Run("create and duplicate", func() {
		role, err := s.env.contract.CreateGovernanceRole(s.env.as("root"), roleJSON)
		s.Require().NoError(err)
		s.True(role.Active)
		s.Empty(role.Members)

		_, err = s.env.contract.CreateGovernanceRole(s.env.as("root"), roleJSON)
		s.Require().ErrorIs(err, ErrRoleExists)
	})

	s.Run("non-admin cannot manage roles", func() {
		_, err := s.env.contract.CreateGovernanceRole(s.env.as("nobody"), `{"id": "x", "name": "x"}`)
		s.Require().ErrorIs(err, ErrUnauthorized)
	})

	s.Run("assignment grants the role's permissions", func() {
		role, err := s.env.contract.AssignGovernanceRole(s.env.as("root"), "auditor", fullIDFor("carol"))
		s.Require().NoError(err)
		s.Equal([]string{fullIDFor("carol")}, role.Members)

		ok, err := s.env.contract.HasGovernanceRole(s.env.as("root"), fullIDFor("carol"), model.PermTimelockApprover)
		s.Require().NoError(err)
		s.True(ok)
		ok, err = s.env.contract.HasGovernanceRole(s.env.as("root"), fullIDFor("carol"), model.PermProposalExecutor)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("duplicate member rejected", func() {
		_, err := s.env.contract.AssignGovernanceRole(s.env.as("root"), "auditor", fullIDFor("carol"))
		s.Require().ErrorIs(err, ErrDuplicateRoleMember)
	})

	s.Run("admins hold every permission", func() {
		ok, err := s.env.contract.HasGovernanceRole(s.env.as("root"), fullIDFor("root"), model.PermProposalExecutor)
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("unassign revokes", func() {
		role, err := s.env.contract.UnassignGovernanceRole(s.env.as("root"), "auditor", fullIDFor("carol"))
		s.Require().NoError(err)
		s.Empty(role.Members)

		_, err = s.env.contract.UnassignGovernanceRole(s.env.as("root"), "auditor", fullIDFor("carol"))
		s.Require().Error(err)

		ok, err := s.env.contract.HasGovernanceRole(s.env.as("root"), fullIDFor("carol"), model.PermTimelockApprover)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("unknown role", func() {
		_, err := s.env.contract.AssignGovernanceRole(s.env.as("root"), "ghost", fullIDFor("carol"))
		s.Require().ErrorIs(err, ErrRoleNotFound)
	})
}
