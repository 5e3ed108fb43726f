package contract

import (
	"fmt"
	"testing"
	"time"

	"didregistry/model"

	"github.com/stretchr/testify/suite"
)

type TimelockOpsSuite struct {
	suite.Suite
	env *registryTestEnv
}

func (s *TimelockOpsSuite) SetupTest() {
	s.env = newTestEnv()
	s.Require().NoError(s.env.contract.BootstrapRegistry(s.env.as("root")))
}

func TestTimelockOpsSuite(t *testing.T) {
	suite.Run(t, new(TimelockOpsSuite))
}

// newTimelock opens a proposal as root whose window is [testEpoch+1h, testEpoch+2h].
func (s *TimelockOpsSuite) newTimelock(requiredApprovals int) *model.TimelockProposal {
	arg := fmt.Sprintf(`{
		"title": "scheduled admin grant",
		"proposalType": "add_admin",
		"payload": {"address": "%s"},
		"executionTime": "%s",
		"maxDelaySeconds": 3600,
		"requiredApprovals": %d
	}`, fullIDFor("scheduled-admin"), testEpoch.Add(time.Hour).Format(time.RFC3339), requiredApprovals)
	p, err := s.env.contract.CreateTimelockProposal(s.env.as("root"), arg)
	s.Require().NoError(err)
	return p
}

func (s *TimelockOpsSuite) TestCreateValidation() {
	s.Run("rejects execution time in the past", func() {
		arg := fmt.Sprintf(`{
			"title": "t", "proposalType": "add_admin", "payload": {"address": "a"},
			"executionTime": "%s", "maxDelaySeconds": 60, "requiredApprovals": 1
		}`, testEpoch.Add(-time.Hour).Format(time.RFC3339))
		_, err := s.env.contract.CreateTimelockProposal(s.env.as("root"), arg)
		s.Require().Error(err)
	})

	s.Run("rejects non-positive max delay", func() {
		arg := fmt.Sprintf(`{
			"title": "t", "proposalType": "add_admin", "payload": {"address": "a"},
			"executionTime": "%s", "maxDelaySeconds": 0, "requiredApprovals": 1
		}`, testEpoch.Add(time.Hour).Format(time.RFC3339))
		_, err := s.env.contract.CreateTimelockProposal(s.env.as("root"), arg)
		s.Require().Error(err)
	})

	s.Run("caller without proposer permission is rejected", func() {
		arg := fmt.Sprintf(`{
			"title": "t", "proposalType": "add_admin", "payload": {"address": "a"},
			"executionTime": "%s", "maxDelaySeconds": 60, "requiredApprovals": 1
		}`, testEpoch.Add(time.Hour).Format(time.RFC3339))
		_, err := s.env.contract.CreateTimelockProposal(s.env.as("nobody"), arg)
		s.Require().ErrorIs(err, ErrUnauthorized)
	})
}

func (s *TimelockOpsSuite) TestExecutionWindow() {
	p := s.newTimelock(1)

	s.Run("execution without approvals is rejected", func() {
		_, err := s.env.contract.ExecuteTimelockProposal(s.env.as("root"), p.ID)
		s.Require().ErrorIs(err, ErrProposalNotReady)
	})

	s.Run("final approval flips the status to approved", func() {
		approved, err := s.env.contract.ApproveTimelockProposal(s.env.as("root"), p.ID)
		s.Require().NoError(err)
		s.Len(approved.Approvals, 1)
		s.Equal(model.ProposalStatusApproved, approved.Status)
	})

	s.Run("approved but still before the window", func() {
		_, err := s.env.contract.ExecuteTimelockProposal(s.env.as("root"), p.ID)
		s.Require().ErrorIs(err, ErrTimelockNotReady)
	})

	s.Run("approved proposal accepts no further approvals", func() {
		_, err := s.env.contract.AssignGovernanceRole(s.env.as("root"), model.PermTimelockApprover, fullIDFor("latecomer"))
		s.Require().NoError(err)
		_, err = s.env.contract.ApproveTimelockProposal(s.env.as("latecomer"), p.ID)
		s.Require().ErrorIs(err, ErrProposalNotReady)
	})

	s.Run("a too-early attempt can be retried once the window opens", func() {
		s.env.advance(90 * time.Minute) // inside [1h, 2h]
		executed, err := s.env.contract.ExecuteTimelockProposal(s.env.as("root"), p.ID)
		s.Require().NoError(err)
		s.Equal(model.ProposalStatusExecuted, executed.Status)

		ok, err := s.env.contract.IsRegistryAdmin(s.env.as("root"), fullIDFor("scheduled-admin"))
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("executed proposal cannot run twice", func() {
		_, err := s.env.contract.ExecuteTimelockProposal(s.env.as("root"), p.ID)
		s.Require().ErrorIs(err, ErrProposalNotReady)
	})
}

func (s *TimelockOpsSuite) TestWindowCloses() {
	p := s.newTimelock(1)
	_, err := s.env.contract.ApproveTimelockProposal(s.env.as("root"), p.ID)
	s.Require().NoError(err)

	s.env.advance(3 * time.Hour) // past executionTime + maxDelay
	_, err = s.env.contract.ExecuteTimelockProposal(s.env.as("root"), p.ID)
	s.Require().ErrorIs(err, ErrTimelockExpired)
}

func (s *TimelockOpsSuite) TestApprovalThreshold() {
	p := s.newTimelock(2)
	approved, err := s.env.contract.ApproveTimelockProposal(s.env.as("root"), p.ID)
	s.Require().NoError(err)
	s.Equal(model.ProposalStatusPending, approved.Status) // 1 of 2

	s.Run("duplicate approval rejected", func() {
		_, err := s.env.contract.ApproveTimelockProposal(s.env.as("root"), p.ID)
		s.Require().ErrorIs(err, ErrDuplicateSignature)
	})

	s.env.advance(90 * time.Minute)
	s.Run("one of two approvals is not enough", func() {
		_, err := s.env.contract.ExecuteTimelockProposal(s.env.as("root"), p.ID)
		s.Require().ErrorIs(err, ErrProposalNotReady)
	})

	s.Run("second approver completes the quorum", func() {
		_, err := s.env.contract.AssignGovernanceRole(s.env.as("root"), model.PermTimelockApprover, fullIDFor("approver2"))
		s.Require().NoError(err)
		approved, err := s.env.contract.ApproveTimelockProposal(s.env.as("approver2"), p.ID)
		s.Require().NoError(err)
		s.Equal(model.ProposalStatusApproved, approved.Status)

		executed, err := s.env.contract.ExecuteTimelockProposal(s.env.as("root"), p.ID)
		s.Require().NoError(err)
		s.Equal(model.ProposalStatusExecuted, executed.Status)
	})
}

func (s *TimelockOpsSuite) TestApproverAuthorization() {
	p := s.newTimelock(1)
	_, err := s.env.contract.ApproveTimelockProposal(s.env.as("nobody"), p.ID)
	s.Require().ErrorIs(err, ErrUnauthorized)

	_, err = s.env.contract.ApproveTimelockProposal(s.env.as("root"), 404)
	s.Require().ErrorIs(err, ErrProposalNotFound)
}
