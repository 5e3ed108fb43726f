package contract

import (
	"fmt"
	"testing"

	"didregistry/model"

	"github.com/stretchr/testify/suite"
)

type AuditTrailSuite struct {
	suite.Suite
	env *registryTestEnv
}

// SetupTest replays a fixed history so entry ids are predictable:
//
//	1 registry_bootstrapped   root (admin)
//	2 did_created             alice
//	3 role_assigned           root (admin)
//	4 proposal created        root (admin, emergency type)
//	5 proposal signed         sig1 (emergency type)
//	6 emergency_pause         root (admin, emergency type)
//	7 proposal executed       root (admin, emergency type)
func (s *AuditTrailSuite) SetupTest() {
	s.env = newTestEnv()
	s.Require().NoError(s.env.contract.BootstrapRegistry(s.env.as("root")))

	_, err := s.env.contract.CreateDIDDocument(s.env.as("alice"), "did:reg:alice", testDoc)
	s.Require().NoError(err)

	_, err = s.env.contract.AssignGovernanceRole(s.env.as("root"), model.PermProposalSigner, fullIDFor("sig1"))
	s.Require().NoError(err)

	p, err := s.env.contract.CreateMultisigProposal(s.env.as("root"), fmt.Sprintf(`{
		"title": "halt the registry",
		"proposalType": "emergency_pause",
		"payload": {"reason": "drill"},
		"signers": ["%s"],
		"requiredSigs": 1
	}`, fullIDFor("sig1")))
	s.Require().NoError(err)
	_, err = s.env.contract.SignMultisigProposal(s.env.as("sig1"), p.ID, testSignature("sig1"))
	s.Require().NoError(err)
	_, err = s.env.contract.ExecuteMultisigProposal(s.env.as("root"), p.ID)
	s.Require().NoError(err)
}

func TestAuditTrailSuite(t *testing.T) {
	suite.Run(t, new(AuditTrailSuite))
}

func (s *AuditTrailSuite) TestSequenceAndStamping() {
	entry, err := s.env.contract.GetAuditEntry(s.env.as("root"), 1)
	s.Require().NoError(err)
	s.Equal("registry_bootstrapped", entry.EventType)
	s.Equal(fullIDFor("root"), entry.Actor)
	s.Equal("tx-0001", entry.TxID)
	s.Equal(entry.Signature, auditSignature(entry.ID, entry.EventType, entry.Actor, entry.Target))
	s.Len(entry.Signature, 64)

	s.Run("entries are numbered contiguously", func() {
		all, err := s.env.contract.GetAuditEntries(s.env.as("root"), 0, 0)
		s.Require().NoError(err)
		s.Require().Len(all, 7)
		for i, e := range all {
			s.Equal(uint64(i+1), e.ID)
		}
	})

	s.Run("unknown entry", func() {
		_, err := s.env.contract.GetAuditEntry(s.env.as("root"), 404)
		s.Require().Error(err)
	})
}

func (s *AuditTrailSuite) TestRiskScores() {
	score := func(id uint64) uint32 {
		entry, err := s.env.contract.GetAuditEntry(s.env.as("root"), id)
		s.Require().NoError(err)
		return entry.RiskScore
	}

	s.Run("unknown event type by an admin", func() {
		s.Equal(uint32(30), score(1)) // default 10 + admin 20
	})

	s.Run("plain action by a plain actor", func() {
		s.Equal(uint32(10), score(2)) // did_created, alice
	})

	s.Run("role assignment by an admin", func() {
		s.Equal(uint32(60), score(3)) // base 40 + admin 20
	})

	s.Run("emergency proposal adds the type weight", func() {
		s.Equal(uint32(80), score(4)) // base 30 + admin 20 + emergency 30
		s.Equal(uint32(50), score(5)) // base 20 + emergency 30, sig1 is not admin
	})

	s.Run("scores clamp at 100", func() {
		s.Equal(uint32(100), score(6)) // emergency_pause: 90 + 20 + 30
		s.Equal(uint32(100), score(7)) // executed: 70 + 20 + 30
	})
}

func (s *AuditTrailSuite) TestRangeQueries() {
	entries, err := s.env.contract.GetAuditEntries(s.env.as("root"), 3, 2)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(uint64(3), entries[0].ID)
	s.Equal(uint64(4), entries[1].ID)
}

func (s *AuditTrailSuite) TestActorQuery() {
	entries, err := s.env.contract.GetAuditEntriesByActor(s.env.as("root"), fullIDFor("sig1"))
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(model.AuditMultisigProposalSigned, entries[0].EventType)

	entries, err = s.env.contract.GetAuditEntriesByActor(s.env.as("root"), fullIDFor("ghost"))
	s.Require().NoError(err)
	s.Empty(entries)
}
