package contract

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"didregistry/model"

	"github.com/stretchr/testify/suite"
)

type RecoveryOpsSuite struct {
	suite.Suite
	env *registryTestEnv
}

func (s *RecoveryOpsSuite) SetupTest() {
	s.env = newTestEnv()
	_, err := s.env.contract.CreateDIDDocument(s.env.as("alice"), "did:reg:alice", testDoc)
	s.Require().NoError(err)
}

func TestRecoveryOpsSuite(t *testing.T) {
	suite.Run(t, new(RecoveryOpsSuite))
}

func (s *RecoveryOpsSuite) setGuardians(threshold uint32, guardians ...string) {
	list := ""
	for i, g := range guardians {
		if i > 0 {
			list += ","
		}
		list += fmt.Sprintf(`{"id": "%s", "publicKey": "pk-%s"}`, g, g)
	}
	cfg := fmt.Sprintf(`{"guardians": [%s], "threshold": %d}`, list, threshold)
	_, err := s.env.contract.SetGuardianConfig(s.env.as("alice"), "did:reg:alice", cfg)
	s.Require().NoError(err)
}

func guardianSigs(guardians ...string) string {
	out := "["
	for i, g := range guardians {
		if i > 0 {
			out += ","
		}
		sig := base64.StdEncoding.EncodeToString([]byte("approval-" + g))
		out += fmt.Sprintf(`{"guardianId": "%s", "signature": "%s"}`, g, sig)
	}
	return out + "]"
}

func (s *RecoveryOpsSuite) TestGuardianConfig() {
	s.Run("rejects threshold above guardian count", func() {
		_, err := s.env.contract.SetGuardianConfig(s.env.as("alice"), "did:reg:alice",
			`{"guardians": [{"id": "g1"}], "threshold": 2}`)
		s.Require().Error(err)
	})

	s.Run("only a controller may set the config", func() {
		_, err := s.env.contract.SetGuardianConfig(s.env.as("mallory"), "did:reg:alice",
			`{"guardians": [{"id": "g1"}], "threshold": 1}`)
		s.Require().ErrorIs(err, ErrUnauthorized)
	})

	s.Run("stores and returns the policy", func() {
		s.setGuardians(2, "g1", "g2", "g3")
		cfg, err := s.env.contract.GetGuardianConfig(s.env.as("alice"), "did:reg:alice")
		s.Require().NoError(err)
		s.Equal(uint32(2), cfg.Threshold)
		s.Len(cfg.Guardians, 3)
	})
}

func (s *RecoveryOpsSuite) TestRecoverWithoutConfig() {
	_, err := s.env.contract.RecoverDID(s.env.as("alice"), "did:reg:alice", guardianSigs("g1"), "", "lost keys")
	s.Require().ErrorIs(err, ErrGuardianConfigNotFound)
}

func (s *RecoveryOpsSuite) TestThresholds() {
	s.setGuardians(2, "g1", "g2", "g3")

	s.Run("too few submitted signatures", func() {
		_, err := s.env.contract.RecoverDID(s.env.as("alice"), "did:reg:alice", guardianSigs("g1"), "", "lost keys")
		s.Require().ErrorIs(err, ErrInsufficientGuardianSigs)
	})

	s.Run("enough submitted but not enough valid", func() {
		// g9 is not a configured guardian, so only g1 counts.
		_, err := s.env.contract.RecoverDID(s.env.as("alice"), "did:reg:alice", guardianSigs("g1", "g9"), "", "lost keys")
		s.Require().ErrorIs(err, ErrInvalidGuardianSig)
	})

	s.Run("duplicate guardian counts once", func() {
		_, err := s.env.contract.RecoverDID(s.env.as("alice"), "did:reg:alice", guardianSigs("g1", "g1"), "", "lost keys")
		s.Require().ErrorIs(err, ErrInvalidGuardianSig)
	})

	s.Run("malformed signature does not count", func() {
		sigs := `[{"guardianId": "g1", "signature": "%%%not-base64%%%"}, {"guardianId": "g2", "signature": "` +
			base64.StdEncoding.EncodeToString([]byte("ok")) + `"}]`
		_, err := s.env.contract.RecoverDID(s.env.as("alice"), "did:reg:alice", sigs, "", "lost keys")
		s.Require().ErrorIs(err, ErrInvalidGuardianSig)
	})
}

func (s *RecoveryOpsSuite) TestReactivateInPlace() {
	s.setGuardians(2, "g1", "g2", "g3")
	_, err := s.env.contract.DeactivateDIDDocument(s.env.as("alice"), "did:reg:alice", "compromise")
	s.Require().NoError(err)
	s.env.advance(time.Hour)

	res, err := s.env.contract.RecoverDID(s.env.as("bob"), "did:reg:alice", guardianSigs("g1", "g3"), "", "owner recovered")
	s.Require().NoError(err)
	s.True(res.Reactivated)
	s.Equal(uint64(3), res.Version)

	doc, err := s.env.contract.GetDIDDocument(s.env.as("alice"), "did:reg:alice")
	s.Require().NoError(err)
	s.Equal(model.DidStatusActive, doc.Metadata.Status)
	s.Nil(doc.Metadata.DeactivatedAt)
	s.Empty(doc.Metadata.DeactivationReason)
	s.Equal(model.UpdatedByRecovery, doc.Metadata.UpdatedBy)
	// The original body survives an in-place reactivation.
	s.Len(doc.VerificationMethods, 1)
	s.Equal("did.recovered", s.env.stub.lastEvent())
}

func (s *RecoveryOpsSuite) TestReplaceDocument() {
	s.setGuardians(1, "g1")
	s.env.advance(time.Hour)

	newBody := `{
		"controller": ["x509::CN=carol::OU=client"],
		"verificationMethod": [
			{"id": "did:reg:alice#rotated", "type": "Ed25519VerificationKey2020", "controller": "x509::CN=carol::OU=client"}
		]
	}`
	res, err := s.env.contract.RecoverDID(s.env.as("carol"), "did:reg:alice", guardianSigs("g1"), newBody, "ownership transfer")
	s.Require().NoError(err)
	s.False(res.Reactivated)
	s.Equal(uint64(2), res.Version)

	doc, err := s.env.contract.GetDIDDocument(s.env.as("alice"), "did:reg:alice")
	s.Require().NoError(err)
	s.Equal("did:reg:alice", doc.ID)
	s.Equal(testEpoch, doc.Metadata.Created)            // creation time preserved
	s.Equal(fullIDFor("alice"), doc.Metadata.Creator)   // creator preserved
	s.Equal(model.DidStatusActive, doc.Metadata.Status) // always ends active
	s.Require().Len(doc.VerificationMethods, 1)
	s.Equal("did:reg:alice#rotated", doc.VerificationMethods[0].ID)
	s.Equal([]string{fullIDFor("carol")}, doc.Controller)

	s.Run("new controller can now mutate", func() {
		_, err := s.env.contract.UpdateDIDDocument(s.env.as("carol"), "did:reg:alice", newBody)
		s.Require().NoError(err)
	})
}
