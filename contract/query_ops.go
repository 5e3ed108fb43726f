package contract

import (
	"encoding/json"
	"fmt"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Document Queries ---

// GetDIDDocument returns the current version of a document.
func (s *DidRegistrySmartContract) GetDIDDocument(ctx contractapi.TransactionContextInterface, didID string) (*model.DidDocument, error) {
	logger.Debugf("Chaincode Call: GetDIDDocument '%s'", didID)
	return s.getDidDocument(ctx, didID)
}

// DIDDocumentExists reports whether a document is registered.
func (s *DidRegistrySmartContract) DIDDocumentExists(ctx contractapi.TransactionContextInterface, didID string) (bool, error) {
	logger.Debugf("Chaincode Call: DIDDocumentExists '%s'", didID)
	return s.didDocumentExists(ctx, didID)
}

// GetDIDDocumentVersion returns one archived version of a document.
func (s *DidRegistrySmartContract) GetDIDDocumentVersion(ctx contractapi.TransactionContextInterface, didID string, version uint64) (*model.DidDocument, error) {
	logger.Debugf("Chaincode Call: GetDIDDocumentVersion '%s' v%d", didID, version)
	key, err := ctx.GetStub().CreateCompositeKey(didVersionObjectType, []string{didID, paddedSeq(version)})
	if err != nil {
		return nil, fmt.Errorf("failed to create version key for '%s': %w", didID, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read version %d of '%s': %w", version, didID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: '%s' version %d", ErrDIDNotFound, didID, version)
	}
	var doc model.DidDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal version %d of '%s': %w", version, didID, err)
	}
	return &doc, nil
}

// GetAllDIDDocuments returns every registered document.
func (s *DidRegistrySmartContract) GetAllDIDDocuments(ctx contractapi.TransactionContextInterface) ([]model.DidDocument, error) {
	logger.Debug("Chaincode Call: GetAllDIDDocuments")
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(didObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get documents iterator: %w", err)
	}
	defer resultsIterator.Close()

	docs := []model.DidDocument{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			logger.Warningf("GetAllDIDDocuments: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var doc model.DidDocument
		if err := json.Unmarshal(queryResponse.Value, &doc); err != nil {
			logger.Warningf("GetAllDIDDocuments: failed to unmarshal document at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// GetDIDDocumentsByController returns documents a given identity controls
// (creator, listed controller, or verification method controller).
func (s *DidRegistrySmartContract) GetDIDDocumentsByController(ctx contractapi.TransactionContextInterface, controller string) ([]model.DidDocument, error) {
	logger.Debugf("Chaincode Call: GetDIDDocumentsByController '%s'", controller)
	all, err := s.GetAllDIDDocuments(ctx)
	if err != nil {
		return nil, err
	}
	docs := []model.DidDocument{}
	for i := range all {
		if s.isAuthorizedController(&all[i], controller) {
			docs = append(docs, all[i])
		}
	}
	return docs, nil
}

// GetGuardianConfig returns the recovery policy configured for a DID.
func (s *DidRegistrySmartContract) GetGuardianConfig(ctx contractapi.TransactionContextInterface, didID string) (*model.GuardianConfig, error) {
	logger.Debugf("Chaincode Call: GetGuardianConfig '%s'", didID)
	return s.getGuardianConfig(ctx, didID)
}

// --- Sync Queries ---

// GetSyncChannel returns one sync channel by id.
func (s *DidRegistrySmartContract) GetSyncChannel(ctx contractapi.TransactionContextInterface, channelID string) (*model.SyncChannel, error) {
	syncLogger.Debugf("Chaincode Call: GetSyncChannel '%s'", channelID)
	return s.getSyncChannel(ctx, channelID)
}

// GetAllSyncChannels returns every channel and its handshake state.
func (s *DidRegistrySmartContract) GetAllSyncChannels(ctx contractapi.TransactionContextInterface) ([]model.SyncChannel, error) {
	syncLogger.Debug("Chaincode Call: GetAllSyncChannels")
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(channelObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get channels iterator: %w", err)
	}
	defer resultsIterator.Close()

	channels := []model.SyncChannel{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			syncLogger.Warningf("GetAllSyncChannels: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var ch model.SyncChannel
		if err := json.Unmarshal(queryResponse.Value, &ch); err != nil {
			syncLogger.Warningf("GetAllSyncChannels: failed to unmarshal channel at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// GetOutboundPackets returns packets queued on a channel for relayer pickup,
// in sequence order.
func (s *DidRegistrySmartContract) GetOutboundPackets(ctx contractapi.TransactionContextInterface, channelID string) ([]model.OutboundPacket, error) {
	syncLogger.Debugf("Chaincode Call: GetOutboundPackets '%s'", channelID)
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(outPacketObjectType, []string{channelID})
	if err != nil {
		return nil, fmt.Errorf("failed to get packets iterator: %w", err)
	}
	defer resultsIterator.Close()

	packets := []model.OutboundPacket{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			syncLogger.Warningf("GetOutboundPackets: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var pkt model.OutboundPacket
		if err := json.Unmarshal(queryResponse.Value, &pkt); err != nil {
			syncLogger.Warningf("GetOutboundPackets: failed to unmarshal packet at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}

// --- Governance Queries ---

// GetMultisigProposal returns one proposal. A pending proposal past its
// expiry is reported as expired without being rewritten.
func (s *DidRegistrySmartContract) GetMultisigProposal(ctx contractapi.TransactionContextInterface, proposalID uint64) (*model.MultisigProposal, error) {
	govLogger.Debugf("Chaincode Call: GetMultisigProposal %d", proposalID)
	p, err := s.getMultisigProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	if (p.Status == model.ProposalStatusPending || p.Status == model.ProposalStatusReadyForExecution) && now.After(p.ExpiresAt) {
		p.Status = model.ProposalStatusExpired
	}
	return p, nil
}

// GetAllMultisigProposals returns every multisig proposal in id order.
func (s *DidRegistrySmartContract) GetAllMultisigProposals(ctx contractapi.TransactionContextInterface) ([]model.MultisigProposal, error) {
	govLogger.Debug("Chaincode Call: GetAllMultisigProposals")
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(multisigObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get proposals iterator: %w", err)
	}
	defer resultsIterator.Close()

	proposals := []model.MultisigProposal{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			govLogger.Warningf("GetAllMultisigProposals: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var p model.MultisigProposal
		if err := json.Unmarshal(queryResponse.Value, &p); err != nil {
			govLogger.Warningf("GetAllMultisigProposals: failed to unmarshal proposal at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}

// GetTimelockProposal returns one timelock proposal.
func (s *DidRegistrySmartContract) GetTimelockProposal(ctx contractapi.TransactionContextInterface, proposalID uint64) (*model.TimelockProposal, error) {
	govLogger.Debugf("Chaincode Call: GetTimelockProposal %d", proposalID)
	return s.getTimelockProposal(ctx, proposalID)
}

// GetAllTimelockProposals returns every timelock proposal in id order.
func (s *DidRegistrySmartContract) GetAllTimelockProposals(ctx contractapi.TransactionContextInterface) ([]model.TimelockProposal, error) {
	govLogger.Debug("Chaincode Call: GetAllTimelockProposals")
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(timelockObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get timelock iterator: %w", err)
	}
	defer resultsIterator.Close()

	proposals := []model.TimelockProposal{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			govLogger.Warningf("GetAllTimelockProposals: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var p model.TimelockProposal
		if err := json.Unmarshal(queryResponse.Value, &p); err != nil {
			govLogger.Warningf("GetAllTimelockProposals: failed to unmarshal proposal at key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}

// GetRegistryConfig returns the config singleton (defaults when not yet
// bootstrapped).
func (s *DidRegistrySmartContract) GetRegistryConfig(ctx contractapi.TransactionContextInterface) (*model.RegistryConfig, error) {
	logger.Debug("Chaincode Call: GetRegistryConfig")
	return s.getRegistryConfig(ctx)
}

// IsRegistryAdmin reports whether an identity holds the ledger admin flag.
func (s *DidRegistrySmartContract) IsRegistryAdmin(ctx contractapi.TransactionContextInterface, fullID string) (bool, error) {
	logger.Debugf("Chaincode Call: IsRegistryAdmin '%s'", fullID)
	return NewGovernanceManager(ctx).IsAdmin(fullID)
}
