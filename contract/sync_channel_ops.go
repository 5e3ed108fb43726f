package contract

import (
	"encoding/json"
	"fmt"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var syncLogger = flogging.MustGetLogger("didregistry.sync")

// Channel handshake: INIT -> TRYOPEN -> OPEN -> CLOSED, ordered channels
// only, both ends speaking the same protocol version. The relayer drives
// these transitions; the chaincode only validates and records them.

func (s *DidRegistrySmartContract) createChannelKey(ctx contractapi.TransactionContextInterface, channelID string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(channelObjectType, []string{channelID})
}

// getSyncChannel fetches a channel or fails with ErrChannelNotFound.
func (s *DidRegistrySmartContract) getSyncChannel(ctx contractapi.TransactionContextInterface, channelID string) (*model.SyncChannel, error) {
	key, err := s.createChannelKey(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel key for '%s': %w", channelID, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel '%s': %w", channelID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: '%s'", ErrChannelNotFound, channelID)
	}
	var ch model.SyncChannel
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel '%s': %w", channelID, err)
	}
	return &ch, nil
}

func (s *DidRegistrySmartContract) putSyncChannel(ctx contractapi.TransactionContextInterface, ch *model.SyncChannel) error {
	ch.ObjectType = channelObjectType
	key, err := s.createChannelKey(ctx, ch.ChannelID)
	if err != nil {
		return fmt.Errorf("failed to create channel key for '%s': %w", ch.ChannelID, err)
	}
	raw, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("failed to marshal channel '%s': %w", ch.ChannelID, err)
	}
	return ctx.GetStub().PutState(key, raw)
}

// requireOpenChannel loads a channel and checks it is usable for packets.
func (s *DidRegistrySmartContract) requireOpenChannel(ctx contractapi.TransactionContextInterface, channelID string) (*model.SyncChannel, error) {
	ch, err := s.getSyncChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.State == model.ChannelStateClosed {
		return nil, fmt.Errorf("%w: '%s'", ErrChannelClosed, channelID)
	}
	if ch.State != model.ChannelStateOpen {
		return nil, fmt.Errorf("%w: channel '%s' is %s, not OPEN", ErrInvalidChannelFlow, channelID, ch.State)
	}
	return ch, nil
}

// validateChannelParams checks the negotiation constraints shared by
// ChanOpenInit and ChanOpenTry.
func (s *DidRegistrySmartContract) validateChannelParams(portID, channelID, counterpartyPortID, ordering, version string) error {
	if err := s.validateRequiredString(portID, "portId", maxStringInputLength); err != nil {
		return err
	}
	if err := s.validateRequiredString(channelID, "channelId", maxStringInputLength); err != nil {
		return err
	}
	if err := s.validateRequiredString(counterpartyPortID, "counterpartyPortId", maxStringInputLength); err != nil {
		return err
	}
	if ordering != model.ChannelOrderingOrdered {
		return fmt.Errorf("%w: ordering '%s' not supported, channels must be %s", ErrInvalidChannelFlow, ordering, model.ChannelOrderingOrdered)
	}
	if version != model.SyncProtocolVersion {
		return fmt.Errorf("%w: version '%s' does not match '%s'", ErrInvalidChannelFlow, version, model.SyncProtocolVersion)
	}
	return nil
}

// ChanOpenInit starts the handshake from this side.
func (s *DidRegistrySmartContract) ChanOpenInit(ctx contractapi.TransactionContextInterface, portID, channelID, counterpartyPortID, ordering, version string) (*model.SyncChannel, error) {
	syncLogger.Infof("Chaincode Call: ChanOpenInit '%s'", channelID)
	if err := s.validateChannelParams(portID, channelID, counterpartyPortID, ordering, version); err != nil {
		return nil, err
	}
	key, err := s.createChannelKey(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel key for '%s': %w", channelID, err)
	}
	existing, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel '%s': %w", channelID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: channel '%s' already exists", ErrInvalidChannelFlow, channelID)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	ch := &model.SyncChannel{
		ChannelID:          channelID,
		PortID:             portID,
		CounterpartyPortID: counterpartyPortID,
		Ordering:           ordering,
		Version:            version,
		State:              model.ChannelStateInit,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.putSyncChannel(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// ChanOpenTry answers a handshake started by the counterparty.
func (s *DidRegistrySmartContract) ChanOpenTry(ctx contractapi.TransactionContextInterface, portID, channelID, counterpartyPortID, counterpartyChannelID, ordering, counterpartyVersion string) (*model.SyncChannel, error) {
	syncLogger.Infof("Chaincode Call: ChanOpenTry '%s'", channelID)
	if err := s.validateChannelParams(portID, channelID, counterpartyPortID, ordering, counterpartyVersion); err != nil {
		return nil, err
	}
	key, err := s.createChannelKey(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel key for '%s': %w", channelID, err)
	}
	existing, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel '%s': %w", channelID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: channel '%s' already exists", ErrInvalidChannelFlow, channelID)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	ch := &model.SyncChannel{
		ChannelID:             channelID,
		PortID:                portID,
		CounterpartyPortID:    counterpartyPortID,
		CounterpartyChannelID: counterpartyChannelID,
		Ordering:              ordering,
		Version:               counterpartyVersion,
		State:                 model.ChannelStateTryOpen,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.putSyncChannel(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// ChanOpenAck completes the handshake on the initiating side.
func (s *DidRegistrySmartContract) ChanOpenAck(ctx contractapi.TransactionContextInterface, channelID, counterpartyChannelID, counterpartyVersion string) (*model.SyncChannel, error) {
	syncLogger.Infof("Chaincode Call: ChanOpenAck '%s'", channelID)
	ch, err := s.getSyncChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.State != model.ChannelStateInit {
		return nil, fmt.Errorf("%w: ChanOpenAck on channel '%s' in state %s, expected INIT", ErrInvalidChannelFlow, channelID, ch.State)
	}
	if counterpartyVersion != model.SyncProtocolVersion {
		return nil, fmt.Errorf("%w: counterparty version '%s' does not match '%s'", ErrInvalidChannelFlow, counterpartyVersion, model.SyncProtocolVersion)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	ch.CounterpartyChannelID = counterpartyChannelID
	ch.State = model.ChannelStateOpen
	ch.UpdatedAt = now
	if err := s.putSyncChannel(ctx, ch); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "didsync.channel_opened", map[string]interface{}{
		"channelId":             channelID,
		"counterpartyChannelId": counterpartyChannelID,
	})
	return ch, nil
}

// ChanOpenConfirm completes the handshake on the answering side.
func (s *DidRegistrySmartContract) ChanOpenConfirm(ctx contractapi.TransactionContextInterface, channelID string) (*model.SyncChannel, error) {
	syncLogger.Infof("Chaincode Call: ChanOpenConfirm '%s'", channelID)
	ch, err := s.getSyncChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.State != model.ChannelStateTryOpen {
		return nil, fmt.Errorf("%w: ChanOpenConfirm on channel '%s' in state %s, expected TRYOPEN", ErrInvalidChannelFlow, channelID, ch.State)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	ch.State = model.ChannelStateOpen
	ch.UpdatedAt = now
	if err := s.putSyncChannel(ctx, ch); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "didsync.channel_opened", map[string]interface{}{
		"channelId": channelID,
	})
	return ch, nil
}

// ChanCloseInit always fails: sync channels stay open for the lifetime of
// the peering and may only be closed by the counterparty's infrastructure.
func (s *DidRegistrySmartContract) ChanCloseInit(ctx contractapi.TransactionContextInterface, channelID string) error {
	syncLogger.Infof("Chaincode Call: ChanCloseInit '%s' (always rejected)", channelID)
	return fmt.Errorf("%w: user-initiated channel close is not allowed", ErrInvalidChannelFlow)
}

// ChanCloseConfirm records a close decided on the counterparty side.
func (s *DidRegistrySmartContract) ChanCloseConfirm(ctx contractapi.TransactionContextInterface, channelID string) (*model.SyncChannel, error) {
	syncLogger.Infof("Chaincode Call: ChanCloseConfirm '%s'", channelID)
	ch, err := s.getSyncChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.State == model.ChannelStateClosed {
		return nil, fmt.Errorf("%w: '%s'", ErrChannelClosed, channelID)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}

	ch.State = model.ChannelStateClosed
	ch.UpdatedAt = now
	if err := s.putSyncChannel(ctx, ch); err != nil {
		return nil, err
	}
	s.emitRegistryEvent(ctx, "didsync.channel_closed", map[string]interface{}{
		"channelId": channelID,
	})
	return ch, nil
}
