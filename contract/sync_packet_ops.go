package contract

import (
	"encoding/json"
	"fmt"
	"time"

	"didregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// Outcomes of applying an inbound document update.
const (
	updateApplied   = "created"
	updateOverwrote = "overwritten"
	updateIgnored   = "ignored"
)

// applyDidUpdate applies one pushed document last-writer-wins: unknown ids
// are created, a strictly newer updatedAt overwrites (local created and
// creator survive), anything else is a no-op. It never returns an
// application-level rejection.
func (s *DidRegistrySmartContract) applyDidUpdate(ctx contractapi.TransactionContextInterface, data *model.DidUpdatePacketData) (string, error) {
	remoteTime := time.Unix(data.UpdatedAt, 0).UTC()

	incoming := data.DidDocument
	if incoming == nil {
		incoming = &model.DidDocument{ID: data.DidID}
		if data.Controller != "" {
			incoming.Controller = []string{data.Controller}
		}
	}
	incoming.ID = data.DidID
	if data.Active {
		incoming.Metadata.Status = model.DidStatusActive
	} else {
		incoming.Metadata.Status = model.DidStatusDeactivated
	}

	local, err := s.getDidDocument(ctx, data.DidID)
	switch {
	case err == nil:
		if data.UpdatedAt <= local.Metadata.Updated.Unix() {
			return updateIgnored, nil
		}
		// Remote wins. Keep the local origin metadata.
		incoming.Metadata.Created = local.Metadata.Created
		incoming.Metadata.Creator = local.Metadata.Creator
		if incoming.Metadata.Version <= local.Metadata.Version {
			incoming.Metadata.Version = local.Metadata.Version + 1
		}
		incoming.Metadata.Updated = remoteTime
		incoming.Metadata.UpdatedBy = "didsync"
		if err := s.putDidDocument(ctx, incoming); err != nil {
			return "", err
		}
		return updateOverwrote, nil

	case isNotFound(err):
		incoming.Metadata.Created = remoteTime
		incoming.Metadata.Updated = remoteTime
		if incoming.Metadata.Version == 0 {
			incoming.Metadata.Version = 1
		}
		if incoming.Metadata.Creator == "" {
			incoming.Metadata.Creator = data.Controller
		}
		incoming.Metadata.UpdatedBy = "didsync"
		if err := s.putDidDocument(ctx, incoming); err != nil {
			return "", err
		}
		return updateApplied, nil

	default:
		return "", err
	}
}

// RecvPacket handles an inbound packet on an open channel and returns the
// acknowledgement for the relayer to carry back. Document pushes are applied
// last-writer-wins and always ack success; sync requests ack with the found
// documents, silently skipping unknown ids.
func (s *DidRegistrySmartContract) RecvPacket(ctx contractapi.TransactionContextInterface, channelID string, packetJSON string) (*model.PacketAcknowledgement, error) {
	syncLogger.Infof("Chaincode Call: RecvPacket on '%s'", channelID)
	if _, err := s.requireOpenChannel(ctx, channelID); err != nil {
		return nil, err
	}
	var packet model.DidPacketData
	if err := json.Unmarshal([]byte(packetJSON), &packet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}

	switch {
	case packet.DidUpdate != nil:
		outcome, err := s.applyDidUpdate(ctx, packet.DidUpdate)
		if err != nil {
			return nil, err
		}
		s.emitRegistryEvent(ctx, "didsync.update_received", map[string]interface{}{
			"channelId": channelID,
			"didId":     packet.DidUpdate.DidID,
			"outcome":   outcome,
		})
		return &model.PacketAcknowledgement{Success: true}, nil

	case packet.DidSync != nil:
		if len(packet.DidSync.DidIDs) > maxSyncBatchSize {
			ack := &model.PacketAcknowledgement{Success: false, Error: fmt.Sprintf("sync request exceeds %d ids", maxSyncBatchSize)}
			return ack, nil
		}
		docs := []model.DidDocument{}
		for _, didID := range packet.DidSync.DidIDs {
			doc, err := s.getDidDocument(ctx, didID)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return nil, err
			}
			docs = append(docs, *doc)
		}
		s.emitRegistryEvent(ctx, "didsync.sync_served", map[string]interface{}{
			"channelId": channelID,
			"requested": len(packet.DidSync.DidIDs),
			"served":    len(docs),
		})
		return &model.PacketAcknowledgement{Success: true, Documents: docs}, nil

	default:
		syncLogger.Warningf("RecvPacket: unrecognized packet on '%s'", channelID)
		return &model.PacketAcknowledgement{Success: false, Error: "unrecognized packet data"}, nil
	}
}

// AcknowledgePacket handles the counterparty's acknowledgement of a packet we
// sent. A successful sync-request ack merges the returned documents through
// the same last-writer-wins rule as inbound pushes. Failed acks are recorded
// and dropped: the protocol has no retries.
func (s *DidRegistrySmartContract) AcknowledgePacket(ctx contractapi.TransactionContextInterface, channelID string, packetJSON string, ackJSON string) error {
	syncLogger.Infof("Chaincode Call: AcknowledgePacket on '%s'", channelID)
	if _, err := s.getSyncChannel(ctx, channelID); err != nil {
		return err
	}
	var packet model.DidPacketData
	if err := json.Unmarshal([]byte(packetJSON), &packet); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	var ack model.PacketAcknowledgement
	if err := json.Unmarshal([]byte(ackJSON), &ack); err != nil {
		return fmt.Errorf("%w: invalid acknowledgement: %v", ErrInvalidPacket, err)
	}

	merged := 0
	if packet.DidSync != nil && ack.Success {
		for i := range ack.Documents {
			doc := ack.Documents[i]
			outcome, err := s.applyDidUpdate(ctx, &model.DidUpdatePacketData{
				DidID:       doc.ID,
				DidDocument: &doc,
				Active:      doc.Metadata.Status == model.DidStatusActive,
				UpdatedAt:   doc.Metadata.Updated.Unix(),
			})
			if err != nil {
				return err
			}
			if outcome != updateIgnored {
				merged++
			}
		}
	}
	if !ack.Success {
		syncLogger.Warningf("AcknowledgePacket: counterparty rejected packet on '%s': %s", channelID, ack.Error)
	}
	s.emitRegistryEvent(ctx, "didsync.ack", map[string]interface{}{
		"channelId": channelID,
		"success":   ack.Success,
		"error":     ack.Error,
		"merged":    merged,
	})
	return nil
}

// TimeoutPacket records that a sent packet was never delivered. State is
// untouched and nothing is retried; the next push or pull supersedes it.
func (s *DidRegistrySmartContract) TimeoutPacket(ctx contractapi.TransactionContextInterface, channelID string, packetJSON string) error {
	syncLogger.Infof("Chaincode Call: TimeoutPacket on '%s'", channelID)
	if _, err := s.getSyncChannel(ctx, channelID); err != nil {
		return err
	}
	var packet model.DidPacketData
	if err := json.Unmarshal([]byte(packetJSON), &packet); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	kind := "unknown"
	didID := ""
	if packet.DidUpdate != nil {
		kind = "didUpdate"
		didID = packet.DidUpdate.DidID
	} else if packet.DidSync != nil {
		kind = "didSync"
	}
	syncLogger.Warningf("TimeoutPacket: %s packet on '%s' timed out", kind, channelID)
	s.emitRegistryEvent(ctx, "didsync.timeout", map[string]interface{}{
		"channelId": channelID,
		"kind":      kind,
		"didId":     didID,
	})
	return nil
}

// --- Outbound Packets ---

// commitOutboundPacket assigns the channel's next sequence and persists the
// packet for relayer pickup.
func (s *DidRegistrySmartContract) commitOutboundPacket(ctx contractapi.TransactionContextInterface, channelID string, actor *actorInfo, data model.DidPacketData) (*model.OutboundPacket, error) {
	seq, err := s.nextSequence(ctx, "packet:"+channelID)
	if err != nil {
		return nil, err
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	pkt := &model.OutboundPacket{
		ObjectType: outPacketObjectType,
		ChannelID:  channelID,
		Sequence:   seq,
		Data:       data,
		CreatedBy:  actor.fullID,
		CreatedAt:  now,
	}
	key, err := ctx.GetStub().CreateCompositeKey(outPacketObjectType, []string{channelID, paddedSeq(seq)})
	if err != nil {
		return nil, fmt.Errorf("failed to create outbound packet key: %w", err)
	}
	raw, err := json.Marshal(pkt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbound packet: %w", err)
	}
	if err := ctx.GetStub().PutState(key, raw); err != nil {
		return nil, fmt.Errorf("failed to put outbound packet: %w", err)
	}
	s.emitRegistryEvent(ctx, "didsync.packet_out", map[string]interface{}{
		"channelId": channelID,
		"sequence":  seq,
	})
	return pkt, nil
}

// SendDidUpdate queues a push of one local document to the counterparty.
func (s *DidRegistrySmartContract) SendDidUpdate(ctx contractapi.TransactionContextInterface, channelID string, didID string) (*model.OutboundPacket, error) {
	syncLogger.Infof("Chaincode Call: SendDidUpdate '%s' on '%s'", didID, channelID)
	if _, err := s.requireOpenChannel(ctx, channelID); err != nil {
		return nil, err
	}
	doc, err := s.getDidDocument(ctx, didID)
	if err != nil {
		return nil, err
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}

	controller := doc.Metadata.Creator
	if len(doc.Controller) > 0 {
		controller = doc.Controller[0]
	}
	data := model.DidPacketData{
		DidUpdate: &model.DidUpdatePacketData{
			DidID:       doc.ID,
			DidDocument: doc,
			Controller:  controller,
			Active:      doc.Metadata.Status == model.DidStatusActive,
			UpdatedAt:   doc.Metadata.Updated.Unix(),
		},
	}
	return s.commitOutboundPacket(ctx, channelID, actor, data)
}

// RequestDidSync queues a bulk pull of the named documents from the
// counterparty.
func (s *DidRegistrySmartContract) RequestDidSync(ctx contractapi.TransactionContextInterface, channelID string, didIdsJSON string) (*model.OutboundPacket, error) {
	syncLogger.Infof("Chaincode Call: RequestDidSync on '%s'", channelID)
	if _, err := s.requireOpenChannel(ctx, channelID); err != nil {
		return nil, err
	}
	var didIDs []string
	if err := json.Unmarshal([]byte(didIdsJSON), &didIDs); err != nil {
		return nil, fmt.Errorf("invalid didIdsJSON: %w", err)
	}
	if len(didIDs) == 0 {
		return nil, fmt.Errorf("didIds cannot be empty")
	}
	if len(didIDs) > maxSyncBatchSize {
		return nil, fmt.Errorf("didIds has %d items, exceeding maximum of %d", len(didIDs), maxSyncBatchSize)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	data := model.DidPacketData{DidSync: &model.DidSyncPacketData{DidIDs: didIDs}}
	return s.commitOutboundPacket(ctx, channelID, actor, data)
}
