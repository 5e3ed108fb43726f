package model

import "time"

// ChannelState is the handshake state of a sync channel.
type ChannelState string

const (
	ChannelStateInit    ChannelState = "INIT"
	ChannelStateTryOpen ChannelState = "TRYOPEN"
	ChannelStateOpen    ChannelState = "OPEN"
	ChannelStateClosed  ChannelState = "CLOSED"
)

// Protocol constants negotiated during the channel handshake.
const (
	ChannelOrderingOrdered = "ORDERED"
	SyncProtocolVersion    = "did-1"
	SyncPortID             = "didsync"
)

// SyncChannel is the stored state of one cross-chain sync channel.
type SyncChannel struct {
	ObjectType            string       `json:"objectType"`
	ChannelID             string       `json:"channelId"`
	PortID                string       `json:"portId"`
	CounterpartyPortID    string       `json:"counterpartyPortId"`
	CounterpartyChannelID string       `json:"counterpartyChannelId,omitempty"`
	Ordering              string       `json:"ordering"`
	Version               string       `json:"version"`
	State                 ChannelState `json:"state"`
	CreatedAt             time.Time    `json:"createdAt"`
	UpdatedAt             time.Time    `json:"updatedAt"`
}

// DidUpdatePacketData pushes one document to the counterparty. Receivers
// apply it last-writer-wins on UpdatedAt.
type DidUpdatePacketData struct {
	DidID       string       `json:"didId"`
	DidDocument *DidDocument `json:"didDocument"`
	Controller  string       `json:"controller"`
	Active      bool         `json:"active"`
	UpdatedAt   int64        `json:"updatedAt"` // unix seconds at the sender
}

// DidSyncPacketData requests a bulk pull of documents by id.
type DidSyncPacketData struct {
	DidIDs []string `json:"didIds"`
}

// DidPacketData is the packet envelope. Exactly one field is set.
type DidPacketData struct {
	DidUpdate *DidUpdatePacketData `json:"didUpdate,omitempty"`
	DidSync   *DidSyncPacketData   `json:"didSync,omitempty"`
}

// PacketAcknowledgement is returned by RecvPacket and relayed back to the
// sender. Documents is populated for successful sync-request acks.
type PacketAcknowledgement struct {
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Documents []DidDocument `json:"documents,omitempty"`
}

// OutboundPacket is a packet committed for relayer pickup, keyed by channel
// and sequence.
type OutboundPacket struct {
	ObjectType string        `json:"objectType"`
	ChannelID  string        `json:"channelId"`
	Sequence   uint64        `json:"sequence"`
	Data       DidPacketData `json:"data"`
	CreatedBy  string        `json:"createdBy"`
	CreatedAt  time.Time     `json:"createdAt"`
}
