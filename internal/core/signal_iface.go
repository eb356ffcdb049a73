package core

import (
	"context"

	"meetclient/internal/domain"
)

// Event is a push notification from the relay's control plane.
type Event interface{ isEvent() }

// NewProducerEvent announces a producer published by another participant.
// PeerID is empty when the relay does not report the owning peer.
type NewProducerEvent struct {
	ProducerID domain.ProducerID
	PeerID     domain.PeerID
}

// HangupEvent announces that a participant left the room.
type HangupEvent struct {
	PeerID domain.PeerID
}

// RoomClosedEvent announces that the relay tore the room down.
type RoomClosedEvent struct {
	RoomID domain.RoomID
}

func (NewProducerEvent) isEvent() {}
func (HangupEvent) isEvent()      {}
func (RoomClosedEvent) isEvent()  {}

// SignalChannel is the client's connection to the relay control plane.
// Owned by the adapter; the adapter must Close() it.
type SignalChannel interface {
	// Ready is closed once the control connection is established.
	Ready() <-chan struct{}
	// LocalPeerID returns the channel-assigned participant id.
	LocalPeerID() domain.PeerID

	GetCapabilities(ctx context.Context) (Capabilities, error)
	CreateTransport(ctx context.Context, dir Direction) (TransportParams, error)
	ConnectTransport(ctx context.Context, id domain.TransportID, dtls DtlsParameters) error
	Produce(ctx context.Context, req ProduceRequest) (domain.ProducerID, error)
	Consume(ctx context.Context, req ConsumeRequest) (ConsumerParams, error)
	ListProducers(ctx context.Context, room domain.RoomID, exclude domain.PeerID) ([]ProducerInfo, error)

	JoinRoom(ctx context.Context, room domain.RoomID) error
	LeaveRoom(ctx context.Context) error

	// Events delivers push notifications for the lifetime of the connection.
	Events() <-chan Event
}

// Directory maps transport-level originator ids to directory peer ids.
// Used by the second phase of hangup reconciliation.
type Directory interface {
	PeerOf(id string) (domain.PeerID, bool)
}
