package core

import (
	"encoding/json"

	"meetclient/internal/domain"
)

// Direction of a media transport relative to the client.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Capabilities is the router's negotiated RTP capability set. The client
// fetches it once per session and round-trips it between signaling and the
// media engine without interpreting it.
type Capabilities map[string]any

// DtlsFingerprint is a certificate digest exchanged during transport connect.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// TransportParams is what signaling returns for a transport create request.
// ICE blobs stay opaque; only the engine interprets them.
type TransportParams struct {
	ID             domain.TransportID `json:"id"`
	IceParameters  json.RawMessage    `json:"ice_parameters,omitempty"`
	IceCandidates  json.RawMessage    `json:"ice_candidates,omitempty"`
	DtlsParameters DtlsParameters     `json:"dtls_parameters"`
}

type ProduceRequest struct {
	TransportID   domain.TransportID `json:"transport_id"`
	Kind          MediaKind          `json:"kind"`
	RtpParameters json.RawMessage    `json:"rtp_parameters,omitempty"`
	RoomID        domain.RoomID      `json:"room_id"`
	PeerID        domain.PeerID      `json:"peer_id"`
}

type ConsumeRequest struct {
	TransportID  domain.TransportID `json:"transport_id"`
	ProducerID   domain.ProducerID  `json:"producer_id"`
	Capabilities Capabilities       `json:"capabilities,omitempty"`
}

// ConsumerParams is what signaling returns for a consume request.
type ConsumerParams struct {
	ID            domain.ConsumerID `json:"id"`
	ProducerID    domain.ProducerID `json:"producer_id"`
	Kind          MediaKind         `json:"kind"`
	RtpParameters json.RawMessage   `json:"rtp_parameters,omitempty"`
	PeerID        domain.PeerID     `json:"peer_id,omitempty"`
}

// ProducerInfo describes a producer already present in the room.
type ProducerInfo struct {
	ID     domain.ProducerID `json:"id"`
	PeerID domain.PeerID     `json:"peer_id,omitempty"`
	Kind   MediaKind         `json:"kind,omitempty"`
}

// ProduceIntent is raised by a send transport when the engine is ready to
// publish a track and needs a server-issued producer id.
type ProduceIntent struct {
	TransportID   domain.TransportID
	Kind          MediaKind
	RtpParameters json.RawMessage
}

type TransportState string

const (
	TransportCreated    TransportState = "created"
	TransportConnecting TransportState = "connecting"
	TransportConnected  TransportState = "connected"
	TransportFailed     TransportState = "failed"
	TransportClosed     TransportState = "closed"
)

// Terminal reports whether no further transitions are possible.
func (s TransportState) Terminal() bool {
	return s == TransportFailed || s == TransportClosed
}

// Constraints selects which local media kinds to acquire.
type Constraints struct {
	Audio bool
	Video bool
}
