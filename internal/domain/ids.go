// Package domain contains entity without logic, just meta-data
package domain

type (
	RoomID      string
	PeerID      string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// PeerKey groups a remote participant's tracks into one aggregated stream.
// It is the directory peer id when the relay reports one, otherwise the
// transport-level producer id.
type PeerKey string
