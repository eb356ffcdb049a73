package domain

import "errors"

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

// Peer is a remote participant as known to the directory.
type Peer struct {
	ID          PeerID `json:"id"`
	DisplayName string `json:"display_name"`
}

// NewPeer is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewPeer(id PeerID, displayName string) (*Peer, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Peer{ID: id, DisplayName: displayName}, nil
}
