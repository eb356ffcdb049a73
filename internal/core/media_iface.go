package core

import (
	"context"

	"meetclient/internal/domain"
)

// Track is a single playable media track, local or remote.
type Track interface {
	ID() string
	Kind() MediaKind
	// Stop releases the underlying media resource. Safe to call twice.
	Stop()
}

// LocalStream owns the locally captured tracks for one session.
type LocalStream struct {
	Tracks []Track
}

// Stop stops every track. Best-effort, safe on a nil stream.
func (s *LocalStream) Stop() {
	if s == nil {
		return
	}
	for _, t := range s.Tracks {
		t.Stop()
	}
}

// MediaSource acquires local capture tracks (camera, microphone).
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (*LocalStream, error)
}

// MediaEngine is the media-plane device. It must be loaded with the router
// capabilities before any transport is created.
type MediaEngine interface {
	Load(caps Capabilities) error
	Loaded() bool
	// Capabilities returns the device's receiving capabilities, sent along
	// with consume requests.
	Capabilities() Capabilities
	CreateTransport(dir Direction, params TransportParams) (Transport, error)
}

// Transport is an engine-owned network path for one media direction.
//
// Intent callbacks must be registered before the first Produce or Consume
// call; each intent carries a single-use Reply the handler must settle
// exactly once.
type Transport interface {
	ID() domain.TransportID
	Direction() Direction
	State() TransportState

	// OnConnect is invoked once, when the transport needs its DTLS
	// parameters exchanged with the relay.
	OnConnect(func(dtls DtlsParameters, reply *Reply[struct{}]))
	// OnProduce is invoked once per published track on a send transport;
	// the handler resolves the reply with the server-issued producer id.
	OnProduce(func(intent ProduceIntent, reply *Reply[domain.ProducerID]))
	// OnStateChange is invoked on every transport state transition.
	OnStateChange(func(state TransportState))

	Produce(track Track) (Producer, error)
	Consume(params ConsumerParams) (Consumer, error)

	// Close is idempotent and never fails on an already-closed transport.
	Close() error
}

// Producer is a locally published track.
type Producer interface {
	ID() domain.ProducerID
	Kind() MediaKind
	Pause()
	Resume()
	Paused() bool
	// Close is idempotent.
	Close() error
	Closed() bool
}

// Consumer is a local subscription to a remote producer's track.
type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() MediaKind
	Track() Track
	Resume() error
	// Close is idempotent.
	Close() error
}
