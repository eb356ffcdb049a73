package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"meetclient/internal/core"
	"meetclient/internal/domain"
)

func (s *Session) startEventLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.stopEvents != nil {
		s.stopEvents()
	}
	s.stopEvents = cancel
	s.mu.Unlock()
	go s.routeEvents(ctx)
}

// stopEventLoop deregisters the live listeners so no event is delivered into
// a torn-down session. It does not wait for the loop: Leave may run on the
// loop goroutine itself (room-closed handling).
func (s *Session) stopEventLoop() {
	s.mu.Lock()
	stop := s.stopEvents
	s.stopEvents = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (s *Session) routeEvents(ctx context.Context) {
	events := s.signal.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				log.Info().Str("module", "session").Msg("event channel closed")
				return
			}
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev core.Event) {
	switch e := ev.(type) {
	case core.NewProducerEvent:
		s.onNewProducer(ctx, e)
	case core.HangupEvent:
		s.onHangup(e)
	case core.RoomClosedEvent:
		s.onRoomClosed(e)
	}
}

// onNewProducer subscribes to a remote producer announced while the session
// is live. Failures are logged and swallowed; they never stop the listener.
func (s *Session) onNewProducer(ctx context.Context, ev core.NewProducerEvent) {
	if s.hasProducer(ev.ProducerID) {
		log.Debug().Str("module", "session").Str("producer_id", string(ev.ProducerID)).Msg("own producer echoed, ignoring")
		return
	}
	if err := s.subscribe(ctx, ev.ProducerID, ev.PeerID); err != nil {
		log.Error().Err(err).Str("module", "session").Str("producer_id", string(ev.ProducerID)).Msg("subscribe to new producer failed")
	}
}

// onHangup removes the departed peer's aggregated stream. Resolution is
// two-phase: exact match on the registry key, then a directory-assisted
// lookup mapping transport-level keys to directory peer ids.
func (s *Session) onHangup(ev core.HangupEvent) {
	if s.removePeer(ev.PeerID) {
		s.metrics.remoteStreams.Set(float64(s.registry.Len()))
		return
	}
	log.Debug().Str("module", "session").Str("peer_id", string(ev.PeerID)).Msg("hangup for unknown peer, ignoring")
}

func (s *Session) removePeer(peerID domain.PeerID) bool {
	if s.registry.Remove(domain.PeerKey(peerID)) {
		return true
	}
	if s.directory == nil {
		return false
	}
	for _, key := range s.registry.Keys() {
		id, ok := s.directory.PeerOf(string(key))
		if !ok {
			continue
		}
		// Deliberately loose: keys and directory ids may differ in type
		// but match by value.
		if string(id) == string(peerID) {
			return s.registry.Remove(key)
		}
	}
	return false
}

func (s *Session) onRoomClosed(ev core.RoomClosedEvent) {
	s.mu.Lock()
	current := s.roomID
	s.mu.Unlock()
	if ev.RoomID != current {
		return
	}
	log.Info().Str("module", "session").Str("room", string(ev.RoomID)).Msg("room closed by relay")
	s.Leave()
	select {
	case s.closed <- ev.RoomID:
	default:
	}
}
