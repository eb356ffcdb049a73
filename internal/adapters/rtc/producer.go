package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"meetclient/internal/core"
	"meetclient/internal/domain"
)

// Producer wraps an RTPSender for one published local track. Pause detaches
// the track from the sender; Resume reattaches it.
type Producer struct {
	id     domain.ProducerID
	kind   core.MediaKind
	sender *webrtc.RTPSender
	track  RTPTrack

	mu     sync.Mutex
	paused bool
	closed bool
}

func newProducer(id domain.ProducerID, kind core.MediaKind, sender *webrtc.RTPSender, track RTPTrack) *Producer {
	return &Producer{id: id, kind: kind, sender: sender, track: track}
}

func (p *Producer) ID() domain.ProducerID { return p.id }
func (p *Producer) Kind() core.MediaKind  { return p.kind }

func (p *Producer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused || p.closed {
		return
	}
	if err := p.sender.ReplaceTrack(nil); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("producer_id", string(p.id)).Msg("pause")
		return
	}
	p.paused = true
}

func (p *Producer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused || p.closed {
		return
	}
	if err := p.sender.ReplaceTrack(p.track.RTP()); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("producer_id", string(p.id)).Msg("resume")
		return
	}
	p.paused = false
}

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Close is idempotent.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.sender.Stop()
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
