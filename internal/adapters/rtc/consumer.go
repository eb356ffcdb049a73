package rtc

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"meetclient/internal/core"
	"meetclient/internal/domain"
)

var ErrConsumerClosed = errors.New("consumer closed")

// Consumer is one subscription to a remote producer's track.
type Consumer struct {
	id         domain.ConsumerID
	producerID domain.ProducerID
	kind       core.MediaKind
	track      *remoteTrack
	transport  *Transport

	mu     sync.Mutex
	closed bool
}

func newConsumer(params core.ConsumerParams, track *remoteTrack, t *Transport) *Consumer {
	return &Consumer{
		id:         params.ID,
		producerID: params.ProducerID,
		kind:       params.Kind,
		track:      track,
		transport:  t,
	}
}

func (c *Consumer) ID() domain.ConsumerID         { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID { return c.producerID }
func (c *Consumer) Kind() core.MediaKind          { return c.kind }
func (c *Consumer) Track() core.Track             { return c.track }

// Resume marks the consumer ready to receive. The track's read loop starts
// once the media arrives.
func (c *Consumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConsumerClosed
	}
	c.track.resume()
	return nil
}

// Close is idempotent.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.track.Stop()
	c.transport.forgetPending(string(c.producerID))
	return nil
}

// remoteTrack is the playable track for one consumed producer. Its id is the
// producer id, which keeps registry aggregation idempotent per producer.
type remoteTrack struct {
	id   string
	kind core.MediaKind

	packets atomic.Uint64
	bytes   atomic.Uint64

	mu       sync.Mutex
	src      *webrtc.TrackRemote
	active   bool
	stopOnce sync.Once
	stopped  chan struct{}
}

func newRemoteTrack(id string, kind core.MediaKind) *remoteTrack {
	return &remoteTrack{id: id, kind: kind, stopped: make(chan struct{})}
}

func (rt *remoteTrack) ID() string           { return rt.id }
func (rt *remoteTrack) Kind() core.MediaKind { return rt.kind }

func (rt *remoteTrack) Stop() {
	rt.stopOnce.Do(func() { close(rt.stopped) })
}

func (rt *remoteTrack) resume() {
	rt.mu.Lock()
	rt.active = true
	src := rt.src
	rt.mu.Unlock()
	if src != nil {
		go rt.pump(src)
	}
}

func (rt *remoteTrack) bind(src *webrtc.TrackRemote) {
	rt.mu.Lock()
	if rt.src != nil {
		rt.mu.Unlock()
		return
	}
	rt.src = src
	active := rt.active
	rt.mu.Unlock()
	if active {
		go rt.pump(src)
	}
}

// pump drains the source track until the consumer stops. Keeps RTCP feedback
// flowing and counts traffic for diagnostics.
func (rt *remoteTrack) pump(src *webrtc.TrackRemote) {
	for {
		select {
		case <-rt.stopped:
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("track_id", rt.id).Msg("read RTP stopped")
			return
		}
		rt.packets.Add(1)
		rt.bytes.Add(uint64(pkt.MarshalSize()))
	}
}
