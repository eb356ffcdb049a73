// Package media provides the local media source. Capture is synthetic
// (silence and blank frames) so the client runs headless without OS device
// access; the tracks are real pion tracks and publish like any capture.
package media

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"meetclient/internal/core"
)

var ErrNoKindsRequested = errors.New("no media kinds requested")

// opus silence frame
var silencePayload = []byte{0xf8, 0xff, 0xfe}

// minimal VP8 payload: descriptor byte + empty frame header
var blankFramePayload = []byte{0x10, 0x00, 0x9d, 0x01, 0x2a}

type SyntheticSource struct{}

func NewSyntheticSource() *SyntheticSource { return &SyntheticSource{} }

func (s *SyntheticSource) Acquire(_ context.Context, c core.Constraints) (*core.LocalStream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrNoKindsRequested
	}
	stream := &core.LocalStream{}
	if c.Audio {
		track, err := newSyntheticTrack(core.KindAudio)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.Tracks = append(stream.Tracks, track)
	}
	if c.Video {
		track, err := newSyntheticTrack(core.KindVideo)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.Tracks = append(stream.Tracks, track)
	}
	log.Info().Str("module", "media").Int("tracks", len(stream.Tracks)).Msg("acquired local media")
	return stream, nil
}

type syntheticTrack struct {
	id    string
	kind  core.MediaKind
	local *webrtc.TrackLocalStaticRTP

	stopOnce sync.Once
	stopped  chan struct{}
}

func newSyntheticTrack(kind core.MediaKind) (*syntheticTrack, error) {
	var codec webrtc.RTPCodecCapability
	switch kind {
	case core.KindAudio:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	case core.KindVideo:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	default:
		return nil, errors.New("unknown media kind")
	}

	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(codec, id, "local")
	if err != nil {
		return nil, err
	}
	t := &syntheticTrack{
		id:      id,
		kind:    kind,
		local:   local,
		stopped: make(chan struct{}),
	}
	go t.pump()
	return t, nil
}

func (t *syntheticTrack) ID() string             { return t.id }
func (t *syntheticTrack) Kind() core.MediaKind   { return t.kind }
func (t *syntheticTrack) RTP() webrtc.TrackLocal { return t.local }

func (t *syntheticTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// pump writes one RTP packet per frame interval until the track stops.
// Writes to an unbound track are no-ops, so the pump can start before the
// track is attached to a transport.
func (t *syntheticTrack) pump() {
	interval := 20 * time.Millisecond
	payload := silencePayload
	var tsStep uint32 = 960 // 20ms at 48kHz
	if t.kind == core.KindVideo {
		interval = 33 * time.Millisecond
		payload = blankFramePayload
		tsStep = 3000 // ~33ms at 90kHz
	}

	seq := uint16(rand.Uint32())
	ts := rand.Uint32()
	ssrc := rand.Uint32()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopped:
			return
		case <-ticker.C:
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         t.kind == core.KindVideo,
					SequenceNumber: seq,
					Timestamp:      ts,
					SSRC:           ssrc,
				},
				Payload: payload,
			}
			if err := t.local.WriteRTP(pkt); err != nil {
				log.Debug().Err(err).Str("module", "media").Str("track_id", t.id).Msg("write RTP")
			}
			seq++
			ts += tsStep
		}
	}
}
