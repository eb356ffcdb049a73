package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"meetclient/internal/core"
	"meetclient/internal/domain"
)

// RTPTrack is implemented by local tracks that can be attached to a pion
// PeerConnection. The media source provides these.
type RTPTrack interface {
	core.Track
	RTP() webrtc.TrackLocal
}

// Transport is one negotiated media path. The state machine mirrors the
// lifecycle the orchestrator observes: created, connecting, connected, with
// terminal failed/closed reachable from any non-terminal state.
type Transport struct {
	id      domain.TransportID
	dir     core.Direction
	pc      *webrtc.PeerConnection
	cert    *webrtc.Certificate
	machine *fsm.FSM

	mu          sync.Mutex
	onConnect   func(core.DtlsParameters, *core.Reply[struct{}])
	onProduce   func(core.ProduceIntent, *core.Reply[domain.ProducerID])
	onState     func(core.TransportState)
	connectDone chan struct{} // non-nil once a connect is in flight or settled
	connectErr  error         // valid after connectDone is closed
	closed      bool
	pending     map[string]*remoteTrack // producer id -> unbound remote track
}

func newTransport(dir core.Direction, params core.TransportParams, pc *webrtc.PeerConnection, cert *webrtc.Certificate) *Transport {
	t := &Transport{
		id:      params.ID,
		dir:     dir,
		pc:      pc,
		cert:    cert,
		pending: make(map[string]*remoteTrack),
	}
	t.machine = fsm.NewFSM(
		string(core.TransportCreated),
		fsm.Events{
			{Name: "connect", Src: []string{string(core.TransportCreated)}, Dst: string(core.TransportConnecting)},
			{Name: "established", Src: []string{string(core.TransportConnecting)}, Dst: string(core.TransportConnected)},
			{Name: "fail", Src: []string{string(core.TransportCreated), string(core.TransportConnecting), string(core.TransportConnected)}, Dst: string(core.TransportFailed)},
			{Name: "close", Src: []string{string(core.TransportCreated), string(core.TransportConnecting), string(core.TransportConnected)}, Dst: string(core.TransportClosed)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				t.notifyState(core.TransportState(e.Dst))
			},
		},
	)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("transport_id", string(t.id)).Str("peer_connection_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			_ = t.machine.Event(context.Background(), "fail")
		case webrtc.PeerConnectionStateClosed:
			_ = t.machine.Event(context.Background(), "close")
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("transport_id", string(t.id)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track arrived")
		t.bindRemote(track)
	})

	return t
}

func (t *Transport) ID() domain.TransportID    { return t.id }
func (t *Transport) Direction() core.Direction { return t.dir }

func (t *Transport) State() core.TransportState {
	return core.TransportState(t.machine.Current())
}

func (t *Transport) OnConnect(fn func(core.DtlsParameters, *core.Reply[struct{}])) {
	t.mu.Lock()
	t.onConnect = fn
	t.mu.Unlock()
}

func (t *Transport) OnProduce(fn func(core.ProduceIntent, *core.Reply[domain.ProducerID])) {
	t.mu.Lock()
	t.onProduce = fn
	t.mu.Unlock()
}

func (t *Transport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *Transport) notifyState(state core.TransportState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (t *Transport) localDtlsParameters() core.DtlsParameters {
	params := core.DtlsParameters{Role: "auto"}
	if t.cert == nil {
		return params
	}
	fps, err := t.cert.GetFingerprints()
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("certificate fingerprints")
		return params
	}
	for _, fp := range fps {
		params.Fingerprints = append(params.Fingerprints, core.DtlsFingerprint{
			Algorithm: fp.Algorithm,
			Value:     fp.Value,
		})
	}
	return params
}

// ensureConnected raises the connect intent exactly once, before the first
// media operation. Callers arriving while the connect is in flight wait on it
// and share its outcome instead of raising a second intent.
func (t *Transport) ensureConnected() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("transport closed")
	}
	if t.connectDone != nil {
		done := t.connectDone
		t.mu.Unlock()
		<-done
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.connectErr
	}
	handler := t.onConnect
	if handler == nil {
		t.mu.Unlock()
		return errors.New("connect handler not registered")
	}
	done := make(chan struct{})
	t.connectDone = done
	t.mu.Unlock()

	err := t.runConnect(handler)
	t.mu.Lock()
	t.connectErr = err
	t.mu.Unlock()
	close(done)
	return err
}

func (t *Transport) runConnect(handler func(core.DtlsParameters, *core.Reply[struct{}])) error {
	if err := t.machine.Event(context.Background(), "connect"); err != nil {
		return err
	}
	reply := core.NewReply[struct{}]()
	go handler(t.localDtlsParameters(), reply)
	if _, err := reply.Wait(context.Background()); err != nil {
		_ = t.machine.Event(context.Background(), "fail")
		return err
	}
	return t.machine.Event(context.Background(), "established")
}

// Produce publishes a local track: attaches it to the PeerConnection, raises
// the produce intent, and waits for the server-issued producer id.
func (t *Transport) Produce(track core.Track) (core.Producer, error) {
	if t.dir != core.DirectionSend {
		return nil, fmt.Errorf("produce on %s transport", t.dir)
	}
	local, ok := track.(RTPTrack)
	if !ok {
		return nil, fmt.Errorf("track %s is not attachable", track.ID())
	}
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	handler := t.onProduce
	t.mu.Unlock()
	if handler == nil {
		return nil, errors.New("produce handler not registered")
	}

	sender, err := t.pc.AddTrack(local.RTP())
	if err != nil {
		return nil, err
	}

	rtpParams, err := json.Marshal(sender.GetParameters())
	if err != nil {
		rtpParams = nil
	}
	reply := core.NewReply[domain.ProducerID]()
	go handler(core.ProduceIntent{
		TransportID:   t.id,
		Kind:          track.Kind(),
		RtpParameters: rtpParams,
	}, reply)

	id, err := reply.Wait(context.Background())
	if err != nil {
		_ = t.pc.RemoveTrack(sender)
		return nil, err
	}
	return newProducer(id, track.Kind(), sender, local), nil
}

// Consume subscribes to a remote producer. The returned consumer's track
// binds once the matching media arrives on the PeerConnection.
func (t *Transport) Consume(params core.ConsumerParams) (core.Consumer, error) {
	if t.dir != core.DirectionRecv {
		return nil, fmt.Errorf("consume on %s transport", t.dir)
	}
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}

	codecType := webrtc.NewRTPCodecType(string(params.Kind))
	if _, err := t.pc.AddTransceiverFromKind(codecType, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return nil, err
	}

	track := newRemoteTrack(string(params.ProducerID), params.Kind)
	t.mu.Lock()
	t.pending[string(params.ProducerID)] = track
	t.mu.Unlock()

	return newConsumer(params, track, t), nil
}

// bindRemote attaches an arriving pion track to the consumer waiting for its
// producer. Producer id is carried as the remote stream id.
func (t *Transport) bindRemote(src *webrtc.TrackRemote) {
	t.mu.Lock()
	track, ok := t.pending[src.StreamID()]
	if !ok {
		track, ok = t.pending[src.ID()]
	}
	t.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "rtc").Str("stream_id", src.StreamID()).Msg("remote track without consumer")
		return
	}
	track.bind(src)
}

func (t *Transport) forgetPending(producerID string) {
	t.mu.Lock()
	delete(t.pending, producerID)
	t.mu.Unlock()
}

// Close is idempotent; closing an already-closed transport is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	pending := t.pending
	t.pending = make(map[string]*remoteTrack)
	t.mu.Unlock()

	for _, track := range pending {
		track.Stop()
	}
	_ = t.machine.Event(context.Background(), "close")
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("transport_id", string(t.id)).Msg("close error")
		return err
	}
	log.Info().Str("module", "rtc").Str("transport_id", string(t.id)).Msg("closed")
	return nil
}
