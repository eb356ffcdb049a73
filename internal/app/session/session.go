// Package session drives a participant's device through the join protocol:
// capability negotiation, transport establishment, track publication, remote
// subscription, and teardown.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"meetclient/internal/core"
	"meetclient/internal/domain"
)

// Deps are the session's external collaborators.
type Deps struct {
	Signal core.SignalChannel
	Engine core.MediaEngine
	Source core.MediaSource
	// Directory is optional; without it hangup reconciliation only uses
	// exact key matches.
	Directory core.Directory
	// Metrics is optional; a private registry is used when nil.
	Metrics *Metrics
	// OpTimeout bounds each signaling/engine call. Zero means unbounded.
	OpTimeout   time.Duration
	Constraints core.Constraints
}

// Session is one active room membership. It exclusively owns its transports,
// producers, consumers, and local tracks.
type Session struct {
	signal      core.SignalChannel
	engine      core.MediaEngine
	source      core.MediaSource
	directory   core.Directory
	metrics     *Metrics
	opTimeout   time.Duration
	constraints core.Constraints

	registry *PeerStreamRegistry
	closed   chan domain.RoomID

	// set while Leave runs so transport-closed transitions caused by our
	// own teardown are not reported as failures
	tearingDown atomic.Bool

	mu            sync.Mutex
	roomID        domain.RoomID
	joined        bool
	err           error
	localStream   *core.LocalStream
	caps          core.Capabilities
	sendTransport core.Transport
	recvTransport core.Transport
	producers     []core.Producer
	producerIDs   map[domain.ProducerID]struct{}
	consumers     map[domain.ConsumerID]core.Consumer
	stopEvents    context.CancelFunc
}

func New(deps Deps) *Session {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Session{
		signal:      deps.Signal,
		engine:      deps.Engine,
		source:      deps.Source,
		directory:   deps.Directory,
		metrics:     metrics,
		opTimeout:   deps.OpTimeout,
		constraints: deps.Constraints,
		registry:    NewPeerStreamRegistry(),
		closed:      make(chan domain.RoomID, 1),
		producerIDs: make(map[domain.ProducerID]struct{}),
		consumers:   make(map[domain.ConsumerID]core.Consumer),
	}
}

// opCtx applies the configured per-operation deadline, if any.
func (s *Session) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Join runs the ordered join protocol for roomID. On failure the session
// error is set and whatever was created stays allocated; the caller observes
// the error and calls Leave to clean up.
func (s *Session) Join(ctx context.Context, roomID domain.RoomID) error {
	s.reset(roomID)

	if err := s.join(ctx, roomID); err != nil {
		log.Error().Err(err).Str("module", "session").Str("room", string(roomID)).Msg("join failed")
		s.setErr(err)
		s.metrics.joinFailures.Inc()
		return err
	}

	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
	s.metrics.joins.Inc()
	log.Info().Str("module", "session").Str("room", string(roomID)).Msg("joined")
	return nil
}

func (s *Session) reset(roomID domain.RoomID) {
	// A prior membership that was never left still holds transports and
	// producers; release them before the new join allocates its own.
	s.tearingDown.Store(true)
	s.releaseMedia()
	s.tearingDown.Store(false)

	s.mu.Lock()
	s.roomID = roomID
	s.joined = false
	s.err = nil
	s.caps = nil
	s.mu.Unlock()
}

func (s *Session) join(ctx context.Context, roomID domain.RoomID) error {
	// Wait until the control connection is established. Bounded only by the
	// channel's own connect timeout unless OpTimeout is configured.
	waitCtx, cancel := s.opCtx(ctx)
	select {
	case <-s.signal.Ready():
		cancel()
	case <-waitCtx.Done():
		cancel()
		return waitCtx.Err()
	}

	acqCtx, cancel := s.opCtx(ctx)
	stream, err := s.source.Acquire(acqCtx, s.constraints)
	cancel()
	if err != nil {
		stream.Stop()
		return fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}
	s.mu.Lock()
	s.localStream = stream
	s.mu.Unlock()

	capsCtx, cancel := s.opCtx(ctx)
	caps, err := s.signal.GetCapabilities(capsCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrCapabilityLoad, err)
	}
	// The engine loads once per process; a rejoin reuses the loaded device.
	if !s.engine.Loaded() {
		if err := s.engine.Load(caps); err != nil {
			return fmt.Errorf("%w: %v", core.ErrCapabilityLoad, err)
		}
	}
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()

	sendT, err := s.createTransport(ctx, core.DirectionSend, roomID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sendTransport = sendT
	s.mu.Unlock()

	recvT, err := s.createTransport(ctx, core.DirectionRecv, roomID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.recvTransport = recvT
	s.mu.Unlock()

	for _, track := range stream.Tracks {
		producer, err := sendT.Produce(track)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrProduce, err)
		}
		s.addProducer(producer)
	}

	// Live events must be routed from here on: the join announcement makes
	// this session visible to the relay's participant directory.
	s.startEventLoop()

	joinCtx, cancel := s.opCtx(ctx)
	err = s.signal.JoinRoom(joinCtx, roomID)
	cancel()
	if err != nil {
		return err
	}

	listCtx, cancel := s.opCtx(ctx)
	infos, err := s.signal.ListProducers(listCtx, roomID, s.signal.LocalPeerID())
	cancel()
	if err != nil {
		return err
	}
	for _, info := range infos {
		if s.hasProducer(info.ID) {
			continue
		}
		if err := s.subscribe(ctx, info.ID, info.PeerID); err != nil {
			// Intentionally quieter than the live new-producer path.
			log.Debug().Err(err).Str("module", "session").Str("producer_id", string(info.ID)).Msg("initial subscribe skipped")
		}
	}
	return nil
}

// createTransport requests transport parameters from signaling, instantiates
// the engine transport, and wires the intent handlers before any media flows.
func (s *Session) createTransport(ctx context.Context, dir core.Direction, roomID domain.RoomID) (core.Transport, error) {
	createCtx, cancel := s.opCtx(ctx)
	params, err := s.signal.CreateTransport(createCtx, dir)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransportCreation, err)
	}

	transport, err := s.engine.CreateTransport(dir, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransportCreation, err)
	}

	transport.OnConnect(func(dtls core.DtlsParameters, reply *core.Reply[struct{}]) {
		connectCtx, cancel := s.opCtx(context.Background())
		defer cancel()
		if err := s.signal.ConnectTransport(connectCtx, transport.ID(), dtls); err != nil {
			reply.Reject(fmt.Errorf("%w: %v", core.ErrTransportConnect, err))
			return
		}
		reply.Resolve(struct{}{})
	})

	if dir == core.DirectionSend {
		transport.OnProduce(func(intent core.ProduceIntent, reply *core.Reply[domain.ProducerID]) {
			produceCtx, cancel := s.opCtx(context.Background())
			defer cancel()
			id, err := s.signal.Produce(produceCtx, core.ProduceRequest{
				TransportID:   intent.TransportID,
				Kind:          intent.Kind,
				RtpParameters: intent.RtpParameters,
				RoomID:        roomID,
				PeerID:        s.signal.LocalPeerID(),
			})
			if err != nil {
				reply.Reject(fmt.Errorf("%w: %v", core.ErrProduce, err))
				return
			}
			reply.Resolve(id)
		})
	}

	transport.OnStateChange(func(state core.TransportState) {
		if !state.Terminal() || s.tearingDown.Load() {
			return
		}
		// Session-fatal for this direction; cleanup stays with Leave.
		s.setErr(fmt.Errorf("%w: %s transport %s", core.ErrTransportFailed, dir, state))
	})

	log.Info().Str("module", "session").Str("direction", string(dir)).Str("transport_id", string(transport.ID())).Msg("transport created")
	return transport, nil
}

// subscribe consumes one remote producer on the receive transport, resumes
// it, and aggregates its track under the best available peer key.
func (s *Session) subscribe(ctx context.Context, producerID domain.ProducerID, peerID domain.PeerID) error {
	s.mu.Lock()
	recvT := s.recvTransport
	s.mu.Unlock()
	if recvT == nil {
		return fmt.Errorf("%w: no receive transport", core.ErrConsume)
	}

	consumeCtx, cancel := s.opCtx(ctx)
	params, err := s.signal.Consume(consumeCtx, core.ConsumeRequest{
		TransportID:  recvT.ID(),
		ProducerID:   producerID,
		Capabilities: s.engine.Capabilities(),
	})
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrConsume, err)
	}

	consumer, err := recvT.Consume(params)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrConsume, err)
	}
	if err := consumer.Resume(); err != nil {
		_ = consumer.Close()
		return fmt.Errorf("%w: %v", core.ErrConsume, err)
	}

	key := domain.PeerKey(producerID)
	if peerID != "" {
		key = domain.PeerKey(peerID)
	} else if params.PeerID != "" {
		key = domain.PeerKey(params.PeerID)
	}

	s.mu.Lock()
	s.consumers[consumer.ID()] = consumer
	consumerCount := len(s.consumers)
	s.mu.Unlock()

	s.registry.AddTrack(key, consumer.Track())
	s.metrics.consumers.Set(float64(consumerCount))
	s.metrics.remoteStreams.Set(float64(s.registry.Len()))

	log.Info().
		Str("module", "session").
		Str("producer_id", string(producerID)).
		Str("consumer_id", string(consumer.ID())).
		Str("peer_key", string(key)).
		Msg("subscribed")
	return nil
}

func (s *Session) addProducer(p core.Producer) {
	s.mu.Lock()
	s.producers = append(s.producers, p)
	s.producerIDs[p.ID()] = struct{}{}
	count := len(s.producers)
	s.mu.Unlock()
	s.metrics.producers.Set(float64(count))
}

func (s *Session) hasProducer(id domain.ProducerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.producerIDs[id]
	return ok
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Leave tears the session down. Idempotent and unconditional: every release
// is independent and best-effort, and no failure stops the rest.
func (s *Session) Leave() {
	s.tearingDown.Store(true)
	defer s.tearingDown.Store(false)

	s.stopEventLoop()

	s.releaseMedia()

	s.mu.Lock()
	s.joined = false
	s.caps = nil
	s.mu.Unlock()

	leaveCtx, cancel := s.opCtx(context.Background())
	defer cancel()
	if err := s.signal.LeaveRoom(leaveCtx); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("leave room notify")
	}

	log.Info().Str("module", "session").Msg("left")
}

// releaseMedia stops and closes every held media resource: local tracks,
// transports, producers, consumers, and the registry. Each release is
// independent and best-effort.
func (s *Session) releaseMedia() {
	s.mu.Lock()
	stream := s.localStream
	sendT := s.sendTransport
	recvT := s.recvTransport
	producers := s.producers
	consumers := s.consumers
	s.localStream = nil
	s.sendTransport = nil
	s.recvTransport = nil
	s.producers = nil
	s.producerIDs = make(map[domain.ProducerID]struct{})
	s.consumers = make(map[domain.ConsumerID]core.Consumer)
	s.mu.Unlock()

	stream.Stop()

	closeTransport := func(t core.Transport) {
		if t == nil {
			return
		}
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("transport_id", string(t.ID())).Msg("transport close")
		}
	}
	closeTransport(sendT)
	closeTransport(recvT)

	for _, p := range producers {
		if err := p.Close(); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("producer_id", string(p.ID())).Msg("producer close")
		}
	}
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("consumer_id", string(c.ID())).Msg("consumer close")
		}
	}

	s.registry.Clear()

	s.metrics.producers.Set(0)
	s.metrics.consumers.Set(0)
	s.metrics.remoteStreams.Set(0)
}

// MuteAudio pauses or resumes every local audio producer.
func (s *Session) MuteAudio(muted bool) { s.setPaused(core.KindAudio, muted) }

// MuteVideo pauses or resumes every local video producer.
func (s *Session) MuteVideo(muted bool) { s.setPaused(core.KindVideo, muted) }

func (s *Session) setPaused(kind core.MediaKind, paused bool) {
	s.mu.Lock()
	producers := make([]core.Producer, len(s.producers))
	copy(producers, s.producers)
	s.mu.Unlock()
	for _, p := range producers {
		if p.Kind() != kind {
			continue
		}
		if paused {
			p.Pause()
		} else {
			p.Resume()
		}
	}
}

// Snapshot is the read-only session state exposed to the UI layer.
type Snapshot struct {
	RoomID        domain.RoomID
	Joined        bool
	LocalTracks   []core.Track
	RemoteStreams map[domain.PeerKey][]core.Track
	Err           error
}

// State returns a consistent copy of the session state.
func (s *Session) State() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		RoomID: s.roomID,
		Joined: s.joined,
		Err:    s.err,
	}
	if s.localStream != nil {
		snap.LocalTracks = append([]core.Track(nil), s.localStream.Tracks...)
	}
	s.mu.Unlock()
	snap.RemoteStreams = s.registry.Snapshot()
	return snap
}

// Err returns the most recent session-level error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Producers returns the ids of locally published tracks, in publish order.
func (s *Session) Producers() []domain.ProducerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProducerID, 0, len(s.producers))
	for _, p := range s.producers {
		out = append(out, p.ID())
	}
	return out
}

// Closed signals that the relay closed the current room; the caller should
// navigate away from the session view.
func (s *Session) Closed() <-chan domain.RoomID {
	return s.closed
}
