package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"meetclient/internal/core"
	"meetclient/internal/domain"
)

type fakeTrack struct {
	id   string
	kind core.MediaKind

	mu    sync.Mutex
	stops int
}

func (t *fakeTrack) ID() string           { return t.id }
func (t *fakeTrack) Kind() core.MediaKind { return t.kind }

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeSource struct {
	err    error
	tracks []core.Track
}

func (s *fakeSource) Acquire(context.Context, core.Constraints) (*core.LocalStream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &core.LocalStream{Tracks: s.tracks}, nil
}

// fakeSignal scripts the control plane. It records every call so tests can
// assert the join ordering.
type fakeSignal struct {
	mu sync.Mutex

	ready  chan struct{}
	peerID domain.PeerID
	events chan core.Event

	capsErr  error
	capsHang bool

	createTransportErr error
	consumeErr         map[domain.ProducerID]error
	roomProducers      []core.ProducerInfo

	calls        []string
	nextProducer int
	joinedRoom   domain.RoomID
	leaveCalls   int
	consumeCalls int
}

func newFakeSignal() *fakeSignal {
	ready := make(chan struct{})
	close(ready)
	return &fakeSignal{
		ready:      ready,
		peerID:     "me",
		events:     make(chan core.Event, 16),
		consumeErr: make(map[domain.ProducerID]error),
	}
}

func (s *fakeSignal) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *fakeSignal) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSignal) Ready() <-chan struct{}     { return s.ready }
func (s *fakeSignal) LocalPeerID() domain.PeerID { return s.peerID }
func (s *fakeSignal) Events() <-chan core.Event  { return s.events }

func (s *fakeSignal) GetCapabilities(ctx context.Context) (core.Capabilities, error) {
	s.record("get_capabilities")
	if s.capsHang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.capsErr != nil {
		return nil, s.capsErr
	}
	return core.Capabilities{"codecs": []any{"opus", "vp8"}}, nil
}

func (s *fakeSignal) CreateTransport(_ context.Context, dir core.Direction) (core.TransportParams, error) {
	s.record("create_transport:" + string(dir))
	if s.createTransportErr != nil {
		return core.TransportParams{}, s.createTransportErr
	}
	return core.TransportParams{ID: domain.TransportID("t-" + string(dir))}, nil
}

func (s *fakeSignal) ConnectTransport(_ context.Context, id domain.TransportID, _ core.DtlsParameters) error {
	s.record("connect_transport:" + string(id))
	return nil
}

func (s *fakeSignal) Produce(_ context.Context, req core.ProduceRequest) (domain.ProducerID, error) {
	s.record("produce:" + string(req.Kind))
	if req.RoomID == "" || req.PeerID == "" {
		return "", errors.New("produce request missing room or peer id")
	}
	s.mu.Lock()
	s.nextProducer++
	id := domain.ProducerID(fmt.Sprintf("local-p%d", s.nextProducer))
	s.mu.Unlock()
	return id, nil
}

func (s *fakeSignal) Consume(_ context.Context, req core.ConsumeRequest) (core.ConsumerParams, error) {
	s.record("consume:" + string(req.ProducerID))
	s.mu.Lock()
	s.consumeCalls++
	err := s.consumeErr[req.ProducerID]
	s.mu.Unlock()
	if err != nil {
		return core.ConsumerParams{}, err
	}
	return core.ConsumerParams{
		ID:         domain.ConsumerID("c-" + string(req.ProducerID)),
		ProducerID: req.ProducerID,
		Kind:       core.KindAudio,
	}, nil
}

func (s *fakeSignal) ListProducers(_ context.Context, _ domain.RoomID, _ domain.PeerID) ([]core.ProducerInfo, error) {
	s.record("list_producers")
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ProducerInfo(nil), s.roomProducers...), nil
}

func (s *fakeSignal) JoinRoom(_ context.Context, room domain.RoomID) error {
	s.record("join_room:" + string(room))
	s.mu.Lock()
	s.joinedRoom = room
	s.mu.Unlock()
	return nil
}

func (s *fakeSignal) LeaveRoom(context.Context) error {
	s.record("leave_room")
	s.mu.Lock()
	s.leaveCalls++
	s.mu.Unlock()
	return nil
}

func (s *fakeSignal) consumeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumeCalls
}

func (s *fakeSignal) push(ev core.Event) { s.events <- ev }

type fakeEngine struct {
	mu         sync.Mutex
	loaded     bool
	loads      int
	caps       core.Capabilities
	transports map[core.Direction]*fakeTransport
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{transports: make(map[core.Direction]*fakeTransport)}
}

// Load is one-shot, like the real engine.
func (e *fakeEngine) Load(caps core.Capabilities) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return errors.New("engine already loaded")
	}
	e.loaded = true
	e.loads++
	e.caps = caps
	return nil
}

func (e *fakeEngine) loadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

func (e *fakeEngine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *fakeEngine) Capabilities() core.Capabilities {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caps
}

func (e *fakeEngine) CreateTransport(dir core.Direction, params core.TransportParams) (core.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil, errors.New("engine not loaded")
	}
	t := &fakeTransport{id: params.ID, dir: dir}
	e.transports[dir] = t
	return t, nil
}

func (e *fakeEngine) transportCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.transports)
}

type fakeTransport struct {
	id  domain.TransportID
	dir core.Direction

	mu        sync.Mutex
	onConnect func(core.DtlsParameters, *core.Reply[struct{}])
	onProduce func(core.ProduceIntent, *core.Reply[domain.ProducerID])
	onState   func(core.TransportState)
	connected bool
	closes    int
	producers []*fakeProducer
	consumers []*fakeConsumer
}

func (t *fakeTransport) ID() domain.TransportID     { return t.id }
func (t *fakeTransport) Direction() core.Direction  { return t.dir }
func (t *fakeTransport) State() core.TransportState { return core.TransportConnected }

func (t *fakeTransport) OnConnect(fn func(core.DtlsParameters, *core.Reply[struct{}])) {
	t.mu.Lock()
	t.onConnect = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnProduce(fn func(core.ProduceIntent, *core.Reply[domain.ProducerID])) {
	t.mu.Lock()
	t.onProduce = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *fakeTransport) ensureConnected() error {
	t.mu.Lock()
	connected := t.connected
	handler := t.onConnect
	t.mu.Unlock()
	if connected {
		return nil
	}
	if handler == nil {
		return errors.New("connect handler not registered")
	}
	reply := core.NewReply[struct{}]()
	go handler(core.DtlsParameters{Role: "auto"}, reply)
	if _, err := reply.Wait(context.Background()); err != nil {
		return err
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Produce(track core.Track) (core.Producer, error) {
	if t.dir != core.DirectionSend {
		return nil, errors.New("produce on recv transport")
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
	reply := core.NewReply[domain.ProducerID]()
	go handler(core.ProduceIntent{TransportID: t.id, Kind: track.Kind()}, reply)
	id, err := reply.Wait(context.Background())
	if err != nil {
		return nil, err
	}
	p := &fakeProducer{id: id, kind: track.Kind()}
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	return p, nil
}

func (t *fakeTransport) Consume(params core.ConsumerParams) (core.Consumer, error) {
	if t.dir != core.DirectionRecv {
		return nil, errors.New("consume on send transport")
	}
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}
	c := &fakeConsumer{
		id:         params.ID,
		producerID: params.ProducerID,
		kind:       params.Kind,
		track:      &fakeTrack{id: string(params.ProducerID), kind: params.Kind},
	}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closes++
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(core.TransportClosed)
	}
	return nil
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

type fakeProducer struct {
	id   domain.ProducerID
	kind core.MediaKind

	mu     sync.Mutex
	paused bool
	closes int
}

func (p *fakeProducer) ID() domain.ProducerID { return p.id }
func (p *fakeProducer) Kind() core.MediaKind  { return p.kind }

func (p *fakeProducer) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *fakeProducer) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

func (p *fakeProducer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *fakeProducer) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

func (p *fakeProducer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes > 0
}

func (p *fakeProducer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type fakeConsumer struct {
	id         domain.ConsumerID
	producerID domain.ProducerID
	kind       core.MediaKind
	track      *fakeTrack

	mu      sync.Mutex
	resumes int
	closes  int
}

func (c *fakeConsumer) ID() domain.ConsumerID         { return c.id }
func (c *fakeConsumer) ProducerID() domain.ProducerID { return c.producerID }
func (c *fakeConsumer) Kind() core.MediaKind          { return c.kind }
func (c *fakeConsumer) Track() core.Track             { return c.track }

func (c *fakeConsumer) Resume() error {
	c.mu.Lock()
	c.resumes++
	c.mu.Unlock()
	return nil
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeConsumer) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeDirectory map[string]domain.PeerID

func (d fakeDirectory) PeerOf(id string) (domain.PeerID, bool) {
	peer, ok := d[id]
	return peer, ok
}
