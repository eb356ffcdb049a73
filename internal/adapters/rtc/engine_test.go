package rtc

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetclient/internal/core"
	"meetclient/internal/domain"
)

type testTrack struct {
	local *webrtc.TrackLocalStaticRTP
}

func newTestTrack(t *testing.T) *testTrack {
	t.Helper()
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"mic", "local",
	)
	require.NoError(t, err)
	return &testTrack{local: local}
}

func (t *testTrack) ID() string             { return t.local.ID() }
func (t *testTrack) Kind() core.MediaKind   { return core.KindAudio }
func (t *testTrack) Stop()                  {}
func (t *testTrack) RTP() webrtc.TrackLocal { return t.local }

func loadedEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(webrtc.Configuration{})
	require.NoError(t, e.Load(core.Capabilities{"codecs": []any{"opus"}}))
	return e
}

func TestEngineRequiresLoadBeforeTransports(t *testing.T) {
	e := NewEngine(webrtc.Configuration{})
	_, err := e.CreateTransport(core.DirectionSend, core.TransportParams{ID: "t1"})
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.False(t, e.Loaded())
}

func TestEngineLoadIsOneShot(t *testing.T) {
	e := loadedEngine(t)
	assert.True(t, e.Loaded())
	assert.Error(t, e.Load(core.Capabilities{}))
	assert.Contains(t, e.Capabilities(), "codecs")
}

func TestSendTransportRaisesConnectIntentOnce(t *testing.T) {
	e := loadedEngine(t)
	tr, err := e.CreateTransport(core.DirectionSend, core.TransportParams{ID: "t-send"})
	require.NoError(t, err)
	defer tr.Close()

	var connects atomic.Int32
	var gotDtls core.DtlsParameters
	tr.OnConnect(func(dtls core.DtlsParameters, reply *core.Reply[struct{}]) {
		connects.Add(1)
		gotDtls = dtls
		reply.Resolve(struct{}{})
	})
	var produces atomic.Int32
	tr.OnProduce(func(intent core.ProduceIntent, reply *core.Reply[domain.ProducerID]) {
		n := produces.Add(1)
		assert.Equal(t, domain.TransportID("t-send"), intent.TransportID)
		if n == 1 {
			reply.Resolve("p1")
		} else {
			reply.Resolve("p2")
		}
	})

	p1, err := tr.Produce(newTestTrack(t))
	require.NoError(t, err)
	p2, err := tr.Produce(newTestTrack(t))
	require.NoError(t, err)

	assert.Equal(t, int32(1), connects.Load())
	assert.Equal(t, int32(2), produces.Load())
	assert.Equal(t, domain.ProducerID("p1"), p1.ID())
	assert.Equal(t, domain.ProducerID("p2"), p2.ID())
	assert.NotEmpty(t, gotDtls.Fingerprints)
	assert.Equal(t, core.TransportConnected, tr.State())
}

func TestProduceWithoutConnectHandlerFails(t *testing.T) {
	e := loadedEngine(t)
	tr, err := e.CreateTransport(core.DirectionSend, core.TransportParams{ID: "t1"})
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Produce(newTestTrack(t))
	assert.Error(t, err)
}

func TestProduceRejectionDetachesTrack(t *testing.T) {
	e := loadedEngine(t)
	tr, err := e.CreateTransport(core.DirectionSend, core.TransportParams{ID: "t1"})
	require.NoError(t, err)
	defer tr.Close()

	tr.OnConnect(func(_ core.DtlsParameters, reply *core.Reply[struct{}]) {
		reply.Resolve(struct{}{})
	})
	tr.OnProduce(func(_ core.ProduceIntent, reply *core.Reply[domain.ProducerID]) {
		reply.Reject(assert.AnError)
	})

	_, err = tr.Produce(newTestTrack(t))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestConsumeOnSendTransportFails(t *testing.T) {
	e := loadedEngine(t)
	tr, err := e.CreateTransport(core.DirectionSend, core.TransportParams{ID: "t1"})
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Consume(core.ConsumerParams{ID: "c1", ProducerID: "p1", Kind: core.KindAudio})
	assert.Error(t, err)
}

func TestRecvTransportConsumerTrackKeyedByProducer(t *testing.T) {
	e := loadedEngine(t)
	tr, err := e.CreateTransport(core.DirectionRecv, core.TransportParams{ID: "t-recv"})
	require.NoError(t, err)
	defer tr.Close()

	tr.OnConnect(func(_ core.DtlsParameters, reply *core.Reply[struct{}]) {
		reply.Resolve(struct{}{})
	})

	consumer, err := tr.Consume(core.ConsumerParams{ID: "c1", ProducerID: "p9", Kind: core.KindAudio})
	require.NoError(t, err)

	assert.Equal(t, domain.ConsumerID("c1"), consumer.ID())
	assert.Equal(t, domain.ProducerID("p9"), consumer.ProducerID())
	assert.Equal(t, "p9", consumer.Track().ID())
	require.NoError(t, consumer.Resume())

	require.NoError(t, consumer.Close())
	require.NoError(t, consumer.Close())
	assert.Error(t, consumer.Resume())
}

func TestConcurrentConsumesShareOneConnect(t *testing.T) {
	e := loadedEngine(t)
	tr, err := e.CreateTransport(core.DirectionRecv, core.TransportParams{ID: "t-recv"})
	require.NoError(t, err)
	defer tr.Close()

	release := make(chan struct{})
	var connects atomic.Int32
	tr.OnConnect(func(_ core.DtlsParameters, reply *core.Reply[struct{}]) {
		connects.Add(1)
		<-release
		reply.Resolve(struct{}{})
	})

	errs := make(chan error, 2)
	consume := func(id domain.ConsumerID, producer domain.ProducerID) {
		_, err := tr.Consume(core.ConsumerParams{ID: id, ProducerID: producer, Kind: core.KindAudio})
		errs <- err
	}
	go consume("c1", "p1")
	go consume("c2", "p2")

	// Let both callers reach the connect window before it settles.
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, int32(1), connects.Load())
	assert.Equal(t, core.TransportConnected, tr.State())
}

func TestTransportCloseIsIdempotent(t *testing.T) {
	e := loadedEngine(t)
	tr, err := e.CreateTransport(core.DirectionSend, core.TransportParams{ID: "t1"})
	require.NoError(t, err)

	var last atomic.Value
	tr.OnStateChange(func(state core.TransportState) { last.Store(state) })

	require.NoError(t, tr.Close())
	assert.Equal(t, core.TransportClosed, tr.State())
	require.NoError(t, tr.Close())

	if v := last.Load(); v != nil {
		assert.Equal(t, core.TransportClosed, v.(core.TransportState))
	}
}

func TestConnectRejectionFailsTransport(t *testing.T) {
	e := loadedEngine(t)
	tr, err := e.CreateTransport(core.DirectionSend, core.TransportParams{ID: "t1"})
	require.NoError(t, err)
	defer tr.Close()

	tr.OnConnect(func(_ core.DtlsParameters, reply *core.Reply[struct{}]) {
		reply.Reject(assert.AnError)
	})
	tr.OnProduce(func(_ core.ProduceIntent, reply *core.Reply[domain.ProducerID]) {
		reply.Resolve("p1")
	})

	_, err = tr.Produce(newTestTrack(t))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, core.TransportFailed, tr.State())
}
