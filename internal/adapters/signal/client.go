// Package signal implements the relay control-plane connection over a
// websocket: request/response calls correlated by id, plus push events.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"meetclient/internal/core"
	"meetclient/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const (
	sendQueueSize  = 32
	eventQueueSize = 64
	writeDeadline  = 5 * time.Second
)

// envelope is the wire frame for both directions.
type envelope struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is the websocket signaling channel. It also acts as the participant
// directory: peer ids learned from producer listings and events are kept so
// hangup targets can be reconciled against transport-level ids.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	events chan core.Event

	ready     chan struct{}
	readyOnce sync.Once

	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	pending map[string]chan envelope
	local   *domain.Peer
	peers   map[string]domain.PeerID // producer id -> directory peer id
}

// Dial connects to the relay control plane and starts the IO pumps. Ready()
// is closed once the server's welcome frame arrives.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		events:  make(chan core.Event, eventQueueSize),
		ready:   make(chan struct{}),
		cancel:  cancel,
		pending: make(map[string]chan envelope),
		peers:   make(map[string]domain.PeerID),
	}

	go c.writePump(pumpCtx)
	go c.readPump(pumpCtx)

	log.Info().Str("module", "signal").Str("url", url).Msg("connected")
	return c, nil
}

func (c *Client) Ready() <-chan struct{} { return c.ready }

func (c *Client) LocalPeerID() domain.PeerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local == nil {
		return ""
	}
	return c.local.ID
}

// LocalPeer returns the identity assigned by the welcome frame, or nil if the
// welcome has not arrived yet.
func (c *Client) LocalPeer() *domain.Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

func (c *Client) Events() <-chan core.Event { return c.events }

// PeerOf implements core.Directory.
func (c *Client) PeerOf(id string) (domain.PeerID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peer, ok := c.peers[id]
	return peer, ok
}

func (c *Client) trySend(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- frame:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close tears down the connection and fails every in-flight request.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan envelope)
	close(c.send)
	close(c.events)
	c.mu.Unlock()

	c.cancel()
	_ = c.conn.Close()
	for id, ch := range pending {
		ch <- envelope{ID: id, Error: ErrClosed.Error()}
	}
	log.Info().Str("module", "signal").Msg("closed")
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
				return
			}
			c.handleFrame(data)
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json frame")
		return
	}

	switch env.Type {
	case "welcome":
		c.handleWelcome(env)
	case "response":
		c.handleResponse(env)
	case "new_producer", "hangup", "room_closed":
		c.handleEvent(env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown frame type")
	}
}

func (c *Client) handleWelcome(env envelope) {
	var p struct {
		PeerID      domain.PeerID `json:"peer_id"`
		DisplayName string        `json:"display_name"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad welcome payload")
		return
	}
	if p.DisplayName == "" {
		p.DisplayName = "guest"
	}
	peer, err := domain.NewPeer(p.PeerID, p.DisplayName)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("welcome display name rejected")
		peer = &domain.Peer{ID: p.PeerID, DisplayName: "guest"}
	}
	c.mu.Lock()
	c.local = peer
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })
	log.Info().Str("module", "signal").Str("peer_id", string(p.PeerID)).Str("display_name", peer.DisplayName).Msg("welcome")
}

func (c *Client) handleResponse(env envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "signal").Str("id", env.ID).Msg("response for unknown request")
		return
	}
	ch <- env
}

func (c *Client) deliver(ev core.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		log.Warn().Str("module", "signal").Msg("event queue full, dropping")
	}
}

func (c *Client) handleEvent(env envelope) {
	switch env.Type {
	case "new_producer":
		var p struct {
			ProducerID domain.ProducerID `json:"producer_id"`
			PeerID     domain.PeerID     `json:"peer_id"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad new_producer payload")
			return
		}
		c.recordPeer(p.ProducerID, p.PeerID)
		c.deliver(core.NewProducerEvent{ProducerID: p.ProducerID, PeerID: p.PeerID})
	case "hangup":
		var p struct {
			PeerID domain.PeerID `json:"peer_id"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad hangup payload")
			return
		}
		c.deliver(core.HangupEvent{PeerID: p.PeerID})
	case "room_closed":
		var p struct {
			RoomID domain.RoomID `json:"room_id"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad room_closed payload")
			return
		}
		c.deliver(core.RoomClosedEvent{RoomID: p.RoomID})
	}
}

func (c *Client) recordPeer(producerID domain.ProducerID, peerID domain.PeerID) {
	if producerID == "" || peerID == "" {
		return
	}
	c.mu.Lock()
	c.peers[string(producerID)] = peerID
	c.mu.Unlock()
}
