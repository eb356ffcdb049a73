package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"meetclient/internal/core"
	"meetclient/internal/domain"
)

// request sends one correlated call and waits for its response frame.
func (c *Client) request(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	var data json.RawMessage
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", method, err)
		}
		data = buf
	}

	id := uuid.NewString()
	frame, err := json.Marshal(envelope{Type: method, ID: id, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	ch := make(chan envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.trySend(frame); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("%s: %s", method, resp.Error)
		}
		return resp.Data, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Client) GetCapabilities(ctx context.Context) (core.Capabilities, error) {
	data, err := c.request(ctx, "get_capabilities", nil)
	if err != nil {
		return nil, err
	}
	var caps core.Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	return caps, nil
}

func (c *Client) CreateTransport(ctx context.Context, dir core.Direction) (core.TransportParams, error) {
	payload := struct {
		Direction core.Direction `json:"direction"`
	}{Direction: dir}
	data, err := c.request(ctx, "create_transport", payload)
	if err != nil {
		return core.TransportParams{}, err
	}
	var params core.TransportParams
	if err := json.Unmarshal(data, &params); err != nil {
		return core.TransportParams{}, fmt.Errorf("decode transport params: %w", err)
	}
	if params.ID == "" {
		return core.TransportParams{}, errors.New("transport params missing id")
	}
	return params, nil
}

func (c *Client) ConnectTransport(ctx context.Context, id domain.TransportID, dtls core.DtlsParameters) error {
	payload := struct {
		TransportID    domain.TransportID  `json:"transport_id"`
		DtlsParameters core.DtlsParameters `json:"dtls_parameters"`
	}{TransportID: id, DtlsParameters: dtls}
	_, err := c.request(ctx, "connect_transport", payload)
	return err
}

func (c *Client) Produce(ctx context.Context, req core.ProduceRequest) (domain.ProducerID, error) {
	data, err := c.request(ctx, "produce", req)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID domain.ProducerID `json:"id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode produce response: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("produce response missing id")
	}
	return resp.ID, nil
}

func (c *Client) Consume(ctx context.Context, req core.ConsumeRequest) (core.ConsumerParams, error) {
	data, err := c.request(ctx, "consume", req)
	if err != nil {
		return core.ConsumerParams{}, err
	}
	var params core.ConsumerParams
	if err := json.Unmarshal(data, &params); err != nil {
		return core.ConsumerParams{}, fmt.Errorf("decode consumer params: %w", err)
	}
	c.recordPeer(params.ProducerID, params.PeerID)
	return params, nil
}

func (c *Client) ListProducers(ctx context.Context, room domain.RoomID, exclude domain.PeerID) ([]core.ProducerInfo, error) {
	payload := struct {
		RoomID  domain.RoomID `json:"room_id"`
		Exclude domain.PeerID `json:"exclude_peer_id,omitempty"`
	}{RoomID: room, Exclude: exclude}
	data, err := c.request(ctx, "list_producers", payload)
	if err != nil {
		return nil, err
	}
	var infos []core.ProducerInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		return nil, fmt.Errorf("decode producer list: %w", err)
	}
	for _, info := range infos {
		c.recordPeer(info.ID, info.PeerID)
	}
	return infos, nil
}

func (c *Client) JoinRoom(ctx context.Context, room domain.RoomID) error {
	payload := struct {
		RoomID domain.RoomID `json:"room_id"`
	}{RoomID: room}
	_, err := c.request(ctx, "join_room", payload)
	return err
}

func (c *Client) LeaveRoom(ctx context.Context) error {
	_, err := c.request(ctx, "leave_room", nil)
	return err
}
