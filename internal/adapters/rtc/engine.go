// Package rtc implements the media transport engine on pion/webrtc.
package rtc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"meetclient/internal/core"
)

var ErrNotLoaded = errors.New("engine not loaded")

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Engine is the media-plane device. Load must run with the router
// capabilities before any transport is created.
type Engine struct {
	mu     sync.RWMutex
	cfg    webrtc.Configuration
	cert   *webrtc.Certificate
	caps   core.Capabilities
	loaded bool
}

func NewEngine(cfg webrtc.Configuration) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Load(caps core.Capabilities) error {
	if caps == nil {
		return errors.New("nil capabilities")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return errors.New("engine already loaded")
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	cert, err := webrtc.GenerateCertificate(priv)
	if err != nil {
		return err
	}
	e.cert = cert
	e.cfg.Certificates = []webrtc.Certificate{*cert}
	e.caps = caps
	e.loaded = true
	log.Info().Str("module", "rtc").Msg("engine loaded")
	return nil
}

func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

func (e *Engine) Capabilities() core.Capabilities {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.caps
}

func (e *Engine) CreateTransport(dir core.Direction, params core.TransportParams) (core.Transport, error) {
	e.mu.RLock()
	loaded := e.loaded
	cfg := e.cfg
	cert := e.cert
	e.mu.RUnlock()
	if !loaded {
		return nil, ErrNotLoaded
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return newTransport(dir, params, pc, cert), nil
}
