package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"meetclient/internal/core"
	"meetclient/internal/domain"
)

type peerStream struct {
	order  []string
	tracks map[string]core.Track
}

// PeerStreamRegistry aggregates remote tracks into one stream per peer key.
// It is the only owner of remote tracks once they are consumed; the UI layer
// reads snapshots and never touches tracks directly.
type PeerStreamRegistry struct {
	mu      sync.RWMutex
	streams map[domain.PeerKey]*peerStream
}

func NewPeerStreamRegistry() *PeerStreamRegistry {
	return &PeerStreamRegistry{streams: make(map[domain.PeerKey]*peerStream)}
}

// AddTrack adds a track to the peer's aggregated stream, creating the entry
// if absent. Idempotent per track identity: a track already present under
// the key is not re-added.
func (r *PeerStreamRegistry) AddTrack(key domain.PeerKey, track core.Track) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps, ok := r.streams[key]
	if !ok {
		ps = &peerStream{tracks: make(map[string]core.Track)}
		r.streams[key] = ps
		log.Info().Str("module", "session.registry").Str("peer_key", string(key)).Msg("new peer stream")
	}
	if _, dup := ps.tracks[track.ID()]; dup {
		log.Debug().Str("module", "session.registry").Str("peer_key", string(key)).Str("track_id", track.ID()).Msg("duplicate track ignored")
		return
	}
	ps.tracks[track.ID()] = track
	ps.order = append(ps.order, track.ID())
}

// Remove stops every track of the peer's stream and deletes the entry.
// Reports whether an entry existed.
func (r *PeerStreamRegistry) Remove(key domain.PeerKey) bool {
	r.mu.Lock()
	ps, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	for _, t := range ps.tracks {
		t.Stop()
	}
	log.Info().Str("module", "session.registry").Str("peer_key", string(key)).Msg("removed peer stream")
	return true
}

// Has reports whether an entry exists for the exact key.
func (r *PeerStreamRegistry) Has(key domain.PeerKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.streams[key]
	return ok
}

// Keys returns the current peer keys.
func (r *PeerStreamRegistry) Keys() []domain.PeerKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PeerKey, 0, len(r.streams))
	for k := range r.streams {
		out = append(out, k)
	}
	return out
}

// Len returns the number of aggregated streams.
func (r *PeerStreamRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Snapshot returns a copy safe to read while the registry keeps mutating.
// Tracks appear in the order they were added.
func (r *PeerStreamRegistry) Snapshot() map[domain.PeerKey][]core.Track {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.PeerKey][]core.Track, len(r.streams))
	for key, ps := range r.streams {
		tracks := make([]core.Track, 0, len(ps.order))
		for _, id := range ps.order {
			tracks = append(tracks, ps.tracks[id])
		}
		out[key] = tracks
	}
	return out
}

// Clear stops every track and removes all entries.
func (r *PeerStreamRegistry) Clear() {
	r.mu.Lock()
	streams := r.streams
	r.streams = make(map[domain.PeerKey]*peerStream)
	r.mu.Unlock()
	for _, ps := range streams {
		for _, t := range ps.tracks {
			t.Stop()
		}
	}
}
