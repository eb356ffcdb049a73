// Package http serves the read-only session surface: the state snapshot the
// UI layer renders, plus prometheus metrics.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"meetclient/internal/app/session"
	"meetclient/internal/config"
	"meetclient/internal/core"
)

type trackView struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type sessionView struct {
	RoomID        string                 `json:"room_id"`
	Joined        bool                   `json:"joined"`
	Error         string                 `json:"error,omitempty"`
	LocalTracks   []trackView            `json:"local_tracks"`
	RemoteStreams map[string][]trackView `json:"remote_streams"`
}

func viewOf(snap session.Snapshot) sessionView {
	view := sessionView{
		RoomID:        string(snap.RoomID),
		Joined:        snap.Joined,
		LocalTracks:   tracksOf(snap.LocalTracks),
		RemoteStreams: make(map[string][]trackView, len(snap.RemoteStreams)),
	}
	if snap.Err != nil {
		view.Error = snap.Err.Error()
	}
	for key, tracks := range snap.RemoteStreams {
		view.RemoteStreams[string(key)] = tracksOf(tracks)
	}
	return view
}

func tracksOf(tracks []core.Track) []trackView {
	out := make([]trackView, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, trackView{ID: t.ID(), Kind: string(t.Kind())})
	}
	return out
}

func SetupRouter(cfg *config.Config, sess *session.Session, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/api/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, viewOf(sess.State()))
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
