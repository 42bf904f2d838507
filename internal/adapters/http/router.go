package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/mediarelay/internal/config"
	"github.com/dkeye/mediarelay/internal/core"
	"github.com/dkeye/mediarelay/internal/domain"
)

type RoomDirectory interface {
	Rooms() []core.RoomInfo
	MembersSnapshot(room domain.RoomID) []core.MemberDTO
}

type ControlStatus interface {
	Connected() bool
}

type ParticipantCounter interface {
	Len() int
}

type Kicker interface {
	Close(user domain.UserID)
}

// Deps is what the admin API reads from. Kicker may be nil, in which case
// the kick route is not mounted.
type Deps struct {
	Rooms        RoomDirectory
	Control      ControlStatus
	Participants ParticipantCounter
	Kicker       Kicker
}

// SetupRouter wires the admin API: health, room introspection and metrics.
func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		connected := deps.Control.Connected()
		status := http.StatusOK
		if !connected {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"control_connected": connected,
			"participants":      deps.Participants.Len(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": deps.Rooms.Rooms()})
	})

	api.GET("/rooms/:id/members", func(c *gin.Context) {
		members := deps.Rooms.MembersSnapshot(domain.RoomID(c.Param("id")))
		if len(members) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"members": members})
	})

	// Kicking only tears down local state; the central server is not told.
	if deps.Kicker != nil {
		api.DELETE("/members/:id", func(c *gin.Context) {
			id := domain.UserID(c.Param("id"))
			deps.Kicker.Close(id)
			log.Info().Str("module", "adapters.http").Str("user", string(id)).Msg("member kicked")
			c.Status(http.StatusNoContent)
		})
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
