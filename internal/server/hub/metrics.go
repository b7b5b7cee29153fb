package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipsync_sessions_active",
		Help: "Number of live WebSocket sessions.",
	})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipsync_frames_total",
		Help: "Client frames handled, by type.",
	}, []string{"type"})

	broadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipsync_broadcasts_total",
		Help: "Outdated notifications fanned out to sibling sessions.",
	})
)
