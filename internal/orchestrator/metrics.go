package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	launchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "potato",
		Name:      "browser_launches_total",
		Help:      "Browser attach attempts.",
	})
	launchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "potato",
		Name:      "browser_launch_failures_total",
		Help:      "Failed browser attach attempts by stage.",
	}, []string{"stage"})
	browserConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "potato",
		Name:      "browser_connected",
		Help:      "1 while a browser is attached.",
	})
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "potato",
		Name:      "sessions_started_total",
		Help:      "Browser sessions initialized.",
	})
	sessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "potato",
		Name:      "sessions_ended_total",
		Help:      "Browser sessions ended by reason.",
	}, []string{"reason"})
	sessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "potato",
		Name:      "session_state",
		Help:      "0 idle, 1 active without subscriber, 2 active with subscriber.",
	})
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "potato",
		Name:      "resource_cache_lookups_total",
		Help:      "Static resource lookups by result.",
	}, []string{"result"})
	bridgeDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "potato",
		Name:      "bridge_events_dropped_total",
		Help:      "Page events dropped before relay.",
	}, []string{"reason"})
	commandFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "potato",
		Name:      "command_failures_total",
		Help:      "Operator commands that failed by update type.",
	}, []string{"type"})
)
