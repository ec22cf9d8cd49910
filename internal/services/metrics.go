package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fintech",
			Subsystem: "onboarding",
			Name:      "sessions_started_total",
			Help:      "Total number of onboarding sessions started",
		},
		[]string{"variant"},
	)

	sessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fintech",
			Subsystem: "onboarding",
			Name:      "sessions_completed_total",
			Help:      "Total number of onboarding sessions that reached account creation",
		},
		[]string{"variant"},
	)
)
