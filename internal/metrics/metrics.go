// Package metrics exposes Prometheus collectors for the watcher and the
// action surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsSubscribed counts mailbox sessions currently in the
	// subscribed state.
	SessionsSubscribed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailgram_sessions_subscribed",
		Help: "Number of mailbox sessions currently subscribed.",
	})

	// MailEventsTotal counts new-mail events handed to the sink.
	MailEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailgram_mail_events_total",
		Help: "Total new-mail events delivered to the notification sink.",
	})

	// ConnectFailuresTotal counts failed session connect attempts.
	ConnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailgram_connect_failures_total",
		Help: "Total failed mailbox connect attempts.",
	})

	// ActionsTotal counts mark-read and mark-spam actions by outcome.
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailgram_actions_total",
		Help: "Total mailbox actions by action and result.",
	}, []string{"action", "result"})
)
