package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the conversation engine, registered on the default
// registry and served at /metrics.
var (
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calliope_messages_total",
		Help: "Messages persisted to the record store, by role.",
	}, []string{"role"})

	SessionsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calliope_sessions_opened_total",
		Help: "Sessions opened on segment boundaries.",
	})

	SessionsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calliope_sessions_closed_total",
		Help: "Sessions closed, with or without a summary.",
	})

	OutreachSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calliope_outreach_sent_total",
		Help: "Proactive outreach messages delivered.",
	})

	ArchiveBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calliope_archive_batches_total",
		Help: "Archive batches written to cold storage.",
	})

	CompletionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calliope_completion_failures_total",
		Help: "Completion calls that failed or produced no usable text.",
	})
)
