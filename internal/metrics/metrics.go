// Package metrics provides Prometheus instrumentation for the chat and
// moderation core. It exposes counters for message throughput and safety
// flags, report and moderation activity, and sweep progress.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/milaap/platform/internal/safety"
)

var (
	// MessagesTotal counts pipeline outcomes, labeled by result:
	// "sent", "flagged", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "milaap_chat_messages_total",
		Help: "Total number of messages processed by the pipeline",
	}, []string{"result"})

	// SafetyFlagsTotal counts safety detector hits, labeled by detector:
	// "phone", "email", "upi", "link", "keyword".
	SafetyFlagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "milaap_chat_safety_flags_total",
		Help: "Total number of safety detector hits at send time",
	}, []string{"detector"})

	// ReportsTotal counts report workflow activity, labeled by outcome:
	// "filed", "resolved", "dismissed", "escalated".
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "milaap_chat_reports_total",
		Help: "Total number of abuse report workflow events",
	}, []string{"outcome"})

	// ModerationActionsTotal counts ledger entries, labeled by target type.
	ModerationActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "milaap_moderation_actions_total",
		Help: "Total number of moderation ledger entries recorded",
	}, []string{"target_type"})

	// StrikesTotal counts strikes accrued against users.
	StrikesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "milaap_moderation_strikes_total",
		Help: "Total number of strikes accrued across all users",
	})

	// SweepItemsTotal counts entities processed by expiry sweeps, labeled
	// by sweep: "context_link", "block", "attachment".
	SweepItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "milaap_sweep_items_total",
		Help: "Total number of entities expired by background sweeps",
	}, []string{"sweep"})

	// PendingReports tracks the current number of open (pending or
	// investigating) reports.
	PendingReports = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "milaap_chat_pending_reports",
		Help: "Current number of open abuse reports",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		SafetyFlagsTotal,
		ReportsTotal,
		ModerationActionsTotal,
		StrikesTotal,
		SweepItemsTotal,
		PendingReports,
	)
}

// ObserveSafetyFlags bumps the per-detector counters for one flag set.
func ObserveSafetyFlags(f safety.Flags) {
	if f.Phone {
		SafetyFlagsTotal.WithLabelValues("phone").Inc()
	}
	if f.Email {
		SafetyFlagsTotal.WithLabelValues("email").Inc()
	}
	if f.UPI {
		SafetyFlagsTotal.WithLabelValues("upi").Inc()
	}
	if f.Link {
		SafetyFlagsTotal.WithLabelValues("link").Inc()
	}
	if f.Keyword {
		SafetyFlagsTotal.WithLabelValues("keyword").Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
