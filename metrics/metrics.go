// Package metrics registriert die Prometheus-Zähler des Workflows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_desk_transitions_total",
			Help: "Manuscript status transitions by target status and outcome",
		},
		[]string{"to", "outcome"},
	)
	InvitationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_desk_invitations_total",
			Help: "Reviewer invitations by outcome (created, ineligible, failed)",
		},
		[]string{"outcome"},
	)
	RemindersSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_desk_reminders_sent_total",
			Help: "Reminder notifications claimed and sent",
		},
	)
	InvitationsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_desk_invitations_expired_total",
			Help: "Invitations expired by the sweep",
		},
	)
	QualityJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_desk_quality_jobs_total",
			Help: "Quality analysis job attempts by job type and outcome",
		},
		[]string{"job_type", "outcome"},
	)
	DecisionActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_desk_decision_actions_total",
			Help: "Post-decision action attempts by action and outcome",
		},
		[]string{"action", "outcome"},
	)
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_desk_notification_failures_total",
			Help: "Failed notification deliveries by template",
		},
		[]string{"template"},
	)
)

func init() {
	prometheus.MustRegister(
		Transitions,
		InvitationsCreated,
		RemindersSent,
		InvitationsExpired,
		QualityJobs,
		DecisionActions,
		NotificationFailures,
	)
}

// Outcome übersetzt einen Erfolg in das Label "ok" oder "error".
func Outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
