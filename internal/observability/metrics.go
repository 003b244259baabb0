package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Agent invocation outcomes and durations (C1)
//   - Interim-notice throttling (C1)
//   - Channel-lease queue depth and wait time (C3)
//   - Scheduled job runs (C5)
//   - Reminder deliveries (C6)
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.AgentInvocationDuration.WithLabelValues("discord").Observe(time.Since(start).Seconds())
type Metrics struct {
	// AgentInvocationCounter counts agent invocations by channel and outcome.
	// Labels: channel, outcome (ok|timeout|nonzero_exit|parse_error|oversize|canceled)
	AgentInvocationCounter *prometheus.CounterVec

	// AgentInvocationDuration measures agent subprocess wall time in seconds.
	// Labels: channel
	AgentInvocationDuration *prometheus.HistogramVec

	// InterimNoticesPosted counts interim tool-use notices actually sent to a
	// channel (after dedupe-window suppression).
	// Labels: channel
	InterimNoticesPosted *prometheus.CounterVec

	// ChannelQueueDepth tracks the number of requests waiting for a channel's
	// serialization lane.
	// Labels: channel
	ChannelQueueDepth *prometheus.GaugeVec

	// ChannelLeaseWait measures time a request spent waiting for its
	// channel's lane before the agent invocation started.
	// Labels: channel
	ChannelLeaseWait *prometheus.HistogramVec

	// JobRunsTotal counts scheduled job runs by job name and outcome.
	// Labels: job, outcome (completed|failed|skipped_overlap|skipped_quiet_hours)
	JobRunsTotal *prometheus.CounterVec

	// JobRunDuration measures scheduled job run duration in seconds.
	// Labels: job
	JobRunDuration *prometheus.HistogramVec

	// ReminderDeliveries counts reminder delivery attempts by outcome.
	// Labels: outcome (delivered|failed). Reminder delivery does not check
	// quiet hours, so no suppressed outcome is recorded.
	ReminderDeliveries *prometheus.CounterVec

	// RemindersPending is a gauge of reminders awaiting delivery.
	RemindersPending prometheus.Gauge

	// ChunksEmitted counts response chunks emitted per channel delivery.
	// Labels: channel
	ChunksEmitted *prometheus.CounterVec

	// EgressRetries counts platform egress retry attempts by channel.
	// Labels: channel
	EgressRetries *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup. All metrics are
// registered with Prometheus's default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		AgentInvocationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebot_agent_invocations_total",
				Help: "Total number of agent invocations by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),

		AgentInvocationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corebot_agent_invocation_duration_seconds",
				Help:    "Duration of agent subprocess invocations in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"channel"},
		),

		InterimNoticesPosted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebot_interim_notices_posted_total",
				Help: "Total number of interim tool-use notices delivered to a channel",
			},
			[]string{"channel"},
		),

		ChannelQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "corebot_channel_queue_depth",
				Help: "Current number of requests queued for a channel's serialization lane",
			},
			[]string{"channel"},
		),

		ChannelLeaseWait: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corebot_channel_lease_wait_seconds",
				Help:    "Time a request waited for its channel lane before invocation started",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"channel"},
		),

		JobRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebot_job_runs_total",
				Help: "Total number of scheduled job runs by job name and outcome",
			},
			[]string{"job", "outcome"},
		),

		JobRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "corebot_job_run_duration_seconds",
				Help:    "Duration of scheduled job runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"job"},
		),

		ReminderDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebot_reminder_deliveries_total",
				Help: "Total number of reminder delivery attempts by outcome",
			},
			[]string{"outcome"},
		),

		RemindersPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "corebot_reminders_pending",
				Help: "Current number of reminders awaiting delivery",
			},
		),

		ChunksEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebot_chunks_emitted_total",
				Help: "Total number of response chunks emitted per channel",
			},
			[]string{"channel"},
		),

		EgressRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corebot_egress_retries_total",
				Help: "Total number of platform egress retry attempts by channel",
			},
			[]string{"channel"},
		),
	}
}

// RecordAgentInvocation records the outcome and duration of an agent
// subprocess invocation.
func (m *Metrics) RecordAgentInvocation(channel, outcome string, durationSeconds float64) {
	m.AgentInvocationCounter.WithLabelValues(channel, outcome).Inc()
	m.AgentInvocationDuration.WithLabelValues(channel).Observe(durationSeconds)
}

// RecordInterimNotice increments the interim-notice counter for a channel.
func (m *Metrics) RecordInterimNotice(channel string) {
	m.InterimNoticesPosted.WithLabelValues(channel).Inc()
}

// SetChannelQueueDepth sets the current lane queue depth for a channel.
func (m *Metrics) SetChannelQueueDepth(channel string, depth int) {
	m.ChannelQueueDepth.WithLabelValues(channel).Set(float64(depth))
}

// RecordChannelLeaseWait records how long a request waited for its channel's
// serialization lane.
func (m *Metrics) RecordChannelLeaseWait(channel string, waitSeconds float64) {
	m.ChannelLeaseWait.WithLabelValues(channel).Observe(waitSeconds)
}

// RecordJobRun records a scheduled job run outcome and duration.
func (m *Metrics) RecordJobRun(job, outcome string, durationSeconds float64) {
	m.JobRunsTotal.WithLabelValues(job, outcome).Inc()
	if outcome == "completed" || outcome == "failed" {
		m.JobRunDuration.WithLabelValues(job).Observe(durationSeconds)
	}
}

// RecordReminderDelivery records a reminder delivery attempt outcome.
func (m *Metrics) RecordReminderDelivery(outcome string) {
	m.ReminderDeliveries.WithLabelValues(outcome).Inc()
}

// SetRemindersPending sets the current count of reminders awaiting delivery.
func (m *Metrics) SetRemindersPending(n int) {
	m.RemindersPending.Set(float64(n))
}

// RecordChunksEmitted adds to the chunk count for a channel delivery.
func (m *Metrics) RecordChunksEmitted(channel string, count int) {
	m.ChunksEmitted.WithLabelValues(channel).Add(float64(count))
}

// RecordEgressRetry increments the egress retry counter for a channel.
func (m *Metrics) RecordEgressRetry(channel string) {
	m.EgressRetries.WithLabelValues(channel).Inc()
}
