package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes
const (
	SubmitAccepted    = "accepted"
	SubmitQueueFull   = "queue_full"
	SubmitUnknownKind = "unknown_kind"
)

// Task outcomes
const (
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
	TaskPanicked  = "panicked"
)

// Prometheus metrics for the dispatcher and the chat server.
var (
	// Dispatch metrics
	submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blockchat_task_submissions_total",
		Help: "Task submissions by outcome",
	}, []string{"outcome"})

	taskQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockchat_task_queue_depth",
		Help: "Current number of items waiting in the task queue",
	})

	taskQueueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockchat_task_queue_capacity",
		Help: "Maximum capacity of the task queue",
	})

	workersLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockchat_workers_live",
		Help: "Workers currently running",
	})

	tasksExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blockchat_tasks_executed_total",
		Help: "Executed tasks by kind and outcome",
	}, []string{"kind", "outcome"})

	taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blockchat_task_duration_seconds",
		Help:    "Task execution time",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"kind"})

	sentinelsForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blockchat_sentinels_forwarded_total",
		Help: "Shutdown sentinels forwarded by exiting workers",
	})

	completionsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blockchat_completions_dropped_total",
		Help: "Task results dropped because the completion channel was full",
	})

	completionsCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blockchat_completions_collected_total",
		Help: "Task results drained by the collector",
	})

	registrySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockchat_task_registry_size",
		Help: "Tasks currently tracked in the registry",
	})

	// Chat metrics
	playersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockchat_players_online",
		Help: "Players (game and web) currently joined",
	})

	chatMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blockchat_chat_messages_total",
		Help: "Chat messages by outcome (relayed, rate_limited, malformed)",
	}, []string{"outcome"})

	broadcastSendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blockchat_broadcast_send_failures_total",
		Help: "Per-peer send failures during broadcast fan-out",
	})

	keepAlivesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blockchat_keepalives_sent_total",
		Help: "Keep-alive packets sent",
	})

	protocolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blockchat_protocol_errors_total",
		Help: "Connections closed by protocol errors, by stage",
	}, []string{"stage"})

	webchatDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blockchat_webchat_frames_dropped_total",
		Help: "Web chat frames dropped because the client send buffer was full",
	})

	connectionsRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blockchat_connections_rate_limited_total",
		Help: "Connection attempts rejected by the connection rate limiter",
	}, []string{"scope"})

	announcements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blockchat_announcements_total",
		Help: "Kafka announcement records by outcome",
	}, []string{"outcome"})

	// System metrics
	processCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockchat_process_cpu_percent",
		Help: "Process CPU usage percentage",
	})

	processRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockchat_process_rss_bytes",
		Help: "Process resident set size",
	})

	goroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blockchat_goroutines_active",
		Help: "Current number of active goroutines",
	})
)

func init() {
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(taskQueueDepth)
	prometheus.MustRegister(taskQueueCapacity)
	prometheus.MustRegister(workersLive)
	prometheus.MustRegister(tasksExecuted)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(sentinelsForwarded)
	prometheus.MustRegister(completionsDropped)
	prometheus.MustRegister(completionsCollected)
	prometheus.MustRegister(registrySize)

	prometheus.MustRegister(playersOnline)
	prometheus.MustRegister(chatMessages)
	prometheus.MustRegister(broadcastSendFailures)
	prometheus.MustRegister(keepAlivesSent)
	prometheus.MustRegister(protocolErrors)
	prometheus.MustRegister(webchatDropped)
	prometheus.MustRegister(connectionsRateLimited)
	prometheus.MustRegister(announcements)

	prometheus.MustRegister(processCPUPercent)
	prometheus.MustRegister(processRSSBytes)
	prometheus.MustRegister(goroutinesActive)
}

// HandleMetrics serves the Prometheus registry.
func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func RecordSubmission(outcome string) { submissionsTotal.WithLabelValues(outcome).Inc() }

// UpdateQueueMetrics publishes the task queue fill level.
func UpdateQueueMetrics(depth, capacity int) {
	taskQueueDepth.Set(float64(depth))
	taskQueueCapacity.Set(float64(capacity))
}

func SetWorkersLive(n int64) { workersLive.Set(float64(n)) }

// RecordTask records one executed task.
func RecordTask(kind, outcome string, d time.Duration) {
	tasksExecuted.WithLabelValues(kind, outcome).Inc()
	taskDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func RecordSentinelForwarded() { sentinelsForwarded.Inc() }
func RecordCompletionDropped() { completionsDropped.Inc() }
func RecordCompletionCollected() { completionsCollected.Inc() }
func SetRegistrySize(n int) { registrySize.Set(float64(n)) }
func SetPlayersOnline(n int) { playersOnline.Set(float64(n)) }
func RecordChatMessage(o string) { chatMessages.WithLabelValues(o).Inc() }
func RecordBroadcastFailure() { broadcastSendFailures.Inc() }
func RecordKeepAlive() { keepAlivesSent.Inc() }
func RecordProtocolError(s string) { protocolErrors.WithLabelValues(s).Inc() }
func RecordWebchatDropped() { webchatDropped.Inc() }

// IncrementConnectionRateLimit counts one rejected connection; scope is
// "global" or "per_ip".
func IncrementConnectionRateLimit(scope string) {
	connectionsRateLimited.WithLabelValues(scope).Inc()
}

// RecordAnnouncement counts one consumed announcement record.
func RecordAnnouncement(outcome string) { announcements.WithLabelValues(outcome).Inc() }
