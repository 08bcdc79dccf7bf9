package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame event labels recorded by the Channel.
const (
	FramePresented = "presented"
	FrameAcquired  = "acquired"
	FrameReleased  = "released"
	FrameDropped   = "dropped"
	FrameReclaimed = "reclaimed"
)

var (
	registerOnce sync.Once

	frameEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framestream",
			Subsystem: "channel",
			Name:      "frames_total",
			Help:      "Frame ownership transitions observed by the channel.",
		},
		[]string{"event"},
	)
	acquireTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "framestream",
			Subsystem: "channel",
			Name:      "acquire_timeouts_total",
			Help:      "Consumer acquires that expired without a new frame.",
		},
	)
	channelState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "framestream",
			Subsystem: "channel",
			Name:      "state",
			Help:      "1 for the current channel state, 0 otherwise.",
		},
		[]string{"state"},
	)
	processDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "framestream",
			Subsystem: "consumer",
			Name:      "process_duration_seconds",
			Help:      "Consumer frame processing duration in seconds.",
			Buckets:   []float64{0.001, 0.004, 0.008, 0.016, 0.033, 0.066, 0.1, 0.25, 1},
		},
		[]string{"over_budget"},
	)
	engineSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framestream",
			Subsystem: "device",
			Name:      "submissions_total",
			Help:      "Work submitted to execution engines.",
		},
		[]string{"engine", "success"},
	)
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framestream",
			Subsystem: "interop",
			Name:      "runs_total",
			Help:      "Completed interop exchanges by outcome.",
		},
		[]string{"passed"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framestream",
			Subsystem: "status",
			Name:      "http_requests_total",
			Help:      "Status server requests by route and status code.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "framestream",
			Subsystem: "status",
			Name:      "http_request_duration_seconds",
			Help:      "Status server request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path"},
	)

	stateMu   sync.Mutex
	lastState string
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			frameEvents,
			acquireTimeouts,
			channelState,
			processDuration,
			engineSubmissions,
			runsTotal,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordFrame(event string) {
	RegisterMetrics()
	frameEvents.WithLabelValues(event).Inc()
}

func RecordAcquireTimeout() {
	RegisterMetrics()
	acquireTimeouts.Inc()
}

// SetChannelState moves the state gauge from the previous state to state.
func SetChannelState(state string) {
	RegisterMetrics()
	stateMu.Lock()
	defer stateMu.Unlock()
	if lastState != "" && lastState != state {
		channelState.WithLabelValues(lastState).Set(0)
	}
	channelState.WithLabelValues(state).Set(1)
	lastState = state
}

func ObserveProcess(duration time.Duration, overBudget bool) {
	RegisterMetrics()
	processDuration.WithLabelValues(strconv.FormatBool(overBudget)).Observe(duration.Seconds())
}

func RecordSubmission(engine string, success bool) {
	RegisterMetrics()
	engineSubmissions.WithLabelValues(engine, strconv.FormatBool(success)).Inc()
}

func RecordRun(passed bool) {
	RegisterMetrics()
	runsTotal.WithLabelValues(strconv.FormatBool(passed)).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	httpRequests.WithLabelValues(node, method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(node, method, path).Observe(duration.Seconds())
}
