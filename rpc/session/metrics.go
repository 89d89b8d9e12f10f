package session

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// sessionMetrics holds the counters of one session in its own metrics set,
// series are labeled with the session id.
type sessionMetrics struct {
	set *metrics.Set

	requestsSent      *metrics.Counter
	responsesReceived *metrics.Counter
	errors            *metrics.Counter
	timeouts          *metrics.Counter
	floods            *metrics.Counter
	cacheHits         *metrics.Counter
	batched           *metrics.Counter
	latency           *metrics.Histogram
}

func newSessionMetrics(s *Session) *sessionMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`dmux_session_%s{session=%q}`, metric, s.id)
	}
	m := &sessionMetrics{
		set:               set,
		requestsSent:      set.NewCounter(name("requests_sent_total")),
		responsesReceived: set.NewCounter(name("responses_received_total")),
		errors:            set.NewCounter(name("errors_total")),
		timeouts:          set.NewCounter(name("timeouts_total")),
		floods:            set.NewCounter(name("floods_total")),
		cacheHits:         set.NewCounter(name("cache_hits_total")),
		batched:           set.NewCounter(name("batched_requests_total")),
		latency:           set.NewHistogram(name("latency_seconds")),
	}
	set.NewGauge(name("adaptive_timeout_seconds"), func() float64 {
		return s.AdaptiveTimeout().Seconds()
	})
	set.NewGauge(name("dispatch_queue_length"), func() float64 {
		return float64(s.queue.len())
	})
	return m
}

// Metrics is a snapshot of the session counters
type Metrics struct {
	SessionID         string
	Endpoint          string
	Uptime            time.Duration
	RequestsSent      uint64
	ResponsesReceived uint64
	Errors            uint64
	Timeouts          uint64
	Floods            uint64
	CacheHits         uint64
	Batched           uint64
	PendingBatch      int
	Queued            int
	AvgLatency        time.Duration
	P95Latency        time.Duration
	AdaptiveTimeout   time.Duration
	WaitTarget        time.Duration
	Backoff           map[string]time.Duration
}

// CacheHitRate is the share of requests answered from the cache
func (m Metrics) CacheHitRate() float64 {
	if m.RequestsSent == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(m.RequestsSent)
}

// ErrorRate is the share of requests that failed
func (m Metrics) ErrorRate() float64 {
	if m.RequestsSent == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.RequestsSent)
}

// Metrics returns a snapshot of the session counters
func (s *Session) Metrics() Metrics {
	m := Metrics{
		SessionID:         s.id,
		Endpoint:          s.endpoint,
		RequestsSent:      s.metrics.requestsSent.Get(),
		ResponsesReceived: s.metrics.responsesReceived.Get(),
		Errors:            s.metrics.errors.Get(),
		Timeouts:          s.metrics.timeouts.Get(),
		Floods:            s.metrics.floods.Get(),
		CacheHits:         s.metrics.cacheHits.Get(),
		Batched:           s.metrics.batched.Get(),
		Queued:            s.queue.len(),
		P95Latency:        s.latencies.Percentile(0.95),
		AvgLatency:        time.Duration(s.latencies.Stats().Mean * float64(time.Second)),
		AdaptiveTimeout:   s.AdaptiveTimeout(),
		WaitTarget:        s.WaitTarget(),
		Backoff:           s.BackoffTable(),
	}
	if s.batcher != nil {
		m.PendingBatch = s.batcher.Pending()
	}

	s.stateMu.Lock()
	if s.started {
		m.Uptime = time.Since(s.startedAt)
	}
	s.stateMu.Unlock()
	return m
}

// WritePrometheus writes the session metrics in the Prometheus text format
func (s *Session) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}

// String returns a formatted string representation of the metrics
func (m Metrics) String() string {
	var sb strings.Builder
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-20s: %s\n", name, value))
	}

	addSection("Session")
	addField("ID", m.SessionID)
	addField("Endpoint", m.Endpoint)
	addField("Uptime", m.Uptime.Round(time.Second).String())

	addSection("Requests")
	addField("Sent", fmt.Sprintf("%d", m.RequestsSent))
	addField("Answered", fmt.Sprintf("%d", m.ResponsesReceived))
	addField("Errors", fmt.Sprintf("%d (%.1f%%)", m.Errors, m.ErrorRate()*100))
	addField("Timeouts", fmt.Sprintf("%d", m.Timeouts))
	addField("Floods", fmt.Sprintf("%d", m.Floods))
	addField("Cache Hits", fmt.Sprintf("%d (%.1f%%)", m.CacheHits, m.CacheHitRate()*100))
	addField("Batched", fmt.Sprintf("%d", m.Batched))
	addField("Pending Batch", fmt.Sprintf("%d", m.PendingBatch))
	addField("Queued", fmt.Sprintf("%d", m.Queued))

	addSection("Latency")
	addField("Average", m.AvgLatency.Round(time.Microsecond).String())
	addField("95th Percentile", m.P95Latency.Round(time.Microsecond).String())
	addField("Adaptive Timeout", m.AdaptiveTimeout.Round(time.Millisecond).String())
	addField("Wait Target", m.WaitTarget.Round(time.Millisecond).String())

	if len(m.Backoff) > 0 {
		addSection("Backoff")
		categories := make([]string, 0, len(m.Backoff))
		for c := range m.Backoff {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			addField(c, m.Backoff[c].String())
		}
	}
	return sb.String()
}
