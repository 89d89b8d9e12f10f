package conn

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State is the lifecycle state of a connection
type State int32

const (
	// StateNew means Connect was never called
	StateNew State = iota
	StateConnecting
	StateHealthy
	// StateDegraded means the link is down or its health score is below DegradedScore
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Summary is a point in time snapshot of a connection
type Summary struct {
	ID                string
	Endpoint          string
	State             State
	Quality           float64
	Health            float64
	ConsecutiveErrors int
	Requests          uint64
	Errors            uint64
	BytesSent         uint64
	BytesReceived     uint64
	// SendRate is the one minute rate of sent bytes per second
	SendRate       float64
	MeanLatency    time.Duration
	ConnectTimeout time.Duration
	CreatedAt      time.Time
	ConnectedAt    time.Time
	LastActivity   time.Time
	LastPing       time.Time
}

// Summary returns a snapshot of the connection metrics
func (c *Connection) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	return Summary{
		ID:                c.id,
		Endpoint:          c.endpoint,
		State:             c.stateLocked(now),
		Quality:           c.quality,
		Health:            c.healthScoreLocked(now),
		ConsecutiveErrors: c.consecutiveErrors,
		Requests:          c.requestCount,
		Errors:            c.errorCount,
		BytesSent:         c.bytesSent,
		BytesReceived:     c.bytesReceived,
		SendRate:          c.sentMeter.Rate1(),
		MeanLatency:       time.Duration(c.latency.Mean()) * time.Microsecond,
		ConnectTimeout:    c.connectTimeout,
		CreatedAt:         c.createdAt,
		ConnectedAt:       c.connectedAt,
		LastActivity:      c.lastActivity,
		LastPing:          c.lastPing,
	}
}

// String returns a formatted string representation of the summary
func (s Summary) String() string {
	var sb strings.Builder
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-20s: %s\n", name, value))
	}

	sb.WriteString(fmt.Sprintf("CONNECTION %s\n", s.ID))
	addField("Endpoint", s.Endpoint)
	addField("State", s.State.String())
	addField("Health", strconv.FormatFloat(s.Health, 'f', 3, 64))
	addField("Quality", strconv.FormatFloat(s.Quality, 'f', 3, 64))
	addField("Requests / Errors", fmt.Sprintf("%d / %d (%d consecutive)", s.Requests, s.Errors, s.ConsecutiveErrors))
	addField("Bytes (tx/rx)", fmt.Sprintf("%d / %d", s.BytesSent, s.BytesReceived))
	addField("Mean Latency", s.MeanLatency.String())
	addField("Connect Timeout", s.ConnectTimeout.String())
	return sb.String()
}
