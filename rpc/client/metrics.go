package client

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ValentinKolb/dMux/lib/cache"
	"github.com/ValentinKolb/dMux/lib/crypto"
	"github.com/ValentinKolb/dMux/rpc/conn"
	"github.com/ValentinKolb/dMux/rpc/pool"
	"github.com/ValentinKolb/dMux/rpc/session"
	gometrics "github.com/rcrowley/go-metrics"
)

// Metrics is a snapshot of every component of the client
type Metrics struct {
	Sessions    []session.Metrics
	Pool        pool.Stats
	Connections []conn.Summary
	// Cache and Crypto are nil when the feature is disabled
	Cache  *cache.Stats
	Crypto *crypto.Stats
}

// Metrics returns a snapshot of all counters
func (c *Client) Metrics() Metrics {
	m := Metrics{
		Pool:        c.pool.Stats(),
		Connections: c.pool.Connections(),
	}
	c.sessions.Range(func(_ string, s *session.Session) bool {
		m.Sessions = append(m.Sessions, s.Metrics())
		return true
	})
	sort.Slice(m.Sessions, func(i, j int) bool { return m.Sessions[i].Endpoint < m.Sessions[j].Endpoint })

	if c.cache != nil {
		stats := c.cache.Stats()
		m.Cache = &stats
	}
	if c.crypto != nil {
		stats := c.crypto.Stats()
		m.Crypto = &stats
	}
	return m
}

// WritePrometheus writes the metrics of every session in the Prometheus text
// format
func (c *Client) WritePrometheus(w io.Writer) {
	c.sessions.Range(func(_ string, s *session.Session) bool {
		s.WritePrometheus(w)
		return true
	})
}

// WriteConnectionMetrics writes the per connection meters of the pool
func (c *Client) WriteConnectionMetrics(w io.Writer) {
	gometrics.WriteOnce(c.pool.Registry(), w)
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

	addSection("Connection Pool")
	addField("Active / Available", fmt.Sprintf("%d / %d", m.Pool.Active, m.Pool.Available))
	addField("Created / Reused", fmt.Sprintf("%d / %d", m.Pool.Created, m.Pool.Reused))
	addField("Failed", fmt.Sprintf("%d", m.Pool.Failed))
	addField("Retired / Swept", fmt.Sprintf("%d / %d", m.Pool.Retired, m.Pool.Swept))
	addField("Waits", fmt.Sprintf("%d (mean %s)", m.Pool.Waits, m.Pool.MeanWait.Round(time.Microsecond)))

	if m.Cache != nil {
		addSection("Cache")
		addField("Size", fmt.Sprintf("%d / %d", m.Cache.Size, m.Cache.MaxSize))
		addField("Hits / Misses", fmt.Sprintf("%d / %d (%.1f%%)", m.Cache.Hits, m.Cache.Misses, m.Cache.HitRate()*100))
		addField("Evictions", fmt.Sprintf("%d", m.Cache.Evictions))
	}

	if m.Crypto != nil {
		addSection("Crypto")
		addField("Backend", fmt.Sprintf("%s (%d workers)", m.Crypto.Backend, m.Crypto.Workers))
		addField("Encrypt", fmt.Sprintf("%d calls, %d errors, %s", m.Crypto.Encrypt.Calls, m.Crypto.Encrypt.Errors, m.Crypto.Encrypt.Total))
		addField("Decrypt", fmt.Sprintf("%d calls, %d errors, %s", m.Crypto.Decrypt.Calls, m.Crypto.Decrypt.Errors, m.Crypto.Decrypt.Total))
	}

	for _, s := range m.Sessions {
		sb.WriteString(s.String())
	}
	return sb.String()
}
