// Package conn implements a single connection to one remote endpoint.
//
// A Connection owns one transport link at a time. Requests are multiplexed
// over it with an 8 byte request id envelope (see common.SealEnvelope); a
// reader goroutine matches answers to waiting Exchange calls and a keepalive
// goroutine pings the remote whenever the link was idle for a full interval.
//
// Every connection tracks its own health:
//
//   - quality grows by 1% per successful exchange (capped at 1.0) and shrinks
//     by 20% per error (floored at 0.1)
//   - HealthScore is quality minus an error penalty (0.1 per consecutive
//     error, at most 0.5) minus a staleness penalty that grows from 0 at five
//     minutes idle to 0.3 at thirty minutes idle, clamped to [0,1]
//   - the connect timeout adapts: fast connects shrink it, repeated errors
//     grow it
//
// Connect retries with exponential backoff and jitter and gives up with
// common.ErrConnectionUnavailable. Close waits for the background goroutines
// before it returns.
package conn
