package session

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/dMux/lib/util"
	"github.com/ValentinKolb/dMux/rpc/common"
)

// thresholds of the health monitor
const (
	criticalHealth = 0.3
	poorHealth     = 0.5
	// recoveryFactor shrinks the wait target per healthy check
	recoveryFactor = 0.95
	// floodFactor grows the wait target when the remote floods
	floodFactor = 1.5
	// backoffFactor grows the backoff of an error category per failure
	backoffFactor = 1.5
	// timeoutMultiple is applied to the 95th latency percentile
	timeoutMultiple = 3
)

// --------------------------------------------------------------------------
// Adaptive timeout
// --------------------------------------------------------------------------

// AdaptiveTimeout returns the timeout applied to the next request: three
// times the 95th percentile of the recent latencies, at least the current
// wait target and at most MaxTimeout. Without samples the wait target is
// returned.
func (s *Session) AdaptiveTimeout() time.Duration {
	target := s.WaitTarget()
	if s.latencies.Len() == 0 {
		return target
	}
	p95 := s.latencies.Percentile(0.95)
	return util.Clamp(p95*timeoutMultiple, target, s.config.Session.MaxTimeout)
}

// WaitTarget returns the floor of the adaptive timeout. It starts at
// BaseTimeout, grows on floods and poor health and decays back once the
// connections are healthy again.
func (s *Session) WaitTarget() time.Duration {
	s.tuneMu.Lock()
	defer s.tuneMu.Unlock()
	return s.waitTarget
}

// --------------------------------------------------------------------------
// Flood handling
// --------------------------------------------------------------------------

// onFlood records a flood wait answer. More than FloodThreshold floods within
// FloodWindow raise the wait target.
func (s *Session) onFlood(retryAfter time.Duration) {
	now := time.Now()
	sc := s.config.Session

	s.tuneMu.Lock()
	defer s.tuneMu.Unlock()

	s.floodEvents = append(s.floodEvents, now)
	kept := s.floodEvents[:0]
	for _, at := range s.floodEvents {
		if now.Sub(at) <= sc.FloodWindow {
			kept = append(kept, at)
		}
	}
	s.floodEvents = kept
	s.metrics.floods.Inc()

	Logger.Warningf("Session %s: flood wait of %s from %s (%d floods in the last %s)",
		s.id, retryAfter, s.endpoint, len(kept), sc.FloodWindow)

	if len(kept) > sc.FloodThreshold {
		s.waitTarget = min(sc.MaxTimeout, util.ScaleDuration(s.waitTarget, floodFactor))
		Logger.Warningf("Session %s: frequent floods, wait target raised to %s", s.id, s.waitTarget)
	}
}

// --------------------------------------------------------------------------
// Error backoff
// --------------------------------------------------------------------------

// bumpBackoff grows the backoff of an error category. The first failure of a
// category starts at BackoffMin, every further one multiplies it by 1.5 up to
// BackoffMax. Entries are never reset.
func (s *Session) bumpBackoff(category string) time.Duration {
	sc := s.config.Session
	next, _ := s.backoff.Compute(category, func(cur time.Duration, loaded bool) (time.Duration, bool) {
		if !loaded {
			return util.Clamp(sc.BackoffMin, sc.BackoffMin, sc.BackoffMax), false
		}
		return util.Clamp(util.ScaleDuration(cur, backoffFactor), sc.BackoffMin, sc.BackoffMax), false
	})
	return next
}

// Backoff returns how long a caller should wait before retrying after err:
// the backoff of its category, or the remote's retry-after hint if that is
// longer.
func (s *Session) Backoff(err error) time.Duration {
	if err == nil {
		return 0
	}
	d, _ := s.backoff.Load(common.Category(err))
	return max(d, common.RetryAfter(err))
}

// BackoffTable returns a copy of the backoff per error category
func (s *Session) BackoffTable() map[string]time.Duration {
	table := make(map[string]time.Duration, s.backoff.Size())
	s.backoff.Range(func(category string, d time.Duration) bool {
		table[category] = d
		return true
	})
	return table
}

// WaitRetry blocks for Backoff(err). It returns a Timeout error if ctx ends
// first.
func (s *Session) WaitRetry(ctx context.Context, err error) error {
	d := s.Backoff(err)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return common.NewError(common.CodeTimeout, ctx.Err(), "waiting %s before retry", d)
	}
}

// --------------------------------------------------------------------------
// Health monitor
// --------------------------------------------------------------------------

func (s *Session) healthMonitor() {
	ticker := time.NewTicker(s.config.Session.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.checkHealth()
		case <-s.ctx.Done():
			return
		}
	}
}

// checkHealth adjusts the wait target to the health of the pool connections
// to the endpoint. Without connections nothing is known and nothing changes.
func (s *Session) checkHealth() {
	score, ok := s.deps.Pool.Health(s.endpoint)
	if !ok {
		return
	}
	sc := s.config.Session

	if score < criticalHealth {
		Logger.Warningf("Session %s: connection health of %s is critical (%.2f)", s.id, s.endpoint, score)
	}

	s.tuneMu.Lock()
	defer s.tuneMu.Unlock()
	if score < poorHealth {
		s.waitTarget = min(sc.MaxTimeout, 2*sc.BaseTimeout)
	} else {
		s.waitTarget = max(sc.BaseTimeout, util.ScaleDuration(s.waitTarget, recoveryFactor))
	}
}

// --------------------------------------------------------------------------
// Performance report
// --------------------------------------------------------------------------

func (s *Session) reportLoop() {
	ticker := time.NewTicker(s.config.Metrics.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			Logger.Infof("Session %s performance:\n%s", s.id, s.Metrics().String())
		case <-s.ctx.Done():
			return
		}
	}
}

// isTimeout reports whether err is a timeout of the session itself
func isTimeout(err error) bool {
	return errors.Is(err, common.ErrTimeout)
}
