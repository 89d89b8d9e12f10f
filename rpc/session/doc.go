// Package session implements the session façade of the dMux runtime. A
// session sends every request to one endpoint and combines the lower layers
// into a single Send call:
//
//   - Requests to allow-listed read-only methods are answered from the result
//     cache when possible. The cache key is the complete encoded request.
//   - Batchable requests are handed to the request batcher, all others are
//     queued by priority class (auth before messages before media before the
//     rest) and dispatched by at most MaxInFlight workers.
//   - Every call is bounded by the adaptive timeout: three times the 95th
//     percentile of the recent latencies, between the wait target and
//     MaxTimeout.
//   - Failures grow the backoff of their error category (x1.5 per failure,
//     between BackoffMin and BackoffMax). Frequent flood waits raise the wait
//     target, the health monitor raises it on poor connection health and lets
//     it decay back to BaseTimeout otherwise.
//
// The session never retries on its own. Callers decide whether to retry and
// may use WaitRetry to honor the backoff:
//
//	s := session.New(endpoint, cfg, session.Deps{Pool: p, Cache: c, Crypto: cp})
//	if err := s.Start(ctx); err != nil {
//	  return err
//	}
//	defer s.Stop(context.Background())
//
//	resp, err := s.Send(ctx, common.NewRequest("users.getMe", nil))
//	if errors.Is(err, common.ErrRemoteOverload) {
//	  _ = s.WaitRetry(ctx, err)
//	}
//
// Counters are kept in a VictoriaMetrics set per session (WritePrometheus)
// and summarized by Metrics.
package session
