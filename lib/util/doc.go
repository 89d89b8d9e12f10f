// Package util provides small building blocks shared by the dMux runtime.
//
// The package contains:
//   - mapheap: A priority queue that also supports key-based access, used as the
//     dispatch queue of the session
//   - statistics: Summary statistics and a bounded LatencyWindow from which the
//     adaptive timeout is derived
//   - functions: Backoff, jitter and duration helpers
package util
