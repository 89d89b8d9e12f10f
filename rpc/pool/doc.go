// Package pool implements the connection pool of the session runtime.
//
// The pool holds at most MaxConnections connections. Acquire hands out a
// connection exclusively:
//
//  1. the healthiest checked-in connection of the endpoint that is below the
//     reuse limit and not degraded (ties go to the most recently used one)
//  2. else a new connection, while the pool is below its limit
//  3. else a degraded (or idle foreign) connection is retired and replaced
//  4. else the caller waits until Release frees capacity; waiters are woken
//     by a notification with a polling fallback
//
// Waiting is FIFO only approximately, starvation under sustained saturation
// is possible. A periodic sweep closes connections idle for longer than
// IdleTimeout but never drops below MinConnections.
package pool
