// Package cache provides the result cache of the session runtime: a bounded,
// time expiring key/value store with strict LRU eviction, built on the
// simple LRU of hashicorp/golang-lru.
//
// Entries older than the TTL are logically absent even if the background
// sweep did not remove them yet, Get removes them on access. The sweep is
// stopped and joined by Close. Which results are cached (an allow-list of
// read-only methods) and how keys are derived (the canonical serialized
// request) is decided by the session.
package cache
