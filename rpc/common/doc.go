// Package common provides core data structures and utilities shared across
// the dMux session runtime. It defines the message protocol, the
// configuration structures, the error taxonomy and the logging setup used by
// the other packages.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication with the remote
//     service. Requests carry a method name and an opaque payload; containers
//     wrap several requests (or results) into one wire exchange.
//
//   - ClassifyPriority / IsBatchable / IsCacheable: Request classification by
//     the declared method name, used for dispatch ordering, batching
//     eligibility and cache eligibility.
//
//   - Error: Every public operation fails with exactly one ErrCode
//     (ConnectionUnavailable, Timeout, RemoteOverload, CryptoUnavailable,
//     BatchExchangeFailed or RemoteError). Use errors.Is with the Err* sentinels.
//
//   - ClientConfig: Configuration of pool, connection, cache, batching, session,
//     crypto, transport and metrics, with defaults, the presets
//     high_performance, memory_efficient and development, and loading/saving
//     through viper (json, yaml, toml) with DMUX_* environment overrides.
//
//   - Logger: Custom logging implementation that plugs into the Dragonboat
//     logger facade and provides consistent formatting across the application.
package common
