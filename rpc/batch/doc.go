// Package batch implements the request batcher of the session runtime.
//
// Requests are collected into one batch until either MaxSize requests are
// collected or the oldest request waited MaxWait, whichever comes first. The
// batch is then sent as one container exchange:
//
//   - a container answer with one result per request is distributed by
//     position, every member gets its own result, error or flood wait
//   - a single answer is shared only if all members are the same request
//   - any other answer, and every failed exchange, fails all members with
//     common.ErrBatchExchangeFailed
//
// A batch of one request is sent as the bare request.
package batch
