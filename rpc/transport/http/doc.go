// Package http implements an HTTP based transport. Every frame is sent as the
// body of a POST to <endpoint>/rpc, the response body is queued as the answer
// frame for the next Receive. Connect performs a GET <endpoint>/health so that
// an unreachable endpoint fails during connection setup, not on first use.
//
// Since every exchange is a request/response pair, frames the server does not
// answer are acknowledged with 204 No Content.
package http
