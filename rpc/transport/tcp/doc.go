// Package tcp implements the TCP socket transport on top of the base package.
// Connections are tuned with TCP_NODELAY, socket buffer sizes, keep-alive and
// linger from common.TransportConfig.
package tcp
