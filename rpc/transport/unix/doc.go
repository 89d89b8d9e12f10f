// Package unix implements a transport using Unix domain sockets on top of the
// base package, for endpoints running on the same machine.
package unix
