// Package ws implements a websocket transport based on gorilla/websocket.
// Every frame is one binary message, text messages are ignored. The server
// side is reachable under ws://<endpoint>/ws and processes up to
// WorkersPerConn frames of one connection concurrently, like the stream
// transports in package base.
package ws
