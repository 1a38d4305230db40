// Package transport delivers caption events to display clients.
//
// Server accepts any number of TCP clients, fans every caption out to all of
// them and relays frames between peers. Client keeps one outbound TCP
// connection alive with a fixed reconnect backoff. WebSocketServer pushes the
// same payloads to browser clients. All three share the framing in package
// protocol and satisfy Broadcaster.
package transport
