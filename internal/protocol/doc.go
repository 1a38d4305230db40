// Package protocol implements the caption wire framing shared by the TCP
// server and client.
//
// A frame is the byte 'S', the payload, the byte 'E' and a newline. The
// payload is either the caption text or its JSON encoding. Receivers scan for
// the first 'S' and the first 'E' after it, so a payload must not contain an
// 'E' byte to survive the trip intact.
package protocol
