// Package connection maintains the realtime connection to the push server.
//
// Manager is a small state machine:
//
//	Disconnected -> Connecting -> Connected
//	Connected -> Disconnected -> Reconnecting -> Connecting   (unexpected close)
//	Disconnected (attempts >= max)                            (gives up)
//
// Redials back off exponentially from ReconnectBaseDelay. Every open replays
// one subscribe frame per registered match, in subscription order, and then
// flushes frames queued while offline. Inbound frames are decoded into
// dispatch events and emitted from one goroutine per transport, so arrival
// order is preserved.
package connection
