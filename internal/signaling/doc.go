// Package signaling models the relay's wire protocol: newline-free JSON
// envelopes `{type, data}` exchanged over a persistent WebSocket. The
// relay only brokers the handshake between peers; once data channels are
// up, synchronization traffic bypasses it entirely.
package signaling
