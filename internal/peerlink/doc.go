// Package peerlink establishes and tends the WebRTC data channels
// between room members. It consumes relay envelopes (peer-joined,
// offer, answer, candidate, peer-left), drives the offer/answer
// exchange, and exposes a small send/receive surface to the
// synchronization layer so that layer never touches WebRTC directly.
package peerlink
