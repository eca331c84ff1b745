// Package relay implements the server side of the signaling protocol:
// a registry of rooms keyed by the page URL the members are watching,
// per-connection sessions, and a router that validates inbound
// envelopes and fans them out. The relay never inspects SDP or ICE
// payloads; it only addresses them.
package relay
