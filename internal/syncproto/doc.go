// Package syncproto keeps every member's player in lockstep. Control
// messages (play, pause, seek) travel peer to peer over the data
// channels; late joiners request the current state and catch up. The
// relay never sees any of this traffic.
package syncproto
