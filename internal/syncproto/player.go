package syncproto

// Player is the minimal surface the controller needs from a media
// player. Implementations must emit their play/pause/seek events to the
// controller's HandleLocal* methods regardless of what triggered them;
// the controller sorts out which were remote-caused.
type Player interface {
	Play() error
	Pause() error
	Seek(seconds float64) error

	// CurrentTime is the playhead position in seconds.
	CurrentTime() float64
	Paused() bool

	// HasStarted reports whether playback has ever begun. A player
	// paused at zero that never played is not "paused" in the sense the
	// catch-up protocol cares about.
	HasStarted() bool

	// MarkStarted forces the started state without playing. Catch-up
	// uses it when the room has begun but is currently paused, so the
	// local player leaves its never-played state with no play event.
	MarkStarted()
}
