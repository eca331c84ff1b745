package termplayer

import (
	"sync"
	"time"

	"github.com/avpeers/groupplay/internal/ratelimit"
)

// EventSink receives the playhead's play/pause/seek events, whatever
// triggered them. *syncproto.Controller satisfies it.
type EventSink interface {
	HandleLocalPlay()
	HandleLocalPause()
	HandleLocalSeek(seconds float64)
}

// Playhead is the terminal player's clock. It advances against wall
// time while playing, so the position stays accurate however rarely the
// UI redraws. It implements syncproto.Player.
type Playhead struct {
	mu    sync.Mutex
	clock ratelimit.Clock
	sink  EventSink

	duration float64
	base     float64
	since    time.Time
	paused   bool
	started  bool
}

func NewPlayhead(clock ratelimit.Clock, durationSeconds float64) *Playhead {
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Playhead{
		clock:    clock,
		duration: durationSeconds,
		paused:   true,
	}
}

// SetEventSink wires the sink; events before that are discarded.
func (p *Playhead) SetEventSink(sink EventSink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

func (p *Playhead) Play() error {
	p.mu.Lock()
	if !p.paused {
		// Like a media element: playing while playing fires nothing.
		p.mu.Unlock()
		return nil
	}
	p.paused = false
	p.started = true
	p.since = p.clock.Now()
	sink := p.sink
	p.mu.Unlock()

	if sink != nil {
		sink.HandleLocalPlay()
	}
	return nil
}

func (p *Playhead) Pause() error {
	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return nil
	}
	p.base = p.positionLocked()
	p.paused = true
	sink := p.sink
	p.mu.Unlock()

	if sink != nil {
		sink.HandleLocalPause()
	}
	return nil
}

func (p *Playhead) Seek(seconds float64) error {
	p.mu.Lock()
	if seconds < 0 {
		seconds = 0
	}
	if p.duration > 0 && seconds > p.duration {
		seconds = p.duration
	}
	p.base = seconds
	p.since = p.clock.Now()
	sink := p.sink
	p.mu.Unlock()

	if sink != nil {
		sink.HandleLocalSeek(seconds)
	}
	return nil
}

func (p *Playhead) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Playhead) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Playhead) HasStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// MarkStarted flips the started flag without playing and fires no
// event. Used when joining a room that has begun but sits paused.
func (p *Playhead) MarkStarted() {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
}

func (p *Playhead) Duration() float64 {
	return p.duration
}

func (p *Playhead) positionLocked() float64 {
	if p.paused {
		return p.base
	}
	pos := p.base + p.clock.Now().Sub(p.since).Seconds()
	if p.duration > 0 && pos > p.duration {
		return p.duration
	}
	return pos
}
