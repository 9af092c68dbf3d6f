package animation

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// BaseFrameInterval is the time a frame stays on screen at speed 1.
	BaseFrameInterval = 2500 * time.Millisecond
	MinSpeed          = 1
	MaxSpeed          = 20
)

// Player steps through the time axis. Stepping wraps at both ends.
type Player struct {
	clock clockwork.Clock

	mu        sync.Mutex
	frame     int
	numFrames int
	speed     int
}

// NewPlayer creates a player over numFrames time steps at speed 1.
func NewPlayer(clock clockwork.Clock, numFrames int) *Player {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Player{clock: clock, numFrames: max(numFrames, 0), speed: MinSpeed}
}

// Frame returns the current time index.
func (p *Player) Frame() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

// SetSpeed clamps speed to [MinSpeed, MaxSpeed].
func (p *Player) SetSpeed(speed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = min(max(speed, MinSpeed), MaxSpeed)
}

// Interval returns the frame duration at the current speed.
func (p *Player) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return BaseFrameInterval / time.Duration(p.speed)
}

// Seek jumps to frame i, clamped to the valid range.
func (p *Player) Seek(i int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.numFrames == 0 {
		return 0
	}
	p.frame = min(max(i, 0), p.numFrames-1)
	return p.frame
}

// StepForward advances one frame, wrapping to the first after the last.
func (p *Player) StepForward() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.numFrames == 0 {
		return 0
	}
	p.frame = (p.frame + 1) % p.numFrames
	return p.frame
}

// StepBackward goes back one frame, wrapping to the last before the first.
func (p *Player) StepBackward() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.numFrames == 0 {
		return 0
	}
	p.frame = (p.frame - 1 + p.numFrames) % p.numFrames
	return p.frame
}

// Run advances one frame per interval and calls onFrame with the new index
// until ctx is done. A speed change takes effect on the next tick.
func (p *Player) Run(ctx context.Context, onFrame func(int)) error {
	interval := p.Interval()
	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			onFrame(p.StepForward())
			if next := p.Interval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
