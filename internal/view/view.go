// Package view turns the synced collections into what a client renders.
package view

import (
	"sync"
	"time"

	"github.com/avvvet/tcg-companion/internal/models"
)

type State string

const (
	StateLoading   State = "loading"
	StateError     State = "error"
	StateEmpty     State = "empty"
	StatePopulated State = "populated"
)

// Resolve picks the state of a collection view. An error wins over loading.
func Resolve(loading bool, err error, n int) State {
	switch {
	case err != nil:
		return StateError
	case loading:
		return StateLoading
	case n == 0:
		return StateEmpty
	default:
		return StatePopulated
	}
}

type RenderState string

const (
	RenderResolved   RenderState = "resolved"
	RenderFailed     RenderState = "failed"
	RenderUnresolved RenderState = "unresolved"
)

// Render decides how a single card is drawn: with its catalog entry, as a
// failed match, or as still being matched.
func Render(v models.CardView) RenderState {
	switch {
	case v.RefCard != nil:
		return RenderResolved
	case v.HasStatus(models.MatchingFailed):
		return RenderFailed
	default:
		return RenderUnresolved
	}
}

const DefaultLoadingDelay = 200 * time.Millisecond

// DelayedLoading debounces a loading indicator. The indicator turns on only
// when loading is still in progress after the delay and turns off as soon as
// loading ends. onChange is called with every visible transition, in order
// and while d is locked, so it must not call back into d.
type DelayedLoading struct {
	mu       sync.Mutex
	delay    time.Duration
	onChange func(visible bool)

	loading bool
	visible bool
	timer   *time.Timer
	gen     uint64
}

func NewDelayedLoading(delay time.Duration, onChange func(visible bool)) *DelayedLoading {
	if delay <= 0 {
		delay = DefaultLoadingDelay
	}
	if onChange == nil {
		onChange = func(bool) {}
	}
	return &DelayedLoading{delay: delay, onChange: onChange}
}

// Set reports whether loading is in progress.
func (d *DelayedLoading) Set(loading bool) {
	d.mu.Lock()
	if loading == d.loading {
		d.mu.Unlock()
		return
	}
	d.loading = loading
	d.gen++

	if loading {
		gen := d.gen
		d.timer = time.AfterFunc(d.delay, func() { d.show(gen) })
		d.mu.Unlock()
		return
	}

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.visible {
		d.visible = false
		d.onChange(false)
	}
	d.mu.Unlock()
}

func (d *DelayedLoading) Visible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible
}

// Stop cancels a pending show.
func (d *DelayedLoading) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *DelayedLoading) show(gen uint64) {
	d.mu.Lock()
	// a timer that fired after Set(false) or Stop belongs to an old load
	if gen != d.gen || !d.loading || d.visible {
		d.mu.Unlock()
		return
	}
	d.visible = true
	d.timer = nil
	d.onChange(true)
	d.mu.Unlock()
}
