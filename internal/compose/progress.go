package compose

import (
	"math"
	"sync"
)

// Reporter converts fractional engine progress into whole percentages and
// forwards them to a sink in arrival order.
type Reporter struct {
	sink func(percent int)

	mu       sync.Mutex
	attached uint64
	current  uint64
}

// NewReporter returns a Reporter publishing to sink. A nil sink discards
// every sample.
func NewReporter(sink func(percent int)) *Reporter {
	return &Reporter{sink: sink}
}

// Reset publishes 0 to mark the start of a job.
func (r *Reporter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publish(0)
}

// Attach subscribes to one engine invocation. It returns the sample callback
// to hand to the engine and a detach function; samples delivered after detach,
// or after a later Attach, are dropped.
func (r *Reporter) Attach() (sample func(fraction float64), detach func()) {
	r.mu.Lock()
	r.attached++
	id := r.attached
	r.current = id
	r.mu.Unlock()

	sample = func(fraction float64) {
		if math.IsNaN(fraction) {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.current != id {
			return
		}
		r.publish(Percent(fraction))
	}
	detach = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.current == id {
			r.current = 0
		}
	}
	return sample, detach
}

// publish must be called with mu held so concurrent samples keep their order.
func (r *Reporter) publish(p int) {
	if r.sink != nil {
		r.sink(p)
	}
}

// Percent converts a fraction to a whole percentage clamped to 0..100.
func Percent(fraction float64) int {
	p := math.Round(fraction * 100)
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}
