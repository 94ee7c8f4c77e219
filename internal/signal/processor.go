package signal

import "sync"

// Processor owns the state of one channel: the sequence counter, the
// smoothing buffer and the visible sweep window. All mutation happens
// through Ingest under the processor's own lock, so the two channels never
// contend with each other and callers may invoke Ingest from transport
// callbacks directly.
type Processor struct {
	cfg Config

	mu      sync.Mutex
	counter int
	smooth  []float64
	window  []Sample
}

// NewProcessor returns a Processor for the given channel configuration.
func NewProcessor(cfg Config) *Processor {
	p := &Processor{cfg: cfg}
	if cfg.Smoothing > 0 {
		p.smooth = make([]float64, 0, cfg.Smoothing)
	}
	// Positions run 0..Window inclusive after a wraparound.
	p.window = make([]Sample, 0, cfg.Window+1)
	return p
}

// Config returns the channel configuration the processor was built with.
func (p *Processor) Config() Config { return p.cfg }

// Ingest folds one decoded reading into the channel. It applies the scale
// factor, updates the trailing moving average when configured, advances the
// sequence counter and appends the resulting sample to the sweep window.
// When the counter passes the window size the counter resets to 0 and the
// visible window is cleared before the new sample is appended; reset
// reports that wraparound. Ingest never fails.
func (p *Processor) Ingest(raw int64) (s Sample, reset bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := float64(raw) * p.cfg.Scale
	if p.cfg.Smoothing > 0 {
		if len(p.smooth) == p.cfg.Smoothing {
			copy(p.smooth, p.smooth[1:])
			p.smooth[len(p.smooth)-1] = v
		} else {
			p.smooth = append(p.smooth, v)
		}
		var sum float64
		for _, e := range p.smooth {
			sum += e
		}
		// Early samples average over fewer entries; no left padding.
		v = sum / float64(len(p.smooth))
	}

	p.counter++
	if p.counter > p.cfg.Window {
		p.counter = 0
		p.window = p.window[:0]
		reset = true
	}

	s = Sample{Pos: p.counter, Value: v}
	p.window = append(p.window, s)
	return s, reset
}

// Counter returns the current sequence counter.
func (p *Processor) Counter() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}

// Window returns a copy of the currently visible sweep trace.
func (p *Processor) Window() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sample, len(p.window))
	copy(out, p.window)
	return out
}
