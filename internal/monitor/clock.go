package monitor

import "time"

// Ticker abstracts time.Ticker so tests can fire ticks by hand
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock is the injected time source. Production uses the real clock;
// tests step time deterministically instead of sleeping.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type realClock struct{}

// NewRealClock returns the wall-clock implementation
func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time {
	return r.t.C
}

func (r *realTicker) Stop() {
	r.t.Stop()
}
