// Package clock provides the injectable time source shared by the phase
// scheduler, marker emitters, and tests.
//
// Production code uses Real(). Tests use Fake() and move time with Advance,
// which makes phase deadlines and cue durations deterministic.
package clock

import "time"

// Clock is the time source contract. Now must be monotonic on real hosts;
// deadline arithmetic relies on it.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C. The channel has capacity 1; ticks are dropped
// when the consumer falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}

// UnixMillis returns t as fractional milliseconds since the Unix epoch.
// Laptop markers are recorded in this unit.
func UnixMillis(t time.Time) float64 {
	return float64(t.Unix())*1e3 + float64(t.Nanosecond())/1e6
}

// UnixSeconds returns t as fractional seconds since the Unix epoch.
// Marker channel timestamps are recorded in this unit.
func UnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// Seconds converts a duration in seconds to a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
