// Package clock abstracts time so scheduler tests can drive virtual time
// instead of sleeping real seconds.
package clock

import "time"

// Clock is the time source used by the reaper and sampler loops and by lease
// calculations. realClock is used in production; tests inject a fake.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real returns the production clock backed by the runtime.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                       { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
