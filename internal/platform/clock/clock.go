package clock

import "time"

// Clock decouples components from wall time so tests can run against a
// fixed instant.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
