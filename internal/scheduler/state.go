package scheduler

import "time"

// State is where the scheduler is in its cycle.
type State int

const (
	Idle State = iota
	ConnectingShare
	ProcessingHosts
	Disconnecting
	Sleeping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ConnectingShare:
		return "connecting-share"
	case ProcessingHosts:
		return "processing-hosts"
	case Disconnecting:
		return "disconnecting"
	case Sleeping:
		return "sleeping"
	}
	return "unknown"
}

// Clock is the scheduler's time source. Tests swap in a fake.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
