package scheduler

import (
	"time"
)

// Stage is how far a host got in a cycle.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StagePublish   Stage = "publish"
	StagePublished Stage = "published"
	StageSkipped   Stage = "skipped"
)

// HostResult describes what happened to one host in a cycle.
type HostResult struct {
	Host     string
	Stage    Stage
	File     string
	TopUser  string
	Missing  []string
	Duration time.Duration

	// Err is the typed error that stopped the host, nil when published.
	Err error
}

// OK reports whether the host's page was published.
func (r HostResult) OK() bool {
	return r.Stage == StagePublished && r.Err == nil
}

// CycleReport summarizes one pass over every host.
type CycleReport struct {
	Number   int
	Started  time.Time
	Finished time.Time

	// ShareErr is set when the share couldn't be opened; every host is
	// skipped in that case.
	ShareErr error

	// CloseErr is set when closing the share failed. Pages were still published.
	CloseErr error

	Hosts []HostResult
}

// Published counts hosts whose page went out.
func (r CycleReport) Published() int {
	n := 0
	for _, h := range r.Hosts {
		if h.OK() {
			n++
		}
	}
	return n
}

// Failed counts hosts that didn't publish, skipped ones included.
func (r CycleReport) Failed() int {
	return len(r.Hosts) - r.Published()
}

// Duration is the wall time of the cycle.
func (r CycleReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Host returns the result for a host name.
func (r CycleReport) Host(name string) (HostResult, bool) {
	for _, h := range r.Hosts {
		if h.Host == name {
			return h, true
		}
	}
	return HostResult{}, false
}
