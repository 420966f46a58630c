package fetch

import "time"

// Bundle holds the raw stdout of every metric command run against one host.
type Bundle struct {
	Host      string
	FetchedAt time.Time

	// Metrics maps metric name to captured stdout.
	Metrics map[string]string

	// Missing lists metrics whose command failed, in collection order.
	Missing []string
}

// Get returns the output for metric, or "" when it is missing.
func (b *Bundle) Get(metric string) string {
	if b == nil {
		return ""
	}
	return b.Metrics[metric]
}

// Complete reports whether every metric was collected.
func (b *Bundle) Complete() bool {
	return b != nil && len(b.Missing) == 0
}
