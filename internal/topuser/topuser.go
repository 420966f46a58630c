// Package topuser picks the most active known user out of a process listing.
package topuser

import "strings"

// Unknown is returned when no allow-listed user appears in the listing.
const Unknown = "unknown"

// Extractor counts allow-listed usernames in process listings.
type Extractor struct {
	// Known is the allow-list of usernames worth reporting.
	Known []string

	// DisplayNames maps a username to the name shown on the page.
	DisplayNames map[string]string
}

// Extract splits listing on whitespace, counts the tokens that match a known
// user and returns the most frequent one, remapped through DisplayNames.
// Ties go to the user that appears first in the listing.
func (e Extractor) Extract(listing string) string {
	if len(e.Known) == 0 {
		return Unknown
	}

	known := make(map[string]struct{}, len(e.Known))
	for _, name := range e.Known {
		known[name] = struct{}{}
	}

	counts := make(map[string]int)
	var order []string
	for _, token := range strings.Fields(listing) {
		if _, ok := known[token]; !ok {
			continue
		}
		if counts[token] == 0 {
			order = append(order, token)
		}
		counts[token]++
	}

	if len(order) == 0 {
		return Unknown
	}

	best := order[0]
	for _, name := range order[1:] {
		if counts[name] > counts[best] {
			best = name
		}
	}

	if display, ok := e.DisplayNames[best]; ok && display != "" {
		return display
	}
	return best
}
