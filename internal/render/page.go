// Package render turns a metric bundle into a host status page.
package render

import (
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetpage/internal/config"
	"github.com/rileyhilliard/fleetpage/internal/fetch"
)

// BlockKind tells an encoder how to style a block.
type BlockKind string

const (
	KindHeader BlockKind = "header"
	KindLine   BlockKind = "line"
	KindFooter BlockKind = "footer"
)

// SectionHeavyUser labels the heaviest-user line. Metric sections use the
// metric name; header and footer blocks have no section.
const SectionHeavyUser = "heaviest_user"

// Block is a single line of a page.
type Block struct {
	Kind    BlockKind
	Section string
	Text    string
}

// Page is the ordered set of blocks published for one host.
type Page struct {
	Host   string
	Blocks []Block
}

// Sections returns the distinct block sections in page order, skipping
// header and footer.
func (p Page) Sections() []string {
	var sections []string
	for _, b := range p.Blocks {
		if b.Section == "" {
			continue
		}
		if n := len(sections); n > 0 && sections[n-1] == b.Section {
			continue
		}
		sections = append(sections, b.Section)
	}
	return sections
}

// Lines returns the text of every block in a section.
func (p Page) Lines(section string) []string {
	var lines []string
	for _, b := range p.Blocks {
		if b.Section == section {
			lines = append(lines, b.Text)
		}
	}
	return lines
}

// PageOrder is the order metric sections appear on a page. The heaviest
// user line sits between cpu_hw and uptime.
var PageOrder = []string{
	config.MetricOSVersion,
	config.MetricCPUHardware,
	SectionHeavyUser,
	config.MetricUptime,
	config.MetricResourceStats,
	config.MetricGPUStatus,
}

// Render lays out a page for host. Missing or empty metrics render as a
// single empty line so every section is always present.
func Render(host string, bundle *fetch.Bundle, topUser string, interval time.Duration) Page {
	page := Page{Host: host}
	page.Blocks = append(page.Blocks, Block{Kind: KindHeader, Text: host})

	for _, section := range PageOrder {
		if section == SectionHeavyUser {
			page.Blocks = append(page.Blocks, Block{
				Kind:    KindLine,
				Section: SectionHeavyUser,
				Text:    "Current heaviest user: " + topUser,
			})
			continue
		}
		for _, line := range splitLines(bundle.Get(section)) {
			page.Blocks = append(page.Blocks, Block{Kind: KindLine, Section: section, Text: line})
		}
	}

	page.Blocks = append(page.Blocks, Block{
		Kind: KindFooter,
		Text: "---" + strconv.FormatFloat(interval.Seconds(), 'f', -1, 64) + " seconds update interval---",
	})
	return page
}

// splitLines breaks command output into lines, dropping carriage returns and
// the final newline. Blank lines before it are kept. Empty output yields one
// empty line.
func splitLines(out string) []string {
	out = strings.ReplaceAll(out, "\r", "")
	out = strings.TrimSuffix(out, "\n")
	return strings.Split(out, "\n")
}
