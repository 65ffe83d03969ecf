package section

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/deepreport/pkg/models"
)

const fingerprintRows = 5

// Fingerprint identifies a chart by type, column set and leading rows.
// Charts without rendered data have no fingerprint.
func Fingerprint(c *models.Chart) string {
	if len(c.RenderedData) == 0 {
		return ""
	}
	cols := sortedKeys(c.RenderedData[0])
	// Map keys marshal sorted, so equal rows give equal JSON.
	rows, err := json.Marshal(head(c.RenderedData, fingerprintRows))
	if err != nil {
		return ""
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%v|%s", c.ChartType, cols, rows)))
	return hex.EncodeToString(sum[:])[:16]
}

// Deduper remembers the first chart seen per fingerprint. Use one per
// scope: a fresh one per section while assembling, one for the whole
// report before the document is saved.
type Deduper struct {
	seen map[string]string
}

// NewDeduper creates an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]string)}
}

// Section moves charts whose fingerprint was already seen from Charts to
// DuplicateCharts, pointing them at the first chart. Returns the number
// of charts moved.
func (d *Deduper) Section(sec *models.Section) int {
	moved := 0
	for i := range sec.Discoveries {
		disc := &sec.Discoveries[i]
		kept := disc.Charts[:0]
		for _, c := range disc.Charts {
			fp := Fingerprint(&c)
			if fp == "" {
				kept = append(kept, c)
				continue
			}
			if first, ok := d.seen[fp]; ok {
				c.DuplicateOf = first
				disc.DuplicateCharts = append(disc.DuplicateCharts, c)
				moved++
				continue
			}
			d.seen[fp] = c.ChartID
			kept = append(kept, c)
		}
		disc.Charts = kept
	}
	return moved
}

// Report deduplicates charts across all sections in order and refreshes
// each section's placeholder warnings.
func (d *Deduper) Report(sections []models.Section) int {
	moved := 0
	for i := range sections {
		n := d.Section(&sections[i])
		if n > 0 {
			sections[i].ValidationIssues = Validate(&sections[i])
		}
		moved += n
	}
	return moved
}
