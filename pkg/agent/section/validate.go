package section

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/deepreport/pkg/models"
)

// TypeTags prefix discovery titles by the role of the finding.
var TypeTags = []string{"【现状】", "【定位】", "【主因】", "【次因】", "【趋势】", "【对比】"}

var placeholderRe = regexp.MustCompile(`\{\{CHART:([^}]+)\}\}`)

// Validate lists structural problems of a section. None of them reject the
// section; they are kept on it for review.
func Validate(sec *models.Section) []string {
	var issues []string
	if strings.TrimSpace(sec.Name) == "" {
		issues = append(issues, "section has no name")
	}
	if len(sec.Discoveries) == 0 {
		issues = append(issues, "section has no discoveries")
	}
	for i, d := range sec.Discoveries {
		n := i + 1
		if strings.TrimSpace(d.Title) == "" {
			issues = append(issues, fmt.Sprintf("discovery %d has no title", n))
		} else if !hasTypeTag(d.Title) {
			issues = append(issues, fmt.Sprintf("discovery %d title has no type tag", n))
		}
		if strings.TrimSpace(d.Insight) == "" {
			issues = append(issues, fmt.Sprintf("discovery %d has no insight", n))
		}
		issues = append(issues, unresolvedPlaceholders(n, &d)...)
	}
	if strings.TrimSpace(sec.Conclusion) == "" {
		issues = append(issues, "section has no conclusion")
	}
	return issues
}

func hasTypeTag(title string) bool {
	for _, tag := range TypeTags {
		if strings.Contains(title, tag) {
			return true
		}
	}
	return false
}

// unresolvedPlaceholders reports {{CHART:x}} references without a rendered
// chart. A placeholder pointing at a collapsed duplicate is unresolved.
func unresolvedPlaceholders(n int, d *models.Discovery) []string {
	rendered := make(map[string]bool, len(d.Charts))
	for _, c := range d.Charts {
		rendered[c.ChartID] = true
	}
	var issues []string
	for _, m := range placeholderRe.FindAllStringSubmatch(d.Insight, -1) {
		id := strings.TrimSpace(m[1])
		if !rendered[id] {
			issues = append(issues, fmt.Sprintf("discovery %d references unknown chart %s", n, id))
		}
	}
	return issues
}
