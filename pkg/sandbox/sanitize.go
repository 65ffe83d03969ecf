package sandbox

import (
	"regexp"
	"strings"
)

var (
	anchorRe      = regexp.MustCompile(`(?is)<a\b[^>]*>.*?</a>`)
	openTagRe     = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	closeTagRe    = regexp.MustCompile(`</[a-zA-Z][^>]*>`)
	linkFilterRe  = regexp.MustCompile(`https?://steamcommunity\.com/linkfilter/\?url=\S+`)
	httpURLRe     = regexp.MustCompile(`https?://\S+`)
	fileURLRe     = regexp.MustCompile(`file://\S+`)
	namedEntityRe = regexp.MustCompile(`&[a-zA-Z]+;`)
	numEntityRe   = regexp.MustCompile(`&#\d+;`)
	spacesRe      = regexp.MustCompile(` {2,}`)
)

// StripMarkup removes HTML tags, links and entities from a cell value so
// scraped text does not leak markup into prompts or reports.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<>&:%") {
		return s
	}
	s = anchorRe.ReplaceAllString(s, "")
	s = openTagRe.ReplaceAllString(s, "")
	s = closeTagRe.ReplaceAllString(s, "")
	s = linkFilterRe.ReplaceAllString(s, "")
	s = httpURLRe.ReplaceAllString(s, "")
	s = fileURLRe.ReplaceAllString(s, "")
	s = namedEntityRe.ReplaceAllString(s, " ")
	s = numEntityRe.ReplaceAllString(s, " ")
	s = strings.NewReplacer("%22", "", "%27", "").Replace(s)
	s = spacesRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
